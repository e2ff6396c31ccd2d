package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

type fakeStream struct {
	id  string
	mic *fakeMicrophone
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Close() error {
	s.mic.mu.Lock()
	defer s.mic.mu.Unlock()
	if _, ok := s.mic.open[s.id]; ok {
		delete(s.mic.open, s.id)
	}
	return nil
}

type fakeMicrophone struct {
	mu     sync.Mutex
	open   map[string]struct{}
	opened int
	deny   bool
}

func newFakeMicrophone() *fakeMicrophone {
	return &fakeMicrophone{open: make(map[string]struct{})}
}

func (m *fakeMicrophone) Open(ctx context.Context) (DeviceStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny {
		return nil, ErrPermissionDenied
	}
	m.opened++
	id := string(rune('a' + m.opened))
	m.open[id] = struct{}{}
	return &fakeStream{id: id, mic: m}, nil
}

func (m *fakeMicrophone) handles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

type fakeEncoder struct {
	mu      sync.Mutex
	mime    string
	onChunk func([]byte)
	head    []byte
	tail    []byte
	aborted bool
	stopped bool
}

func (e *fakeEncoder) Start(onChunk func([]byte)) error {
	e.mu.Lock()
	e.onChunk = onChunk
	e.mu.Unlock()
	onChunk(e.head)
	return nil
}

func (e *fakeEncoder) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	onChunk := e.onChunk
	e.mu.Unlock()
	onChunk(e.tail)
	return nil
}

func (e *fakeEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

func (e *fakeEncoder) MimeType() string { return e.mime }

type fakeEncoders struct {
	mu       sync.Mutex
	created  []*fakeEncoder
	head     []byte
	tail     []byte
	lastMime string
}

func (f *fakeEncoders) NewEncoder(stream DeviceStream, mimeType string) (Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMime = mimeType
	encoder := &fakeEncoder{mime: mimeType, head: f.head, tail: f.tail}
	f.created = append(f.created, encoder)
	return encoder, nil
}

type manualTicker struct {
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped = true }

type tickerSource struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (s *tickerSource) new(time.Duration) Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 64)}
	s.tickers = append(s.tickers, t)
	return t
}

func (s *tickerSource) last() *manualTicker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickers[len(s.tickers)-1]
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) count(kind NoticeKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, notice := range l.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

var testItem = progress.ItemKey{AssignmentID: 1, ActivityID: 2, ItemID: 3}

type managerFixture struct {
	mic      *fakeMicrophone
	encoders *fakeEncoders
	tickers  *tickerSource
	notices  *noticeLog
	manager  *Manager
	limitMu  sync.Mutex
	limits   []RawRecording
}

func newManagerFixture(t *testing.T, maxSeconds int, onBegin func(progress.ItemKey, bool) (int, error)) *managerFixture {
	t.Helper()
	f := &managerFixture{
		mic:      newFakeMicrophone(),
		encoders: &fakeEncoders{head: []byte("head-"), tail: []byte("tail")},
		tickers:  &tickerSource{},
		notices:  &noticeLog{},
	}
	profile := PlatformProfile{PlatformName: "chrome", Encoding: "audio/webm;codecs=opus", MinAcceptableFileSize: 1}
	f.manager = NewManager(f.mic, f.encoders, profile, ManagerOptions{
		MaxSeconds: maxSeconds,
		Notifier:   f.notices,
		OnBegin:    onBegin,
		OnLimitReached: func(raw RawRecording, err error) {
			f.limitMu.Lock()
			defer f.limitMu.Unlock()
			f.limits = append(f.limits, raw)
		},
		NewTicker: f.tickers.new,
	}, zerolog.Nop())
	t.Cleanup(f.manager.Teardown)
	return f
}

func (f *managerFixture) limitCount() int {
	f.limitMu.Lock()
	defer f.limitMu.Unlock()
	return len(f.limits)
}

func TestManagerHoldsOneDeviceAcrossRestarts(t *testing.T) {
	f := newManagerFixture(t, 45, nil)
	ctx := context.Background()

	require.NoError(t, f.manager.Start(ctx, testItem, false))
	require.NoError(t, f.manager.Start(ctx, testItem, true))
	require.NoError(t, f.manager.Start(ctx, progress.ItemKey{AssignmentID: 1, ActivityID: 2, ItemID: 4}, false))

	require.Equal(t, 1, f.mic.handles())
	require.Len(t, f.encoders.created, 3)
	require.True(t, f.encoders.created[0].aborted)
	require.True(t, f.encoders.created[1].aborted)
	require.False(t, f.encoders.created[2].aborted)
	require.Equal(t, "audio/webm;codecs=opus", f.encoders.lastMime)

	f.manager.Teardown()
	f.manager.Teardown()
	require.Equal(t, 0, f.mic.handles())
	_, active := f.manager.Current()
	require.False(t, active)
}

func TestManagerStopReturnsFlushedAudio(t *testing.T) {
	f := newManagerFixture(t, 45, func(progress.ItemKey, bool) (int, error) { return 4, nil })
	ctx := context.Background()

	require.NoError(t, f.manager.Start(ctx, testItem, false))
	raw, err := f.manager.Stop(ctx)
	require.NoError(t, err)

	require.Equal(t, []byte("head-tail"), raw.Data)
	require.Equal(t, int64(9), raw.SizeBytes)
	require.Equal(t, testItem, raw.Item)
	require.Equal(t, 4, raw.Attempt)
	require.Equal(t, "audio/webm;codecs=opus", raw.MimeType)
	require.Equal(t, SourceLive, raw.Source)
	require.True(t, f.encoders.created[0].stopped)
	require.Equal(t, 0, f.mic.handles())

	_, err = f.manager.Stop(ctx)
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestManagerEmptyRecording(t *testing.T) {
	f := newManagerFixture(t, 45, nil)
	f.encoders.head = nil
	f.encoders.tail = nil

	require.NoError(t, f.manager.Start(context.Background(), testItem, false))
	raw, err := f.manager.Stop(context.Background())
	require.ErrorIs(t, err, ErrEmptyRecording)
	require.Zero(t, raw.SizeBytes)
}

func TestManagerPermissionDenied(t *testing.T) {
	began := false
	f := newManagerFixture(t, 45, func(progress.ItemKey, bool) (int, error) {
		began = true
		return 1, nil
	})
	f.mic.deny = true

	err := f.manager.Start(context.Background(), testItem, false)
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.False(t, began)
	require.Empty(t, f.encoders.created)
	require.Equal(t, 1, f.notices.count(NoticePermissionDenied))

	_, active := f.manager.Current()
	require.False(t, active)
}

func TestManagerStopsOnceAtLimit(t *testing.T) {
	f := newManagerFixture(t, 3, nil)
	require.NoError(t, f.manager.Start(context.Background(), testItem, false))

	ticker := f.tickers.last()
	for i := 0; i < 6; i++ {
		ticker.ch <- time.Now()
	}

	require.Eventually(t, func() bool { return f.limitCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.notices.count(NoticeLimitReached))
	require.Equal(t, 0, f.mic.handles())

	_, err := f.manager.Stop(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, f.limitCount())
	require.Equal(t, 1, f.notices.count(NoticeLimitReached))
}

func TestManagerLimitIgnoresTornDownSession(t *testing.T) {
	f := newManagerFixture(t, 2, nil)
	ctx := context.Background()

	require.NoError(t, f.manager.Start(ctx, testItem, false))
	first := f.tickers.last()
	require.NoError(t, f.manager.Start(ctx, testItem, true))

	first.ch <- time.Now()
	first.ch <- time.Now()
	time.Sleep(20 * time.Millisecond)

	require.Zero(t, f.limitCount())
	info, active := f.manager.Current()
	require.True(t, active)
	require.Equal(t, SessionRecording, info.State)
}

func TestReRecordClearsAssessmentImmediately(t *testing.T) {
	store := progress.NewStore()
	store.Load([]progress.ItemProgress{{Key: testItem, Kind: progress.KindAudio}})

	attempt, err := store.BeginRecording(testItem)
	require.NoError(t, err)
	local := progress.RecordingRef{Kind: progress.RefLocal, LocalID: "one", Attempt: attempt}
	_, err = store.UpsertRecording(testItem, local)
	require.NoError(t, err)
	remote := local.Remote("https://cdn.example.com/one", "p-1")
	_, err = store.CompleteUpload(testItem, local, remote)
	require.NoError(t, err)
	_, err = store.AttachAssessment(testItem, progress.AssessmentResult{PronunciationScore: 80}, remote)
	require.NoError(t, err)

	f := newManagerFixture(t, 45, func(key progress.ItemKey, _ bool) (int, error) {
		return store.BeginRecording(key)
	})
	require.NoError(t, f.manager.Start(context.Background(), testItem, true))

	item, _ := store.Get(testItem)
	require.False(t, item.HasAssessment())
	require.Equal(t, 2, item.Attempt)

	info, active := f.manager.Current()
	require.True(t, active)
	require.Equal(t, 2, info.Attempt)
}
