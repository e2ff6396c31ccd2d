package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/observability"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

// DefaultMaxSessionSeconds is the hard ceiling on a live recording.
const DefaultMaxSessionSeconds = 45

// DeviceStream is an acquired microphone. Close releases it.
type DeviceStream interface {
	ID() string
	Close() error
}

// Microphone acquires device streams. Open blocks until the user answers the
// permission prompt and returns ErrPermissionDenied when they refuse.
type Microphone interface {
	Open(ctx context.Context) (DeviceStream, error)
}

// Encoder turns a device stream into encoded chunks.
type Encoder interface {
	// Start begins encoding and delivers chunks through onChunk.
	Start(onChunk func([]byte)) error
	// Stop flushes buffered audio; it returns after the final chunk.
	Stop(ctx context.Context) error
	// Abort stops without flushing.
	Abort()
	// MimeType is the encoding actually produced.
	MimeType() string
}

// EncoderFactory builds an encoder for an acquired stream. An empty
// mimeType leaves the choice to the encoder.
type EncoderFactory interface {
	NewEncoder(stream DeviceStream, mimeType string) (Encoder, error)
}

// Ticker is the elapsed-time source. It exists so tests can drive time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionRecording SessionState = "recording"
	SessionStopping  SessionState = "stopping"
	SessionStopped   SessionState = "stopped"
)

// SessionInfo is a read-only view of the live session.
type SessionInfo struct {
	ID             string           `json:"id"`
	Item           progress.ItemKey `json:"item"`
	Attempt        int              `json:"attempt"`
	State          SessionState     `json:"state"`
	ElapsedSeconds int              `json:"elapsed_seconds"`
	StartedAt      time.Time        `json:"started_at"`
}

// ManagerOptions wires the manager to the rest of the workspace.
type ManagerOptions struct {
	MaxSeconds int
	Notifier   Notifier
	// OnBegin runs once the microphone is held and returns the attempt
	// number assigned to the new recording.
	OnBegin func(item progress.ItemKey, reRecord bool) (int, error)
	// OnLimitReached receives the recording produced by an automatic stop.
	OnLimitReached func(raw RawRecording, err error)
	NewTicker      func(time.Duration) Ticker
}

// Manager owns at most one recording session at a time. Start, Stop and
// Teardown are serialised; chunks and ticks are guarded separately so the
// encoder callback never waits on a lifecycle call.
type Manager struct {
	mic      Microphone
	encoders EncoderFactory
	profile  PlatformProfile
	opts     ManagerOptions
	notifier Notifier
	logger   zerolog.Logger

	opMu   sync.Mutex
	mu     sync.Mutex
	active *session
}

type session struct {
	info      SessionInfo
	stream    DeviceStream
	encoder   Encoder
	ticker    Ticker
	chunks    [][]byte
	size      int64
	limitHit  bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) stopClock() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
}

func NewManager(mic Microphone, encoders EncoderFactory, profile PlatformProfile, opts ManagerOptions, logger zerolog.Logger) *Manager {
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = DefaultMaxSessionSeconds
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newRealTicker
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier()
	}
	return &Manager{
		mic:      mic,
		encoders: encoders,
		profile:  profile,
		opts:     opts,
		notifier: notifier,
		logger:   logger.With().Str("component", "recording_session").Logger(),
	}
}

// Start tears down any previous session and begins a new one for item.
func (m *Manager) Start(ctx context.Context, item progress.ItemKey, reRecord bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.teardownLocked()

	stream, err := m.mic.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			m.notifier.Notify(Notice{
				Kind:    NoticePermissionDenied,
				Item:    item,
				Message: "Microphone access was denied. Allow microphone access to record.",
			})
			return ErrPermissionDenied
		}
		return fmt.Errorf("open microphone: %w", err)
	}

	attempt := 0
	if m.opts.OnBegin != nil {
		attempt, err = m.opts.OnBegin(item, reRecord)
		if err != nil {
			_ = stream.Close()
			return err
		}
	}

	encoder, err := m.encoders.NewEncoder(stream, m.profile.Encoding)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("create encoder: %w", err)
	}

	s := &session{
		info: SessionInfo{
			ID:        uuid.NewString(),
			Item:      item,
			Attempt:   attempt,
			State:     SessionRecording,
			StartedAt: time.Now(),
		},
		stream:  stream,
		encoder: encoder,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.active = s
	m.mu.Unlock()

	if err := encoder.Start(func(chunk []byte) { m.collect(s, chunk) }); err != nil {
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		encoder.Abort()
		_ = stream.Close()
		return fmt.Errorf("start encoder: %w", err)
	}

	s.ticker = m.opts.NewTicker(time.Second)
	go m.watch(s)

	observability.RecordingSessions().Inc()
	m.logger.Info().
		Str("session_id", s.info.ID).
		Str("item", item.String()).
		Int("attempt", attempt).
		Str("encoding", m.profile.Encoding).
		Msg("recording started")
	return nil
}

// Stop finalises the active session and returns its audio. It returns
// ErrNoActiveSession when nothing is recording.
func (m *Manager) Stop(ctx context.Context) (RawRecording, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopLocked(ctx)
}

// Teardown releases the device and discards buffered audio. It is safe to
// call repeatedly.
func (m *Manager) Teardown() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardownLocked()
}

// Close is Teardown for use at workspace shutdown.
func (m *Manager) Close() error {
	m.Teardown()
	return nil
}

// Current returns the live session, if any.
func (m *Manager) Current() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return SessionInfo{}, false
	}
	return m.active.info, true
}

func (m *Manager) collect(s *session, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != s {
		return
	}
	if s.info.State != SessionRecording && s.info.State != SessionStopping {
		return
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	s.size += int64(len(chunk))
}

func (m *Manager) watch(s *session) {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C():
			if m.tick(s) {
				m.stopAtLimit(s)
				return
			}
		}
	}
}

// tick advances the clock and reports whether the ceiling was just reached.
func (m *Manager) tick(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != s || s.info.State != SessionRecording {
		return false
	}
	s.info.ElapsedSeconds++
	if s.info.ElapsedSeconds >= m.opts.MaxSeconds && !s.limitHit {
		s.limitHit = true
		return true
	}
	return false
}

func (m *Manager) stopAtLimit(s *session) {
	m.opMu.Lock()
	m.mu.Lock()
	current := m.active == s
	m.mu.Unlock()
	if !current {
		m.opMu.Unlock()
		return
	}
	raw, err := m.stopLocked(context.Background())
	m.opMu.Unlock()

	m.notifier.Notify(Notice{
		Kind:    NoticeLimitReached,
		Item:    s.info.Item,
		Message: fmt.Sprintf("Recording stopped at the %d second limit.", m.opts.MaxSeconds),
	})
	m.logger.Info().Str("session_id", s.info.ID).Msg("recording limit reached")

	if m.opts.OnLimitReached != nil {
		m.opts.OnLimitReached(raw, err)
	}
}

func (m *Manager) stopLocked(ctx context.Context) (RawRecording, error) {
	m.mu.Lock()
	s := m.active
	if s == nil || s.info.State != SessionRecording {
		m.mu.Unlock()
		return RawRecording{}, ErrNoActiveSession
	}
	s.info.State = SessionStopping
	m.mu.Unlock()

	s.stopClock()
	// Flushed chunks arrive through collect before Stop returns.
	flushErr := s.encoder.Stop(ctx)

	m.mu.Lock()
	chunks := s.chunks
	size := s.size
	s.chunks = nil
	s.info.State = SessionStopped
	m.active = nil
	m.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		m.logger.Warn().Err(err).Str("session_id", s.info.ID).Msg("failed to release microphone")
	}
	observability.RecordingSessions().Dec()

	mimeType := s.encoder.MimeType()
	if mimeType == "" {
		mimeType = m.profile.Encoding
	}
	raw := RawRecording{
		Item:                    s.info.Item,
		Attempt:                 s.info.Attempt,
		Data:                    bytes.Join(chunks, nil),
		MimeType:                mimeType,
		SizeBytes:               size,
		MeasuredDurationSeconds: time.Since(s.info.StartedAt).Seconds(),
		Source:                  SourceLive,
	}

	m.logger.Info().
		Str("session_id", s.info.ID).
		Int64("size_bytes", size).
		Int("elapsed_seconds", s.info.ElapsedSeconds).
		Msg("recording stopped")

	if flushErr != nil {
		return raw, fmt.Errorf("finalize encoder: %w", flushErr)
	}
	if size == 0 {
		return raw, ErrEmptyRecording
	}
	return raw, nil
}

func (m *Manager) teardownLocked() {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()
	if s == nil {
		return
	}

	s.stopClock()
	s.encoder.Abort()
	if err := s.stream.Close(); err != nil {
		m.logger.Warn().Err(err).Str("session_id", s.info.ID).Msg("failed to release microphone")
	}
	observability.RecordingSessions().Dec()
	m.logger.Debug().Str("session_id", s.info.ID).Msg("recording session torn down")
}
