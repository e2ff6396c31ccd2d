package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/capture/capturetest"
	"github.com/noah-isme/gema-speaking-lab/internal/device"
	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/repository"
	"github.com/noah-isme/gema-speaking-lab/internal/retry"
	"github.com/noah-isme/gema-speaking-lab/internal/submission"
	"github.com/noah-isme/gema-speaking-lab/internal/upload"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type storageStub struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *storageStub) Store(ctx context.Context, req upload.StorageRequest) (upload.StorageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return upload.StorageResult{}, err
		}
	}
	return upload.StorageResult{
		RemoteURL:  "https://cdn.example.com/" + req.FileName,
		ProgressID: fmt.Sprintf("progress-%d", s.calls),
	}, nil
}

func (s *storageStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type scorerStub struct {
	mu   sync.Mutex
	errs []error
}

func (s *scorerStub) Score(ctx context.Context, req assessment.Request) (progress.AssessmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return progress.AssessmentResult{}, err
		}
	}
	return progress.AssessmentResult{PronunciationScore: 82, AccuracyScore: 80, FluencyScore: 75, CompletenessScore: 100}, nil
}

// browserStub plays the recording page: it grants or refuses the
// microphone and flushes the configured audio on finalize.
type browserStub struct {
	remote *device.Remote
	grant  bool
	audio  []byte
	mime   string
}

func (b *browserStub) Send(msg device.Message) error {
	switch msg.Type {
	case device.MsgAcquire:
		go b.remote.HandlePermission(b.grant)
	case device.MsgFinalize:
		go func() {
			for start := 0; start < len(b.audio); start += 4096 {
				end := start + 4096
				if end > len(b.audio) {
					end = len(b.audio)
				}
				b.remote.HandleChunk(b.audio[start:end])
			}
			b.remote.HandleFlushed(b.mime)
		}()
	}
	return nil
}

type fixture struct {
	db         *gorm.DB
	svc        PracticeService
	storage    *storageStub
	scorer     *scorerStub
	assignment models.Assignment
	audio      models.Activity
	text       models.Activity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assignment{}, &models.Activity{}, &models.PracticeItem{},
		&models.AssignmentSubmission{}, &models.ItemProgressRecord{}, &models.RecordingUpload{},
	))

	assignments := repository.NewAssignmentRepository(db)
	assignment := &models.Assignment{
		Title:   "Greetings",
		DueDate: time.Now().Add(24 * time.Hour),
		Activities: []models.Activity{
			{Title: "Read aloud", Type: models.ActivityReadAloud, Position: 1, Items: []models.PracticeItem{
				{Prompt: "Good morning", ReferenceText: "good morning", Position: 1},
			}},
			{Title: "Short answer", Type: models.ActivityShortAnswer, Position: 2, Items: []models.PracticeItem{
				{Prompt: "What did you eat?", Position: 1},
			}},
		},
	}
	require.NoError(t, assignments.Create(context.Background(), assignment))

	f := &fixture{db: db, storage: &storageStub{}, scorer: &scorerStub{}}
	loaded, err := assignments.GetWithActivities(context.Background(), assignment.ID)
	require.NoError(t, err)
	f.assignment = loaded
	f.audio = loaded.Activities[0]
	f.text = loaded.Activities[1]

	f.svc = NewPracticeService(Dependencies{
		Assignments: assignments,
		Progress:    repository.NewProgressRepository(db),
		Uploads:     repository.NewUploadRepository(db),
		Submitter:   submission.NewSubmitter(repository.NewSubmissionRepository(db), zerolog.Nop()),
		Storage:     f.storage,
		Scorer:      f.scorer,
	}, Settings{
		RetryPolicy:     retry.Policy{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2},
		FinalizeTimeout: time.Second,
	}, zerolog.Nop())
	t.Cleanup(f.svc.Shutdown)
	return f
}

func (f *fixture) open(t *testing.T, studentID uint) *Workspace {
	t.Helper()
	w, err := f.svc.Open(context.Background(), OpenRequest{
		AssignmentID:   f.assignment.ID,
		StudentID:      studentID,
		UserAgent:      chromeUA,
		SupportedTypes: []string{"audio/wav"},
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) audioItem() (uint, uint) { return f.audio.ID, f.audio.Items[0].ID }
func (f *fixture) textItem() (uint, uint)  { return f.text.ID, f.text.Items[0].ID }

func wavFile(t *testing.T, data []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="audioBlob"; filename="answer.wav"`},
		"Content-Type":        {"audio/wav"},
	})
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(int64(len(data)) + 1024)
	require.NoError(t, err)
	return form.File["audioBlob"][0]
}

func TestWorkspaceLiveRecordingToSubmission(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, 42)
	require.Equal(t, "chrome", w.Profile().PlatformName)
	require.Equal(t, "audio/wav", w.Profile().Encoding)

	browser := &browserStub{remote: w.Device(), grant: true, audio: capturetest.WAV(2, 8000), mime: "audio/wav"}
	detach := w.Device().Attach(browser)
	defer detach()

	activityID, itemID := f.audioItem()
	info, err := w.StartRecording(context.Background(), activityID, itemID, false)
	require.NoError(t, err)
	require.Equal(t, 1, info.Attempt)

	item, err := w.StopRecording(context.Background())
	require.NoError(t, err)
	require.Equal(t, progress.RefLocal, item.Recording.Kind)
	w.Wait()

	item, err = w.Item(activityID, itemID)
	require.NoError(t, err)
	require.Equal(t, progress.RefRemote, item.Recording.Kind)
	require.True(t, item.HasAssessment())
	require.Equal(t, progress.StatusCompleted, item.Status)

	var uploads []models.RecordingUpload
	require.NoError(t, f.db.Find(&uploads).Error)
	require.Len(t, uploads, 1)
	require.Equal(t, "chrome", uploads[0].Platform)
	require.InDelta(t, 2.0, uploads[0].DurationSeconds, 0.01)

	gate := w.CanSubmit()
	require.False(t, gate.OK)
	require.Len(t, gate.Incomplete, 1)

	textActivity, textItem := f.textItem()
	answered, err := w.SetAnswer(context.Background(), textActivity, textItem, "<b>Rice</b> and eggs")
	require.NoError(t, err)
	require.Equal(t, "Rice and eggs", answered.AnswerText)

	outcome, err := w.Submit(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionSubmitted, outcome.Submission.State)

	_, err = w.SetAnswer(context.Background(), textActivity, textItem, "changed")
	require.ErrorIs(t, err, ErrWorkClosed)
}

func TestWorkspaceReopenRestoresProgress(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, 42)
	activityID, itemID := f.audioItem()

	_, err := w.SubmitFile(context.Background(), activityID, itemID, wavFile(t, capturetest.WAV(3, 8000)))
	require.NoError(t, err)

	reopened := f.open(t, 42)
	require.NotEqual(t, w.ID, reopened.ID)
	_, err = f.svc.Get(w.ID, 42)
	require.ErrorIs(t, err, ErrWorkspaceNotFound)

	item, err := reopened.Item(activityID, itemID)
	require.NoError(t, err)
	require.Equal(t, progress.RefRemote, item.Recording.Kind)
	require.True(t, item.HasAssessment())
}

func TestWorkspaceRejectsTooShortRecording(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, 42)
	activityID, itemID := f.audioItem()

	_, err := w.SubmitFile(context.Background(), activityID, itemID, wavFile(t, capturetest.WAV(0.6, 8000)))
	require.ErrorIs(t, err, capture.ErrInvalidRecording)
	require.Zero(t, f.storage.count())

	view := w.View()
	require.NotEmpty(t, view.Notices)
	last := view.Notices[len(view.Notices)-1]
	require.Equal(t, capture.NoticeRejected, last.Kind)
	require.Contains(t, last.Message, "at least one second")
}

func TestWorkspaceRetriesUploadThenScores(t *testing.T) {
	f := newFixture(t)
	f.storage.errs = []error{
		&upload.StorageError{StatusCode: 503},
		&upload.StorageError{Err: errors.New("connection reset")},
	}
	w := f.open(t, 42)
	activityID, itemID := f.audioItem()

	item, err := w.SubmitFile(context.Background(), activityID, itemID, wavFile(t, capturetest.WAV(2, 8000)))
	require.NoError(t, err)
	require.Equal(t, 3, f.storage.count())
	require.True(t, item.HasAssessment())

	retries := 0
	for _, notice := range w.View().Notices {
		if notice.Kind == capture.NoticeRetrying {
			retries++
		}
	}
	require.Equal(t, 2, retries)
}

func TestWorkspaceTerminalUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.storage.errs = []error{&upload.StorageError{StatusCode: 422, Message: "unsupported"}}
	w := f.open(t, 42)
	activityID, itemID := f.audioItem()

	item, err := w.SubmitFile(context.Background(), activityID, itemID, wavFile(t, capturetest.WAV(2, 8000)))
	failure, ok := upload.IsFailure(err)
	require.True(t, ok)
	require.Equal(t, upload.FailureServer, failure.Kind)
	require.Equal(t, 1, f.storage.count())
	require.Equal(t, progress.RefLocal, item.Recording.Kind)
}

func TestWorkspaceRescoreAfterScoringFailure(t *testing.T) {
	f := newFixture(t)
	f.scorer.errs = []error{errors.New("scorer overloaded")}
	w := f.open(t, 42)
	activityID, itemID := f.audioItem()

	item, err := w.SubmitFile(context.Background(), activityID, itemID, wavFile(t, capturetest.WAV(2, 8000)))
	require.ErrorIs(t, err, assessment.ErrScoringFailed)
	require.Equal(t, progress.RefRemote, item.Recording.Kind)
	require.Equal(t, progress.StatusInProgress, item.Status)
	require.False(t, item.HasAssessment())

	item, err = w.Rescore(context.Background(), activityID, itemID)
	require.NoError(t, err)
	require.True(t, item.HasAssessment())
	require.Equal(t, 1, f.storage.count())
}

func TestWorkspacePermissionDeniedLeavesItemUntouched(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, 42)
	w.Device().Attach(&browserStub{remote: w.Device(), grant: false})
	activityID, itemID := f.audioItem()

	_, err := w.StartRecording(context.Background(), activityID, itemID, false)
	require.ErrorIs(t, err, capture.ErrPermissionDenied)

	item, err := w.Item(activityID, itemID)
	require.NoError(t, err)
	require.Zero(t, item.Attempt)
	require.Equal(t, progress.StatusNotStarted, item.Status)
	require.Equal(t, capture.NoticePermissionDenied, w.View().Notices[0].Kind)
}

func TestWorkspaceWithoutDeviceCannotRecordLive(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, 42)
	activityID, itemID := f.audioItem()

	_, err := w.StartRecording(context.Background(), activityID, itemID, false)
	require.ErrorIs(t, err, capture.ErrDeviceUnavailable)

	_, err = w.StopRecording(context.Background())
	require.ErrorIs(t, err, capture.ErrNoActiveSession)
}

func TestPracticeServiceOwnership(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, 42)

	_, err := f.svc.Get(w.ID, 7)
	require.ErrorIs(t, err, ErrWorkspaceForbidden)
	require.ErrorIs(t, f.svc.Close(w.ID, 7), ErrWorkspaceForbidden)

	require.NoError(t, f.svc.Close(w.ID, 42))
	_, err = f.svc.Get(w.ID, 42)
	require.ErrorIs(t, err, ErrWorkspaceNotFound)

	_, err = f.svc.Open(context.Background(), OpenRequest{AssignmentID: 999, StudentID: 42})
	require.ErrorIs(t, err, ErrAssignmentNotFound)
}
