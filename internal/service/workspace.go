package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/device"
	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/repository"
	"github.com/noah-isme/gema-speaking-lab/internal/submission"
	"github.com/noah-isme/gema-speaking-lab/internal/upload"
)

var (
	// ErrRecordingSuperseded is returned when a newer attempt replaced the
	// recording before it could be accepted.
	ErrRecordingSuperseded = errors.New("a newer recording replaced this one")
	// ErrRecordingTooLarge indicates an uploaded file over the configured limit.
	ErrRecordingTooLarge = errors.New("recording exceeds maximum allowed size")
	// ErrRecordingMissing indicates a file upload without a file.
	ErrRecordingMissing = errors.New("recording file is required")
	// ErrWorkClosed is returned once the submission no longer accepts changes.
	ErrWorkClosed = errors.New("assignment no longer accepts changes")
)

const permissionTimeout = time.Minute

// Workspace is one student's live practice session on one assignment. It
// owns the progress store and every pipeline stage that writes to it.
type Workspace struct {
	ID           string
	AssignmentID uint
	StudentID    uint
	OpenedAt     time.Time

	assignment models.Assignment
	activities []submission.Activity
	profile    capture.PlatformProfile

	store     *progress.Store
	device    *device.Remote
	manager   *capture.Manager
	validator *capture.Validator
	uploader  *upload.Coordinator
	scoring   *assessment.Synchronizer
	submitter *submission.Submitter

	progressRepo repository.ProgressRepository
	uploadRepo   repository.UploadRepository
	notices      *noticeLog
	notifier     capture.Notifier
	sanitizer    *bluemonday.Policy
	maxUpload    int64
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// View is the serialisable state of a workspace.
type View struct {
	ID           string                  `json:"id"`
	AssignmentID uint                    `json:"assignment_id"`
	Profile      capture.PlatformProfile `json:"profile"`
	Progress     progress.Snapshot       `json:"progress"`
	Session      *capture.SessionInfo    `json:"session,omitempty"`
	Gate         submission.Result       `json:"gate"`
	Notices      []capture.Notice        `json:"notices"`
}

func (w *Workspace) key(activityID, itemID uint) progress.ItemKey {
	return progress.ItemKey{AssignmentID: w.AssignmentID, ActivityID: activityID, ItemID: itemID}
}

// Profile returns the capability profile detected when the workspace opened.
func (w *Workspace) Profile() capture.PlatformProfile { return w.profile }

// Device is the browser-side microphone the recording socket attaches to.
func (w *Workspace) Device() *device.Remote { return w.device }

// Snapshot returns a deep copy of all item progress.
func (w *Workspace) Snapshot() progress.Snapshot { return w.store.Snapshot() }

// Item returns one item's progress.
func (w *Workspace) Item(activityID, itemID uint) (progress.ItemProgress, error) {
	item, ok := w.store.Get(w.key(activityID, itemID))
	if !ok {
		return progress.ItemProgress{}, fmt.Errorf("%w: %d/%d", progress.ErrUnknownItem, activityID, itemID)
	}
	return item, nil
}

// View assembles the state the client renders.
func (w *Workspace) View() View {
	snapshot := w.store.Snapshot()
	view := View{
		ID:           w.ID,
		AssignmentID: w.AssignmentID,
		Profile:      w.profile,
		Progress:     snapshot,
		Gate:         submission.CanSubmit(w.activities, snapshot),
		Notices:      w.notices.recent(),
	}
	if info, ok := w.manager.Current(); ok {
		view.Session = &info
	}
	return view
}

// CanSubmit runs the submission gate against the current progress.
func (w *Workspace) CanSubmit() submission.Result {
	return submission.CanSubmit(w.activities, w.store.Snapshot())
}

// StartRecording begins live capture for an item through the attached device.
func (w *Workspace) StartRecording(ctx context.Context, activityID, itemID uint, reRecord bool) (capture.SessionInfo, error) {
	key := w.key(activityID, itemID)
	if _, ok := w.store.Get(key); !ok {
		return capture.SessionInfo{}, fmt.Errorf("%w: %s", progress.ErrUnknownItem, key)
	}

	ctx, cancel := context.WithTimeout(ctx, permissionTimeout)
	defer cancel()
	if err := w.manager.Start(ctx, key, reRecord); err != nil {
		return capture.SessionInfo{}, err
	}
	info, _ := w.manager.Current()
	return info, nil
}

// StopRecording finishes live capture, validates the audio and hands it to
// the background upload. The returned item reflects the local recording.
func (w *Workspace) StopRecording(ctx context.Context) (progress.ItemProgress, error) {
	raw, err := w.manager.Stop(ctx)
	if errors.Is(err, capture.ErrNoActiveSession) {
		return progress.ItemProgress{}, err
	}
	if err != nil && !errors.Is(err, capture.ErrEmptyRecording) {
		w.logger.Warn().Err(err).Str("item", raw.Item.String()).Msg("recording finished with an encoder error")
	}
	return w.acceptLive(ctx, raw)
}

// CancelRecording discards the live session, if any, without keeping audio.
func (w *Workspace) CancelRecording() { w.manager.Teardown() }

// SubmitFile runs an uploaded file through the same validation, upload and
// scoring as a live recording, synchronously.
func (w *Workspace) SubmitFile(ctx context.Context, activityID, itemID uint, file *multipart.FileHeader) (progress.ItemProgress, error) {
	key := w.key(activityID, itemID)
	if file == nil {
		return progress.ItemProgress{}, ErrRecordingMissing
	}
	if file.Size > w.maxUpload {
		return progress.ItemProgress{}, ErrRecordingTooLarge
	}
	if err := w.ensureOpen(ctx); err != nil {
		return progress.ItemProgress{}, err
	}

	handle, err := file.Open()
	if err != nil {
		return progress.ItemProgress{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, w.maxUpload+1)); err != nil {
		return progress.ItemProgress{}, err
	}
	if int64(buf.Len()) > w.maxUpload {
		return progress.ItemProgress{}, ErrRecordingTooLarge
	}

	if info, ok := w.manager.Current(); ok && info.Item == key {
		w.manager.Teardown()
	}
	attempt, err := w.store.BeginRecording(key)
	if err != nil {
		return progress.ItemProgress{}, err
	}
	w.markStarted()

	mimeType := strings.TrimSpace(file.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(buf.Bytes()).String()
	}
	raw := capture.RawRecording{
		Item:      key,
		Attempt:   attempt,
		Data:      buf.Bytes(),
		MimeType:  mimeType,
		SizeBytes: int64(buf.Len()),
		Source:    capture.SourceFile,
	}

	validated, local, err := w.accept(ctx, raw)
	if err != nil {
		item, _ := w.store.Get(key)
		return item, err
	}
	return w.deliver(ctx, validated, local)
}

// SetAnswer stores a sanitised text answer.
func (w *Workspace) SetAnswer(ctx context.Context, activityID, itemID uint, text string) (progress.ItemProgress, error) {
	key := w.key(activityID, itemID)
	if err := w.ensureOpen(ctx); err != nil {
		return progress.ItemProgress{}, err
	}
	clean := strings.TrimSpace(w.sanitizer.Sanitize(text))
	if err := w.store.SetAnswer(key, clean); err != nil {
		return progress.ItemProgress{}, err
	}
	w.markStarted()

	item, _ := w.store.Get(key)
	w.persist(ctx, item)
	return item, nil
}

// Rescore asks the scorer again for the item's current upload.
func (w *Workspace) Rescore(ctx context.Context, activityID, itemID uint) (progress.ItemProgress, error) {
	key := w.key(activityID, itemID)
	_, err := w.scoring.Score(ctx, key)
	item, _ := w.store.Get(key)
	if err == nil {
		w.persist(ctx, item)
	}
	w.device.PushProgress(item)
	return item, err
}

// Submit runs the gate and, unless blocked, records the submission.
func (w *Workspace) Submit(ctx context.Context, override bool) (submission.Outcome, error) {
	return w.submitter.Submit(ctx, submission.Request{
		AssignmentID: w.AssignmentID,
		StudentID:    w.StudentID,
		Activities:   w.activities,
		Snapshot:     w.store.Snapshot(),
		Override:     override,
	})
}

// Wait blocks until background uploads and scoring calls finish.
func (w *Workspace) Wait() { w.wg.Wait() }

// Close releases the microphone, cancels background work and waits for it.
func (w *Workspace) Close() error {
	err := w.manager.Close()
	w.cancel()
	w.wg.Wait()
	return err
}

func (w *Workspace) beginRecording(item progress.ItemKey, reRecord bool) (int, error) {
	if err := w.ensureOpen(w.ctx); err != nil {
		return 0, err
	}
	attempt, err := w.store.BeginRecording(item)
	if err != nil {
		return 0, err
	}
	w.markStarted()
	if current, ok := w.store.Get(item); ok {
		w.device.PushProgress(current)
	}
	w.logger.Debug().Str("item", item.String()).Bool("re_record", reRecord).Int("attempt", attempt).Msg("recording attempt started")
	return attempt, nil
}

func (w *Workspace) limitReached(raw capture.RawRecording, err error) {
	if errors.Is(err, capture.ErrNoActiveSession) {
		return
	}
	item, acceptErr := w.acceptLive(w.ctx, raw)
	if acceptErr != nil {
		return
	}
	w.device.PushProgress(item)
}

func (w *Workspace) acceptLive(ctx context.Context, raw capture.RawRecording) (progress.ItemProgress, error) {
	validated, local, err := w.accept(ctx, raw)
	if err != nil {
		item, _ := w.store.Get(raw.Item)
		return item, err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		item, _ := w.deliver(w.ctx, validated, local)
		w.device.PushProgress(item)
	}()

	item, _ := w.store.Get(raw.Item)
	return item, nil
}

// accept validates raw and records it as the item's local recording.
func (w *Workspace) accept(ctx context.Context, raw capture.RawRecording) (capture.ValidatedRecording, progress.RecordingRef, error) {
	validated, err := w.validator.Validate(ctx, raw, w.profile)
	if err != nil {
		var rejection *capture.Rejection
		if errors.As(err, &rejection) {
			w.notifier.Notify(capture.Notice{Kind: capture.NoticeRejected, Item: raw.Item, Message: rejection.Message()})
		}
		return capture.ValidatedRecording{}, progress.RecordingRef{}, err
	}

	local := progress.RecordingRef{Kind: progress.RefLocal, LocalID: uuid.NewString(), Attempt: raw.Attempt}
	applied, err := w.store.UpsertRecording(raw.Item, local)
	if err != nil {
		return capture.ValidatedRecording{}, progress.RecordingRef{}, err
	}
	if !applied {
		return capture.ValidatedRecording{}, progress.RecordingRef{}, ErrRecordingSuperseded
	}
	return validated, local, nil
}

// deliver uploads, persists and scores one accepted recording.
func (w *Workspace) deliver(ctx context.Context, validated capture.ValidatedRecording, local progress.RecordingRef) (progress.ItemProgress, error) {
	key := validated.Raw.Item

	tracer := otel.Tracer("github.com/noah-isme/gema-speaking-lab/internal/service/practice")
	ctx, span := tracer.Start(ctx, "practice.deliver")
	span.SetAttributes(
		attribute.String("practice.item", key.String()),
		attribute.Int("practice.attempt", local.Attempt),
		attribute.String("practice.mime_type", validated.Raw.MimeType),
		attribute.Float64("practice.duration_seconds", validated.DurationSeconds),
	)
	defer span.End()

	remote, err := w.uploader.Upload(ctx, validated, local)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload_failed")
		item, _ := w.store.Get(key)
		return item, err
	}
	w.recordUpload(ctx, validated, remote)

	item, _ := w.store.Get(key)
	w.persist(ctx, item)
	w.device.PushProgress(item)

	if _, err := w.scoring.Score(ctx, key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring_failed")
		item, _ = w.store.Get(key)
		return item, err
	}
	item, _ = w.store.Get(key)
	w.persist(ctx, item)
	return item, nil
}

func (w *Workspace) recordUpload(ctx context.Context, validated capture.ValidatedRecording, remote progress.RecordingRef) {
	key := validated.Raw.Item
	record := &models.RecordingUpload{
		AssignmentID:    key.AssignmentID,
		StudentID:       w.StudentID,
		ActivityID:      key.ActivityID,
		ItemID:          key.ItemID,
		Attempt:         remote.Attempt,
		URL:             remote.URL,
		ProgressRef:     remote.ProgressID,
		MimeType:        validated.Raw.MimeType,
		SizeBytes:       validated.Raw.SizeBytes,
		DurationSeconds: validated.DurationSeconds,
		DurationMethod:  string(validated.Method),
		Platform:        w.profile.PlatformName,
	}
	if err := w.uploadRepo.Create(ctx, record); err != nil {
		w.logger.Error().Err(err).Str("item", key.String()).Msg("failed to record upload")
	}
}

func (w *Workspace) persist(ctx context.Context, item progress.ItemProgress) {
	records, err := progress.Records(w.StudentID, progress.Snapshot{Items: []progress.ItemProgress{item}})
	if err == nil {
		err = w.progressRepo.Upsert(ctx, records)
	}
	if err != nil {
		w.logger.Error().Err(err).Str("item", item.Key.String()).Msg("failed to persist item progress")
	}
}

// ensureOpen rejects changes once the work was submitted or graded.
func (w *Workspace) ensureOpen(ctx context.Context) error {
	current, err := w.submitter.Status(ctx, w.AssignmentID, w.StudentID)
	if err != nil {
		return err
	}
	if !current.State.AcceptsStudentWork() {
		return fmt.Errorf("%w: %s", ErrWorkClosed, current.State)
	}
	return nil
}

func (w *Workspace) markStarted() {
	w.startedMu.Lock()
	if w.started {
		w.startedMu.Unlock()
		return
	}
	w.started = true
	w.startedMu.Unlock()

	if err := w.submitter.MarkInProgress(w.ctx, w.AssignmentID, w.StudentID); err != nil {
		w.logger.Warn().Err(err).Msg("failed to mark submission in progress")
	}
}
