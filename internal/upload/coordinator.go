package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/observability"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/retry"
	"github.com/noah-isme/gema-speaking-lab/internal/telemetry"
)

// Coordinator uploads validated recordings with bounded retry and swaps
// the store's local ref for the remote one on success.
type Coordinator struct {
	storage   Storage
	store     *progress.Store
	policy    retry.Policy
	notifier  capture.Notifier
	sink      telemetry.Sink
	studentID uint
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	Policy    retry.Policy
	Notifier  capture.Notifier
	Sink      telemetry.Sink
	StudentID uint
}

func NewCoordinator(storage Storage, store *progress.Store, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Notifier == nil {
		opts.Notifier = capture.NopNotifier()
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.Nop()
	}
	return &Coordinator{
		storage:   storage,
		store:     store,
		policy:    opts.Policy,
		notifier:  opts.Notifier,
		sink:      opts.Sink,
		studentID: opts.StudentID,
		logger:    logger.With().Str("component", "upload_coordinator").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-speaking-lab/internal/upload"),
	}
}

// Upload sends rec to storage. local must be the ref the store holds for
// the item; when a newer recording replaced it in the meantime the remote
// ref is still returned together with ErrSuperseded.
func (c *Coordinator) Upload(ctx context.Context, rec capture.ValidatedRecording, local progress.RecordingRef) (progress.RecordingRef, error) {
	key := rec.Raw.Item
	ctx, span := c.tracer.Start(ctx, "recording.upload", trace.WithAttributes(
		attribute.String("recording.item", key.String()),
		attribute.Int("recording.attempt", local.Attempt),
		attribute.Int64("recording.size_bytes", rec.Raw.SizeBytes),
		attribute.String("recording.container", string(rec.Container)),
	))
	defer span.End()

	start := time.Now()
	req := StorageRequest{
		AssignmentID: key.AssignmentID,
		ActivityID:   key.ActivityID,
		ItemID:       key.ItemID,
		StudentID:    c.studentID,
		FileName:     fileName(key, local, rec.Container),
		MimeType:     rec.Raw.MimeType,
		Data:         rec.Raw.Data,
	}

	result, attempts, err := retry.Do(ctx, c.policy, Retryable,
		func(ctx context.Context, attempt int) (StorageResult, error) {
			result, err := c.storage.Store(ctx, req)
			switch {
			case err == nil:
				observability.UploadAttempts().WithLabelValues("success").Inc()
			case Retryable(err):
				observability.UploadAttempts().WithLabelValues("retryable").Inc()
			default:
				observability.UploadAttempts().WithLabelValues("terminal").Inc()
			}
			if err != nil {
				c.logger.Debug().Err(err).Str("item", key.String()).Int("attempt", attempt).Msg("upload attempt failed")
			}
			return result, err
		},
		retry.BeforeRetry(func(next, max int, err error, wait time.Duration) {
			c.notifier.Notify(capture.Notice{
				Kind:        capture.NoticeRetrying,
				Item:        key,
				Message:     fmt.Sprintf("Upload interrupted, retrying (%d/%d)...", next, max),
				Attempt:     next,
				MaxAttempts: max,
			})
		}),
	)
	span.SetAttributes(attribute.Int("upload.attempts", attempts))

	if err != nil {
		kind := kindOf(err)
		failure := &Error{Kind: kind, Attempts: attempts, Err: err}

		observability.UploadFailures().WithLabelValues(string(kind)).Inc()
		observability.UploadLatency().WithLabelValues("failed").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")

		c.notifier.Notify(capture.Notice{
			Kind:        capture.NoticeUploadFailed,
			Item:        key,
			Message:     failureMessage(kind),
			Attempt:     attempts,
			MaxAttempts: c.policy.MaxAttempts,
		})
		c.sink.Report(ctx, telemetry.Event{
			Kind:         telemetry.KindUploadFailed,
			Reason:       string(kind),
			AssignmentID: key.AssignmentID,
			ActivityID:   key.ActivityID,
			ItemID:       key.ItemID,
			StudentID:    c.studentID,
			Attempt:      local.Attempt,
			Encoding:     rec.Raw.MimeType,
			Container:    string(rec.Container),
			Method:       string(rec.Method),
			SizeBytes:    rec.Raw.SizeBytes,
			Error:        err.Error(),
		})
		c.logger.Warn().Err(err).
			Str("item", key.String()).
			Str("kind", string(kind)).
			Int("attempts", attempts).
			Msg("recording upload failed")
		return progress.RecordingRef{}, failure
	}

	observability.UploadLatency().WithLabelValues("success").Observe(time.Since(start).Seconds())

	remote := local.Remote(result.RemoteURL, result.ProgressID)
	applied, err := c.store.CompleteUpload(key, local, remote)
	if err != nil {
		span.RecordError(err)
		return remote, err
	}
	if !applied {
		span.SetAttributes(attribute.Bool("upload.superseded", true))
		c.logger.Info().Str("item", key.String()).Int("attempt", local.Attempt).Msg("discarding upload for superseded recording")
		return remote, ErrSuperseded
	}

	c.logger.Info().
		Str("item", key.String()).
		Str("progress_id", result.ProgressID).
		Int("attempts", attempts).
		Msg("recording uploaded")
	return remote, nil
}

func fileName(key progress.ItemKey, local progress.RecordingRef, container capture.Container) string {
	id := local.LocalID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("a%d-act%d-item%d-%d-%s%s", key.AssignmentID, key.ActivityID, key.ItemID, local.Attempt, id, container.Extension())
}

func failureMessage(kind FailureKind) string {
	if kind == FailureServer {
		return "The server could not save your recording. Please record again or contact your teacher."
	}
	return "Your recording could not be uploaded. Check your connection and try again."
}

// IsFailure reports whether err is a terminal upload failure and returns it.
func IsFailure(err error) (*Error, bool) {
	var failure *Error
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}
