package assessment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/observability"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/telemetry"
)

var (
	ErrScoringFailed = errors.New("pronunciation scoring failed")
	// ErrNotUploaded is returned when the item has no remote recording yet.
	ErrNotUploaded = errors.New("item has no uploaded recording")
	// ErrStale means a result arrived for a recording that is no longer current.
	ErrStale = errors.New("assessment result is stale")
)

// Request is what the scoring service needs for one recording.
type Request struct {
	RecordingURL  string
	ProgressID    string
	ReferenceText string
}

// Scorer is the external pronunciation assessment service.
type Scorer interface {
	Score(ctx context.Context, req Request) (progress.AssessmentResult, error)
}

// Synchronizer requests scores for uploaded recordings and attaches them to
// the store only while the recording they were requested for is current.
type Synchronizer struct {
	scorer   Scorer
	store    *progress.Store
	notifier capture.Notifier
	sink     telemetry.Sink
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewSynchronizer(scorer Scorer, store *progress.Store, notifier capture.Notifier, sink telemetry.Sink, logger zerolog.Logger) *Synchronizer {
	if notifier == nil {
		notifier = capture.NopNotifier()
	}
	if sink == nil {
		sink = telemetry.Nop()
	}
	return &Synchronizer{
		scorer:   scorer,
		store:    store,
		notifier: notifier,
		sink:     sink,
		logger:   logger.With().Str("component", "assessment_sync").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-speaking-lab/internal/assessment"),
	}
}

// Score requests an assessment for the item's current remote recording.
// It is also the rescore path after a failure: the upload is never repeated.
func (s *Synchronizer) Score(ctx context.Context, key progress.ItemKey) (progress.AssessmentResult, error) {
	item, ok := s.store.Get(key)
	if !ok {
		return progress.AssessmentResult{}, fmt.Errorf("%w: %s", progress.ErrUnknownItem, key)
	}
	ref := item.Recording
	if ref.Kind != progress.RefRemote {
		return progress.AssessmentResult{}, ErrNotUploaded
	}

	ctx, span := s.tracer.Start(ctx, "assessment.score", trace.WithAttributes(
		attribute.String("assessment.item", key.String()),
		attribute.Int("assessment.attempt", ref.Attempt),
	))
	defer span.End()

	s.store.MarkAssessmentPending(key, ref)

	result, err := s.scorer.Score(ctx, Request{
		RecordingURL:  ref.URL,
		ProgressID:    ref.ProgressID,
		ReferenceText: item.ReferenceText,
	})
	if err != nil {
		observability.ScoringRequests().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")

		if s.store.MarkScoringFailed(key, ref, err.Error()) {
			s.notifier.Notify(capture.Notice{
				Kind:    capture.NoticeScoringFailed,
				Item:    key,
				Message: "Your recording was saved but could not be scored. Try scoring it again.",
			})
		}
		s.sink.Report(ctx, telemetry.Event{
			Kind:         telemetry.KindScoringFailed,
			Reason:       "scorer_error",
			AssignmentID: key.AssignmentID,
			ActivityID:   key.ActivityID,
			ItemID:       key.ItemID,
			Attempt:      ref.Attempt,
			Error:        err.Error(),
		})
		s.logger.Warn().Err(err).Str("item", key.String()).Msg("pronunciation scoring failed")
		return progress.AssessmentResult{}, fmt.Errorf("%w: %w", ErrScoringFailed, err)
	}

	attached, err := s.store.AttachAssessment(key, result, ref)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	if !attached {
		observability.ScoringRequests().WithLabelValues("stale").Inc()
		span.SetAttributes(attribute.Bool("assessment.stale", true))
		s.logger.Info().Str("item", key.String()).Int("attempt", ref.Attempt).Msg("discarding assessment for replaced recording")
		return result, ErrStale
	}

	observability.ScoringRequests().WithLabelValues("success").Inc()
	s.logger.Info().
		Str("item", key.String()).
		Float64("pronunciation_score", result.PronunciationScore).
		Msg("assessment attached")
	return result, nil
}
