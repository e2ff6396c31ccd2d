package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/observability"
)

// Event kinds reported by the capture pipeline.
const (
	KindRecordingRejected = "recording_rejected"
	KindUploadFailed      = "upload_failed"
	KindScoringFailed     = "scoring_failed"
)

// Event is a diagnostic record about a recording that did not make it
// through the pipeline. DurationSeconds is nil when it was never measured.
type Event struct {
	Kind            string    `json:"kind"`
	Reason          string    `json:"reason"`
	AssignmentID    uint      `json:"assignment_id"`
	ActivityID      uint      `json:"activity_id"`
	ItemID          uint      `json:"item_id"`
	StudentID       uint      `json:"student_id,omitempty"`
	Attempt         int       `json:"attempt,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	Encoding        string    `json:"encoding,omitempty"`
	Container       string    `json:"container,omitempty"`
	Method          string    `json:"method,omitempty"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Sink receives telemetry. Reporting never fails the caller; sinks log
// their own delivery problems.
type Sink interface {
	Report(ctx context.Context, event Event)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Report(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	for _, sink := range m {
		if sink != nil {
			sink.Report(ctx, event)
		}
	}
}

type nopSink struct{}

func (nopSink) Report(context.Context, Event) {}

// Nop discards every event.
func Nop() Sink { return nopSink{} }

// LogSink writes events as structured warnings.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "telemetry").Logger()}
}

func (s *LogSink) Report(_ context.Context, event Event) {
	entry := s.logger.Warn().
		Str("kind", event.Kind).
		Str("reason", event.Reason).
		Uint("assignment_id", event.AssignmentID).
		Uint("activity_id", event.ActivityID).
		Uint("item_id", event.ItemID).
		Int("attempt", event.Attempt).
		Str("platform", event.Platform).
		Str("encoding", event.Encoding).
		Str("method", event.Method).
		Int64("size_bytes", event.SizeBytes)
	if event.DurationSeconds != nil {
		entry = entry.Float64("duration_seconds", *event.DurationSeconds)
	}
	if event.Error != "" {
		entry = entry.Str("error", event.Error)
	}
	entry.Msg("recording pipeline event")
}

// MetricsSink counts rejected recordings for dashboards.
type MetricsSink struct{}

func (MetricsSink) Report(_ context.Context, event Event) {
	if event.Kind != KindRecordingRejected {
		return
	}
	observability.RecordingRejections().WithLabelValues(event.Platform, event.Reason, event.Method).Inc()
}
