package capture

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/telemetry"
)

const (
	DefaultMinDurationSeconds = 1.0
	DefaultMaxDurationSeconds = 45.0
)

// Validator decides whether a raw recording is fit to upload.
type Validator struct {
	minSeconds float64
	maxSeconds float64
	sink       telemetry.Sink
	logger     zerolog.Logger
}

// ValidatorConfig holds the accepted duration window.
type ValidatorConfig struct {
	MinSeconds float64
	MaxSeconds float64
}

func NewValidator(cfg ValidatorConfig, sink telemetry.Sink, logger zerolog.Logger) *Validator {
	if cfg.MinSeconds <= 0 {
		cfg.MinSeconds = DefaultMinDurationSeconds
	}
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = DefaultMaxDurationSeconds
	}
	if sink == nil {
		sink = telemetry.Nop()
	}
	return &Validator{
		minSeconds: cfg.MinSeconds,
		maxSeconds: cfg.MaxSeconds,
		sink:       sink,
		logger:     logger.With().Str("component", "recording_validator").Logger(),
	}
}

// Validate checks size first and only then measures duration, using the
// method the profile selects. Every rejection is reported to telemetry.
func (v *Validator) Validate(ctx context.Context, raw RawRecording, profile PlatformProfile) (ValidatedRecording, error) {
	size := raw.SizeBytes
	if size == 0 {
		size = int64(len(raw.Data))
	}

	if size == 0 || len(raw.Data) == 0 {
		return ValidatedRecording{}, v.reject(ctx, raw, profile, &Rejection{
			Kind:      RejectEmpty,
			Reason:    string(RejectEmpty),
			SizeBytes: size,
			Method:    profile.DurationValidationMethod,
			Err:       ErrEmptyRecording,
		})
	}
	if size < profile.MinAcceptableFileSize {
		return ValidatedRecording{}, v.reject(ctx, raw, profile, &Rejection{
			Kind:      RejectTooSmall,
			Reason:    string(RejectTooSmall),
			SizeBytes: size,
			Method:    profile.DurationValidationMethod,
		})
	}

	method := profile.DurationValidationMethod
	if method == "" {
		method = MethodMetadata
	}
	container := DetectContainer(raw.Data, raw.MimeType)

	duration, err := MeasureDuration(raw.Data, container, method)
	if err != nil {
		reason := ReasonDecodeFailed
		if errors.Is(err, ErrDurationUnavailable) {
			reason = ReasonDurationUndetermined
		}
		return ValidatedRecording{}, v.reject(ctx, raw, profile, &Rejection{
			Kind:      RejectInvalid,
			Reason:    reason,
			SizeBytes: size,
			Method:    method,
			Container: container,
			Err:       err,
		})
	}

	if duration < v.minSeconds || duration > v.maxSeconds {
		reason := ReasonDurationTooShort
		if duration > v.maxSeconds {
			reason = ReasonDurationTooLong
		}
		return ValidatedRecording{}, v.reject(ctx, raw, profile, &Rejection{
			Kind:            RejectInvalid,
			Reason:          reason,
			SizeBytes:       size,
			DurationSeconds: duration,
			DurationKnown:   true,
			Method:          method,
			Container:       container,
		})
	}

	v.logger.Debug().
		Str("item", raw.Item.String()).
		Str("container", string(container)).
		Str("method", string(method)).
		Float64("duration_seconds", duration).
		Int64("size_bytes", size).
		Msg("recording accepted")

	raw.SizeBytes = size
	return ValidatedRecording{
		Raw:             raw,
		DurationSeconds: duration,
		Method:          method,
		Container:       container,
	}, nil
}

func (v *Validator) reject(ctx context.Context, raw RawRecording, profile PlatformProfile, rejection *Rejection) error {
	event := telemetry.Event{
		Kind:         telemetry.KindRecordingRejected,
		Reason:       rejection.Reason,
		AssignmentID: raw.Item.AssignmentID,
		ActivityID:   raw.Item.ActivityID,
		ItemID:       raw.Item.ItemID,
		Attempt:      raw.Attempt,
		Platform:     profile.PlatformName,
		Encoding:     raw.MimeType,
		Container:    string(rejection.Container),
		Method:       string(rejection.Method),
		SizeBytes:    rejection.SizeBytes,
	}
	if rejection.DurationKnown {
		duration := rejection.DurationSeconds
		event.DurationSeconds = &duration
	}
	if rejection.Err != nil {
		event.Error = rejection.Err.Error()
	}
	v.sink.Report(ctx, event)
	return rejection
}
