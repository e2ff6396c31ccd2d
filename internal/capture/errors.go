package capture

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrEmptyRecording    = errors.New("recording produced no audio")
	ErrTooSmall          = errors.New("recording is too small")
	ErrInvalidRecording  = errors.New("recording failed validation")

	// ErrDurationUnavailable means the container does not state a usable duration.
	ErrDurationUnavailable = errors.New("duration not available")
	// ErrMalformedAudio means the bytes could not be parsed as the container claims.
	ErrMalformedAudio = errors.New("malformed audio")
)

// RejectKind is the top-level reason a recording was refused.
type RejectKind string

const (
	RejectEmpty    RejectKind = "empty_recording"
	RejectTooSmall RejectKind = "too_small"
	RejectInvalid  RejectKind = "validation_error"
)

// Reasons attached to RejectInvalid.
const (
	ReasonDurationTooShort     = "duration_too_short"
	ReasonDurationTooLong      = "duration_too_long"
	ReasonDurationUndetermined = "duration_undetermined"
	ReasonDecodeFailed         = "decode_failed"
)

// Rejection describes why validation refused a recording. DurationKnown is
// false when the size check failed first or no duration could be measured.
type Rejection struct {
	Kind            RejectKind
	Reason          string
	SizeBytes       int64
	DurationSeconds float64
	DurationKnown   bool
	Method          DurationMethod
	Container       Container
	Err             error
}

func (r *Rejection) Error() string {
	switch r.Kind {
	case RejectEmpty:
		return "recording rejected: no audio captured"
	case RejectTooSmall:
		return fmt.Sprintf("recording rejected: %d bytes is below the minimum size", r.SizeBytes)
	}
	if r.DurationKnown {
		return fmt.Sprintf("recording rejected (%s): %.2fs measured by %s", r.Reason, r.DurationSeconds, r.Method)
	}
	if r.Err != nil {
		return fmt.Sprintf("recording rejected (%s): %v", r.Reason, r.Err)
	}
	return fmt.Sprintf("recording rejected (%s)", r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Is lets callers match rejections against the kind sentinels.
func (r *Rejection) Is(target error) bool {
	switch target {
	case ErrEmptyRecording:
		return r.Kind == RejectEmpty
	case ErrTooSmall:
		return r.Kind == RejectTooSmall
	case ErrInvalidRecording:
		return r.Kind == RejectInvalid
	}
	return false
}

// Message is the student-facing explanation.
func (r *Rejection) Message() string {
	switch {
	case r.Kind == RejectEmpty:
		return "We didn't capture any audio. Check your microphone and try again."
	case r.Kind == RejectTooSmall:
		return "That recording was too short to use. Please record again."
	case r.Reason == ReasonDurationTooShort:
		return "Recordings must be at least one second long. Please record again."
	case r.Reason == ReasonDurationTooLong:
		return "Recordings can be at most 45 seconds long. Please record a shorter answer."
	default:
		return "We couldn't read that recording. Please record again."
	}
}
