package capture

import (
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

// Source tells whether audio came from a live session or a picked file.
type Source string

const (
	SourceLive Source = "live"
	SourceFile Source = "file"
)

// RawRecording is the unvalidated output of a session.
type RawRecording struct {
	Item     progress.ItemKey
	Attempt  int
	Data     []byte
	MimeType string
	// SizeBytes is the encoded size as reported by the encoder.
	SizeBytes int64
	// MeasuredDurationSeconds is the wall-clock time the session ran.
	MeasuredDurationSeconds float64
	Source                  Source
}

// ValidatedRecording is a recording that passed every check.
type ValidatedRecording struct {
	Raw             RawRecording
	DurationSeconds float64
	Method          DurationMethod
	Container       Container
}
