package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StorageRequest carries one recording to the storage service.
type StorageRequest struct {
	AssignmentID uint
	ActivityID   uint
	ItemID       uint
	StudentID    uint
	FileName     string
	MimeType     string
	Data         []byte
}

// StorageResult is what the storage service hands back on success.
type StorageResult struct {
	RemoteURL  string
	ProgressID string
}

// Storage persists recordings remotely.
type Storage interface {
	Store(ctx context.Context, req StorageRequest) (StorageResult, error)
}

// StorageError reports a failed storage call. StatusCode is zero when the
// request never produced a response.
type StorageError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StorageError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("storage transport error: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("storage returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("storage returned %d", e.StatusCode)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable classifies transport failures, timeouts, throttling and 5xx
// responses as transient. Any other 4xx is final.
func Retryable(err error) bool {
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return true
	}
	switch code := storageErr.StatusCode; {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// FailureKind tells the student whether trying again later could help.
type FailureKind string

const (
	FailureNetwork FailureKind = "network"
	FailureServer  FailureKind = "server"
)

var ErrUploadFailed = errors.New("upload failed")

// ErrSuperseded means the upload landed but a newer recording replaced the
// one it was for, so the result was dropped.
var ErrSuperseded = errors.New("recording superseded before upload completed")

// Error is the terminal upload failure.
type Error struct {
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload failed (%s) after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUploadFailed }

// Message is the student-facing explanation.
func (e *Error) Message() string { return failureMessage(e.Kind) }

func kindOf(err error) FailureKind {
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		return FailureNetwork
	}
	switch storageErr.StatusCode {
	case 0, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return FailureNetwork
	}
	return FailureServer
}
