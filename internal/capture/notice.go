package capture

import "github.com/noah-isme/gema-speaking-lab/internal/progress"

type NoticeKind string

const (
	NoticePermissionDenied NoticeKind = "permission_denied"
	NoticeLimitReached     NoticeKind = "limit_reached"
	NoticeRejected         NoticeKind = "recording_rejected"
	NoticeRetrying         NoticeKind = "upload_retrying"
	NoticeUploadFailed     NoticeKind = "upload_failed"
	NoticeScoringFailed    NoticeKind = "scoring_failed"
)

// Notice is a user-visible message emitted by the pipeline.
type Notice struct {
	Kind        NoticeKind       `json:"kind"`
	Item        progress.ItemKey `json:"item"`
	Message     string           `json:"message"`
	Attempt     int              `json:"attempt,omitempty"`
	MaxAttempts int              `json:"max_attempts,omitempty"`
}

// Notifier delivers notices to the student.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// NopNotifier drops every notice.
func NopNotifier() Notifier { return nopNotifier{} }
