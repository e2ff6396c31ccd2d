package service

import (
	"context"
	"sync"

	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/telemetry"
)

const noticeBacklog = 20

// noticeLog keeps the latest notices so clients without a socket can poll.
type noticeLog struct {
	mu      sync.Mutex
	entries []capture.Notice
}

func (l *noticeLog) Notify(n capture.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, n)
	if len(l.entries) > noticeBacklog {
		l.entries = append([]capture.Notice(nil), l.entries[len(l.entries)-noticeBacklog:]...)
	}
}

func (l *noticeLog) recent() []capture.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capture.Notice(nil), l.entries...)
}

type fanout []capture.Notifier

func (f fanout) Notify(n capture.Notice) {
	for _, notifier := range f {
		notifier.Notify(n)
	}
}

// studentSink stamps the workspace owner on every event.
type studentSink struct {
	inner     telemetry.Sink
	studentID uint
}

func (s studentSink) Report(ctx context.Context, event telemetry.Event) {
	if event.StudentID == 0 {
		event.StudentID = s.studentID
	}
	s.inner.Report(ctx, event)
}
