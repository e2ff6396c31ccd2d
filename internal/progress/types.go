package progress

import (
	"fmt"
	"time"
)

// ItemKey identifies one practice item inside an assignment.
type ItemKey struct {
	AssignmentID uint `json:"assignment_id"`
	ActivityID   uint `json:"activity_id"`
	ItemID       uint `json:"item_id"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.AssignmentID, k.ActivityID, k.ItemID)
}

// ItemKind tells whether an item expects a recording or a typed answer.
type ItemKind string

const (
	KindAudio ItemKind = "audio"
	KindText  ItemKind = "text"
)

// Status is the coarse per-item completion flag.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// RefKind distinguishes a recording that only exists on this side from one
// the storage service has accepted.
type RefKind string

const (
	RefNone   RefKind = "none"
	RefLocal  RefKind = "local"
	RefRemote RefKind = "remote"
)

// RecordingRef is a comparable handle on a specific recording. Two refs are
// the same recording only when every field matches.
type RecordingRef struct {
	Kind       RefKind `json:"kind"`
	LocalID    string  `json:"local_id,omitempty"`
	URL        string  `json:"url,omitempty"`
	ProgressID string  `json:"progress_id,omitempty"`
	Attempt    int     `json:"attempt"`
}

// IsZero reports whether the ref points at nothing.
func (r RecordingRef) IsZero() bool {
	return r.Kind == "" || r.Kind == RefNone
}

// Remote returns the ref promoted to a storage-backed recording.
func (r RecordingRef) Remote(url, progressID string) RecordingRef {
	r.Kind = RefRemote
	r.URL = url
	r.ProgressID = progressID
	return r
}

// WordScore is the per-word breakdown returned by the scoring service.
type WordScore struct {
	Word          string  `json:"word"`
	AccuracyScore float64 `json:"accuracy_score"`
	ErrorType     string  `json:"error_type,omitempty"`
}

// AssessmentResult holds pronunciation scores for one recording.
type AssessmentResult struct {
	PronunciationScore float64     `json:"pronunciation_score"`
	AccuracyScore      float64     `json:"accuracy_score"`
	FluencyScore       float64     `json:"fluency_score"`
	CompletenessScore  float64     `json:"completeness_score"`
	Words              []WordScore `json:"words,omitempty"`
}

func (r AssessmentResult) clone() AssessmentResult {
	if r.Words != nil {
		r.Words = append([]WordScore(nil), r.Words...)
	}
	return r
}

// AssessmentState tracks whether scoring has been requested or delivered.
type AssessmentState string

const (
	AssessmentNone    AssessmentState = "none"
	AssessmentPending AssessmentState = "pending"
	AssessmentReady   AssessmentState = "ready"
)

type Assessment struct {
	State  AssessmentState   `json:"state"`
	Result *AssessmentResult `json:"result,omitempty"`
	// Ref is the recording the assessment (or pending request) belongs to.
	Ref RecordingRef `json:"ref"`
}

// ItemProgress is the per-item record the rest of the pipeline reads and writes.
type ItemProgress struct {
	Key           ItemKey      `json:"key"`
	Kind          ItemKind     `json:"kind"`
	ReferenceText string       `json:"reference_text,omitempty"`
	Recording     RecordingRef `json:"recording"`
	Assessment    Assessment   `json:"assessment"`
	AnswerText    string       `json:"answer_text,omitempty"`
	Status        Status       `json:"status"`
	Attempt       int          `json:"attempt"`
	ScoringError  string       `json:"scoring_error,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// HasAssessment reports whether a score is attached to the current recording.
func (p ItemProgress) HasAssessment() bool {
	return p.Assessment.State == AssessmentReady && p.Assessment.Result != nil
}

// holds reports whether ref is both the item's recording and from its
// latest attempt. A session started after ref was taken makes ref stale.
func (p *ItemProgress) holds(ref RecordingRef) bool {
	return p.Recording == ref && ref.Attempt == p.Attempt
}

func (p ItemProgress) clone() ItemProgress {
	if p.Assessment.Result != nil {
		result := p.Assessment.Result.clone()
		p.Assessment.Result = &result
	}
	return p
}
