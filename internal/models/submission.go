package models

import "time"

// SubmissionState is the lifecycle of a student's assignment submission.
type SubmissionState string

const (
	SubmissionNotStarted  SubmissionState = "not_started"
	SubmissionInProgress  SubmissionState = "in_progress"
	SubmissionSubmitted   SubmissionState = "submitted"
	SubmissionGraded      SubmissionState = "graded"
	SubmissionReturned    SubmissionState = "returned"
	SubmissionResubmitted SubmissionState = "resubmitted"
)

var submissionTransitions = map[SubmissionState][]SubmissionState{
	SubmissionNotStarted:  {SubmissionInProgress, SubmissionSubmitted},
	SubmissionInProgress:  {SubmissionSubmitted},
	SubmissionSubmitted:   {SubmissionGraded, SubmissionReturned},
	SubmissionGraded:      {SubmissionReturned},
	SubmissionReturned:    {SubmissionResubmitted},
	SubmissionResubmitted: {SubmissionGraded, SubmissionReturned},
}

// CanTransition reports whether the state machine allows moving to next.
func (s SubmissionState) CanTransition(next SubmissionState) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsStudentWork reports whether the student may still change answers.
func (s SubmissionState) AcceptsStudentWork() bool {
	return s == SubmissionNotStarted || s == SubmissionInProgress || s == SubmissionReturned
}

// SubmitTarget is the state a submit action moves to from s.
func (s SubmissionState) SubmitTarget() SubmissionState {
	if s == SubmissionReturned {
		return SubmissionResubmitted
	}
	return SubmissionSubmitted
}

// AssignmentSubmission records where a student is with an assignment.
type AssignmentSubmission struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	AssignmentID uint            `gorm:"not null;uniqueIndex:idx_submission_student" json:"assignment_id"`
	StudentID    uint            `gorm:"not null;uniqueIndex:idx_submission_student" json:"student_id"`
	State        SubmissionState `gorm:"size:32;not null" json:"state"`
	Overridden   bool            `gorm:"not null;default:false" json:"overridden"`
	SubmittedAt  *time.Time      `json:"submitted_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Assignment   Assignment      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}
