package dto

import (
	"time"

	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/submission"
)

// OpenWorkspaceRequest starts a practice workspace for the caller.
type OpenWorkspaceRequest struct {
	AssignmentID uint `json:"assignment_id" validate:"required,gt=0"`
	// SupportedTypes is what MediaRecorder.isTypeSupported accepted on the client.
	SupportedTypes []string `json:"supported_types" validate:"omitempty,max=16,dive,min=3,max=64"`
	// UserAgent overrides the request header, for embedded webviews that rewrite it.
	UserAgent string `json:"user_agent" validate:"omitempty,max=512"`
}

// AnswerRequest stores a typed answer.
type AnswerRequest struct {
	Text string `json:"text" validate:"max=2000"`
}

// StartRecordingRequest begins live capture on an item.
type StartRecordingRequest struct {
	ActivityID uint `json:"activity_id" validate:"required,gt=0"`
	ItemID     uint `json:"item_id" validate:"required,gt=0"`
	ReRecord   bool `json:"re_record"`
}

// SubmitRequest submits the assignment. Override skips the completeness gate.
type SubmitRequest struct {
	Override bool `json:"override"`
}

// ProfileResponse exposes the detected platform profile.
type ProfileResponse struct {
	PlatformName       string   `json:"platform_name"`
	Encoding           string   `json:"encoding"`
	PreferredEncodings []string `json:"preferred_encodings"`
	MinFileSize        int64    `json:"min_file_size"`
	DurationMethod     string   `json:"duration_method"`
}

// AssessmentResponse is an item's pronunciation result.
type AssessmentResponse struct {
	State              string               `json:"state"`
	PronunciationScore *float64             `json:"pronunciation_score,omitempty"`
	AccuracyScore      *float64             `json:"accuracy_score,omitempty"`
	FluencyScore       *float64             `json:"fluency_score,omitempty"`
	CompletenessScore  *float64             `json:"completeness_score,omitempty"`
	Words              []progress.WordScore `json:"words,omitempty"`
}

// ItemProgressResponse is one item's progress as the client renders it.
type ItemProgressResponse struct {
	ActivityID   uint               `json:"activity_id"`
	ItemID       uint               `json:"item_id"`
	Kind         string             `json:"kind"`
	Status       string             `json:"status"`
	Attempt      int                `json:"attempt"`
	Recording    string             `json:"recording"`
	RecordingURL string             `json:"recording_url,omitempty"`
	AnswerText   string             `json:"answer_text,omitempty"`
	Assessment   AssessmentResponse `json:"assessment"`
	ScoringError string             `json:"scoring_error,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// SessionResponse describes the live recording session, if any.
type SessionResponse struct {
	ID             string    `json:"id"`
	ActivityID     uint      `json:"activity_id"`
	ItemID         uint      `json:"item_id"`
	Attempt        int       `json:"attempt"`
	State          string    `json:"state"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	StartedAt      time.Time `json:"started_at"`
}

// NoticeResponse is a student-facing notice.
type NoticeResponse struct {
	Kind        string `json:"kind"`
	ActivityID  uint   `json:"activity_id"`
	ItemID      uint   `json:"item_id"`
	Message     string `json:"message"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// IncompleteItemResponse names one item blocking submission.
type IncompleteItemResponse struct {
	ActivityID  uint     `json:"activity_id"`
	ItemID      uint     `json:"item_id"`
	Description string   `json:"description"`
	Missing     []string `json:"missing"`
}

// GateResponse is the submission gate outcome.
type GateResponse struct {
	OK              bool                     `json:"ok"`
	IncompleteItems []IncompleteItemResponse `json:"incomplete_items"`
}

// SubmissionResponse summarises the stored submission.
type SubmissionResponse struct {
	AssignmentID uint       `json:"assignment_id"`
	StudentID    uint       `json:"student_id"`
	State        string     `json:"state"`
	Overridden   bool       `json:"overridden"`
	SubmittedAt  *time.Time `json:"submitted_at"`
}

// SubmitResponse is returned by the submit endpoint.
type SubmitResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Gate       GateResponse       `json:"gate"`
}

// WorkspaceResponse is the full workspace view.
type WorkspaceResponse struct {
	ID           string                 `json:"id"`
	AssignmentID uint                   `json:"assignment_id"`
	Profile      ProfileResponse        `json:"profile"`
	Items        []ItemProgressResponse `json:"items"`
	Session      *SessionResponse       `json:"session"`
	Gate         GateResponse           `json:"gate"`
	Notices      []NoticeResponse       `json:"notices"`
}

// NewProfileResponse maps a platform profile.
func NewProfileResponse(profile capture.PlatformProfile) ProfileResponse {
	encodings := profile.PreferredEncodings
	if encodings == nil {
		encodings = []string{}
	}
	return ProfileResponse{
		PlatformName:       profile.PlatformName,
		Encoding:           profile.Encoding,
		PreferredEncodings: encodings,
		MinFileSize:        profile.MinAcceptableFileSize,
		DurationMethod:     string(profile.DurationValidationMethod),
	}
}

// NewItemProgressResponse maps one item's progress.
func NewItemProgressResponse(item progress.ItemProgress) ItemProgressResponse {
	recording := item.Recording.Kind
	if recording == "" {
		recording = progress.RefNone
	}
	assessmentState := item.Assessment.State
	if assessmentState == "" {
		assessmentState = progress.AssessmentNone
	}

	response := ItemProgressResponse{
		ActivityID:   item.Key.ActivityID,
		ItemID:       item.Key.ItemID,
		Kind:         string(item.Kind),
		Status:       string(item.Status),
		Attempt:      item.Attempt,
		Recording:    string(recording),
		RecordingURL: item.Recording.URL,
		AnswerText:   item.AnswerText,
		Assessment:   AssessmentResponse{State: string(assessmentState)},
		ScoringError: item.ScoringError,
		UpdatedAt:    item.UpdatedAt,
	}
	if result := item.Assessment.Result; result != nil {
		response.Assessment.PronunciationScore = &result.PronunciationScore
		response.Assessment.AccuracyScore = &result.AccuracyScore
		response.Assessment.FluencyScore = &result.FluencyScore
		response.Assessment.CompletenessScore = &result.CompletenessScore
		response.Assessment.Words = result.Words
	}
	return response
}

// NewItemProgressResponseSlice maps a progress snapshot.
func NewItemProgressResponseSlice(snapshot progress.Snapshot) []ItemProgressResponse {
	items := make([]ItemProgressResponse, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, NewItemProgressResponse(item))
	}
	return items
}

// NewSessionResponse maps the live session.
func NewSessionResponse(info capture.SessionInfo) *SessionResponse {
	return &SessionResponse{
		ID:             info.ID,
		ActivityID:     info.Item.ActivityID,
		ItemID:         info.Item.ItemID,
		Attempt:        info.Attempt,
		State:          string(info.State),
		ElapsedSeconds: info.ElapsedSeconds,
		StartedAt:      info.StartedAt,
	}
}

// NewNoticeResponse maps a notice.
func NewNoticeResponse(notice capture.Notice) NoticeResponse {
	return NoticeResponse{
		Kind:        string(notice.Kind),
		ActivityID:  notice.Item.ActivityID,
		ItemID:      notice.Item.ItemID,
		Message:     notice.Message,
		Attempt:     notice.Attempt,
		MaxAttempts: notice.MaxAttempts,
	}
}

// NewGateResponse maps a gate result.
func NewGateResponse(result submission.Result) GateResponse {
	items := make([]IncompleteItemResponse, 0, len(result.Incomplete))
	for _, incomplete := range result.Incomplete {
		missing := make([]string, 0, len(incomplete.Missing))
		for _, requirement := range incomplete.Missing {
			missing = append(missing, string(requirement))
		}
		items = append(items, IncompleteItemResponse{
			ActivityID:  incomplete.Key.ActivityID,
			ItemID:      incomplete.Key.ItemID,
			Description: incomplete.Description,
			Missing:     missing,
		})
	}
	return GateResponse{OK: result.OK, IncompleteItems: items}
}

// NewSubmissionResponse maps a stored submission.
func NewSubmissionResponse(sub models.AssignmentSubmission) SubmissionResponse {
	return SubmissionResponse{
		AssignmentID: sub.AssignmentID,
		StudentID:    sub.StudentID,
		State:        string(sub.State),
		Overridden:   sub.Overridden,
		SubmittedAt:  sub.SubmittedAt,
	}
}

// NewWorkspaceResponse assembles the workspace view.
func NewWorkspaceResponse(id string, assignmentID uint, profile capture.PlatformProfile, snapshot progress.Snapshot, session *capture.SessionInfo, gate submission.Result, notices []capture.Notice) WorkspaceResponse {
	response := WorkspaceResponse{
		ID:           id,
		AssignmentID: assignmentID,
		Profile:      NewProfileResponse(profile),
		Items:        NewItemProgressResponseSlice(snapshot),
		Gate:         NewGateResponse(gate),
		Notices:      make([]NoticeResponse, 0, len(notices)),
	}
	if session != nil {
		response.Session = NewSessionResponse(*session)
	}
	for _, notice := range notices {
		response.Notices = append(response.Notices, NewNoticeResponse(notice))
	}
	return response
}
