package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
)

// ReviewStateRequest moves a submission after review.
type ReviewStateRequest struct {
	State string `json:"state" validate:"required,oneof=graded returned"`
}

// ReviewUploadResponse is one accepted recording of an item.
type ReviewUploadResponse struct {
	Attempt         int       `json:"attempt"`
	URL             string    `json:"url"`
	MimeType        string    `json:"mime_type"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	DurationMethod  string    `json:"duration_method"`
	Platform        string    `json:"platform"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReviewItemResponse is an item as the teacher sees it.
type ReviewItemResponse struct {
	ActivityID   uint                   `json:"activity_id"`
	ItemID       uint                   `json:"item_id"`
	Status       string                 `json:"status"`
	Attempt      int                    `json:"attempt"`
	RecordingURL string                 `json:"recording_url,omitempty"`
	AnswerText   string                 `json:"answer_text,omitempty"`
	Assessment   json.RawMessage        `json:"assessment,omitempty"`
	Uploads      []ReviewUploadResponse `json:"uploads"`
}

// ReviewResponse is a student's saved work on one assignment.
type ReviewResponse struct {
	Submission SubmissionResponse   `json:"submission"`
	Items      []ReviewItemResponse `json:"items"`
}

// NewReviewItemResponse maps a stored progress row and its upload history.
func NewReviewItemResponse(record models.ItemProgressRecord, uploads []models.RecordingUpload) ReviewItemResponse {
	item := ReviewItemResponse{
		ActivityID:   record.ActivityID,
		ItemID:       record.ItemID,
		Status:       record.Status,
		Attempt:      record.Attempt,
		RecordingURL: record.RecordingURL,
		AnswerText:   record.AnswerText,
		Uploads:      make([]ReviewUploadResponse, 0, len(uploads)),
	}
	if len(record.Assessment) > 0 {
		item.Assessment = json.RawMessage(record.Assessment)
	}
	for _, upload := range uploads {
		item.Uploads = append(item.Uploads, ReviewUploadResponse{
			Attempt:         upload.Attempt,
			URL:             upload.URL,
			MimeType:        upload.MimeType,
			SizeBytes:       upload.SizeBytes,
			DurationSeconds: upload.DurationSeconds,
			DurationMethod:  upload.DurationMethod,
			Platform:        upload.Platform,
			CreatedAt:       upload.CreatedAt,
		})
	}
	return item
}
