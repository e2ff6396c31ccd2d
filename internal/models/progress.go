package models

import (
	"time"

	"gorm.io/datatypes"
)

// ItemProgressRecord persists one item's progress between workspaces.
type ItemProgressRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AssignmentID uint           `gorm:"not null;uniqueIndex:idx_item_progress" json:"assignment_id"`
	StudentID    uint           `gorm:"not null;uniqueIndex:idx_item_progress" json:"student_id"`
	ActivityID   uint           `gorm:"not null;uniqueIndex:idx_item_progress" json:"activity_id"`
	ItemID       uint           `gorm:"not null;uniqueIndex:idx_item_progress" json:"item_id"`
	Status       string         `gorm:"size:32;not null" json:"status"`
	Attempt      int            `gorm:"not null;default:0" json:"attempt"`
	RecordingURL string         `gorm:"size:512" json:"recording_url"`
	ProgressRef  string         `gorm:"size:128" json:"progress_ref"`
	AnswerText   string         `gorm:"type:text" json:"answer_text"`
	Assessment   datatypes.JSON `json:"assessment"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RecordingUpload is an audit row for every recording the storage service accepted.
type RecordingUpload struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AssignmentID    uint      `gorm:"not null;index" json:"assignment_id"`
	StudentID       uint      `gorm:"not null;index" json:"student_id"`
	ActivityID      uint      `gorm:"not null" json:"activity_id"`
	ItemID          uint      `gorm:"not null" json:"item_id"`
	Attempt         int       `gorm:"not null" json:"attempt"`
	URL             string    `gorm:"size:512;not null" json:"url"`
	ProgressRef     string    `gorm:"size:128" json:"progress_ref"`
	MimeType        string    `gorm:"size:64" json:"mime_type"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	DurationMethod  string    `gorm:"size:32" json:"duration_method"`
	Platform        string    `gorm:"size:64" json:"platform"`
	CreatedAt       time.Time `json:"created_at"`
}
