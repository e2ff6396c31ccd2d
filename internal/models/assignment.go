package models

import "time"

// Assignment is a speaking practice assignment made of ordered activities.
type Assignment struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	DueDate     time.Time  `gorm:"not null" json:"due_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Activities  []Activity `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"activities"`
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return reference.After(a.DueDate)
}

// ActivityType decides what kind of answer an activity's items expect.
type ActivityType string

const (
	ActivityReadAloud   ActivityType = "read_aloud"
	ActivityRepeatAfter ActivityType = "repeat_after"
	ActivityFillBlank   ActivityType = "fill_blank"
	ActivityShortAnswer ActivityType = "short_answer"
)

// IsAudio reports whether items of this type are answered by recording.
func (t ActivityType) IsAudio() bool {
	return t == ActivityReadAloud || t == ActivityRepeatAfter
}

// Activity groups items of one type within an assignment.
type Activity struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AssignmentID uint           `gorm:"not null;index" json:"assignment_id"`
	Title        string         `gorm:"size:255;not null" json:"title"`
	Type         ActivityType   `gorm:"size:32;not null" json:"type"`
	Position     int            `gorm:"not null;default:0" json:"position"`
	Items        []PracticeItem `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"items"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PracticeItem is one prompt inside an activity.
type PracticeItem struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ActivityID    uint      `gorm:"not null;index" json:"activity_id"`
	Position      int       `gorm:"not null;default:0" json:"position"`
	Prompt        string    `gorm:"type:text;not null" json:"prompt"`
	ReferenceText string    `gorm:"type:text" json:"reference_text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
