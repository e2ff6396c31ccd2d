package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
)

// SubmissionRepository defines data operations for assignment submissions.
type SubmissionRepository interface {
	// Get returns a not_started submission when none exists yet.
	Get(ctx context.Context, assignmentID, studentID uint) (models.AssignmentSubmission, error)
	// Save writes the submission and its item snapshot in one transaction.
	Save(ctx context.Context, submission *models.AssignmentSubmission, records []models.ItemProgressRecord) error
	// SetState moves an existing submission, used by grading and returns.
	SetState(ctx context.Context, assignmentID, studentID uint, state models.SubmissionState) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Get(ctx context.Context, assignmentID, studentID uint) (models.AssignmentSubmission, error) {
	var submission models.AssignmentSubmission
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("student_id = ?", studentID).
		First(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AssignmentSubmission{
			AssignmentID: assignmentID,
			StudentID:    studentID,
			State:        models.SubmissionNotStarted,
		}, nil
	}
	if err != nil {
		return models.AssignmentSubmission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) Save(ctx context.Context, submission *models.AssignmentSubmission, records []models.ItemProgressRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if submission.ID != 0 {
			err = tx.Omit(clause.Associations).Save(submission).Error
		} else {
			err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "assignment_id"}, {Name: "student_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"state", "overridden", "submitted_at", "updated_at"}),
			}).Create(submission).Error
		}
		if err != nil {
			return err
		}
		return upsertProgress(tx, records)
	})
}

func (r *submissionRepository) SetState(ctx context.Context, assignmentID, studentID uint, state models.SubmissionState) error {
	result := r.db.WithContext(ctx).Model(&models.AssignmentSubmission{}).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Update("state", state)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
