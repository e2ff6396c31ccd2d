package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
)

// ProgressRepository persists per-item practice progress.
type ProgressRepository interface {
	ListForStudent(ctx context.Context, assignmentID, studentID uint) ([]models.ItemProgressRecord, error)
	Upsert(ctx context.Context, records []models.ItemProgressRecord) error
}

type progressRepository struct {
	db *gorm.DB
}

func NewProgressRepository(db *gorm.DB) ProgressRepository {
	return &progressRepository{db: db}
}

func (r *progressRepository) ListForStudent(ctx context.Context, assignmentID, studentID uint) ([]models.ItemProgressRecord, error) {
	var records []models.ItemProgressRecord
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Order("activity_id ASC, item_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *progressRepository) Upsert(ctx context.Context, records []models.ItemProgressRecord) error {
	return upsertProgress(r.db.WithContext(ctx), records)
}

func upsertProgress(db *gorm.DB, records []models.ItemProgressRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "assignment_id"}, {Name: "student_id"}, {Name: "activity_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "attempt", "recording_url", "progress_ref", "answer_text", "assessment", "updated_at",
		}),
	}).Create(&records).Error
}
