package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
)

// UploadRepository persists metadata about accepted recordings.
type UploadRepository interface {
	Create(ctx context.Context, record *models.RecordingUpload) error
	ListForItem(ctx context.Context, assignmentID, studentID, itemID uint) ([]models.RecordingUpload, error)
}

type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository constructs a repository for upload records.
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

func (r *uploadRepository) Create(ctx context.Context, record *models.RecordingUpload) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *uploadRepository) ListForItem(ctx context.Context, assignmentID, studentID, itemID uint) ([]models.RecordingUpload, error) {
	var records []models.RecordingUpload
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND student_id = ? AND item_id = ?", assignmentID, studentID, itemID).
		Order("attempt ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
