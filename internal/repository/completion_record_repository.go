package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"openlegalrag/internal/model"
)

type CompletionRecordRepository struct {
	db *gorm.DB
}

func NewCompletionRecordRepository(db *gorm.DB) *CompletionRecordRepository {
	return &CompletionRecordRepository{db: db}
}

// Create ignores a record whose request id is already stored, so redelivered
// queue messages are not duplicated.
func (r *CompletionRecordRepository) Create(record *model.CompletionRecord) error {
	if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error; err != nil {
		return fmt.Errorf("create completion record failed: %w", err)
	}
	return nil
}

func (r *CompletionRecordRepository) GetByRequestID(requestID string) (*model.CompletionRecord, error) {
	var record model.CompletionRecord
	if err := r.db.Where("request_id = ?", requestID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get completion record failed: %w", err)
	}
	return &record, nil
}

func (r *CompletionRecordRepository) ListRecentByModel(modelID string, limit int) ([]model.CompletionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.Order("created_at DESC").Limit(limit)
	if modelID != "" {
		q = q.Where("model = ?", modelID)
	}
	var records []model.CompletionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list completion records failed: %w", err)
	}
	return records, nil
}
