package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/moshr/internal/models"
)

const defaultHistoryLimit = 50

type jobHistoryRepo struct {
	db *gorm.DB
}

// NewJobHistoryRepository creates a JobHistoryRepository backed by db.
func NewJobHistoryRepository(db *gorm.DB) JobHistoryRepository {
	return &jobHistoryRepo{db: db}
}

func (r *jobHistoryRepo) Create(ctx context.Context, rec *models.JobRecord) error {
	if rec.ID.IsZero() {
		rec.ID = models.NewULID()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating job record: %w", err)
	}
	return nil
}

func (r *jobHistoryRepo) GetByID(ctx context.Context, id models.ULID) (*models.JobRecord, error) {
	var rec models.JobRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting job record: %w", err)
	}
	return &rec, nil
}

func (r *jobHistoryRepo) List(ctx context.Context, f HistoryFilter) ([]*models.JobRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.JobRecord{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Effect != "" {
		query = query.Where("effect = ?", f.Effect)
	}
	if !f.Since.IsZero() {
		query = query.Where("finished_at >= ?", f.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting job records: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var recs []*models.JobRecord
	if err := query.Order("finished_at DESC").Offset(max(f.Offset, 0)).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing job records: %w", err)
	}
	return recs, total, nil
}

func (r *jobHistoryRepo) FinishedBefore(ctx context.Context, t time.Time) ([]*models.JobRecord, error) {
	var recs []*models.JobRecord
	if err := r.db.WithContext(ctx).Where("finished_at < ?", t).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("finding old job records: %w", err)
	}
	return recs, nil
}

func (r *jobHistoryRepo) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("finished_at < ?", t).Delete(&models.JobRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting old job records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
