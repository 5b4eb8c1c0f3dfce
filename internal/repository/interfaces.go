// Package repository persists finished jobs.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/moshr/internal/models"
)

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Status models.JobStatus
	Effect string
	// Since keeps records that finished at or after it when non-zero.
	Since  time.Time
	Offset int
	Limit  int
}

// JobHistoryRepository stores one record per finished job.
type JobHistoryRepository interface {
	// Create inserts a record.
	Create(ctx context.Context, rec *models.JobRecord) error
	// GetByID returns nil, nil when the record does not exist.
	GetByID(ctx context.Context, id models.ULID) (*models.JobRecord, error)
	// List returns records newest first with the total matching count.
	List(ctx context.Context, f HistoryFilter) ([]*models.JobRecord, int64, error)
	// FinishedBefore returns records that finished before t.
	FinishedBefore(ctx context.Context, t time.Time) ([]*models.JobRecord, error)
	// DeleteFinishedBefore removes records that finished before t.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}
