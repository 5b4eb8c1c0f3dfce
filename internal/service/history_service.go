// Package service holds moshr's application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/repository"
	"github.com/jmylchreest/moshr/internal/storage"
)

// ErrHistoryNotFound is returned when a history record does not exist.
var ErrHistoryNotFound = errors.New("job history record not found")

// HistoryService records finished jobs and serves them back.
type HistoryService struct {
	repo      repository.JobHistoryRepository
	logs      *storage.LogArchive
	retention time.Duration
	logger    *slog.Logger
}

// NewHistoryService creates a HistoryService. logs may be nil, in which
// case job logs are not archived.
func NewHistoryService(repo repository.JobHistoryRepository, logs *storage.LogArchive) *HistoryService {
	return &HistoryService{
		repo:      repo,
		logs:      logs,
		retention: 30 * 24 * time.Hour,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *HistoryService) WithLogger(logger *slog.Logger) *HistoryService {
	s.logger = logger
	return s
}

// WithRetention sets how long records are kept by Prune.
func (s *HistoryService) WithRetention(d time.Duration) *HistoryService {
	s.retention = d
	return s
}

// Record persists a finished job and archives its log.
func (s *HistoryService) Record(ctx context.Context, job models.Job, lines []string) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("job %s is not finished (status %s)", job.ID, job.Status)
	}

	rec := models.NewJobRecord(job)
	if s.logs != nil && len(lines) > 0 {
		path, err := s.logs.Write(job.ID.String(), lines)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to archive job log",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
		} else {
			rec.LogArchive = path
		}
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("recording job %s: %w", job.ID, err)
	}
	s.logger.DebugContext(ctx, "job recorded",
		slog.String("job_id", job.ID.String()),
		slog.String("status", string(job.Status)))
	return nil
}

// List returns history records newest first.
func (s *HistoryService) List(ctx context.Context, f repository.HistoryFilter) ([]*models.JobRecord, int64, error) {
	return s.repo.List(ctx, f)
}

// Get returns a single record.
func (s *HistoryService) Get(ctx context.Context, id models.ULID) (*models.JobRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrHistoryNotFound
	}
	return rec, nil
}

// Log returns the archived log lines of a job.
func (s *HistoryService) Log(ctx context.Context, id models.ULID) ([]string, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.LogArchive == "" || s.logs == nil {
		return nil, nil
	}
	return s.logs.Read(id.String())
}

// Prune deletes records, and their logs, older than the retention period.
func (s *HistoryService) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.retention)

	if s.logs != nil {
		old, err := s.repo.FinishedBefore(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		for _, rec := range old {
			if rec.LogArchive == "" {
				continue
			}
			if err := s.logs.Remove(rec.ID.String()); err != nil {
				s.logger.WarnContext(ctx, "failed to remove job log",
					slog.String("job_id", rec.ID.String()),
					slog.String("error", err.Error()))
			}
		}
	}

	n, err := s.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "pruned job history",
			slog.Int64("records", n),
			slog.Time("cutoff", cutoff))
	}
	return n, nil
}
