package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempMarker appears in every intermediate file name the datamosh pipeline
// writes next to its output.
const TempMarker = ".moshr-"

// Sweeper removes leftovers that a crashed process could not clean up.
type Sweeper struct {
	previews  *Sandbox
	retention time.Duration
	logger    *slog.Logger
}

// NewSweeper sweeps preview frames older than retention.
func NewSweeper(previews *Sandbox, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{previews: previews, retention: retention, logger: logger}
}

// SweepPreviews deletes stale preview frames.
func (s *Sweeper) SweepPreviews(now time.Time) (int, error) {
	if s.previews == nil || s.retention <= 0 {
		return 0, nil
	}
	n, err := s.previews.RemoveOlderThan(now.Add(-s.retention))
	if n > 0 {
		s.logger.Info("swept stale previews", slog.Int("removed", n))
	}
	return n, err
}

// SweepTempArtifacts deletes pipeline intermediates found beside outputs.
// Files younger than minAge are left alone so a running job is never
// disturbed.
func (s *Sweeper) SweepTempArtifacts(outputs []string, now time.Time, minAge time.Duration) int {
	dirs := make(map[string]struct{})
	for _, out := range outputs {
		if out != "" {
			dirs[filepath.Dir(out)] = struct{}{}
		}
	}

	removed := 0
	for dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.Contains(e.Name(), TempMarker) {
				continue
			}
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) < minAge {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove orphaned artifact", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept orphaned pipeline artifacts", slog.Int("removed", removed))
	}
	return removed
}
