package jobs

import (
	"errors"
	"io/fs"
	"os"
)

// CleanupReport describes the outcome of RemoveArtifacts.
type CleanupReport struct {
	Removed []string
	Failed  map[string]error
}

// RemoveArtifacts deletes each path. Missing files are not failures.
func RemoveArtifacts(paths ...string) CleanupReport {
	report := CleanupReport{Failed: map[string]error{}}
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		err := os.Remove(p)
		switch {
		case err == nil:
			report.Removed = append(report.Removed, p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			report.Failed[p] = err
		}
	}
	return report
}
