package ffmpeg

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a resource sample of a running process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads,omitempty"`
}

// ErrNotRunning is returned when sampling a process that has no pid.
var ErrNotRunning = errors.New("process not running")

// Stats samples CPU and memory usage of the process.
func (p *Process) Stats(ctx context.Context) (*ProcessStats, error) {
	pid := p.Pid()
	if pid == 0 {
		return nil, ErrNotRunning
	}
	select {
	case <-p.done:
		return nil, ErrNotRunning
	default:
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}
	stats := &ProcessStats{PID: pid}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = n
	}
	return stats, nil
}
