package workerd

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Stats is a resource sample of the worker and its host.
type Stats struct {
	CPUPercent    float64
	MemoryPercent float64
	Load1         float64
	RSSBytes      uint64
}

// StatsCollector samples host and process statistics.
type StatsCollector struct {
	pid       int32
	startTime time.Time
}

// NewStatsCollector creates a collector for the current process.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{pid: int32(os.Getpid()), startTime: time.Now()}
}

// Uptime returns how long the collector has existed.
func (c *StatsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Collect gathers current statistics. Individual failures leave fields zero.
func (c *StatsCollector) Collect(ctx context.Context) Stats {
	var s Stats
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}
	if proc, err := process.NewProcessWithContext(ctx, c.pid); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.RSSBytes = mi.RSS
		}
	}
	return s
}
