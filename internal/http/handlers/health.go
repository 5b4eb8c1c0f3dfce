package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// WorkerProbe reports the native worker's health. ok is false when no
// worker is running.
type WorkerProbe func(ctx context.Context) (resp *rpc.HealthResponse, ok bool, err error)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version     string
	startTime   time.Time
	coordinator *jobs.Coordinator
	db          *gorm.DB
	worker      WorkerProbe
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, coordinator *jobs.Coordinator) *HealthHandler {
	return &HealthHandler{
		version:     version,
		startTime:   time.Now(),
		coordinator: coordinator,
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithWorker sets the native worker probe.
func (h *HealthHandler) WithWorker(probe WorkerProbe) *HealthHandler {
	h.worker = probe
	return h
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status        string           `json:"status"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	CPUInfo       CPUInfo          `json:"cpu_info"`
	Memory        MemoryInfo       `json:"memory"`
	Components    HealthComponents `json:"components"`
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains memory usage information in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	// ChildProcessesMB covers ffmpeg and the native worker.
	ChildProcessesMB  float64 `json:"child_processes_mb"`
	ChildProcessCount int     `json:"child_process_count"`
}

// HealthComponents reports each dependency.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
	Job      JobHealth      `json:"job"`
	Worker   WorkerHealth   `json:"worker"`
}

// DatabaseHealth reports the history database.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
}

// JobHealth reports the coordinator.
type JobHealth struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Effect string `json:"effect,omitempty"`
}

// WorkerHealth reports the native worker.
type WorkerHealth struct {
	Status         string  `json:"status"`
	Version        string  `json:"version,omitempty"`
	PID            int     `json:"pid,omitempty"`
	CPUPercent     float64 `json:"cpu_percent,omitempty"`
	ActiveSessions int     `json:"active_sessions,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *EmptyInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	components := HealthComponents{
		Database: h.getDatabaseHealth(ctx),
		Job:      h.getJobHealth(),
		Worker:   h.getWorkerHealth(ctx),
	}
	status := "healthy"
	if components.Database.Status == "error" || components.Worker.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       getCPUInfo(),
			Memory:        getMemoryInfo(),
			Components:    components,
		},
	}, nil
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vm.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vm.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfo(); err == nil && m != nil {
		info.ProcessMB = float64(m.RSS) / 1024 / 1024
	}
	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if m, err := child.MemoryInfo(); err == nil && m != nil {
				info.ChildProcessesMB += float64(m.RSS) / 1024 / 1024
			}
		}
	}
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}
	if h.db == nil {
		health.Status = "disabled"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}
	stats := sqlDB.Stats()
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}

func (h *HealthHandler) getJobHealth() JobHealth {
	if h.coordinator == nil {
		return JobHealth{Status: "unknown"}
	}
	job, ok := h.coordinator.Current()
	if !ok {
		return JobHealth{Status: string(job.Status)}
	}
	return JobHealth{Status: string(job.Status), JobID: job.ID.String(), Effect: job.Effect}
}

func (h *HealthHandler) getWorkerHealth(ctx context.Context) WorkerHealth {
	if h.worker == nil {
		return WorkerHealth{Status: "disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, ok, err := h.worker(ctx)
	switch {
	case !ok:
		return WorkerHealth{Status: "stopped"}
	case err != nil:
		return WorkerHealth{Status: "error", Error: err.Error()}
	}
	return WorkerHealth{
		Status:         "ok",
		Version:        resp.Version,
		PID:            resp.PID,
		CPUPercent:     resp.CPUPercent,
		ActiveSessions: resp.ActiveSessions,
	}
}
