package models

import "time"

// JobKind distinguishes which backend drives a job.
type JobKind string

const (
	// JobKindEngine jobs are driven by the transcoding engine's progress stream.
	JobKindEngine JobKind = "engine"
	// JobKindNative jobs are driven by native worker events.
	JobKindNative JobKind = "native"
)

// JobStatus is the coordinator's state for the active job.
type JobStatus string

const (
	JobStatusIdle     JobStatus = "idle"
	JobStatusRunning  JobStatus = "running"
	JobStatusSuccess  JobStatus = "success"
	JobStatusError    JobStatus = "error"
	JobStatusCanceled JobStatus = "canceled"
)

// IsTerminal reports whether s ends a job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusError || s == JobStatusCanceled
}

// Job is a point-in-time view of the active (or last finished) job.
type Job struct {
	ID         ULID             `json:"id"`
	Kind       JobKind          `json:"kind"`
	Effect     string           `json:"effect"`
	Status     JobStatus        `json:"status"`
	Progress   ProgressSnapshot `json:"progress"`
	InputPath  string           `json:"input_path,omitempty"`
	OutputPath string           `json:"output_path,omitempty"`
	LogTail    []string         `json:"log_tail,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// JobRecord is the persisted history entry for a finished job.
type JobRecord struct {
	ID         ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Kind       JobKind   `gorm:"size:16;not null" json:"kind"`
	Effect     string    `gorm:"size:64;not null;index" json:"effect"`
	Status     JobStatus `gorm:"size:16;not null;index" json:"status"`
	InputPath  string    `gorm:"size:1024" json:"input_path"`
	OutputPath string    `gorm:"size:1024" json:"output_path"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Percent    float64   `json:"percent"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	// LogArchive is the path of the compressed job log, if one was written.
	LogArchive string `gorm:"size:1024" json:"log_archive,omitempty"`
}

// TableName pins the table name independent of the struct name.
func (JobRecord) TableName() string {
	return "job_history"
}

// NewJobRecord captures a terminal job for persistence.
func NewJobRecord(j Job) *JobRecord {
	finished := time.Now()
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	return &JobRecord{
		ID:         j.ID,
		Kind:       j.Kind,
		Effect:     j.Effect,
		Status:     j.Status,
		InputPath:  j.InputPath,
		OutputPath: j.OutputPath,
		Error:      j.Error,
		Percent:    j.Progress.Percent,
		StartedAt:  j.StartedAt,
		FinishedAt: finished,
		DurationMs: finished.Sub(j.StartedAt).Milliseconds(),
	}
}
