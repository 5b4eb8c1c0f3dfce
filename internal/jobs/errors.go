package jobs

import "errors"

var (
	// ErrJobRunning is returned when a job is started while another runs.
	ErrJobRunning = errors.New("a job is already running")
	// ErrNoJob is returned when there is no job to act on.
	ErrNoJob = errors.New("no job")
	// ErrShutdownTimeout is returned when a running job did not stop in time.
	ErrShutdownTimeout = errors.New("job did not stop before shutdown timeout")
)
