// Package jobs owns the lifecycle of the single active render job.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/observability"
)

// Options configures a Coordinator.
type Options struct {
	// LogLines is the size of each job's log ring.
	LogLines int
	// ErrorTailLines is how many trailing log lines are appended to errors.
	ErrorTailLines int
}

// DefaultOptions returns the stock ring and tail sizes.
func DefaultOptions() Options {
	return Options{LogLines: 400, ErrorTailLines: 60}
}

// Recorder persists finished jobs. Its failures are logged and never
// change a job's outcome.
type Recorder interface {
	Record(ctx context.Context, job models.Job, log []string) error
}

// Body performs a job's work. A nil return is success.
type Body func(ctx context.Context, run *Run) error

// Spec describes a job to start.
type Spec struct {
	Kind       models.JobKind
	Effect     string
	InputPath  string
	OutputPath string
	Body       Body
}

// EventType classifies coordinator events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventStatus   EventType = "status"
)

// Event is broadcast to subscribers. Job never carries the log tail.
type Event struct {
	Type EventType  `json:"type"`
	Job  models.Job `json:"job"`
	Line string     `json:"line,omitempty"`
}

// Subscriber receives coordinator events until unsubscribed.
type Subscriber struct {
	ID     string
	Events chan Event
}

// Coordinator runs at most one job at a time.
type Coordinator struct {
	opts     Options
	logger   *slog.Logger
	recorder Recorder

	mu      sync.Mutex
	current *jobState

	subMu       sync.Mutex
	subscribers map[string]*Subscriber
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(opts Options, logger *slog.Logger) *Coordinator {
	if opts.LogLines <= 0 {
		opts.LogLines = DefaultOptions().LogLines
	}
	if opts.ErrorTailLines < 0 {
		opts.ErrorTailLines = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		opts:        opts,
		logger:      observability.WithComponent(logger, "jobs"),
		subscribers: make(map[string]*Subscriber),
	}
}

// WithRecorder sets the history recorder.
func (c *Coordinator) WithRecorder(r Recorder) *Coordinator {
	c.recorder = r
	return c
}

// Start begins a job. If a job is already running nothing happens and
// ErrJobRunning is returned.
func (c *Coordinator) Start(ctx context.Context, spec Spec) (models.Job, error) {
	if spec.Body == nil {
		return models.Job{}, fmt.Errorf("job spec has no body")
	}

	c.mu.Lock()
	if c.current != nil && !c.current.isDone() {
		c.mu.Unlock()
		return models.Job{}, ErrJobRunning
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := newJobState(models.Job{
		ID:         models.NewULID(),
		Kind:       spec.Kind,
		Effect:     spec.Effect,
		Status:     models.JobStatusRunning,
		InputPath:  spec.InputPath,
		OutputPath: spec.OutputPath,
		StartedAt:  time.Now(),
	}, c.opts.LogLines, cancel)
	c.current = st
	c.mu.Unlock()

	snapshot := st.snapshot(false)
	c.logger.Info("job started",
		slog.String("job_id", snapshot.ID.String()),
		slog.String("effect", spec.Effect),
		slog.String("kind", string(spec.Kind)),
		slog.String("output", spec.OutputPath))
	c.broadcast(Event{Type: EventStatus, Job: snapshot})

	run := &Run{
		c:      c,
		st:     st,
		ctx:    jobCtx,
		logger: observability.WithJobID(c.logger, snapshot.ID.String()),
	}
	go c.execute(run, spec.Body)

	return snapshot, nil
}

func (c *Coordinator) execute(run *Run, body Body) {
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("job panicked: %v", rec)
			}
		}()
		err = body(run.ctx, run)
	}()
	c.finish(run, err)
}

func (c *Coordinator) finish(run *Run, bodyErr error) {
	st := run.st

	st.mu.Lock()
	st.finishing = true
	canceled := st.canceled.Load()
	artifacts := append([]string(nil), st.artifacts...)
	output := st.job.OutputPath
	st.mu.Unlock()

	var status models.JobStatus
	var message string
	switch {
	case canceled:
		status = models.JobStatusCanceled
	case bodyErr == nil:
		status = models.JobStatusSuccess
	default:
		status = models.JobStatusError
		message = errorWithTail(bodyErr, st.log.Tail(c.opts.ErrorTailLines))
	}

	// Never leave a half-written output behind.
	if status != models.JobStatusSuccess && output != "" {
		artifacts = append(artifacts, output)
	}
	report := RemoveArtifacts(artifacts...)
	for path, err := range report.Failed {
		run.logger.Warn("failed to remove job artifact", slog.String("path", path), slog.String("error", err.Error()))
	}

	now := time.Now()
	st.mu.Lock()
	st.job.Status = status
	st.job.Error = message
	st.job.FinishedAt = &now
	if status == models.JobStatusSuccess {
		st.job.Progress = st.job.Progress.Merge(models.ProgressSnapshot{Percent: 100})
	}
	st.mu.Unlock()

	snapshot := st.snapshot(false)
	attrs := []any{
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(snapshot.StartedAt)),
		slog.Int("artifacts_removed", len(report.Removed)),
	}
	if bodyErr != nil && status == models.JobStatusError {
		run.logger.Error("job failed", append(attrs, slog.String("error", bodyErr.Error()))...)
	} else {
		run.logger.Info("job finished", attrs...)
	}

	if c.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.recorder.Record(ctx, snapshot, st.log.Lines()); err != nil {
			run.logger.Warn("failed to record job history", slog.String("error", err.Error()))
		}
		cancel()
	}

	st.ctxCancel()
	c.broadcast(Event{Type: EventStatus, Job: snapshot})
	close(st.done)
}

func errorWithTail(err error, tail []string) string {
	if len(tail) == 0 {
		return err.Error()
	}
	return err.Error() + "\n\n" + strings.Join(tail, "\n")
}

// Current returns the active or most recent unacknowledged job. The bool
// is false when the coordinator is idle.
func (c *Coordinator) Current() (models.Job, bool) {
	st := c.active()
	if st == nil {
		return models.Job{Status: models.JobStatusIdle}, false
	}
	return st.snapshot(true), true
}

// Running reports whether a job is executing.
func (c *Coordinator) Running() bool {
	st := c.active()
	return st != nil && !st.isDone()
}

// Cancel requests cancellation of the running job. It returns false when
// there is nothing to cancel, including after the job already finished.
func (c *Coordinator) Cancel() bool {
	st := c.active()
	if st == nil {
		return false
	}
	if !st.requestCancel() {
		return false
	}
	c.logger.Info("job cancellation requested", slog.String("job_id", st.job.ID.String()))
	return true
}

// Acknowledge returns a finished job to idle.
func (c *Coordinator) Acknowledge() error {
	c.mu.Lock()
	st := c.current
	if st == nil {
		c.mu.Unlock()
		return ErrNoJob
	}
	if !st.isDone() {
		c.mu.Unlock()
		return ErrJobRunning
	}
	c.current = nil
	c.mu.Unlock()

	c.broadcast(Event{Type: EventStatus, Job: models.Job{Status: models.JobStatusIdle}})
	return nil
}

// Wait blocks until the current job finishes or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) (models.Job, error) {
	st := c.active()
	if st == nil {
		return models.Job{}, ErrNoJob
	}
	select {
	case <-st.done:
		return st.snapshot(true), nil
	case <-ctx.Done():
		return models.Job{}, ctx.Err()
	}
}

// Shutdown is the application close hook. A running job is cancelled and
// its cleanup awaited for at most timeout, after which shutdown proceeds.
func (c *Coordinator) Shutdown(ctx context.Context, timeout time.Duration) error {
	st := c.active()
	if st == nil || st.isDone() {
		return nil
	}

	c.logger.Warn("shutdown requested while a job is running; cancelling",
		slog.String("job_id", st.job.ID.String()), slog.Duration("timeout", timeout))
	st.requestCancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-st.done:
		return nil
	case <-timer.C:
		c.logger.Error("job did not stop before shutdown timeout", slog.String("job_id", st.job.ID.String()))
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber for job events.
func (c *Coordinator) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), Events: make(chan Event, 256)}
	c.subMu.Lock()
	c.subscribers[sub.ID] = sub
	c.subMu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are ignored.
func (c *Coordinator) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sub, ok := c.subscribers[id]; ok {
		close(sub.Events)
		delete(c.subscribers, id)
	}
}

func (c *Coordinator) broadcast(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subscribers {
		select {
		case sub.Events <- ev:
		default:
			c.logger.Debug("subscriber channel full, dropping event",
				slog.String("subscriber_id", sub.ID), slog.String("type", string(ev.Type)))
		}
	}
}

func (c *Coordinator) active() *jobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
