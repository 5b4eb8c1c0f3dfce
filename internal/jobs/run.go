package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/moshr/internal/models"
)

type jobState struct {
	mu        sync.Mutex
	job       models.Job
	log       *LogRing
	artifacts []string
	canceler  func()
	finishing bool
	canceled  atomic.Bool
	ctxCancel context.CancelFunc
	done      chan struct{}
}

func newJobState(job models.Job, logLines int, cancel context.CancelFunc) *jobState {
	return &jobState{
		job:       job,
		log:       NewLogRing(logLines),
		ctxCancel: cancel,
		done:      make(chan struct{}),
	}
}

func (st *jobState) isDone() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

func (st *jobState) snapshot(withLog bool) models.Job {
	st.mu.Lock()
	job := st.job
	st.mu.Unlock()
	if withLog {
		job.LogTail = st.log.Lines()
	}
	return job
}

// requestCancel sets the cancelled flag before invoking any canceler. It is
// a no-op once the body has returned.
func (st *jobState) requestCancel() bool {
	st.mu.Lock()
	if st.finishing || st.canceled.Load() {
		st.mu.Unlock()
		return false
	}
	st.canceled.Store(true)
	fn := st.canceler
	st.mu.Unlock()

	st.ctxCancel()
	if fn != nil {
		fn()
	}
	return true
}

// Run is the handle a job body uses to report back to the coordinator.
type Run struct {
	c      *Coordinator
	st     *jobState
	ctx    context.Context
	logger *slog.Logger
}

// ID returns the job id.
func (r *Run) ID() models.ULID { return r.st.job.ID }

// Context is cancelled when the job is cancelled.
func (r *Run) Context() context.Context { return r.ctx }

// Logger is scoped to the job.
func (r *Run) Logger() *slog.Logger { return r.logger }

// Canceled reports whether cancellation was requested.
func (r *Run) Canceled() bool { return r.st.canceled.Load() }

// Progress merges update into the job's progress. Fields missing from
// update keep their last value and percent never goes backwards. Elapsed
// is always measured from job start. Without an ETA in update one is
// extrapolated from the overall percent. Updates after the job has left
// the running state are ignored.
func (r *Run) Progress(update models.ProgressSnapshot) {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.job.Status != models.JobStatusRunning || st.finishing {
		return
	}
	elapsed := time.Since(st.job.StartedAt).Seconds()
	update.ElapsedSeconds = &elapsed
	if update.ETASeconds == nil {
		if pct := max(st.job.Progress.Percent, models.ClampPercent(update.Percent)); pct > 0 && pct < 100 {
			update.ETASeconds = models.Ptr(elapsed * (100 - pct) / pct)
		}
	}
	st.job.Progress = st.job.Progress.Merge(update)
	r.c.broadcast(Event{Type: EventProgress, Job: st.job})
}

// Log appends a line to the job log.
func (r *Run) Log(line string) {
	r.st.log.Add(line)
	r.c.broadcast(Event{Type: EventLog, Job: r.st.snapshot(false), Line: line})
}

// LogWriter returns a writer that feeds the job log line by line.
func (r *Run) LogWriter() *LineSplitter {
	return NewLineSplitter(r.Log)
}

// Tail returns the last n log lines.
func (r *Run) Tail(n int) []string { return r.st.log.Tail(n) }

// RegisterArtifact records temporary files removed when the job finishes,
// whatever the outcome.
func (r *Run) RegisterArtifact(paths ...string) {
	r.st.mu.Lock()
	r.st.artifacts = append(r.st.artifacts, paths...)
	r.st.mu.Unlock()
}

// SetCanceler installs the function that stops the job's current external
// work. If cancellation was already requested fn runs immediately.
func (r *Run) SetCanceler(fn func()) {
	r.st.mu.Lock()
	r.st.canceler = fn
	canceled := r.st.canceled.Load()
	r.st.mu.Unlock()
	if canceled && fn != nil {
		fn()
	}
}
