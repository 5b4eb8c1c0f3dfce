// Package scheduler runs moshr's periodic maintenance tasks on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error

// Entry describes a registered task.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitzero"`
}

// parser accepts six-field expressions with a leading seconds field, plus
// descriptors such as @every 1h.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron reports whether expr is a valid schedule.
func ValidateCron(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

type task struct {
	name     string
	schedule string
	fn       TaskFunc
	id       cron.EntryID
	running  sync.Mutex
}

// Scheduler owns a cron instance and a set of named tasks.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	tasks  map[string]*task
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		tasks:  make(map[string]*task),
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Add registers a task. Names must be unique.
func (s *Scheduler) Add(name, schedule string, fn TaskFunc) error {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("task %s: invalid cron expression: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}
	t := &task{name: name, schedule: schedule, fn: fn}
	t.id = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(t) }))
	s.tasks[name] = t
	return nil
}

// Start begins firing tasks. Task contexts derive from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop halts the cron loop, cancels running tasks and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	<-s.cron.Stop().Done()
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a task synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", name)
	}
	return s.execute(ctx, t)
}

// Entries lists tasks ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.tasks))
	for _, t := range s.tasks {
		e := s.cron.Entry(t.id)
		out = append(out, Entry{Name: t.name, Schedule: t.schedule, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(t *task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	_ = s.execute(ctx, t)
}

// execute skips a tick when the previous run of the same task is still going.
func (s *Scheduler) execute(ctx context.Context, t *task) error {
	if !t.running.TryLock() {
		s.logger.Debug("scheduled task still running, skipping", slog.String("task", t.name))
		return nil
	}
	defer t.running.Unlock()

	start := time.Now()
	err := t.fn(ctx)
	if err != nil {
		s.logger.Error("scheduled task failed",
			slog.String("task", t.name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return err
	}
	s.logger.Debug("scheduled task completed",
		slog.String("task", t.name),
		slog.Duration("duration", time.Since(start)))
	return nil
}
