package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/internal/models"
)

func newTestCoordinator() *Coordinator {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewCoordinator(DefaultOptions(), logger)
}

func waitJob(t *testing.T, c *Coordinator) models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := c.Wait(ctx)
	require.NoError(t, err)
	return job
}

type memRecorder struct {
	mu   sync.Mutex
	jobs []models.Job
	logs [][]string
	err  error
}

func (m *memRecorder) Record(_ context.Context, job models.Job, log []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	m.logs = append(m.logs, log)
	return m.err
}

func TestCoordinator_Success(t *testing.T) {
	c := newTestCoordinator()
	rec := &memRecorder{}
	c.WithRecorder(rec)

	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")
	temp := filepath.Join(dir, "out.moshr-normalize.mp4")

	job, err := c.Start(context.Background(), Spec{
		Kind:       models.JobKindEngine,
		Effect:     "datamosh",
		OutputPath: output,
		Body: func(_ context.Context, run *Run) error {
			if err := os.WriteFile(temp, []byte("tmp"), 0o644); err != nil {
				return err
			}
			run.RegisterArtifact(temp)
			run.Log("encoding")
			run.Progress(models.ProgressSnapshot{Percent: 40, Stage: "normalize"})
			return os.WriteFile(output, []byte("video"), 0o644)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.False(t, job.ID.IsZero())

	final := waitJob(t, c)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
	assert.Equal(t, float64(100), final.Progress.Percent)
	assert.Equal(t, "normalize", final.Progress.Stage)
	assert.Empty(t, final.Error)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, []string{"encoding"}, final.LogTail)

	assert.FileExists(t, output)
	assert.NoFileExists(t, temp)

	require.Len(t, rec.jobs, 1)
	assert.Equal(t, job.ID, rec.jobs[0].ID)
	assert.Equal(t, []string{"encoding"}, rec.logs[0])
}

func TestCoordinator_ErrorIncludesLogTail(t *testing.T) {
	c := newTestCoordinator()
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")

	_, err := c.Start(context.Background(), Spec{
		OutputPath: output,
		Body: func(_ context.Context, run *Run) error {
			if err := os.WriteFile(output, []byte("partial"), 0o644); err != nil {
				return err
			}
			for i := range 100 {
				run.Log(fmt.Sprintf("line %d", i))
			}
			return errors.New("ffmpeg exited with code 1")
		},
	})
	require.NoError(t, err)

	final := waitJob(t, c)
	assert.Equal(t, models.JobStatusError, final.Status)
	assert.Contains(t, final.Error, "ffmpeg exited with code 1\n\nline 40\n")
	assert.NotContains(t, final.Error, "line 39\n")
	assert.Contains(t, final.Error, "line 99")
	assert.NoFileExists(t, output, "partial output is removed on failure")
}

func TestCoordinator_RejectsConcurrentStart(t *testing.T) {
	c := newTestCoordinator()
	release := make(chan struct{})

	first, err := c.Start(context.Background(), Spec{
		Body: func(ctx context.Context, _ *Run) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	_, err = c.Start(context.Background(), Spec{Body: func(context.Context, *Run) error { return nil }})
	assert.ErrorIs(t, err, ErrJobRunning)

	current, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)
	assert.True(t, c.Running())

	close(release)
	waitJob(t, c)
	assert.False(t, c.Running())

	// A finished job can be replaced without acknowledging it first.
	second, err := c.Start(context.Background(), Spec{Body: func(context.Context, *Run) error { return nil }})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	waitJob(t, c)
}

func TestCoordinator_CancelWinsOverError(t *testing.T) {
	c := newTestCoordinator()
	killed := make(chan struct{})

	_, err := c.Start(context.Background(), Spec{
		Body: func(ctx context.Context, run *Run) error {
			run.SetCanceler(func() { close(killed) })
			<-killed
			// A killed process usually surfaces as a non-zero exit.
			return errors.New("exit status 255")
		},
	})
	require.NoError(t, err)

	assert.True(t, c.Cancel())
	assert.False(t, c.Cancel(), "second cancel is a no-op")

	final := waitJob(t, c)
	assert.Equal(t, models.JobStatusCanceled, final.Status)
	assert.Empty(t, final.Error)
}

func TestCoordinator_CancelCancelsContext(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.Start(context.Background(), Spec{
		Body: func(ctx context.Context, run *Run) error {
			<-ctx.Done()
			assert.True(t, run.Canceled())
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	require.True(t, c.Cancel())
	assert.Equal(t, models.JobStatusCanceled, waitJob(t, c).Status)
}

func TestCoordinator_SetCancelerAfterCancelRunsImmediately(t *testing.T) {
	c := newTestCoordinator()
	gate := make(chan struct{})
	called := make(chan struct{})

	_, err := c.Start(context.Background(), Spec{
		Body: func(ctx context.Context, run *Run) error {
			<-gate
			run.SetCanceler(func() { close(called) })
			<-called
			return nil
		},
	})
	require.NoError(t, err)
	require.True(t, c.Cancel())
	close(gate)

	assert.Equal(t, models.JobStatusCanceled, waitJob(t, c).Status)
}

func TestCoordinator_CancelAfterSuccessIsNoop(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.Start(context.Background(), Spec{Body: func(context.Context, *Run) error { return nil }})
	require.NoError(t, err)
	waitJob(t, c)

	assert.False(t, c.Cancel())
	current, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, models.JobStatusSuccess, current.Status)
}

func TestCoordinator_StartContextDoesNotCancelJob(t *testing.T) {
	c := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	proceed := make(chan struct{})

	_, err := c.Start(ctx, Spec{
		Body: func(jobCtx context.Context, _ *Run) error {
			<-proceed
			return jobCtx.Err()
		},
	})
	require.NoError(t, err)
	cancel()
	close(proceed)

	assert.Equal(t, models.JobStatusSuccess, waitJob(t, c).Status)
}

func TestCoordinator_PanicBecomesError(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.Start(context.Background(), Spec{
		Body: func(context.Context, *Run) error { panic("boom") },
	})
	require.NoError(t, err)

	final := waitJob(t, c)
	assert.Equal(t, models.JobStatusError, final.Status)
	assert.Contains(t, final.Error, "boom")
}

func TestCoordinator_ProgressIsStickyAndMonotonic(t *testing.T) {
	c := newTestCoordinator()
	check := make(chan models.Job, 1)

	_, err := c.Start(context.Background(), Spec{
		Body: func(_ context.Context, run *Run) error {
			run.Progress(models.ProgressSnapshot{Percent: 50, FPS: models.Ptr(30.0), Stage: "mosh"})
			run.Progress(models.ProgressSnapshot{Percent: 20})
			job, _ := c.Current()
			check <- job
			return nil
		},
	})
	require.NoError(t, err)

	job := <-check
	assert.Equal(t, float64(50), job.Progress.Percent)
	require.NotNil(t, job.Progress.FPS)
	assert.Equal(t, 30.0, *job.Progress.FPS)
	assert.Equal(t, "mosh", job.Progress.Stage)
	assert.NotNil(t, job.Progress.ElapsedSeconds)
	waitJob(t, c)
}

func TestCoordinator_Acknowledge(t *testing.T) {
	c := newTestCoordinator()
	assert.ErrorIs(t, c.Acknowledge(), ErrNoJob)

	release := make(chan struct{})
	_, err := c.Start(context.Background(), Spec{
		Body: func(context.Context, *Run) error { <-release; return nil },
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Acknowledge(), ErrJobRunning)

	close(release)
	waitJob(t, c)
	require.NoError(t, c.Acknowledge())

	job, ok := c.Current()
	assert.False(t, ok)
	assert.Equal(t, models.JobStatusIdle, job.Status)
}

func TestCoordinator_Shutdown(t *testing.T) {
	t.Run("cancels and waits for cleanup", func(t *testing.T) {
		c := newTestCoordinator()
		_, err := c.Start(context.Background(), Spec{
			Body: func(ctx context.Context, _ *Run) error {
				<-ctx.Done()
				return ctx.Err()
			},
		})
		require.NoError(t, err)

		require.NoError(t, c.Shutdown(context.Background(), 2*time.Second))
		job, _ := c.Current()
		assert.Equal(t, models.JobStatusCanceled, job.Status)
	})

	t.Run("gives up after timeout", func(t *testing.T) {
		c := newTestCoordinator()
		release := make(chan struct{})
		defer close(release)
		_, err := c.Start(context.Background(), Spec{
			Body: func(context.Context, *Run) error { <-release; return nil },
		})
		require.NoError(t, err)

		err = c.Shutdown(context.Background(), 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrShutdownTimeout)
	})

	t.Run("idle is a no-op", func(t *testing.T) {
		assert.NoError(t, newTestCoordinator().Shutdown(context.Background(), time.Millisecond))
	})
}

func TestCoordinator_Subscribe(t *testing.T) {
	c := newTestCoordinator()
	sub := c.Subscribe()
	defer c.Unsubscribe(sub.ID)

	_, err := c.Start(context.Background(), Spec{
		Body: func(_ context.Context, run *Run) error {
			run.Log("hello")
			run.Progress(models.ProgressSnapshot{Percent: 10})
			return nil
		},
	})
	require.NoError(t, err)
	waitJob(t, c)

	var types []EventType
	timeout := time.After(time.Second)
	for len(types) < 4 {
		select {
		case ev := <-sub.Events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("expected 4 events, got %v", types)
		}
	}
	assert.Equal(t, []EventType{EventStatus, EventLog, EventProgress, EventStatus}, types)
}

func TestCoordinator_UnsubscribeClosesChannel(t *testing.T) {
	c := newTestCoordinator()
	sub := c.Subscribe()
	c.Unsubscribe(sub.ID)
	c.Unsubscribe(sub.ID)

	_, open := <-sub.Events
	assert.False(t, open)
}

func TestCoordinator_RecorderFailureDoesNotChangeOutcome(t *testing.T) {
	c := newTestCoordinator()
	c.WithRecorder(&memRecorder{err: errors.New("db down")})

	_, err := c.Start(context.Background(), Spec{Body: func(context.Context, *Run) error { return nil }})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, waitJob(t, c).Status)
}
