// Package pipeline runs engine invocations as job stages: each stage owns
// a slice of the job's overall percent, streams its log into the job and
// is cancelled with it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
)

// TailLines is how much of the job log a StageError carries.
const TailLines = 60

// monitorInterval is how often a running stage's engine is sampled when
// debug logging is on.
var monitorInterval = 5 * time.Second

// Stage names a step and its slice of the overall percent.
type Stage struct {
	Name  string
	Start float64
	End   float64
}

// Whole spans the entire job.
func Whole(name string) Stage {
	return Stage{Name: name, Start: 0, End: 100}
}

// Remap projects a stage-local snapshot into the stage's slice.
func (s Stage) Remap(p models.ProgressSnapshot) models.ProgressSnapshot {
	out := p.Remap(s.Start, s.End)
	out.Stage = s.Name
	return out
}

// Half returns the first or second half of s, used for two-pass encodes.
func (s Stage) Half(second bool) Stage {
	mid := s.Start + (s.End-s.Start)/2
	if second {
		return Stage{Name: s.Name + "-pass2", Start: mid, End: s.End}
	}
	return Stage{Name: s.Name + "-pass1", Start: s.Start, End: mid}
}

// StageError reports a stage that failed. Tail holds the last log lines
// captured before the failure; they are not part of Error().
type StageError struct {
	Stage    string
	ExitCode int
	Signal   string
	Tail     []string
	Err      error
}

func (e *StageError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	case e.Signal != "":
		return fmt.Sprintf("%s stage killed by %s", e.Stage, e.Signal)
	default:
		return fmt.Sprintf("%s stage exited with code %d", e.Stage, e.ExitCode)
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Step is one engine invocation within a stage.
type Step struct {
	Stage   Stage
	Command *ffmpeg.Command
	// Duration is the media length progress is measured against.
	Duration float64
	// OnLine sees every stderr line; returning false keeps it out of the job log.
	OnLine func(line string) bool
}

// Run spawns the step's command and blocks until it exits. Progress from
// stdout is remapped into the stage slice, stderr lines go to the job log
// and the process is the job's canceler while it runs.
func Run(ctx context.Context, runner *ffmpeg.Runner, run *jobs.Run, st Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	run.Progress(models.ProgressSnapshot{Percent: st.Stage.Start, Stage: st.Stage.Name})
	run.Log(fmt.Sprintf("[%s] %s", st.Stage.Name, st.Command.String()))
	run.Logger().Debug("stage starting",
		slog.String("stage", st.Stage.Name),
		slog.Any("args", st.Command.Args))

	parser := ffmpeg.NewProgressParser(st.Duration)
	lines := jobs.NewLineSplitter(func(line string) {
		if st.OnLine != nil && !st.OnLine(line) {
			return
		}
		run.Log(line)
	})

	var spawnErr error
	proc := runner.Spawn(ctx, st.Command.Program, st.Command.Args, ffmpeg.Handlers{
		OnStdout: func(chunk []byte) {
			for _, snap := range parser.Feed(chunk) {
				run.Progress(st.Stage.Remap(snap))
			}
		},
		OnStderr: func(chunk []byte) {
			_, _ = lines.Write(chunk)
		},
		OnError: func(err error) {
			spawnErr = err
		},
	})
	run.SetCanceler(proc.Cancel)
	if lg := run.Logger(); lg.Enabled(ctx, slog.LevelDebug) {
		go monitor(ctx, proc, st.Stage.Name, lg)
	}
	ev := proc.Wait()
	run.SetCanceler(nil)
	lines.Flush()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case spawnErr != nil:
		return &StageError{Stage: st.Stage.Name, ExitCode: ev.ExitCode, Tail: run.Tail(TailLines), Err: spawnErr}
	case !ev.Success():
		return &StageError{Stage: st.Stage.Name, ExitCode: ev.ExitCode, Signal: ev.Signal, Tail: run.Tail(TailLines)}
	}

	run.Progress(models.ProgressSnapshot{Percent: st.Stage.End, Stage: st.Stage.Name})
	return nil
}

// monitor logs resource samples of proc until it exits.
func monitor(ctx context.Context, proc *ffmpeg.Process, stage string, logger *slog.Logger) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-proc.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := proc.Stats(ctx)
			if err != nil {
				continue
			}
			logger.Debug("stage engine usage",
				slog.String("stage", stage),
				slog.Int("pid", stats.PID),
				slog.Float64("cpu_percent", stats.CPUPercent),
				slog.Uint64("rss_bytes", stats.RSSBytes),
				slog.Int("threads", int(stats.Threads)))
		}
	}
}

// RunAll runs steps in order, stopping at the first failure.
func RunAll(ctx context.Context, runner *ffmpeg.Runner, run *jobs.Run, steps ...Step) error {
	for _, st := range steps {
		if err := Run(ctx, runner, run, st); err != nil {
			return err
		}
	}
	return nil
}
