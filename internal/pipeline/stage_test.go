package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/util"
)

func TestStage_RemapAndHalf(t *testing.T) {
	s := Stage{Name: "encode", Start: 20, End: 60}
	p := s.Remap(models.ProgressSnapshot{Percent: 25, Stage: "ignored"})
	assert.Equal(t, 30.0, p.Percent)
	assert.Equal(t, "encode", p.Stage)

	assert.Equal(t, Stage{Name: "encode-pass1", Start: 20, End: 40}, s.Half(false))
	assert.Equal(t, Stage{Name: "encode-pass2", Start: 40, End: 60}, s.Half(true))
	assert.Equal(t, Stage{Name: "render", Start: 0, End: 100}, Whole("render"))
}

func TestStageError_Messages(t *testing.T) {
	cause := errors.New("exec format error")
	err := &StageError{Stage: "detect", Err: cause, Tail: []string{"line"}}
	assert.Equal(t, "detect stage failed: exec format error", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "final stage killed by killed", (&StageError{Stage: "final", Signal: "killed"}).Error())
	assert.Equal(t, "remux stage exited with code 1", (&StageError{Stage: "remux", ExitCode: 1}).Error())
}

func runJob(t *testing.T, script string, steps ...Step) (models.Job, error) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	runner := ffmpeg.NewRunner(ffmpeg.NewResolverWithFinder(util.Finder{GOOS: runtime.GOOS, PathEnv: dir}), nil)

	coord := jobs.NewCoordinator(jobs.DefaultOptions(), nil)
	var bodyErr error
	_, err := coord.Start(context.Background(), jobs.Spec{
		Kind: models.JobKindEngine,
		Body: func(ctx context.Context, run *jobs.Run) error {
			bodyErr = RunAll(ctx, runner, run, steps...)
			return bodyErr
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := coord.Wait(ctx)
	require.NoError(t, err)
	return job, bodyErr
}

func TestRun_StreamsProgressAndLog(t *testing.T) {
	script := `echo "frame one" 1>&2; printf 'out_time_us=2000000\nprogress=continue\n'; echo "frame two" 1>&2; printf 'out_time_us=4000000\nprogress=end\n'`
	cmd := ffmpeg.NewCommandBuilder().Input("in.mp4").Output("out.mp4").Build()

	job, err := runJob(t, script, Step{Stage: Stage{Name: "encode", Start: 0, End: 50}, Command: cmd, Duration: 4})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, job.Status)
	assert.Contains(t, job.LogTail, "frame one")
	assert.Contains(t, job.LogTail, "frame two")
	assert.Contains(t, job.LogTail, "[encode] "+cmd.String())
}

func TestRun_OnLineFiltersLog(t *testing.T) {
	script := `echo "keep me" 1>&2; echo "drop me" 1>&2`
	cmd := ffmpeg.NewCommandBuilder().Output("-").Build()
	var seen []string

	job, err := runJob(t, script, Step{
		Stage:   Whole("probe"),
		Command: cmd,
		OnLine: func(line string) bool {
			seen = append(seen, line)
			return line != "drop me"
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep me", "drop me"}, seen)
	assert.Contains(t, job.LogTail, "keep me")
	assert.NotContains(t, job.LogTail, "drop me")
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	script := `echo "boom" 1>&2; exit 3`
	cmd := ffmpeg.NewCommandBuilder().Output("-").Build()

	job, err := runJob(t, script,
		Step{Stage: Stage{Name: "first", Start: 0, End: 50}, Command: cmd},
		Step{Stage: Stage{Name: "second", Start: 50, End: 100}, Command: cmd},
	)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "first", stageErr.Stage)
	assert.Equal(t, 3, stageErr.ExitCode)
	assert.Contains(t, stageErr.Tail, "boom")

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "first stage exited with code 3")
	for _, line := range job.LogTail {
		assert.NotContains(t, line, "[second]")
	}
}

func TestRunAll_ElapsedSpansStages(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	script := `sleep 0.3; printf 'out_time_us=1000000\nprogress=continue\n'; sleep 0.3; printf 'out_time_us=2000000\nspeed=1x\nprogress=end\n'`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	runner := ffmpeg.NewRunner(ffmpeg.NewResolverWithFinder(util.Finder{GOOS: runtime.GOOS, PathEnv: dir}), nil)
	cmd := ffmpeg.NewCommandBuilder().Output("-").Build()

	coord := jobs.NewCoordinator(jobs.DefaultOptions(), nil)
	sub := coord.Subscribe()
	_, err := coord.Start(context.Background(), jobs.Spec{
		Kind: models.JobKindEngine,
		Body: func(ctx context.Context, run *jobs.Run) error {
			return RunAll(ctx, runner, run,
				Step{Stage: Stage{Name: "a", Start: 0, End: 50}, Command: cmd, Duration: 2},
				Step{Stage: Stage{Name: "b", Start: 50, End: 100}, Command: cmd, Duration: 2},
			)
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := coord.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, job.Status)
	coord.Unsubscribe(sub.ID)

	var elapsed []float64
	for ev := range sub.Events {
		if ev.Type != jobs.EventProgress || ev.Job.Progress.ElapsedSeconds == nil {
			continue
		}
		elapsed = append(elapsed, *ev.Job.Progress.ElapsedSeconds)
		if ev.Job.Progress.Stage == "b" && ev.Job.Progress.Percent > 50 && ev.Job.Progress.Percent < 100 {
			require.NotNil(t, ev.Job.Progress.ETASeconds)
			assert.Greater(t, *ev.Job.Progress.ETASeconds, 0.0, "eta covers the rest of the job")
		}
	}
	require.NotEmpty(t, elapsed)
	for i := 1; i < len(elapsed); i++ {
		assert.GreaterOrEqual(t, elapsed[i], elapsed[i-1], "elapsed went backwards at event %d", i)
	}
	assert.GreaterOrEqual(t, elapsed[len(elapsed)-1], 1.2)
}
