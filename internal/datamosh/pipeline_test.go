package datamosh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/util"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

const (
	normalizeOK      = `echo normalized > "$last"; printf 'out_time_us=5000000\nprogress=continue\nout_time_us=10000000\nprogress=end\n'`
	normalizeBlocks  = `echo partial > "$last"; exec sleep 30`
	finalOK          = `echo final > "$last"; printf 'out_time_us=10000000\nprogress=end\n'`
	finalFails       = `echo partial > "$last"; echo "Conversion failed!" 1>&2; exit 1`
	passOneOK        = `printf 'out_time_us=10000000\nprogress=end\n'`
	passOneBlocks    = `prev=; for a; do [ "$prev" = "-passlogfile" ] && log="$a"; prev="$a"; done
  echo stats > "$log-0.log.temp"; echo tree > "$log-0.log.mbtree.temp"; exec sleep 30`
	fakeFFmpegScript = `echo "$*" >> "@CALLS@"
for last; do :; done
case "$*" in
*showinfo*)
  echo "[Parsed_showinfo_1 @ 0x1] n:   0 pts:  61440 pts_time:4       duration:    512" 1>&2
  echo "[Parsed_showinfo_1 @ 0x1] config in time_base: 1/15360" 1>&2
  printf 'out_time_us=10000000\nprogress=end\n'
  ;;
*"-pass 1"*)
  @PASSONE@
  ;;
*-sc_threshold*)
  @NORMALIZE@
  ;;
*moshed.mp4)
  @FINAL@
  ;;
*)
  echo data > "$last"
  printf 'out_time_us=10000000\nprogress=end\n'
  ;;
esac
`
)

type fakeWorker struct {
	bus *native.EventBus

	mu  sync.Mutex
	req *rpc.MoshRequest
	err error
}

func (f *fakeWorker) Events() *native.EventBus { return f.bus }

func (f *fakeWorker) Mosh(_ context.Context, req *rpc.MoshRequest) (*rpc.MoshResponse, error) {
	f.mu.Lock()
	f.req = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	progress := rpc.ProgressChannel(rpc.KindDatamosh)
	f.bus.Publish(rpc.Event{Channel: progress, JobID: "another-job", Progress: &rpc.Progress{Percent: 90}})
	f.bus.Publish(rpc.Event{Channel: progress, JobID: req.JobID, Progress: &rpc.Progress{Percent: 50, Stage: "mosh"}})
	f.bus.Publish(rpc.Event{Channel: rpc.LogChannel(rpc.KindDatamosh), JobID: req.JobID, Line: "mosh: 300 frames, 1 keyframes replaced"})

	if err := os.WriteFile(req.OutputPath, []byte("moshed"), 0o600); err != nil {
		return nil, err
	}
	return &rpc.MoshResponse{OutputPath: req.OutputPath, Frames: 300, Dropped: 1}, nil
}

func (f *fakeWorker) request() *rpc.MoshRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.req
}

type fixture struct {
	dir    string
	calls  string
	worker *fakeWorker
	coord  *jobs.Coordinator
	pipe   *Pipeline
}

func newFixture(t *testing.T, normalize, final string) *fixture {
	return newFixtureWithPassOne(t, normalize, final, passOneOK)
}

func newFixtureWithPassOne(t *testing.T, normalize, final, passOne string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.Mkdir(bin, 0o755))

	calls := filepath.Join(dir, "calls")
	script := strings.NewReplacer("@CALLS@", calls, "@NORMALIZE@", normalize, "@FINAL@", final, "@PASSONE@", passOne).Replace(fakeFFmpegScript)
	require.NoError(t, os.WriteFile(filepath.Join(bin, "ffmpeg"), []byte("#!/bin/sh\n"+script), 0o755))

	runner := ffmpeg.NewRunner(ffmpeg.NewResolverWithFinder(util.Finder{GOOS: runtime.GOOS, PathEnv: bin}), nil)
	worker := &fakeWorker{bus: native.NewEventBus(nil, nil)}
	return &fixture{
		dir:    dir,
		calls:  calls,
		worker: worker,
		coord:  jobs.NewCoordinator(jobs.DefaultOptions(), nil),
		pipe:   NewPipeline(runner, worker, nil),
	}
}

func (f *fixture) request() Request {
	return Request{
		InputPath:  filepath.Join(f.dir, "clip.mp4"),
		OutputPath: filepath.Join(f.dir, "clip-moshed.mp4"),
		Encode:     models.EncodeSettings{Encoder: "libx264"},
		Settings: ResolveSettings(&models.DatamoshParams{MoshLength: models.Ptr(2.0), Seed: 7}, config.DatamoshConfig{
			SceneThreshold: 0.3,
			GOPSize:        250,
			Intensity:      1,
			CRF:            18,
		}),
		Media: ffmpeg.MediaInfo{Duration: 10, FPS: 30, Width: 641, Height: 360, HasAudio: true},
	}
}

func (f *fixture) start(t *testing.T, req Request) models.Job {
	t.Helper()
	job, err := f.coord.Start(context.Background(), jobs.Spec{
		Kind:       models.JobKindNative,
		Effect:     "datamosh",
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Body:       f.pipe.Body(req),
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) wait(t *testing.T) models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	job, err := f.coord.Wait(ctx)
	require.NoError(t, err)
	return job
}

func (f *fixture) callLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.calls)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".moshr-", "temp artifact left behind")
	}
}

func TestPipeline_RunsStagesInOrder(t *testing.T) {
	f := newFixture(t, normalizeOK, finalOK)
	sub := f.coord.Subscribe()
	defer f.coord.Unsubscribe(sub.ID)

	req := f.request()
	started := f.start(t, req)
	job := f.wait(t)
	require.Equal(t, models.JobStatusSuccess, job.Status, job.Error)

	calls := f.callLines(t)
	require.Len(t, calls, 5)
	assert.Contains(t, calls[0], "select='gt(scene,0.300)',showinfo")
	assert.Contains(t, calls[1], "-force_key_frames 4.000")
	assert.Contains(t, calls[1], "-g 250")
	assert.Contains(t, calls[1], "-crf 18")
	assert.Contains(t, calls[2], "h264_metadata=aud=insert")
	assert.Contains(t, calls[3], "-fflags +genpts -framerate 30 -f h264")
	assert.Contains(t, calls[4], "clip-moshed.moshr-normalize.mkv")
	assert.Contains(t, calls[4], "-crf 18")

	mosh := f.worker.request()
	require.NotNil(t, mosh)
	assert.Equal(t, started.ID.String(), mosh.JobID)
	assert.Equal(t, 640, mosh.Width, "width is evened")
	assert.Equal(t, 360, mosh.Height)
	assert.Equal(t, int64(7), mosh.Seed)
	require.Len(t, mosh.Windows, 1)
	assert.InDelta(t, 3.9667, mosh.Windows[0].Start, 0.0001)
	assert.InDelta(t, 6.0, mosh.Windows[0].End, 1e-9)

	out, err := os.ReadFile(req.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "final\n", string(out))
	assertNoTempFiles(t, f.dir)

	assert.Contains(t, job.LogTail, "mosh: 300 frames, 1 keyframes replaced")
	assert.Contains(t, job.LogTail, "detected 1 scene cuts")
	for _, line := range job.LogTail {
		assert.NotContains(t, line, "pts_time", "showinfo lines stay out of the job log")
	}

	var percents []float64
	var stages []string
drain:
	for {
		select {
		case ev := <-sub.Events:
			if ev.Type == jobs.EventProgress {
				percents = append(percents, ev.Job.Progress.Percent)
				if len(stages) == 0 || stages[len(stages)-1] != ev.Job.Progress.Stage {
					stages = append(stages, ev.Job.Progress.Stage)
				}
			}
		default:
			break drain
		}
	}
	assert.IsNonDecreasing(t, percents)
	assert.Contains(t, percents, 55.0, "worker progress remapped into the mosh slice")
	assert.NotContains(t, percents, 63.0, "progress of another job is ignored")
	assert.Equal(t, []string{"detect", "normalize", "extract", "mosh", "remux", "final"}, stages)
}

func TestPipeline_CancelDuringNormalize(t *testing.T) {
	f := newFixture(t, normalizeBlocks, finalOK)
	req := f.request()
	f.start(t, req)

	partial := PathsFor(req.OutputPath).Normalized
	require.Eventually(t, func() bool {
		job, _ := f.coord.Current()
		_, err := os.Stat(partial)
		return job.Progress.Stage == StageNormalize.Name && err == nil
	}, 10*time.Second, 20*time.Millisecond)

	require.True(t, f.coord.Cancel())
	job := f.wait(t)

	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.Empty(t, job.Error)
	assert.Nil(t, f.worker.request(), "later stages never run")
	assert.NoFileExists(t, partial)
	assert.NoFileExists(t, req.OutputPath)
	assertNoTempFiles(t, f.dir)
	assert.Len(t, f.callLines(t), 2)
}

func TestPipeline_FinalStageFailure(t *testing.T) {
	f := newFixture(t, normalizeOK, finalFails)
	req := f.request()
	f.start(t, req)
	job := f.wait(t)

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "final stage exited with code 1")
	assert.Contains(t, job.Error, "Conversion failed!")
	assert.NoFileExists(t, req.OutputPath, "half-written output is removed")
	assertNoTempFiles(t, f.dir)
}

func TestPipeline_WorkerFailureAbortsRemainingStages(t *testing.T) {
	f := newFixture(t, normalizeOK, finalOK)
	f.worker.err = errors.New("worker crashed")
	f.start(t, f.request())
	job := f.wait(t)

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "mosh stage failed: worker crashed")
	assert.Len(t, f.callLines(t), 3, "remux and final never run")
	assertNoTempFiles(t, f.dir)
}

func TestPipeline_NoWorker(t *testing.T) {
	f := newFixture(t, normalizeOK, finalOK)
	f.pipe = NewPipeline(f.pipe.runner, nil, nil)
	f.start(t, f.request())
	job := f.wait(t)

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, ErrNoWorker.Error())
	assert.NoFileExists(t, f.calls, "no stage is spawned without a worker")
}

func TestPipeline_CancelDuringPassOne(t *testing.T) {
	f := newFixtureWithPassOne(t, normalizeOK, finalOK, passOneBlocks)
	req := f.request()
	req.Encode = models.EncodeSettings{Encoder: "libx264", Pass: models.PassTwo, SizeCapBytes: 10_000_000}
	f.start(t, req)

	passLog := PathsFor(req.OutputPath).PassLog
	require.Eventually(t, func() bool {
		job, _ := f.coord.Current()
		_, errLog := os.Stat(passLog + "-0.log.temp")
		_, errTree := os.Stat(passLog + "-0.log.mbtree.temp")
		return job.Progress.Stage == StageFinal.Half(false).Name && errLog == nil && errTree == nil
	}, 10*time.Second, 20*time.Millisecond)

	require.True(t, f.coord.Cancel())
	job := f.wait(t)

	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.NoFileExists(t, passLog+"-0.log.temp")
	assert.NoFileExists(t, passLog+"-0.log.mbtree.temp")
	assert.NoFileExists(t, req.OutputPath)
	assertNoTempFiles(t, f.dir)
}

func TestPaths_AllIncludesPassLogTemps(t *testing.T) {
	p := PathsFor("/videos/clip.mp4")
	assert.Contains(t, p.All(), p.PassLog+"-0.log.temp")
	assert.Contains(t, p.All(), p.PassLog+"-0.log.mbtree.temp")
}

func TestPipeline_MissingEngine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	runner := ffmpeg.NewRunner(ffmpeg.NewResolverWithFinder(util.Finder{GOOS: runtime.GOOS, PathEnv: dir}), nil)
	coord := jobs.NewCoordinator(jobs.DefaultOptions(), nil)
	pipe := NewPipeline(runner, nil, nil)

	_, err := coord.Start(context.Background(), jobs.Spec{
		Kind:       models.JobKindNative,
		OutputPath: filepath.Join(dir, "out.mp4"),
		Body:       pipe.Body(Request{InputPath: "in.mp4", OutputPath: filepath.Join(dir, "out.mp4")}),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := coord.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "detect stage failed")
}

func TestResolveSettings(t *testing.T) {
	defaults := config.DatamoshConfig{SceneThreshold: 0.3, GOPSize: 250, MoshLength: 0, Intensity: 1, CRF: 20}

	s := ResolveSettings(nil, defaults)
	assert.Equal(t, Settings{SceneThreshold: 0.3, GOPSize: 250, Intensity: 1, CRF: 20, Preset: "veryfast"}, s)

	s = ResolveSettings(&models.DatamoshParams{
		SceneThreshold: models.Ptr(1.5),
		GOPSize:        5,
		Intensity:      models.Ptr(0.25),
		Seed:           42,
	}, defaults)
	assert.Equal(t, 1.0, s.SceneThreshold)
	assert.Equal(t, MinGOPSize, s.GOPSize)
	assert.Equal(t, 0.25, s.Intensity)
	assert.Equal(t, int64(42), s.Seed)
}
