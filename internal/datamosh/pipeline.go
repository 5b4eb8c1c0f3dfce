package datamosh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/pipeline"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// ErrNoWorker is returned when the pipeline has no native worker to mosh with.
var ErrNoWorker = errors.New("native worker is not available")

// Worker is the native side of the pipeline. *native.Client satisfies it.
type Worker interface {
	Mosh(ctx context.Context, req *rpc.MoshRequest) (*rpc.MoshResponse, error)
	Events() *native.EventBus
}

// Settings are the resolved tuning values of one run.
type Settings struct {
	SceneThreshold float64
	GOPSize        int
	MoshLength     float64
	Intensity      float64
	Seed           int64
	CRF            int
	Preset         string
}

// ResolveSettings layers request params over configured defaults.
func ResolveSettings(p *models.DatamoshParams, defaults config.DatamoshConfig) Settings {
	s := Settings{
		SceneThreshold: defaults.SceneThreshold,
		GOPSize:        defaults.GOPSize,
		MoshLength:     defaults.MoshLength,
		Intensity:      defaults.Intensity,
		CRF:            defaults.CRF,
		Preset:         defaults.Preset,
	}
	if p != nil {
		if p.SceneThreshold != nil {
			s.SceneThreshold = *p.SceneThreshold
		}
		if p.GOPSize > 0 {
			s.GOPSize = p.GOPSize
		}
		if p.MoshLength != nil {
			s.MoshLength = *p.MoshLength
		}
		if p.Intensity != nil {
			s.Intensity = *p.Intensity
		}
		s.Seed = p.Seed
	}
	s.SceneThreshold = min(max(s.SceneThreshold, 0), 1)
	s.Intensity = min(max(s.Intensity, 0), 1)
	s.GOPSize = ClampGOP(s.GOPSize)
	if s.Preset == "" {
		s.Preset = "veryfast"
	}
	return s
}

// Request is one datamosh job.
type Request struct {
	InputPath  string
	OutputPath string
	Trim       *models.TrimWindow
	Encode     models.EncodeSettings
	Settings   Settings
	Media      ffmpeg.MediaInfo
}

// Pipeline runs datamosh jobs.
type Pipeline struct {
	runner *ffmpeg.Runner
	worker Worker
	logger *slog.Logger
}

// NewPipeline creates a pipeline. worker may be nil, in which case every
// job fails at the mosh stage.
func NewPipeline(runner *ffmpeg.Runner, worker Worker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{runner: runner, worker: worker, logger: logger}
}

// Body returns the job body for req.
func (p *Pipeline) Body(req Request) jobs.Body {
	return func(ctx context.Context, run *jobs.Run) error {
		return p.run(ctx, run, req)
	}
}

func (p *Pipeline) run(ctx context.Context, run *jobs.Run, req Request) error {
	if p.worker == nil {
		return &pipeline.StageError{Stage: StageMosh.Name, Err: ErrNoWorker}
	}
	paths := PathsFor(req.OutputPath)
	run.RegisterArtifact(paths.All()...)

	fps := req.Media.FPS
	if fps <= 0 {
		run.Log(fmt.Sprintf("input frame rate unknown, assuming %d fps", fallbackFPS))
		fps = fallbackFPS
	}
	duration := req.Trim.Duration(req.Media.Duration)

	// Detect.
	var scenes SceneCollector
	if err := pipeline.Run(ctx, p.runner, run, pipeline.Step{
		Stage:    StageDetect,
		Command:  detectCommand(req, req.Settings.SceneThreshold),
		Duration: duration,
		OnLine:   func(line string) bool { return !scenes.Line(line) },
	}); err != nil {
		return err
	}
	cuts := scenes.Cuts(fps)
	run.Log(fmt.Sprintf("detected %d scene cuts", len(cuts)))

	// Normalize.
	if err := pipeline.Run(ctx, p.runner, run, pipeline.Step{
		Stage:    StageNormalize,
		Command:  normalizeCommand(req, paths.Normalized, cuts),
		Duration: duration,
	}); err != nil {
		return err
	}

	windows := BuildSceneWindows(cuts, duration, fps, req.Settings.MoshLength)

	// Extract.
	if err := pipeline.Run(ctx, p.runner, run, pipeline.Step{
		Stage:    StageExtract,
		Command:  extractCommand(paths.Normalized, paths.Extracted),
		Duration: duration,
	}); err != nil {
		return err
	}

	// Mosh.
	if err := p.mosh(ctx, run, req, paths, fps, duration, windows); err != nil {
		return err
	}

	// Remux.
	if err := pipeline.Run(ctx, p.runner, run, pipeline.Step{
		Stage:    StageRemux,
		Command:  remuxCommand(paths.Moshed, paths.Remuxed, fps),
		Duration: duration,
	}); err != nil {
		return err
	}

	// Final.
	encode := req.Encode
	if encode.CRF == nil && encode.CQ == nil && encode.TargetBitrate == "" {
		encode.CRF = models.Ptr(req.Settings.CRF)
	}
	if encode.Preset == "" {
		encode.Preset = req.Settings.Preset
	}
	steps, reason := finalPlan(finalInput{
		video:    paths.Remuxed,
		audio:    paths.Normalized,
		output:   req.OutputPath,
		hasAudio: req.Media.HasAudio,
		duration: duration,
		passLog:  paths.PassLog,
	}, encode)
	if reason != "" {
		run.Log("falling back to single pass: " + reason)
	}
	return pipeline.RunAll(ctx, p.runner, run, steps...)
}

func (p *Pipeline) mosh(ctx context.Context, run *jobs.Run, req Request, paths Paths, fps, duration float64, windows []models.SceneWindow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.worker == nil {
		return &pipeline.StageError{Stage: StageMosh.Name, Err: ErrNoWorker}
	}

	run.Progress(models.ProgressSnapshot{Percent: StageMosh.Start, Stage: StageMosh.Name})
	unsubscribe := native.Bridge(p.worker.Events(), rpc.KindDatamosh, run.ID().String(), stageSink{stage: StageMosh, run: run})
	defer unsubscribe()

	rpcWindows := make([]rpc.Window, len(windows))
	for i, w := range windows {
		rpcWindows[i] = rpc.Window{Start: w.Start, End: w.End}
	}
	resp, err := p.worker.Mosh(ctx, &rpc.MoshRequest{
		JobID:      run.ID().String(),
		InputPath:  paths.Extracted,
		OutputPath: paths.Moshed,
		Width:      req.Media.Width - req.Media.Width%2,
		Height:     req.Media.Height - req.Media.Height%2,
		FPS:        fps,
		Duration:   duration,
		Windows:    rpcWindows,
		Intensity:  req.Settings.Intensity,
		Seed:       req.Settings.Seed,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &pipeline.StageError{Stage: StageMosh.Name, ExitCode: -1, Tail: run.Tail(pipeline.TailLines), Err: err}
	}

	run.Logger().Debug("mosh complete",
		slog.Int("frames", resp.Frames),
		slog.Int("dropped", resp.Dropped),
		slog.Int("windows", len(windows)))
	run.Progress(models.ProgressSnapshot{Percent: StageMosh.End, Stage: StageMosh.Name})
	return nil
}

// stageSink remaps worker progress into a stage slice.
type stageSink struct {
	stage pipeline.Stage
	run   *jobs.Run
}

func (s stageSink) Progress(p models.ProgressSnapshot) { s.run.Progress(s.stage.Remap(p)) }
func (s stageSink) Log(line string)                    { s.run.Log(line) }

func detectCommand(req Request, threshold float64) *ffmpeg.Command {
	return ffmpeg.NewCommandBuilder().
		ProgressPipe().
		TrimmedInput(req.InputPath, req.Trim).
		Map("0:v:0").
		VideoFilter(fmt.Sprintf("select='gt(scene,%s)',showinfo", strconv.FormatFloat(threshold, 'f', 3, 64))).
		NoAudio().
		OutputArgs("-f", "null").
		Output("-").
		Build()
}

func normalizeCommand(req Request, output string, cuts []float64) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder().
		ProgressPipe().
		TrimmedInput(req.InputPath, req.Trim).
		MapDefault().
		EvenScale().
		VideoArgs(
			"-c:v", "libx264",
			"-preset", req.Settings.Preset,
			"-crf", strconv.Itoa(req.Settings.CRF),
			"-g", strconv.Itoa(req.Settings.GOPSize),
			"-sc_threshold", "0",
			"-bf", "0",
		)
	if len(cuts) > 0 {
		b.VideoArgs("-force_key_frames", forceKeyFrames(cuts))
	}
	return b.
		VideoArgs("-pix_fmt", "yuv420p").
		AudioArgs("-c:a", "aac", "-b:a", "192k").
		Output(output).
		Build()
}

func extractCommand(input, output string) *ffmpeg.Command {
	return ffmpeg.NewCommandBuilder().
		ProgressPipe().
		Input(input).
		Map("0:v:0").
		VideoArgs("-c:v", "copy", "-bsf:v", "h264_metadata=aud=insert").
		NoAudio().
		OutputArgs("-f", "h264").
		Output(output).
		Build()
}

func remuxCommand(input, output string, fps float64) *ffmpeg.Command {
	return ffmpeg.NewCommandBuilder().
		ProgressPipe().
		Input(input, "-fflags", "+genpts", "-framerate", strconv.FormatFloat(fps, 'f', -1, 64), "-f", "h264").
		Map("0:v:0").
		VideoCodec("copy").
		NoAudio().
		Output(output).
		Build()
}
