// Package export turns a validated export request into a running job.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/moshr/internal/config"
	"github.com/jmylchreest/moshr/internal/datamosh"
	"github.com/jmylchreest/moshr/internal/effects"
	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/observability"
	"github.com/jmylchreest/moshr/internal/pipeline"
	"github.com/jmylchreest/moshr/internal/validation"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// Prober reads input metadata. *ffmpeg.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Worker is the native worker API jobs use. *native.Client satisfies it.
type Worker interface {
	datamosh.Worker
	Render(ctx context.Context, req *rpc.RenderRequest) (*rpc.RenderResponse, error)
}

// WorkerSource returns the running worker, if any.
type WorkerSource func() (Worker, bool)

// Service starts export jobs.
type Service struct {
	coordinator *jobs.Coordinator
	runner      *ffmpeg.Runner
	prober      Prober
	validator   *validation.Validator
	workers     WorkerSource
	defaults    config.DatamoshConfig
	logger      *slog.Logger
}

// NewService creates an export service. workers may be nil when no native
// worker is configured; worker-backed effects then fail at their native step.
func NewService(coordinator *jobs.Coordinator, runner *ffmpeg.Runner, prober Prober, workers WorkerSource, defaults config.DatamoshConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		coordinator: coordinator,
		runner:      runner,
		prober:      prober,
		validator:   validation.New(),
		workers:     workers,
		defaults:    defaults,
		logger:      observability.WithComponent(logger, "export"),
	}
}

// SpawnerSource adapts a native spawner into a WorkerSource.
func SpawnerSource(s *native.Spawner) WorkerSource {
	return func() (Worker, bool) {
		c, ok := s.Client()
		if !ok {
			return nil, false
		}
		return c, true
	}
}

// Start validates req, probes its input and hands the job to the
// coordinator. Nothing is spawned when validation fails or the effect
// needs a native worker that is not running. If a job is
// already running jobs.ErrJobRunning is returned and nothing changes.
func (s *Service) Start(ctx context.Context, req models.ExportRequest) (models.Job, error) {
	effect, params, err := s.validator.Export(req)
	if err != nil {
		return models.Job{}, err
	}
	if s.coordinator.Running() {
		return models.Job{}, jobs.ErrJobRunning
	}
	if effect.Backend != effects.BackendEngine {
		if _, ok := s.worker(); !ok {
			return models.Job{}, fmt.Errorf("%s: %w", effect.Name, datamosh.ErrNoWorker)
		}
	}

	info, err := s.prober.Probe(ctx, req.InputPath)
	if err != nil {
		return models.Job{}, fmt.Errorf("probing %s: %w", req.InputPath, err)
	}
	if t := req.Trim; t != nil && info.Duration > 0 && t.Start >= info.Duration {
		return models.Job{}, &validation.Error{
			Err:    validation.ErrInvalidRequest,
			Fields: map[string]string{"trim": fmt.Sprintf("trim start %.3f is past the clip end %.3f", t.Start, info.Duration)},
		}
	}

	spec := jobs.Spec{
		Effect:     effect.Name,
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
	}
	switch effect.Backend {
	case effects.BackendPipeline:
		spec.Kind = models.JobKindNative
		spec.Body = datamosh.NewPipeline(s.runner, s.datamoshWorker(), s.logger).Body(datamosh.Request{
			InputPath:  req.InputPath,
			OutputPath: req.OutputPath,
			Trim:       req.Trim,
			Encode:     req.Encode,
			Settings:   datamosh.ResolveSettings(req.Datamosh, s.defaults),
			Media:      *info,
		})
	case effects.BackendEngine:
		args, _ := effect.Engine(params)
		spec.Kind = models.JobKindEngine
		spec.Body = s.engineBody(req, effect.Name, args, *info)
	case effects.BackendWorker:
		spec.Kind = models.JobKindNative
		spec.Body = s.renderBody(req, effect.Name, params, *info)
	default:
		return models.Job{}, fmt.Errorf("effect %s has unsupported backend %q", effect.Name, effect.Backend)
	}

	job, err := s.coordinator.Start(ctx, spec)
	if err != nil {
		if errors.Is(err, jobs.ErrJobRunning) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("starting job: %w", err)
	}
	s.logger.Info("export queued",
		slog.String("job_id", job.ID.String()),
		slog.String("effect", effect.Name),
		slog.Float64("duration", info.Duration),
		slog.Float64("fps", info.FPS))
	return job, nil
}

func (s *Service) worker() (Worker, bool) {
	if s.workers == nil {
		return nil, false
	}
	return s.workers()
}

// datamoshWorker returns nil rather than a typed nil interface when no
// worker runs.
func (s *Service) datamoshWorker() datamosh.Worker {
	if w, ok := s.worker(); ok {
		return w
	}
	return nil
}

// engineBody runs a single ffmpeg encode with the effect's filter chain.
func (s *Service) engineBody(req models.ExportRequest, name string, args effects.EngineArgs, info ffmpeg.MediaInfo) jobs.Body {
	return func(ctx context.Context, run *jobs.Run) error {
		encode := req.Encode
		if args.Bitrate != "" {
			encode.CRF, encode.CQ = nil, nil
			encode.TargetBitrate = args.Bitrate
		}
		if encode.Pass == models.PassTwo {
			run.Log("falling back to single pass: two-pass applies to datamosh exports only")
		}
		return pipeline.Run(ctx, s.runner, run, pipeline.Step{
			Stage:    pipeline.Whole(name),
			Command:  engineCommand(req, args.Filter, encode, info.HasAudio),
			Duration: req.Trim.Duration(info.Duration),
		})
	}
}

func engineCommand(req models.ExportRequest, filter string, encode models.EncodeSettings, hasAudio bool) *ffmpeg.Command {
	container := req.Container()
	b := ffmpeg.NewCommandBuilder().
		ProgressPipe().
		TrimmedInput(req.InputPath, req.Trim).
		MapDefault()
	if filter != "" {
		b.VideoFilter(filter)
	}
	b.EvenScale().Encode(encode)
	if hasAudio {
		b.AudioForContainer(container, encode)
	} else {
		b.NoAudio()
	}
	return b.Faststart(container).Output(req.OutputPath).Build()
}

// renderBody hands the whole clip to the native worker's render pipeline.
func (s *Service) renderBody(req models.ExportRequest, name string, params map[string]float64, info ffmpeg.MediaInfo) jobs.Body {
	return func(ctx context.Context, run *jobs.Run) error {
		stage := pipeline.Whole(name)
		w, ok := s.worker()
		if !ok {
			return &pipeline.StageError{Stage: stage.Name, Err: datamosh.ErrNoWorker}
		}

		run.Progress(models.ProgressSnapshot{Percent: 0, Stage: stage.Name})
		unsubscribe := native.Bridge(w.Events(), rpc.KindRender, run.ID().String(), run)
		defer unsubscribe()

		rr := &rpc.RenderRequest{
			JobID:      run.ID().String(),
			InputPath:  req.InputPath,
			OutputPath: req.OutputPath,
			Width:      info.Width,
			Height:     info.Height,
			FPS:        info.FPS,
			Duration:   req.Trim.Duration(info.Duration),
			HasAudio:   info.HasAudio,
			Effect:     name,
			Params:     params,
			Encoding:   encodingOf(req.Encode),
		}
		if req.Trim != nil {
			rr.Trim = &rpc.Trim{Start: req.Trim.Start, End: req.Trim.End}
		}

		resp, err := w.Render(ctx, rr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &pipeline.StageError{Stage: stage.Name, ExitCode: -1, Tail: run.Tail(pipeline.TailLines), Err: err}
		}
		run.Logger().Debug("render complete", slog.Int64("frames", resp.Frames))
		run.Progress(models.ProgressSnapshot{Percent: 100, Stage: stage.Name})
		return nil
	}
}

func encodingOf(s models.EncodeSettings) rpc.Encoding {
	return rpc.Encoding{
		Encoder:       s.Encoder,
		CRF:           s.CRF,
		CQ:            s.CQ,
		Preset:        s.Preset,
		TargetBitrate: s.TargetBitrate,
		MaxBitrate:    s.MaxBitrate,
		Pass:          string(s.Pass),
		AudioCodec:    s.AudioCodec,
		AudioBitrate:  s.AudioBitrate,
	}
}
