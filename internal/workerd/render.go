package workerd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/moshr/internal/ffmpeg"
	"github.com/jmylchreest/moshr/internal/jobs"
	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

var errEncoderClosed = errors.New("encoder closed its input")

// Render implements rpc.WorkerServer. Frames are decoded to RGBA by one
// ffmpeg process, run through the effect and piped into a second ffmpeg
// process that encodes the output.
func (s *Server) Render(ctx context.Context, req *rpc.RenderRequest) (*rpc.RenderResponse, error) {
	if err := validateRender(req); err != nil {
		return nil, toStatus(err)
	}
	if s.runner == nil {
		return nil, toStatus(errors.New("render requires an ffmpeg runner"))
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	frames, err := s.render(ctx, req)
	if err != nil {
		_ = os.Remove(req.OutputPath)
		s.hub.Log(rpc.KindRender, req.JobID, "render failed: "+err.Error())
		s.logger.Warn("render failed", slog.String("job_id", req.JobID), slog.String("error", err.Error()))
		return nil, toStatus(err)
	}
	s.logger.Info("render completed", slog.String("job_id", req.JobID), slog.Int64("frames", frames))
	return &rpc.RenderResponse{OutputPath: req.OutputPath, Frames: frames}, nil
}

func validateRender(req *rpc.RenderRequest) error {
	switch {
	case req.InputPath == "" || req.OutputPath == "":
		return fmt.Errorf("%w: input and output are required", errInvalidRequest)
	case req.InputPath == req.OutputPath:
		return fmt.Errorf("%w: output path equals input path", errInvalidRequest)
	case req.FPS <= 0:
		return fmt.Errorf("%w: fps must be positive", errInvalidRequest)
	case !validFrame(req.Width, req.Height):
		return fmt.Errorf("%w: frame size %dx%d out of range", errInvalidRequest, req.Width, req.Height)
	case !pixfx.Has(req.Effect):
		return fmt.Errorf("%w: %q", pixfx.ErrUnknownEffect, req.Effect)
	}
	return nil
}

func validFrame(width, height int) bool {
	_, ok := pixfx.FrameBytes(width, height)
	return ok
}

func (s *Server) render(ctx context.Context, req *rpc.RenderRequest) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trim := toTrim(req.Trim)
	duration := trim.Duration(req.Duration)
	total := int64(duration * req.FPS)
	start := time.Now()

	logLines := jobs.NewLineSplitter(func(line string) { s.hub.Log(rpc.KindRender, req.JobID, line) })
	var logMu sync.Mutex
	onStderr := func(chunk []byte) {
		logMu.Lock()
		defer logMu.Unlock()
		_, _ = logLines.Write(chunk)
	}

	decoded, decodedW := io.Pipe()
	decoder := s.runner.Spawn(ctx, ffmpeg.ProgramFFmpeg, decodeCommand(req, trim).Args, ffmpeg.Handlers{
		OnStdout: func(chunk []byte) { _, _ = decodedW.Write(chunk) },
		OnStderr: onStderr,
		OnClose: func(ev ffmpeg.CloseEvent) {
			if ev.Success() {
				_ = decodedW.Close()
				return
			}
			_ = decodedW.CloseWithError(fmt.Errorf("decoder exited with code %d %s", ev.ExitCode, ev.Signal))
		},
	})

	encIn, encInW := io.Pipe()
	encoder := s.runner.Spawn(ctx, ffmpeg.ProgramFFmpeg, encodeCommand(req, trim).Args, ffmpeg.Handlers{
		Stdin:    encIn,
		OnStderr: onStderr,
		OnClose:  func(ffmpeg.CloseEvent) { _ = encIn.CloseWithError(errEncoderClosed) },
	})

	frames, loopErr := s.pumpFrames(ctx, req, decoded, encInW, total, start)
	if loopErr != nil {
		cancel()
		_ = decoded.CloseWithError(loopErr)
		_ = encInW.CloseWithError(loopErr)
	} else {
		_ = encInW.Close()
	}
	decEv := decoder.Wait()
	encEv := encoder.Wait()
	logMu.Lock()
	logLines.Flush()
	logMu.Unlock()

	switch {
	case errors.Is(loopErr, errEncoderClosed) && !encEv.Success():
		return frames, fmt.Errorf("encoder exited with code %d %s", encEv.ExitCode, encEv.Signal)
	case loopErr != nil:
		return frames, loopErr
	case ctx.Err() != nil:
		return frames, ctx.Err()
	case !decEv.Success():
		return frames, fmt.Errorf("decoder exited with code %d %s", decEv.ExitCode, decEv.Signal)
	case !encEv.Success():
		return frames, fmt.Errorf("encoder exited with code %d %s", encEv.ExitCode, encEv.Signal)
	}
	s.hub.Progress(rpc.KindRender, req.JobID, rpc.Progress{Percent: 100, Stage: "render", Frame: models.Ptr(frames)})
	return frames, nil
}

// pumpFrames moves whole frames from the decoder through the effect into
// the encoder until the decoder's output ends.
func (s *Server) pumpFrames(ctx context.Context, req *rpc.RenderRequest, decoded io.Reader, enc io.Writer, total int64, start time.Time) (int64, error) {
	size, _ := pixfx.FrameBytes(req.Width, req.Height)
	buf := make([]byte, size)
	img, err := pixfx.FromPix(req.Width, req.Height, buf)
	if err != nil {
		return 0, err
	}
	every := max(1, int64(req.FPS/2))
	var frame int64
	for {
		if err := ctx.Err(); err != nil {
			return frame, err
		}
		if _, err := io.ReadFull(decoded, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return frame, nil
			}
			return frame, fmt.Errorf("reading frame %d: %w", frame, err)
		}
		if err := pixfx.Apply(req.Effect, img, req.Params, frame); err != nil {
			return frame, err
		}
		if _, err := enc.Write(buf); err != nil {
			return frame, fmt.Errorf("writing frame %d: %w", frame, err)
		}
		frame++
		if frame%every == 0 {
			s.hub.Progress(rpc.KindRender, req.JobID, renderProgress(frame, total, time.Since(start)))
		}
	}
}

func renderProgress(frame, total int64, elapsed time.Duration) rpc.Progress {
	p := rpc.Progress{Stage: "render", Frame: models.Ptr(frame), ElapsedSeconds: models.Ptr(elapsed.Seconds())}
	if secs := elapsed.Seconds(); secs > 0 {
		p.FPS = models.Ptr(float64(frame) / secs)
	}
	if total > 0 {
		p.Percent = models.ClampPercent(float64(frame) * 100 / float64(total))
		if frame > 0 && frame < total {
			p.ETASeconds = models.Ptr(elapsed.Seconds() * float64(total-frame) / float64(frame))
		}
	}
	return p
}

func toTrim(t *rpc.Trim) *models.TrimWindow {
	if t == nil {
		return nil
	}
	return &models.TrimWindow{Start: t.Start, End: t.End}
}

func toSettings(e rpc.Encoding) models.EncodeSettings {
	return models.EncodeSettings{
		Encoder:       e.Encoder,
		CRF:           e.CRF,
		CQ:            e.CQ,
		Preset:        e.Preset,
		TargetBitrate: e.TargetBitrate,
		MaxBitrate:    e.MaxBitrate,
		AudioCodec:    e.AudioCodec,
		AudioBitrate:  e.AudioBitrate,
	}
}

func decodeCommand(req *rpc.RenderRequest, trim *models.TrimWindow) *ffmpeg.Command {
	return ffmpeg.NewCommandBuilder().
		LogLevel("error").
		TrimmedInput(req.InputPath, trim).
		Map("0:v:0").
		VideoFilter(fmt.Sprintf("scale=%d:%d", req.Width, req.Height)).
		OutputArgs("-an", "-f", "rawvideo", "-pix_fmt", "rgba").
		Output("pipe:1").
		Build()
}

func encodeCommand(req *rpc.RenderRequest, trim *models.TrimWindow) *ffmpeg.Command {
	container := models.ContainerOf(req.OutputPath)
	settings := toSettings(req.Encoding)
	b := ffmpeg.NewCommandBuilder().
		LogLevel("error").
		Input("pipe:0",
			"-f", "rawvideo",
			"-pix_fmt", "rgba",
			"-s", fmt.Sprintf("%dx%d", req.Width, req.Height),
			"-r", strconv.FormatFloat(req.FPS, 'f', -1, 64))
	if req.HasAudio {
		b.TrimmedInput(req.InputPath, trim).
			Map("0:v:0", "1:a?").
			AudioForContainer(container, settings).
			OutputArgs("-shortest")
	} else {
		b.Map("0:v:0").NoAudio()
	}
	return b.EvenScale().
		Encode(settings).
		Faststart(container).
		Output(req.OutputPath).
		Build()
}
