package workerd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmylchreest/moshr/internal/models"
	"github.com/jmylchreest/moshr/internal/workerd/bitstream"
	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

// Mosh implements rpc.WorkerServer.
func (s *Server) Mosh(ctx context.Context, req *rpc.MoshRequest) (*rpc.MoshResponse, error) {
	if req.InputPath == "" || req.OutputPath == "" || req.FPS <= 0 {
		return nil, toStatus(fmt.Errorf("%w: input, output and fps are required", errInvalidRequest))
	}
	if req.InputPath == req.OutputPath {
		return nil, toStatus(fmt.Errorf("%w: output path equals input path", errInvalidRequest))
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	logger := s.logger.With(slog.String("job_id", req.JobID))
	res, err := s.mosh(ctx, req)
	if err != nil {
		_ = os.Remove(req.OutputPath)
		logger.Warn("mosh failed", slog.String("error", err.Error()))
		s.hub.Log(rpc.KindDatamosh, req.JobID, "mosh failed: "+err.Error())
		return nil, toStatus(err)
	}

	line := fmt.Sprintf("mosh: %d frames, %d keyframes replaced", res.Frames, res.Dropped)
	s.hub.Log(rpc.KindDatamosh, req.JobID, line)
	logger.Info("mosh completed", slog.Int64("frames", res.Frames), slog.Int64("dropped", res.Dropped))
	return &rpc.MoshResponse{OutputPath: req.OutputPath, Frames: int(res.Frames), Dropped: int(res.Dropped)}, nil
}

func (s *Server) mosh(ctx context.Context, req *rpc.MoshRequest) (bitstream.Result, error) {
	in, err := os.Open(req.InputPath)
	if err != nil {
		return bitstream.Result{}, err
	}
	defer in.Close()

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return bitstream.Result{}, err
	}

	windows := make([]bitstream.Window, 0, len(req.Windows))
	for _, w := range req.Windows {
		windows = append(windows, bitstream.Window{Start: w.Start, End: w.End})
	}
	total := int64(req.Duration * req.FPS)

	s.hub.Log(rpc.KindDatamosh, req.JobID, fmt.Sprintf("mosh: %d windows, intensity %.2f, seed %d",
		len(windows), req.Intensity, req.Seed))

	res, err := bitstream.Mosh(ctx, in, out, bitstream.Options{
		FPS:           req.FPS,
		Windows:       windows,
		Intensity:     req.Intensity,
		Seed:          req.Seed,
		ProgressEvery: max(1, int64(req.FPS)),
		Progress: func(frames, _ int64) {
			p := rpc.Progress{Stage: "mosh", Frame: models.Ptr(frames)}
			if total > 0 {
				p.Percent = models.ClampPercent(float64(frames) * 100 / float64(total))
			}
			s.hub.Progress(rpc.KindDatamosh, req.JobID, p)
		},
	})
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return res, err
}
