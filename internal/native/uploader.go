package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
)

// DefaultChunkSize keeps a base64-encoded append under the 4 MiB message cap.
const DefaultChunkSize = 2 << 20

const discardTimeout = 5 * time.Second

// EffectConfig names a pixel effect and its parameters.
type EffectConfig struct {
	Effect string             `json:"effect"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Frame is a raw RGBA frame.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// PreviewWorker is the worker's preview session API.
type PreviewWorker interface {
	PreviewStart(ctx context.Context, id string, width, height int) error
	PreviewAppend(ctx context.Context, id string, chunk []byte) error
	PreviewFinish(ctx context.Context, id string, effect EffectConfig) (string, error)
	PreviewDiscard(ctx context.Context, id string) error
}

// Uploader streams frames into worker preview sessions.
type Uploader struct {
	worker    PreviewWorker
	chunkSize int
	logger    *slog.Logger
}

// NewUploader creates an uploader. chunkSize <= 0 uses DefaultChunkSize.
func NewUploader(worker PreviewWorker, chunkSize int, logger *slog.Logger) *Uploader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{worker: worker, chunkSize: chunkSize, logger: logger}
}

// ChunkSize returns the append size in bytes.
func (u *Uploader) ChunkSize() int { return u.chunkSize }

// Upload sends frame to a new session named id and renders it with effect.
// aborted is polled before every append and before finishing; a true result
// discards the session and returns ErrUploadAborted. Exactly one of finish
// or discard is sent for every session that was started.
func (u *Uploader) Upload(ctx context.Context, id string, frame Frame, effect EffectConfig, aborted func() bool) (string, error) {
	size, ok := pixfx.FrameBytes(frame.Width, frame.Height)
	if !ok {
		return "", fmt.Errorf("%w: %dx%d is outside %dx%d", ErrFrameSizeMismatch,
			frame.Width, frame.Height, pixfx.MaxDimension, pixfx.MaxDimension)
	}
	if len(frame.Pix) != size {
		return "", fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrFrameSizeMismatch, frame.Width, frame.Height, size, len(frame.Pix))
	}
	if aborted == nil {
		aborted = func() bool { return false }
	}

	if err := u.worker.PreviewStart(ctx, id, frame.Width, frame.Height); err != nil {
		u.discard(ctx, id)
		return "", fmt.Errorf("starting preview session: %w", err)
	}

	for off := 0; off < len(frame.Pix); off += u.chunkSize {
		if err := u.checkAbort(ctx, aborted); err != nil {
			u.discard(ctx, id)
			return "", err
		}
		end := min(off+u.chunkSize, len(frame.Pix))
		if err := u.worker.PreviewAppend(ctx, id, frame.Pix[off:end]); err != nil {
			u.discard(ctx, id)
			return "", fmt.Errorf("appending preview chunk at %d: %w", off, err)
		}
	}

	if err := u.checkAbort(ctx, aborted); err != nil {
		u.discard(ctx, id)
		return "", err
	}

	// The worker drops the session on finish whether or not it succeeds.
	out, err := u.worker.PreviewFinish(ctx, id, effect)
	if err != nil {
		return "", fmt.Errorf("finishing preview: %w", err)
	}
	return out, nil
}

func (u *Uploader) checkAbort(ctx context.Context, aborted func() bool) error {
	if aborted() {
		return ErrUploadAborted
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrUploadAborted, err)
	}
	return nil
}

func (u *Uploader) discard(ctx context.Context, id string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := u.worker.PreviewDiscard(dctx, id); err != nil {
		u.logger.Debug("discarding preview session failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
}
