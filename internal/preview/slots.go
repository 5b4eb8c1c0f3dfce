// Package preview renders single frames through the native worker for live
// preview. Each named slot only ever surfaces its newest request.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/moshr/internal/effects"
	"github.com/jmylchreest/moshr/internal/native"
)

var (
	// ErrStaleRequest indicates a newer request for the same slot superseded this one.
	ErrStaleRequest = errors.New("preview request superseded")
	// ErrNotPreviewable indicates the effect cannot be applied to a single frame.
	ErrNotPreviewable = errors.New("effect cannot be previewed")
)

// Uploader sends one frame to the worker and returns the rendered file.
type Uploader interface {
	Upload(ctx context.Context, id string, frame native.Frame, effect native.EffectConfig, aborted func() bool) (string, error)
}

// Request is one preview render.
type Request struct {
	Slot string
	// RequestID orders requests within a slot. Zero assigns the next id.
	RequestID uint64
	Frame     native.Frame
	Effect    string
	Params    map[string]float64
}

// Result is a rendered preview.
type Result struct {
	Slot      string `json:"slot"`
	RequestID uint64 `json:"request_id"`
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

// Slots fences preview requests per slot.
type Slots struct {
	uploader Uploader
	logger   *slog.Logger

	mu     sync.Mutex
	latest map[string]uint64
	next   uint64
}

// NewSlots creates preview slots backed by uploader.
func NewSlots(uploader Uploader, logger *slog.Logger) *Slots {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slots{
		uploader: uploader,
		logger:   logger,
		latest:   make(map[string]uint64),
	}
}

// Render uploads req.Frame and applies req.Effect. A request superseded
// while in flight is aborted or, if it already finished, has its output
// deleted; both cases return ErrStaleRequest.
func (s *Slots) Render(ctx context.Context, req Request) (Result, error) {
	effect, err := effects.Lookup(req.Effect)
	if err != nil {
		return Result{}, err
	}
	if !effect.Previewable {
		return Result{}, fmt.Errorf("%w: %s", ErrNotPreviewable, effect.Name)
	}
	params, err := effect.Resolve(req.Params)
	if err != nil {
		return Result{}, err
	}

	reqID, ok := s.begin(req.Slot, req.RequestID)
	if !ok {
		return Result{}, fmt.Errorf("%w: slot %s already at request %d", ErrStaleRequest, req.Slot, s.Latest(req.Slot))
	}

	sessionID := uuid.NewString()
	logger := s.logger.With(
		slog.String("slot", req.Slot),
		slog.Uint64("request_id", reqID),
		slog.String("session_id", sessionID),
	)
	aborted := func() bool { return !s.isCurrent(req.Slot, reqID) }

	path, err := s.uploader.Upload(ctx, sessionID, req.Frame, native.EffectConfig{Effect: effect.Name, Params: params}, aborted)
	if err != nil {
		if errors.Is(err, native.ErrUploadAborted) && aborted() {
			logger.Debug("preview superseded during upload")
			return Result{}, fmt.Errorf("%w: %w", ErrStaleRequest, err)
		}
		return Result{}, err
	}

	if aborted() {
		logger.Debug("discarding superseded preview", slog.String("path", path))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing superseded preview failed", slog.String("error", err.Error()))
		}
		return Result{}, ErrStaleRequest
	}

	return Result{Slot: req.Slot, RequestID: reqID, SessionID: sessionID, Path: path}, nil
}

// Latest returns the newest request id seen for slot.
func (s *Slots) Latest(slot string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[slot]
}

// begin records id as the newest request for slot. Ids that do not
// advance the slot are refused.
func (s *Slots) begin(slot string, id uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 {
		s.next++
		id = max(s.next, s.latest[slot]+1)
	}
	if id <= s.latest[slot] {
		return 0, false
	}
	s.next = max(s.next, id)
	s.latest[slot] = id
	return id, true
}

func (s *Slots) isCurrent(slot string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[slot] == id
}
