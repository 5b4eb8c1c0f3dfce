package models

import "math"

// ProgressSnapshot is one observation of a running job. Optional fields are
// nil when the producer did not report them.
type ProgressSnapshot struct {
	Percent        float64  `json:"percent"`
	Stage          string   `json:"stage,omitempty"`
	Frame          *int64   `json:"frame,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	Bitrate        *string  `json:"bitrate,omitempty"`
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
	TotalSize      *int64   `json:"total_size,omitempty"`
	OutTimeSeconds *float64 `json:"out_time_seconds,omitempty"`
}

// ClampPercent bounds p to [0,100], mapping NaN to 0.
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Merge returns update layered over s. Fields the update leaves nil keep
// their previous value and percent never moves backwards.
func (s ProgressSnapshot) Merge(update ProgressSnapshot) ProgressSnapshot {
	out := update
	out.Percent = max(ClampPercent(s.Percent), ClampPercent(update.Percent))
	if out.Stage == "" {
		out.Stage = s.Stage
	}
	if out.Frame == nil {
		out.Frame = s.Frame
	}
	if out.FPS == nil {
		out.FPS = s.FPS
	}
	if out.Speed == nil {
		out.Speed = s.Speed
	}
	if out.Bitrate == nil {
		out.Bitrate = s.Bitrate
	}
	if out.ElapsedSeconds == nil {
		out.ElapsedSeconds = s.ElapsedSeconds
	}
	if out.ETASeconds == nil {
		out.ETASeconds = s.ETASeconds
	}
	if out.TotalSize == nil {
		out.TotalSize = s.TotalSize
	}
	if out.OutTimeSeconds == nil {
		out.OutTimeSeconds = s.OutTimeSeconds
	}
	return out
}

// Remap projects a stage-local snapshot into [lo,hi] of the overall percent.
// A stage-local ETA is dropped unless the range covers the whole job.
func (s ProgressSnapshot) Remap(lo, hi float64) ProgressSnapshot {
	out := s
	out.Percent = ClampPercent(lo + (hi-lo)*ClampPercent(s.Percent)/100)
	if lo > 0 || hi < 100 {
		out.ETASeconds = nil
	}
	return out
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
