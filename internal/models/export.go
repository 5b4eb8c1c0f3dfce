package models

import (
	"path/filepath"
	"strings"
)

// SceneWindow bounds, in seconds, where the mosh worker may drop frames.
type SceneWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TrimWindow selects part of the input. End of zero means the clip end.
type TrimWindow struct {
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gte=0"`
}

// Duration returns the trimmed length given the full clip length.
func (t *TrimWindow) Duration(full float64) float64 {
	if t == nil {
		return full
	}
	end := t.End
	if end <= 0 || end > full {
		end = full
	}
	return max(0, end-t.Start)
}

// PassMode selects single or two-pass rate control.
type PassMode string

const (
	PassSingle PassMode = "single"
	PassTwo    PassMode = "two"
)

// EncodeSettings describes the final encode of a job.
type EncodeSettings struct {
	Encoder       string   `json:"encoder" validate:"required"`
	CRF           *int     `json:"crf,omitempty" validate:"omitempty,min=0,max=63"`
	CQ            *int     `json:"cq,omitempty" validate:"omitempty,min=0,max=63"`
	Preset        string   `json:"preset,omitempty"`
	TargetBitrate string   `json:"target_bitrate,omitempty"`
	MaxBitrate    string   `json:"max_bitrate,omitempty"`
	SizeCapBytes  int64    `json:"size_cap_bytes,omitempty" validate:"gte=0"`
	Pass          PassMode `json:"pass,omitempty" validate:"omitempty,oneof=single two"`
	AudioCodec    string   `json:"audio_codec,omitempty"`
	AudioBitrate  string   `json:"audio_bitrate,omitempty"`
}

// DatamoshParams tunes the datamosh pipeline. Nil fields take configured defaults.
type DatamoshParams struct {
	SceneThreshold *float64 `json:"scene_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	GOPSize        int      `json:"gop_size,omitempty" validate:"gte=0"`
	MoshLength     *float64 `json:"mosh_length,omitempty" validate:"omitempty,gte=0"`
	Intensity      *float64 `json:"intensity,omitempty" validate:"omitempty,gte=0,lte=1"`
	Seed           int64    `json:"seed,omitempty"`
}

// ExportRequest is a user's request to render one clip.
type ExportRequest struct {
	InputPath  string             `json:"input_path" validate:"required"`
	OutputPath string             `json:"output_path" validate:"required"`
	Effect     string             `json:"effect" validate:"required"`
	Params     map[string]float64 `json:"params,omitempty"`
	Trim       *TrimWindow        `json:"trim,omitempty"`
	Encode     EncodeSettings     `json:"encode"`
	Datamosh   *DatamoshParams    `json:"datamosh,omitempty"`
}

// Container returns the lowercase output extension without the dot.
func (r ExportRequest) Container() string {
	return ContainerOf(r.OutputPath)
}

// ContainerOf returns the lowercase extension of path without the dot.
func ContainerOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// IsMP4Family reports whether container takes the MP4 muxer's faststart flag.
func IsMP4Family(container string) bool {
	switch container {
	case "mp4", "m4v", "mov":
		return true
	}
	return false
}
