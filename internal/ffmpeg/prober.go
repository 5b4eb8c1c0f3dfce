package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoVideoStream is returned when the probed file has no video.
var ErrNoVideoStream = errors.New("no video stream")

// MediaInfo is the subset of probe output the pipelines consume.
type MediaInfo struct {
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	HasAudio   bool    `json:"has_audio"`
	VideoCodec string  `json:"video_codec"`
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

// Prober reads media metadata with ffprobe.
type Prober struct {
	runner *Runner
}

// NewProber creates a prober that invokes ffprobe through runner.
func NewProber(runner *Runner) *Prober {
	return &Prober{runner: runner}
}

// Probe returns duration, frame rate, dimensions and audio presence of path.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	res, err := p.runner.Execute(ctx, ProgramFFprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("ffprobe exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return ParseProbeOutput([]byte(res.Stdout))
}

// ParseProbeOutput decodes ffprobe's JSON into MediaInfo.
func ParseProbeOutput(data []byte) (*MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			info.FPS = ParseFrameRate(s.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = ParseFrameRate(s.RFrameRate)
			}
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if !foundVideo {
		return nil, ErrNoVideoStream
	}
	return info, nil
}

// ParseFrameRate parses "30000/1001" or "25" into frames per second.
func ParseFrameRate(fr string) float64 {
	num, den, found := strings.Cut(fr, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
