package datamosh

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jmylchreest/moshr/internal/models"
)

// Clamp bounds for the normalized stream's GOP size, in frames.
const (
	MinGOPSize = 30
	MaxGOPSize = 600
)

const fallbackFPS = 30

var ptsTimePattern = regexp.MustCompile(`pts_time:\s*(-?[0-9]+(?:\.[0-9]+)?)`)

// SceneCollector accumulates scene-cut timestamps from showinfo output.
type SceneCollector struct {
	cuts []float64
}

// Line consumes one log line and reports whether it carried a timestamp.
func (c *SceneCollector) Line(line string) bool {
	found := false
	for _, m := range ptsTimePattern.FindAllStringSubmatch(line, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && !math.IsInf(v, 0) {
			c.cuts = append(c.cuts, v)
			found = true
		}
	}
	return found
}

// Cuts returns the sorted, de-duplicated cuts collected so far.
func (c *SceneCollector) Cuts(fps float64) []float64 {
	return dedupCuts(c.cuts, fps)
}

// ParseSceneCuts extracts every pts_time value from text, sorted and with
// cuts closer than one frame merged into the earliest.
func ParseSceneCuts(text string, fps float64) []float64 {
	var c SceneCollector
	for line := range strings.Lines(text) {
		c.Line(line)
	}
	return c.Cuts(fps)
}

func dedupCuts(cuts []float64, fps float64) []float64 {
	if len(cuts) == 0 {
		return nil
	}
	frame := frameDuration(fps)
	sorted := slices.Clone(cuts)
	slices.Sort(sorted)

	out := []float64{sorted[0]}
	for _, c := range sorted[1:] {
		if c-out[len(out)-1] < frame {
			continue
		}
		out = append(out, c)
	}
	return out
}

// BuildSceneWindows turns cuts into the windows the worker may mosh in.
// Each window opens one frame before its cut and runs for moshLength
// seconds, or to the clip end when moshLength is zero. The result always
// holds at least one window and every window has end > start.
func BuildSceneWindows(cuts []float64, duration, fps, moshLength float64) []models.SceneWindow {
	frame := frameDuration(fps)
	untilEnd := moshLength <= 0 || math.IsNaN(moshLength) || math.IsInf(moshLength, 0)
	hasDuration := duration > 0 && !math.IsInf(duration, 0)

	var windows []models.SceneWindow
	for _, cut := range cuts {
		start := max(0, cut-frame)
		if hasDuration && start >= duration {
			continue
		}

		end := duration
		if !untilEnd {
			end = cut + moshLength
			if hasDuration {
				end = min(end, duration)
			}
		}
		windows = append(windows, widen(start, end, frame, duration, hasDuration))
	}

	if len(windows) == 0 {
		return []models.SceneWindow{widen(0, duration, frame, duration, hasDuration)}
	}
	return windows
}

// widen stretches a degenerate window to one frame, staying inside the clip.
func widen(start, end, frame, duration float64, hasDuration bool) models.SceneWindow {
	if end-start >= frame {
		return models.SceneWindow{Start: start, End: end}
	}
	end = start + frame
	if hasDuration && end > duration {
		end = duration
		start = max(0, end-frame)
	}
	return models.SceneWindow{Start: start, End: end}
}

// ClampGOP bounds gop to [MinGOPSize, MaxGOPSize].
func ClampGOP(gop int) int {
	return min(max(gop, MinGOPSize), MaxGOPSize)
}

func frameDuration(fps float64) float64 {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = fallbackFPS
	}
	return 1 / fps
}

// forceKeyFrames renders cuts for -force_key_frames.
func forceKeyFrames(cuts []float64) string {
	parts := make([]string, len(cuts))
	for i, c := range cuts {
		parts[i] = strconv.FormatFloat(c, 'f', 3, 64)
	}
	return strings.Join(parts, ",")
}
