package ffmpeg

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/moshr/internal/models"
)

// ProgressParser turns the key=value stream written by `-progress pipe:1`
// into snapshots. Input may be fed in arbitrary chunks; one snapshot is
// emitted per `progress=` line.
type ProgressParser struct {
	duration float64
	started  time.Time
	now      func() time.Time

	partial []byte
	block   map[string]string
}

// NewProgressParser creates a parser for media of the given duration in
// seconds. A duration <= 0 yields a percent of 0 on every snapshot.
func NewProgressParser(duration float64) *ProgressParser {
	return NewProgressParserWithClock(duration, time.Now)
}

// NewProgressParserWithClock is NewProgressParser with an injectable clock.
func NewProgressParserWithClock(duration float64, now func() time.Time) *ProgressParser {
	return &ProgressParser{
		duration: duration,
		started:  now(),
		now:      now,
		block:    make(map[string]string),
	}
}

// Feed consumes a chunk and returns any snapshots completed by it.
func (p *ProgressParser) Feed(chunk []byte) []models.ProgressSnapshot {
	p.partial = append(p.partial, chunk...)

	var out []models.ProgressSnapshot
	for {
		i := bytes.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(p.partial[:i]), "\r")
		p.partial = p.partial[i+1:]

		if snap, ok := p.line(line); ok {
			out = append(out, snap)
		}
	}
	if len(p.partial) == 0 {
		p.partial = nil
	}
	return out
}

func (p *ProgressParser) line(line string) (models.ProgressSnapshot, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return models.ProgressSnapshot{}, false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	if key != "progress" {
		p.block[key] = value
		return models.ProgressSnapshot{}, false
	}

	snap := p.snapshot()
	p.block = make(map[string]string)
	return snap, true
}

func (p *ProgressParser) snapshot() models.ProgressSnapshot {
	elapsed := p.now().Sub(p.started).Seconds()
	snap := models.ProgressSnapshot{ElapsedSeconds: &elapsed}

	if v, ok := p.int("frame"); ok {
		snap.Frame = &v
	}
	if v, ok := p.float("fps"); ok {
		snap.FPS = &v
	}
	if v, ok := p.present("bitrate"); ok {
		snap.Bitrate = &v
	}
	if v, ok := p.int("total_size"); ok {
		snap.TotalSize = &v
	}
	if v, ok := p.present("speed"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "x"), 64); err == nil {
			snap.Speed = &f
		}
	}

	outTime, haveOut := p.outTime()
	if haveOut {
		outTime = max(0, outTime)
		snap.OutTimeSeconds = &outTime
	}
	if haveOut && p.duration > 0 {
		snap.Percent = models.ClampPercent(outTime / p.duration * 100)
	}

	switch {
	case snap.Speed != nil && *snap.Speed > 0 && haveOut && p.duration > 0:
		eta := max(0, (p.duration-outTime) / *snap.Speed)
		snap.ETASeconds = &eta
	case snap.Percent > 0:
		eta := elapsed * (100 - snap.Percent) / snap.Percent
		snap.ETASeconds = &eta
	}

	return snap
}

// outTime returns the media position in seconds, preferring out_time, then
// out_time_us, then out_time_ms.
func (p *ProgressParser) outTime() (float64, bool) {
	if v, ok := p.present("out_time"); ok {
		if secs, ok := ParseTimestamp(v); ok {
			return secs, true
		}
	}
	if v, ok := p.float("out_time_us"); ok {
		return v / 1e6, true
	}
	if v, ok := p.float("out_time_ms"); ok {
		return v / 1e3, true
	}
	return 0, false
}

func (p *ProgressParser) present(key string) (string, bool) {
	v, ok := p.block[key]
	if !ok || v == "" || v == "N/A" {
		return "", false
	}
	return v, true
}

func (p *ProgressParser) float(key string) (float64, bool) {
	v, ok := p.present(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (p *ProgressParser) int(key string) (int64, bool) {
	v, ok := p.present(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseTimestamp parses HH:MM:SS(.frac) into seconds. A leading minus is
// accepted since ffmpeg reports negative positions before the first packet.
func ParseTimestamp(s string) (float64, bool) {
	neg := strings.HasPrefix(s, "-")
	parts := strings.Split(strings.TrimPrefix(s, "-"), ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, false
	}
	m, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	total := h*3600 + m*60 + sec
	if neg {
		total = -total
	}
	return total, true
}
