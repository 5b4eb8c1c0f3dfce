package bitstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
)

// Window bounds, in seconds, where IDR access units may be dropped.
type Window struct {
	Start float64
	End   float64
}

// Options control a mosh pass.
type Options struct {
	FPS       float64
	Windows   []Window
	Intensity float64
	Seed      int64
	// TotalFrames, when known, lets Progress report a percentage.
	TotalFrames int64
	// Progress is called every ProgressEvery access units.
	Progress      func(frames, dropped int64)
	ProgressEvery int64
}

// Result summarises a mosh pass.
type Result struct {
	Frames  int64
	Dropped int64
}

// Mosh copies the Annex-B stream from r to w, replacing IDR access units
// that fall inside a window with the preceding predicted access unit,
// with probability Intensity. The first access unit is always kept so the
// stream keeps its parameter sets.
func Mosh(ctx context.Context, r io.Reader, w io.Writer, opts Options) (Result, error) {
	if opts.FPS <= 0 {
		return Result{}, fmt.Errorf("invalid frame rate %v", opts.FPS)
	}
	every := opts.ProgressEvery
	if every <= 0 {
		every = 30
	}
	rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)^0x9e3779b97f4a7c15))

	bw := bufio.NewWriter(w)
	split := NewSplitter(r)
	var res Result
	var lastPredicted []byte

	for {
		if res.Frames%every == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		raw, err := split.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading access unit %d: %w", res.Frames, err)
		}
		au, err := Parse(raw)
		if err != nil {
			return res, fmt.Errorf("parsing access unit %d: %w", res.Frames, err)
		}

		out := raw
		t := float64(res.Frames) / opts.FPS
		if res.Frames > 0 && lastPredicted != nil && au.IsIDR() && inWindows(t, opts.Windows) && rng.Float64() < opts.Intensity {
			out = lastPredicted
			res.Dropped++
		} else if au.IsPredicted() {
			lastPredicted = raw
		}

		if _, err := bw.Write(out); err != nil {
			return res, fmt.Errorf("writing access unit %d: %w", res.Frames, err)
		}
		res.Frames++
		if opts.Progress != nil && res.Frames%every == 0 {
			opts.Progress(res.Frames, res.Dropped)
		}
	}
	if err := bw.Flush(); err != nil {
		return res, err
	}
	if opts.Progress != nil {
		opts.Progress(res.Frames, res.Dropped)
	}
	return res, nil
}

func inWindows(t float64, windows []Window) bool {
	for _, w := range windows {
		if t >= w.Start && t < w.End {
			return true
		}
	}
	return false
}
