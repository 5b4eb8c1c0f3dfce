// Package effects is the catalogue of effects a job or preview can apply.
package effects

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Backend says what executes an effect.
type Backend string

const (
	// BackendEngine effects compile to an ffmpeg filter chain.
	BackendEngine Backend = "engine"
	// BackendWorker effects run per frame in the native worker.
	BackendWorker Backend = "worker"
	// BackendPipeline is the multi-stage datamosh pipeline.
	BackendPipeline Backend = "pipeline"
)

// Effect names.
const (
	Datamosh   = "datamosh"
	RGBShift   = "rgbshift"
	Noise      = "noise"
	Lagfun     = "lagfun"
	Crush      = "crush"
	Invert     = "invert"
	PixelSort  = "pixelsort"
	BlockShift = "blockshift"
	Palette    = "palette"
)

var (
	ErrUnknownEffect = errors.New("unknown effect")
	ErrUnknownParam  = errors.New("unknown effect parameter")
	ErrParamRange    = errors.New("effect parameter out of range")
)

// Param describes one tunable value.
type Param struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Default     float64 `json:"default"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Integer     bool    `json:"integer,omitempty"`
}

// Effect is one catalogue entry.
type Effect struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Backend     Backend `json:"backend"`
	Params      []Param `json:"params"`
	// Previewable effects can be applied to a single frame by the worker.
	Previewable bool `json:"previewable"`

	compile func(p map[string]float64) EngineArgs
}

// EngineArgs are what an engine effect adds to the encode.
type EngineArgs struct {
	Filter string
	// Bitrate overrides the encoder rate control when non-empty.
	Bitrate string
}

var catalogue = map[string]Effect{
	Datamosh: {
		Name:        Datamosh,
		Description: "Remove keyframes at scene cuts so motion bleeds across shots",
		Backend:     BackendPipeline,
	},
	RGBShift: {
		Name:        RGBShift,
		Description: "Offset the red and blue channels horizontally",
		Backend:     BackendEngine,
		Previewable: true,
		Params: []Param{
			{Name: "offset", Description: "Shift in pixels", Default: 8, Min: 0, Max: 200, Integer: true},
		},
		compile: func(p map[string]float64) EngineArgs {
			o := int(p["offset"])
			return EngineArgs{Filter: fmt.Sprintf("rgbashift=rh=%d:bh=%d", -o, o)}
		},
	},
	Noise: {
		Name:        Noise,
		Description: "Temporal grain over every plane",
		Backend:     BackendEngine,
		Previewable: true,
		Params: []Param{
			{Name: "amount", Description: "Noise strength", Default: 0.2, Min: 0, Max: 1},
			{Name: "seed", Description: "Random seed", Default: 0, Min: 0, Max: math.MaxInt32, Integer: true},
		},
		compile: func(p map[string]float64) EngineArgs {
			return EngineArgs{Filter: fmt.Sprintf("noise=alls=%d:allf=t+u:all_seed=%d", int(p["amount"]*100), int(p["seed"]))}
		},
	},
	Lagfun: {
		Name:        Lagfun,
		Description: "Bright pixels decay slowly, leaving trails",
		Backend:     BackendEngine,
		Params: []Param{
			{Name: "decay", Description: "Per-frame decay factor", Default: 0.95, Min: 0, Max: 1},
		},
		compile: func(p map[string]float64) EngineArgs {
			return EngineArgs{Filter: "lagfun=decay=" + strconv.FormatFloat(p["decay"], 'f', 3, 64)}
		},
	},
	Crush: {
		Name:        Crush,
		Description: "Starve the encoder and pixelate for blocky artefacts",
		Backend:     BackendEngine,
		Params: []Param{
			{Name: "bitrate", Description: "Video bitrate in kbit/s", Default: 200, Min: 20, Max: 5000, Integer: true},
			{Name: "pixel", Description: "Pixelation block size", Default: 4, Min: 1, Max: 64, Integer: true},
		},
		compile: func(p map[string]float64) EngineArgs {
			args := EngineArgs{Bitrate: strconv.Itoa(int(p["bitrate"])) + "k"}
			if px := int(p["pixel"]); px > 1 {
				args.Filter = fmt.Sprintf("scale=iw/%d:-2:flags=neighbor,scale=iw*%d:-2:flags=neighbor", px, px)
			}
			return args
		},
	},
	Invert: {
		Name:        Invert,
		Description: "Invert colours",
		Backend:     BackendWorker,
		Previewable: true,
	},
	PixelSort: {
		Name:        PixelSort,
		Description: "Sort runs of bright pixels along each row",
		Backend:     BackendWorker,
		Previewable: true,
		Params: []Param{
			{Name: "threshold", Description: "Luma above which pixels are sorted", Default: 0.5, Min: 0, Max: 1},
		},
	},
	BlockShift: {
		Name:        BlockShift,
		Description: "Displace random blocks sideways",
		Backend:     BackendWorker,
		Previewable: true,
		Params: []Param{
			{Name: "block", Description: "Block size in pixels", Default: 16, Min: 1, Max: 256, Integer: true},
			{Name: "amount", Description: "Maximum shift in pixels", Default: 32, Min: 0, Max: 1024, Integer: true},
			{Name: "probability", Description: "Chance a block moves", Default: 0.3, Min: 0, Max: 1},
			{Name: "seed", Description: "Random seed", Default: 0, Min: 0, Max: math.MaxInt32, Integer: true},
		},
	},
	Palette: {
		Name:        Palette,
		Description: "Posterize to a few levels and optionally pixelate",
		Backend:     BackendWorker,
		Previewable: true,
		Params: []Param{
			{Name: "levels", Description: "Levels per channel", Default: 4, Min: 2, Max: 256, Integer: true},
			{Name: "pixel", Description: "Pixel size", Default: 1, Min: 1, Max: 64, Integer: true},
		},
	},
}

// All returns the catalogue sorted by name.
func All() []Effect {
	return slices.SortedFunc(maps.Values(catalogue), func(a, b Effect) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// Lookup finds an effect by name.
func Lookup(name string) (Effect, error) {
	e, ok := catalogue[name]
	if !ok {
		return Effect{}, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
	}
	return e, nil
}

// Resolve fills defaults into params and checks every value against its
// range. Unknown names are rejected.
func (e Effect) Resolve(params map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(e.Params))
	for _, p := range e.Params {
		out[p.Name] = p.Default
	}
	for name, v := range params {
		p, ok := e.param(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrUnknownParam, e.Name, name)
		}
		if math.IsNaN(v) || v < p.Min || v > p.Max {
			return nil, fmt.Errorf("%w: %s.%s=%v not in [%v, %v]", ErrParamRange, e.Name, name, v, p.Min, p.Max)
		}
		if p.Integer {
			v = math.Round(v)
		}
		out[name] = v
	}
	return out, nil
}

// Engine compiles resolved params into encode arguments. ok is false for
// effects not run by the engine.
func (e Effect) Engine(resolved map[string]float64) (EngineArgs, bool) {
	if e.Backend != BackendEngine || e.compile == nil {
		return EngineArgs{}, false
	}
	return e.compile(resolved), true
}

func (e Effect) param(name string) (Param, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Previewable returns the names of effects that can be previewed.
func Previewable() []string {
	var names []string
	for _, e := range All() {
		if e.Previewable {
			names = append(names, e.Name)
		}
	}
	return names
}
