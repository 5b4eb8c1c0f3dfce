// Package pixfx implements the pixel effects the native worker applies to
// RGBA frames.
package pixfx

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"slices"
	"sort"

	"golang.org/x/image/draw"
)

// ErrUnknownEffect is returned for an effect name with no implementation.
var ErrUnknownEffect = errors.New("unknown pixel effect")

// Frame bounds. Each side is checked before multiplying so the byte count
// cannot overflow.
const (
	MaxDimension = 8192
	MaxPixels    = 7680 * 4320
)

// FrameBytes returns width*height*4. ok is false when either side is not
// positive, exceeds MaxDimension, or the frame exceeds MaxPixels.
func FrameBytes(width, height int) (n int, ok bool) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return 0, false
	}
	if width*height > MaxPixels {
		return 0, false
	}
	return width * height * 4, true
}

// Params are an effect's numeric parameters.
type Params map[string]float64

// Get returns p[key] or def when unset.
func (p Params) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Effect transforms img in place. frame is the zero-based frame index and
// seeds effects that vary over time.
type Effect func(img *image.RGBA, p Params, frame int64)

var registry = map[string]Effect{
	"invert":     invert,
	"rgbshift":   rgbShift,
	"noise":      noise,
	"pixelsort":  pixelSort,
	"blockshift": blockShift,
	"palette":    palette,
}

// Names lists the available effects in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether name is implemented.
func Has(name string) bool {
	_, ok := registry[name]
	return ok
}

// Apply runs effect name over img.
func Apply(name string, img *image.RGBA, p Params, frame int64) error {
	fx, ok := registry[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEffect, name)
	}
	fx(img, p, frame)
	return nil
}

// FromPix wraps a tightly packed RGBA buffer without copying.
func FromPix(width, height int, pix []byte) (*image.RGBA, error) {
	if n, ok := FrameBytes(width, height); !ok || len(pix) != n {
		return nil, fmt.Errorf("rgba buffer of %d bytes does not match %dx%d", len(pix), width, height)
	}
	return &image.RGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}, nil
}

// ToRGBA converts any image into a new RGBA image.
func ToRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == rgba.Rect.Dx()*4 {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func rng(p Params, frame int64) *rand.Rand {
	seed := uint64(int64(p.Get("seed", 0))) + uint64(frame)
	return rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func luma(pix []byte) float64 {
	return (0.299*float64(pix[0]) + 0.587*float64(pix[1]) + 0.114*float64(pix[2])) / 255
}

func invert(img *image.RGBA, _ Params, _ int64) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = 255 - img.Pix[i]
		img.Pix[i+1] = 255 - img.Pix[i+1]
		img.Pix[i+2] = 255 - img.Pix[i+2]
	}
}

// rgbShift moves the red channel right and the blue channel left by offset pixels.
func rgbShift(img *image.RGBA, p Params, _ int64) {
	offset := int(p.Get("offset", 8))
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if offset == 0 || w == 0 {
		return
	}
	row := make([]byte, w*4)
	for y := range h {
		line := img.Pix[y*img.Stride : y*img.Stride+w*4]
		copy(row, line)
		for x := range w {
			rx := min(max(x-offset, 0), w-1)
			bx := min(max(x+offset, 0), w-1)
			line[x*4] = row[rx*4]
			line[x*4+2] = row[bx*4+2]
		}
	}
}

func noise(img *image.RGBA, p Params, frame int64) {
	amount := p.Get("amount", 0.2) * 255
	r := rng(p, frame)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		d := (r.Float64()*2 - 1) * amount
		img.Pix[i] = clampByte(float64(img.Pix[i]) + d)
		img.Pix[i+1] = clampByte(float64(img.Pix[i+1]) + d)
		img.Pix[i+2] = clampByte(float64(img.Pix[i+2]) + d)
	}
}

// pixelSort sorts each row's runs of pixels brighter than threshold by luma.
func pixelSort(img *image.RGBA, p Params, _ int64) {
	threshold := p.Get("threshold", 0.5)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	type px struct {
		v [4]byte
		l float64
	}
	run := make([]px, 0, w)
	for y := range h {
		line := img.Pix[y*img.Stride : y*img.Stride+w*4]
		start := -1
		flush := func(end int) {
			if start < 0 || end-start < 2 {
				start = -1
				return
			}
			run = run[:0]
			for x := start; x < end; x++ {
				var v [4]byte
				copy(v[:], line[x*4:x*4+4])
				run = append(run, px{v: v, l: luma(v[:])})
			}
			sort.SliceStable(run, func(i, j int) bool { return run[i].l < run[j].l })
			for i, q := range run {
				copy(line[(start+i)*4:], q.v[:])
			}
			start = -1
		}
		for x := range w {
			if luma(line[x*4:x*4+4]) > threshold {
				if start < 0 {
					start = x
				}
				continue
			}
			flush(x)
		}
		flush(w)
	}
}

// blockShift slides random horizontal bands sideways, wrapping at the edge.
func blockShift(img *image.RGBA, p Params, frame int64) {
	block := max(1, int(p.Get("block", 16)))
	amount := int(p.Get("amount", 32))
	prob := p.Get("probability", 0.3)
	if amount <= 0 {
		return
	}
	r := rng(p, frame)
	b := img.Rect
	w := b.Dx()
	band := image.NewRGBA(image.Rect(0, 0, w, block))
	for y := b.Min.Y; y < b.Max.Y; y += block {
		if r.Float64() >= prob {
			continue
		}
		shift := (r.IntN(2*amount+1) - amount) % w
		if shift == 0 {
			continue
		}
		if shift < 0 {
			shift += w
		}
		rect := image.Rect(b.Min.X, y, b.Max.X, min(y+block, b.Max.Y))
		draw.Draw(band, band.Bounds(), img, rect.Min, draw.Src)
		// right part of the band wraps to the left edge
		draw.Draw(img, image.Rect(rect.Min.X+shift, rect.Min.Y, rect.Max.X, rect.Max.Y), band, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+shift, rect.Max.Y), band, image.Pt(w-shift, 0), draw.Src)
	}
}

// palette pixelates by pixel then posterizes each channel to levels steps.
func palette(img *image.RGBA, p Params, _ int64) {
	levels := min(max(int(p.Get("levels", 4)), 2), 256)
	pixel := max(1, int(p.Get("pixel", 1)))
	b := img.Rect

	if pixel > 1 {
		small := image.NewRGBA(image.Rect(0, 0, max(1, b.Dx()/pixel), max(1, b.Dy()/pixel)))
		draw.ApproxBiLinear.Scale(small, small.Bounds(), img, b, draw.Src, nil)
		draw.NearestNeighbor.Scale(img, b, small, small.Bounds(), draw.Src, nil)
	}

	step := 255 / float64(levels-1)
	var lut [256]uint8
	for i := range lut {
		lut[i] = clampByte(float64(int(float64(i)/step+0.5)) * step)
	}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
}
