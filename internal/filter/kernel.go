package filter

import (
	"fmt"
	"math"

	"github.com/gogpu/bilateral/internal/cache"
	"github.com/gogpu/bilateral/internal/image"
)

// Point is a pixel coordinate.
type Point struct {
	X, Y int
}

// Window is the clipped neighborhood of a pixel: columns [X0, X1) and
// rows [Y0, Y1).
type Window struct {
	X0, Y0, X1, Y1 int
}

// Count returns the number of pixels in the window.
func (w Window) Count() int {
	return (w.X1 - w.X0) * (w.Y1 - w.Y0)
}

// Kernel evaluates the bilateral filter over one source image.
//
// A Kernel is read-only after construction and safe for concurrent use.
// Scratch space for FilterPixel is owned by the caller.
type Kernel struct {
	src    *image.Float
	params Params

	// radius is params.Radius capped by the image size.
	radius int

	// invSpatial and invIntensity are 1/(2σ²).
	invSpatial   float32
	invIntensity float32

	// spatial holds the spatial factor for every window offset (dx, dy),
	// indexed by (dy+r)·(2r+1) + (dx+r) with r the capped radius.
	spatial []float32
}

// NewKernel binds params to a source image.
func NewKernel(src *image.Float, p Params) (*Kernel, error) {
	if src == nil {
		return nil, ErrNilImage
	}
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("filter: source: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r := p.EffectiveRadius(src.Width, src.Height)
	return &Kernel{
		src:          src,
		params:       p,
		radius:       r,
		invSpatial:   1 / (2 * p.SpatialSigma * p.SpatialSigma),
		invIntensity: 1 / (2 * p.IntensitySigma * p.IntensitySigma),
		spatial:      spatialTable(src.Width, r, p.SpatialSigma),
	}, nil
}

// Params returns the parameters the kernel was built with.
func (k *Kernel) Params() Params {
	return k.params
}

// linearIndex is the row-major index of p.
func (k *Kernel) linearIndex(p Point) int {
	return p.Y*k.src.Width + p.X
}

func (k *Kernel) spatialFactor(d int) float32 {
	fd := float32(d)
	return exp32(-(fd * fd) * k.invSpatial)
}

func (k *Kernel) intensityFactor(diff float32) float32 {
	return exp32(-(diff * diff) * k.invIntensity)
}

// Weight returns the contribution weight of p2 to the filtered value of p1
// in channel c. Weight(p, p, c) is exactly 1 and no weight exceeds it.
func (k *Kernel) Weight(p1, p2 Point, c int) float32 {
	d := k.linearIndex(p2) - k.linearIndex(p1)
	diff := k.src.At(p2.X, p2.Y, c) - k.src.At(p1.X, p1.Y, c)
	return k.spatialFactor(d) * k.intensityFactor(diff)
}

// Window returns the neighborhood of p clipped to the image bounds.
// Out-of-bounds neighbors are skipped, never padded.
func (k *Kernel) Window(p Point) Window {
	r := k.radius
	return Window{
		X0: max(p.X-r, 0),
		Y0: max(p.Y-r, 0),
		X1: min(p.X+r+1, k.src.Width),
		Y1: min(p.Y+r+1, k.src.Height),
	}
}

// NeighborCount returns the number of in-bounds neighbors of p, including p.
func (k *Kernel) NeighborCount(p Point) int {
	return k.Window(p).Count()
}

// Normalization returns the sum of weights over the clipped window of p.
// The result is at least 1 because p is always in its own window.
func (k *Kernel) Normalization(p Point, c int) float32 {
	w := k.Window(p)
	var sum float32
	for y := w.Y0; y < w.Y1; y++ {
		for x := w.X0; x < w.X1; x++ {
			sum += k.Weight(p, Point{x, y}, c)
		}
	}
	return sum
}

// FilteredValue returns the filtered value of channel c at p. The alpha
// channel is returned unchanged.
func (k *Kernel) FilteredValue(p Point, c int) float32 {
	if c == image.AlphaChannel {
		return k.src.At(p.X, p.Y, c)
	}
	w := k.Window(p)
	var sum, norm float32
	for y := w.Y0; y < w.Y1; y++ {
		for x := w.X0; x < w.X1; x++ {
			q := Point{x, y}
			wt := k.Weight(p, q, c)
			sum += k.src.At(x, y, c) * wt
			norm += wt
		}
	}
	return sum / norm
}

// NewScratch allocates a weight buffer large enough for FilterPixel. Its
// length is the largest clipped window.
func (k *Kernel) NewScratch() []float32 {
	side := 2*k.radius + 1
	return make([]float32, min(side, k.src.Width)*min(side, k.src.Height))
}

// FilterPixel computes all four output channels of p.
//
// Weights for each color channel are computed once into scratch and then
// applied, giving the same result as FilteredValue. scratch must be at least
// as long as NewScratch returns and must not be shared between goroutines.
func (k *Kernel) FilterPixel(p Point, scratch []float32) [image.Channels]float32 {
	w := k.Window(p)
	r := k.radius
	side := 2*r + 1
	src := k.src

	var out [image.Channels]float32
	center := src.Pixel(p.X, p.Y)
	out[image.AlphaChannel] = center[image.AlphaChannel]

	for c := range image.AlphaChannel {
		n := 0
		var norm float32
		for y := w.Y0; y < w.Y1; y++ {
			row := (y - p.Y + r) * side
			for x := w.X0; x < w.X1; x++ {
				diff := src.At(x, y, c) - center[c]
				wt := k.spatial[row+x-p.X+r] * k.intensityFactor(diff)
				scratch[n] = wt
				norm += wt
				n++
			}
		}

		var sum float32
		n = 0
		for y := w.Y0; y < w.Y1; y++ {
			for x := w.X0; x < w.X1; x++ {
				sum += src.At(x, y, c) * scratch[n]
				n++
			}
		}
		out[c] = sum / norm
	}
	return out
}

// FilterRows writes filtered rows [y0, y1) of the source into dst.
func (k *Kernel) FilterRows(dst *image.Float, y0, y1 int, scratch []float32) {
	for y := y0; y < y1; y++ {
		for x := range k.src.Width {
			px := k.FilterPixel(Point{x, y}, scratch)
			copy(dst.Pix[dst.Index(x, y):], px[:])
		}
	}
}

func exp32(v float32) float32 {
	return float32(math.Exp(float64(v)))
}

// spatialKey identifies a spatial factor table.
type spatialKey struct {
	width  int
	radius int
	sigma  uint32
}

// spatialTables keeps recently used tables so that repeated runs over
// same-width images skip recomputation.
var spatialTables = cache.New[spatialKey, []float32](32)

func spatialTable(width, radius int, sigma float32) []float32 {
	key := spatialKey{width: width, radius: radius, sigma: math.Float32bits(sigma)}
	t, _ := spatialTables.GetOrCreate(key, func() ([]float32, error) {
		return buildSpatialTable(width, radius, sigma), nil
	})
	return t
}

// buildSpatialTable lays out exp(-d²/2σs²) for every window offset, where d
// is the linear index distance dy·width + dx.
func buildSpatialTable(width, r int, sigma float32) []float32 {
	side := 2*r + 1
	inv := 1 / (2 * sigma * sigma)
	t := make([]float32, side*side)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d := float32(dy*width + dx)
			t[(dy+r)*side+dx+r] = exp32(-(d * d) * inv)
		}
	}
	return t
}
