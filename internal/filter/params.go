package filter

import (
	"errors"
	"fmt"
	"math"
)

// Default filter parameters.
const (
	DefaultSpatialSigma   = 35
	DefaultIntensitySigma = 35
	DefaultRadius         = 10
)

// ErrInvalidParams is returned when filter parameters are out of range.
var ErrInvalidParams = errors.New("filter: invalid parameters")

// Params are the constants of one filter run.
type Params struct {
	// SpatialSigma controls falloff with linear index distance. Must be > 0.
	SpatialSigma float32

	// IntensitySigma controls falloff with channel difference. Must be > 0.
	IntensitySigma float32

	// Radius is the half-size of the square window; the full window is
	// (2·Radius+1)² pixels before clipping. Must be >= 0.
	Radius int
}

// DefaultParams returns σs=35, σi=35, radius 10.
func DefaultParams() Params {
	return Params{
		SpatialSigma:   DefaultSpatialSigma,
		IntensitySigma: DefaultIntensitySigma,
		Radius:         DefaultRadius,
	}
}

// Validate reports whether p can be used for filtering.
func (p Params) Validate() error {
	if !validSigma(p.SpatialSigma) {
		return fmt.Errorf("%w: spatial sigma %v must be positive and finite", ErrInvalidParams, p.SpatialSigma)
	}
	if !validSigma(p.IntensitySigma) {
		return fmt.Errorf("%w: intensity sigma %v must be positive and finite", ErrInvalidParams, p.IntensitySigma)
	}
	if p.Radius < 0 {
		return fmt.Errorf("%w: radius %d must not be negative", ErrInvalidParams, p.Radius)
	}
	return nil
}

// EffectiveRadius returns the radius that reaches every in-bounds neighbor
// of a width×height image: Radius capped at max(width, height)-1. Larger
// radii select the same clipped windows.
func (p Params) EffectiveRadius(width, height int) int {
	return max(min(p.Radius, max(width, height)-1), 0)
}

// WindowSize returns the number of pixels in an unclipped window.
func (p Params) WindowSize() int {
	side := 2*p.Radius + 1
	return side * side
}

// String implements fmt.Stringer.
func (p Params) String() string {
	return fmt.Sprintf("σs=%g σi=%g r=%d", p.SpatialSigma, p.IntensitySigma, p.Radius)
}

func validSigma(s float32) bool {
	return s > 0 && !math.IsInf(float64(s), 0)
}
