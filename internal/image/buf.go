// Package image provides the floating-point RGBA image consumed by the
// bilateral filter, its GPU wire format, and conversion to and from encoded
// image files.
//
// Pixels are stored row-major as four float32 channels (R, G, B, A) in the
// nominal range [0, 1]. The alpha channel is carried through filtering
// untouched.
package image

import (
	"errors"
	"fmt"
)

// Common errors for image operations.
var (
	// ErrInvalidDimensions is returned when width or height is non-positive.
	ErrInvalidDimensions = errors.New("image: invalid dimensions")

	// ErrDataTooSmall is returned when provided data is smaller than required.
	ErrDataTooSmall = errors.New("image: data buffer too small")

	// ErrOutOfBounds is returned when pixel coordinates are outside image bounds.
	ErrOutOfBounds = errors.New("image: coordinates out of bounds")
)

const (
	// Channels is the number of channels per pixel (R, G, B, A).
	Channels = 4

	// AlphaChannel is the index of the alpha channel.
	AlphaChannel = 3

	// BytesPerPixel is the size of one pixel in the GPU wire format.
	BytesPerPixel = Channels * 4
)

// Float is a width×height grid of RGBA float32 pixels, row-major.
//
// Thread safety: concurrent reads are safe. Concurrent writes are safe only
// when goroutines write disjoint rows.
type Float struct {
	Width  int
	Height int

	// Pix holds Width*Height*Channels values. The channels of pixel (x, y)
	// start at Pix[(y*Width+x)*Channels].
	Pix []float32
}

// NewFloat creates a zeroed image with the given dimensions.
func NewFloat(width, height int) (*Float, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return &Float{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*Channels),
	}, nil
}

// NewUniform creates an image where every pixel has the given color.
func NewUniform(width, height int, r, g, b, a float32) (*Float, error) {
	f, err := NewFloat(width, height)
	if err != nil {
		return nil, err
	}
	f.Fill(r, g, b, a)
	return f, nil
}

// Validate reports whether the image header and pixel slice agree.
func (f *Float) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, f.Width, f.Height)
	}
	if len(f.Pix) < f.Width*f.Height*Channels {
		return fmt.Errorf("%w: have %d values, need %d", ErrDataTooSmall, len(f.Pix), f.Width*f.Height*Channels)
	}
	return nil
}

// Index returns the offset of the first channel of pixel (x, y) in Pix.
func (f *Float) Index(x, y int) int {
	return (y*f.Width + x) * Channels
}

// In reports whether (x, y) lies inside the image.
func (f *Float) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.Width && y < f.Height
}

// At returns channel c of pixel (x, y).
func (f *Float) At(x, y, c int) float32 {
	return f.Pix[f.Index(x, y)+c]
}

// Set stores v into channel c of pixel (x, y).
func (f *Float) Set(x, y, c int, v float32) {
	f.Pix[f.Index(x, y)+c] = v
}

// Pixel returns the four channels of pixel (x, y).
func (f *Float) Pixel(x, y int) [Channels]float32 {
	i := f.Index(x, y)
	return [Channels]float32{f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]}
}

// SetPixel stores all four channels of pixel (x, y).
func (f *Float) SetPixel(x, y int, px [Channels]float32) error {
	if !f.In(x, y) {
		return ErrOutOfBounds
	}
	copy(f.Pix[f.Index(x, y):], px[:])
	return nil
}

// Row returns the values of row y.
func (f *Float) Row(y int) []float32 {
	start := y * f.Width * Channels
	return f.Pix[start : start+f.Width*Channels]
}

// Fill sets every pixel to the given color.
func (f *Float) Fill(r, g, b, a float32) {
	for i := 0; i < len(f.Pix); i += Channels {
		f.Pix[i] = r
		f.Pix[i+1] = g
		f.Pix[i+2] = b
		f.Pix[i+3] = a
	}
}

// Clone returns a deep copy of the image.
func (f *Float) Clone() *Float {
	pix := make([]float32, len(f.Pix))
	copy(pix, f.Pix)
	return &Float{Width: f.Width, Height: f.Height, Pix: pix}
}

// SameSize reports whether o has the same dimensions as f.
func (f *Float) SameSize(o *Float) bool {
	return o != nil && f.Width == o.Width && f.Height == o.Height
}

// PixelCount returns Width*Height.
func (f *Float) PixelCount() int {
	return f.Width * f.Height
}

// ByteSize returns the size of the image in the GPU wire format.
func (f *Float) ByteSize() int {
	return f.PixelCount() * BytesPerPixel
}
