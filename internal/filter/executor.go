package filter

import (
	"errors"
	"fmt"

	"github.com/gogpu/bilateral/internal/image"
	"github.com/gogpu/bilateral/internal/parallel"
)

// Executor errors.
var (
	// ErrNilImage is returned when a source or destination image is nil.
	ErrNilImage = errors.New("filter: nil image")

	// ErrDimensionMismatch is returned when source and destination sizes differ.
	ErrDimensionMismatch = errors.New("filter: dimension mismatch")

	// ErrAliasedImage is returned when source and destination share storage.
	ErrAliasedImage = errors.New("filter: source and destination overlap")
)

// DefaultWorkers is the worker count used for parallel CPU filtering when
// none is configured.
const DefaultWorkers = 4

// bandsPerWorker splits the image finer than the worker count so that work
// stealing can even out slow bands.
const bandsPerWorker = 4

// Executor runs the bilateral filter over whole images on the CPU.
//
// With Workers <= 1 rows are filtered serially on the calling goroutine.
// Otherwise rows are split into contiguous bands executed on a worker pool.
// Each band writes a disjoint row range of the destination and reads only the
// source, so the result does not depend on Workers or scheduling.
type Executor struct {
	Workers int
}

// Run filters src into dst. dst must have the same dimensions as src and must
// not share its pixel storage.
func (e Executor) Run(src, dst *image.Float, p Params) error {
	if src == nil || dst == nil {
		return ErrNilImage
	}
	if err := src.Validate(); err != nil {
		return fmt.Errorf("filter: source: %w", err)
	}
	if !src.SameSize(dst) || len(dst.Pix) < len(src.Pix) {
		return fmt.Errorf("%w: source %dx%d, destination %dx%d (%d values)",
			ErrDimensionMismatch, src.Width, src.Height, dst.Width, dst.Height, len(dst.Pix))
	}
	if sameBacking(src.Pix, dst.Pix) {
		return ErrAliasedImage
	}

	k, err := NewKernel(src, p)
	if err != nil {
		return err
	}

	if e.Workers <= 1 || src.Height == 1 {
		k.FilterRows(dst, 0, src.Height, k.NewScratch())
		return nil
	}

	pool := parallel.NewWorkerPool(e.Workers)
	defer pool.Close()

	bands := parallel.SplitRows(src.Height, e.Workers*bandsPerWorker)
	return pool.ExecuteBands(bands, func(b parallel.Band) {
		k.FilterRows(dst, b.Y0, b.Y1, k.NewScratch())
	})
}

// sameBacking reports whether a and b are views of one backing array.
// Slices of one array share its last element, whatever their offsets.
func sameBacking(a, b []float32) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return false
	}
	return &a[:cap(a)][cap(a)-1] == &b[:cap(b)][cap(b)-1]
}

// Apply filters src into a newly allocated image.
func (e Executor) Apply(src *image.Float, p Params) (*image.Float, error) {
	if src == nil {
		return nil, ErrNilImage
	}
	dst, err := image.NewFloat(src.Width, src.Height)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if err := e.Run(src, dst, p); err != nil {
		return nil, err
	}
	return dst, nil
}
