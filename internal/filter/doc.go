// Package filter implements the bilateral filter on float RGBA images.
//
// The weight of a neighbor q for a center pixel p in channel c is
//
//	w(p,q,c) = exp(-d² / 2σs²) · exp(-(I[q,c]-I[p,c])² / 2σi²)
//
// where d is the difference between the row-major linear indices of p and q
// (width·y + x), and I is the unfiltered source image. The filtered value is
// the weighted mean over the square window of the given radius, clipped to the
// image bounds. Alpha is copied unchanged.
//
// The linear index distance makes the spatial falloff width-dependent: a pixel
// one row away is width index units distant. This matches the established
// output of the tool and is kept so that existing results reproduce.
//
// Kernel evaluates single pixels and exposes the individual terms. Executor
// filters whole images, optionally across a worker pool. Both use float32
// arithmetic throughout.
package filter
