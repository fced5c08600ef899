// Package bilateral provides an edge-preserving bilateral image filter with
// CPU and GPU execution paths.
//
// # Overview
//
// Every output pixel is a normalized weighted average of its neighbors inside
// a square window of radius R. The weight of a neighbor is the product of a
// spatial term, a Gaussian of the distance between the two pixels' linear
// indices (y*width + x), and an intensity term, a Gaussian of the per-channel
// value difference. Alpha is copied through unchanged.
//
// # Quick Start
//
//	import "github.com/gogpu/bilateral"
//
//	src, err := bilateral.Load("in.png")
//	if err != nil {
//	    return err
//	}
//	out, err := bilateral.Apply(ctx, src, bilateral.DefaultParams(), bilateral.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	err = bilateral.Save("out.jpg", out, bilateral.DefaultQuality)
//
// # Execution Modes
//
//   - ModeCPU: a single goroutine evaluates every pixel
//   - ModeCPUParallel: rows are split into bands across a worker pool
//   - ModeGPU: a compute kernel runs on a Vulkan device (or the software
//     device), with the source held in a storage buffer or a sampled image
//
// All modes produce the same image up to float32 rounding on the GPU.
//
// # Logging
//
// The package is silent by default. SetLogger enables structured logging
// through log/slog for the package and its GPU backend.
package bilateral

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
