// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/bilateral/internal/filter"
)

// paramsSize is the size of the Params uniform in bytes.
//
// WGSL layout:
//
//	struct Params {
//	    width: u32,
//	    height: u32,
//	    radius: i32,
//	    pad0: u32,
//	    inv_spatial: f32,     // 1 / (2·σs²)
//	    inv_intensity: f32,   // 1 / (2·σi²)
//	    spatial_sigma: f32,
//	    intensity_sigma: f32,
//	}
const paramsSize = 32

// kernelParams is the host copy of the Params uniform. Radius holds the
// radius capped by the image size, so it always fits an i32.
type kernelParams struct {
	Width          uint32
	Height         uint32
	Radius         int32
	SpatialSigma   float32
	IntensitySigma float32
}

func newKernelParams(width, height int, p filter.Params) kernelParams {
	return kernelParams{
		Width:          uint32(width),  //nolint:gosec // validated positive image dimension
		Height:         uint32(height), //nolint:gosec // validated positive image dimension
		Radius:         int32(p.EffectiveRadius(width, height)), //nolint:gosec // capped by the image size
		SpatialSigma:   p.SpatialSigma,
		IntensitySigma: p.IntensitySigma,
	}
}

// Params converts back to filter parameters.
func (k kernelParams) Params() filter.Params {
	return filter.Params{
		SpatialSigma:   k.SpatialSigma,
		IntensitySigma: k.IntensitySigma,
		Radius:         int(k.Radius),
	}
}

// toBytes encodes the uniform as little-endian bytes.
func (k kernelParams) toBytes() []byte {
	buf := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(buf[0:], k.Width)
	binary.LittleEndian.PutUint32(buf[4:], k.Height)
	binary.LittleEndian.PutUint32(buf[8:], uint32(k.Radius)) //nolint:gosec // bit reinterpretation of i32
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(inverseTwoSigmaSq(k.SpatialSigma)))
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(inverseTwoSigmaSq(k.IntensitySigma)))
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(k.SpatialSigma))
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(k.IntensitySigma))
	return buf
}

// parseKernelParams decodes a Params uniform.
func parseKernelParams(data []byte) (kernelParams, error) {
	if len(data) < paramsSize {
		return kernelParams{}, fmt.Errorf("gpu: params uniform too small: %d bytes", len(data))
	}
	return kernelParams{
		Width:          binary.LittleEndian.Uint32(data[0:]),
		Height:         binary.LittleEndian.Uint32(data[4:]),
		Radius:         int32(binary.LittleEndian.Uint32(data[8:])), //nolint:gosec // bit reinterpretation of i32
		SpatialSigma:   math.Float32frombits(binary.LittleEndian.Uint32(data[24:])),
		IntensitySigma: math.Float32frombits(binary.LittleEndian.Uint32(data[28:])),
	}, nil
}

func inverseTwoSigmaSq(sigma float32) float32 {
	return 1 / (2 * sigma * sigma)
}
