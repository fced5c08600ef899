// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	_ "embed"

	"github.com/gogpu/bilateral/internal/gpucore"
)

//go:embed shaders/bilateral_buffer.wgsl
var bilateralBufferWGSL string

//go:embed shaders/bilateral_image.wgsl
var bilateralImageWGSL string

// Kernel names. Devices that cannot compile WGSL select their built-in
// implementation by name.
const (
	KernelBilateralBuffer = "bilateral_buffer"
	KernelBilateralImage  = "bilateral_image"
)

// WorkgroupSize is the @workgroup_size of both kernels in x and y.
const WorkgroupSize = 16

// Binding slots shared by both kernels.
const (
	slotSource = 0
	slotOutput = 1
	slotParams = 2
)

func bufferKernelDesc() *gpucore.KernelDesc {
	return &gpucore.KernelDesc{
		Label:         "bilateral_buffer",
		Name:          KernelBilateralBuffer,
		Source:        bilateralBufferWGSL,
		EntryPoint:    "main",
		WorkgroupSize: [3]uint32{WorkgroupSize, WorkgroupSize, 1},
		Bindings: []gpucore.BindingLayout{
			{Binding: slotSource, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
			{Binding: slotOutput, Type: gpucore.BindingTypeStorageBuffer},
			{Binding: slotParams, Type: gpucore.BindingTypeUniformBuffer},
		},
	}
}

func imageKernelDesc() *gpucore.KernelDesc {
	return &gpucore.KernelDesc{
		Label:         "bilateral_image",
		Name:          KernelBilateralImage,
		Source:        bilateralImageWGSL,
		EntryPoint:    "main",
		WorkgroupSize: [3]uint32{WorkgroupSize, WorkgroupSize, 1},
		Bindings: []gpucore.BindingLayout{
			{Binding: slotSource, Type: gpucore.BindingTypeSampledTexture},
			{Binding: slotOutput, Type: gpucore.BindingTypeStorageBuffer},
			{Binding: slotParams, Type: gpucore.BindingTypeUniformBuffer},
		},
	}
}

// DispatchSize returns the work-group grid covering a width×height image.
func DispatchSize(width, height int) [3]uint32 {
	return [3]uint32{
		uint32((width + WorkgroupSize - 1) / WorkgroupSize),  //nolint:gosec // validated positive image dimension
		uint32((height + WorkgroupSize - 1) / WorkgroupSize), //nolint:gosec // validated positive image dimension
		1,
	}
}
