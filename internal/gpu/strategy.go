// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"strings"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpucore"
	"github.com/gogpu/bilateral/internal/image"
)

// StorageMode selects how the source image is presented to the kernel.
type StorageMode uint8

const (
	// StorageBuffer uploads the source into a linear storage buffer.
	StorageBuffer StorageMode = iota

	// StorageImage uploads the source into a sampled RGBA32F texture through
	// a staging buffer.
	StorageImage
)

// String returns the mode name.
func (m StorageMode) String() string {
	switch m {
	case StorageBuffer:
		return "buffer"
	case StorageImage:
		return "image"
	default:
		return fmt.Sprintf("StorageMode(%d)", m)
	}
}

// ParseStorageMode parses "buffer" or "image".
func ParseStorageMode(s string) (StorageMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buffer":
		return StorageBuffer, nil
	case "image", "texture":
		return StorageImage, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStorageMode, s)
	}
}

// textureRowAlignment is the required bytes-per-row alignment of
// buffer-to-texture copies.
const textureRowAlignment = 256

// sentinelColor fills the texture before upload so that texels the copy
// misses are visible in the output.
var sentinelColor = [4]float32{1, 0, 1, 1}

// Strategy encapsulates everything that differs between storage modes.
//
// A Strategy holds the resources of a single run; create a new one per run
// with NewStrategy.
type Strategy interface {
	// Mode returns the storage mode.
	Mode() StorageMode

	// Kernel describes the compute kernel.
	Kernel() *gpucore.KernelDesc

	// Allocate creates the device resources for a width×height image.
	Allocate(rm *ResourceManager, width, height int) error

	// Upload writes the source image and parameters into device resources.
	Upload(rm *ResourceManager, src *image.Float, p filter.Params) error

	// Bindings returns the kernel bindings.
	Bindings() []Binding

	// PreDispatch records the commands that must precede the dispatch.
	PreDispatch(enc *gpucore.Encoder) error

	// PostDispatch records the commands that make the output readable.
	PostDispatch(enc *gpucore.Encoder) error

	// Readback reads the synchronized output into a new image.
	Readback(rm *ResourceManager) (*image.Float, error)
}

// NewStrategy returns a fresh strategy for mode.
func NewStrategy(mode StorageMode) (Strategy, error) {
	switch mode {
	case StorageBuffer:
		return &bufferStrategy{}, nil
	case StorageImage:
		return &imageStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStorageMode, mode)
	}
}

// common holds the resources shared by both strategies: output, params and
// readback buffers.
type common struct {
	width, height int

	output   *Resource
	params   *Resource
	readback *Resource
}

func (c *common) allocateShared(rm *ResourceManager, width, height int) error {
	c.width, c.height = width, height
	size := uint64(width) * uint64(height) * image.BytesPerPixel //nolint:gosec // validated positive image dimensions

	var err error
	if c.output, err = rm.AllocateBuffer("bilateral.output", size,
		gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc); err != nil {
		return err
	}
	if c.params, err = rm.AllocateBuffer("bilateral.params", paramsSize,
		gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst); err != nil {
		return err
	}
	if c.readback, err = rm.AllocateBuffer("bilateral.readback", size,
		gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst); err != nil {
		return err
	}
	return nil
}

func (c *common) uploadParams(rm *ResourceManager, p filter.Params) error {
	return rm.Write(c.params, 0, newKernelParams(c.width, c.height, p).toBytes())
}

// copyOut records the output barrier and the copy into the readback buffer.
func (c *common) copyOut(enc *gpucore.Encoder) error {
	out, err := c.output.BufferID()
	if err != nil {
		return err
	}
	rb, err := c.readback.BufferID()
	if err != nil {
		return err
	}
	if err := enc.BufferBarrier(out, gpucore.AccessShaderWrite, gpucore.AccessTransferRead); err != nil {
		return err
	}
	return enc.CopyBufferToBuffer(out, rb, 0, 0, c.output.Size())
}

func (c *common) Readback(rm *ResourceManager) (*image.Float, error) {
	data := make([]byte, c.readback.Size())
	if err := rm.Read(c.readback, 0, data); err != nil {
		return nil, err
	}
	return image.FromBytes(c.width, c.height, data, 0)
}

// bufferStrategy presents the source as a linear storage buffer.
type bufferStrategy struct {
	common
	input *Resource
}

func (s *bufferStrategy) Mode() StorageMode { return StorageBuffer }

func (s *bufferStrategy) Kernel() *gpucore.KernelDesc { return bufferKernelDesc() }

func (s *bufferStrategy) Allocate(rm *ResourceManager, width, height int) error {
	size := uint64(width) * uint64(height) * image.BytesPerPixel //nolint:gosec // validated positive image dimensions
	var err error
	if s.input, err = rm.AllocateBuffer("bilateral.input", size,
		gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst); err != nil {
		return err
	}
	return s.allocateShared(rm, width, height)
}

func (s *bufferStrategy) Upload(rm *ResourceManager, src *image.Float, p filter.Params) error {
	if err := rm.Write(s.input, 0, src.Bytes()); err != nil {
		return err
	}
	return s.uploadParams(rm, p)
}

func (s *bufferStrategy) Bindings() []Binding {
	return []Binding{
		{Slot: slotSource, Resource: s.input},
		{Slot: slotOutput, Resource: s.output},
		{Slot: slotParams, Resource: s.params},
	}
}

// PreDispatch records nothing: host writes are visible to the next submission.
func (s *bufferStrategy) PreDispatch(*gpucore.Encoder) error { return nil }

func (s *bufferStrategy) PostDispatch(enc *gpucore.Encoder) error { return s.copyOut(enc) }

// imageStrategy presents the source as a sampled texture filled from a
// staging buffer with 256-byte aligned rows.
type imageStrategy struct {
	common
	staging *Resource
	texture *Resource
	pitch   int
}

func (s *imageStrategy) Mode() StorageMode { return StorageImage }

func (s *imageStrategy) Kernel() *gpucore.KernelDesc { return imageKernelDesc() }

func (s *imageStrategy) Allocate(rm *ResourceManager, width, height int) error {
	s.pitch = image.RowPitch(width, textureRowAlignment)
	var err error
	if s.staging, err = rm.AllocateBuffer("bilateral.staging", uint64(s.pitch)*uint64(height), //nolint:gosec // validated positive image dimensions
		gpucore.BufferUsageCopySrc|gpucore.BufferUsageCopyDst); err != nil {
		return err
	}
	if s.texture, err = rm.AllocateTexture("bilateral.texture", uint32(width), uint32(height), //nolint:gosec // validated positive image dimensions
		gpucore.TextureUsageCopyDst|gpucore.TextureUsageTextureBinding); err != nil {
		return err
	}
	return s.allocateShared(rm, width, height)
}

func (s *imageStrategy) Upload(rm *ResourceManager, src *image.Float, p filter.Params) error {
	data := make([]byte, s.staging.Size())
	if err := src.PutBytes(data, s.pitch); err != nil {
		return err
	}
	if err := rm.Write(s.staging, 0, data); err != nil {
		return err
	}
	return s.uploadParams(rm, p)
}

func (s *imageStrategy) Bindings() []Binding {
	return []Binding{
		{Slot: slotSource, Resource: s.texture},
		{Slot: slotOutput, Resource: s.output},
		{Slot: slotParams, Resource: s.params},
	}
}

// PreDispatch moves the texture into TransferDst, clears it to the sentinel,
// copies the staging rows in and makes it readable by the kernel.
func (s *imageStrategy) PreDispatch(enc *gpucore.Encoder) error {
	tex, err := s.texture.TextureID()
	if err != nil {
		return err
	}
	staging, err := s.staging.BufferID()
	if err != nil {
		return err
	}
	if err := enc.TransitionTexture(tex, gpucore.LayoutUndefined, gpucore.LayoutTransferDst); err != nil {
		return err
	}
	if err := enc.ClearTexture(tex, sentinelColor); err != nil {
		return err
	}
	if err := enc.CopyBufferToTexture(staging, tex, uint32(s.pitch), uint32(s.width), uint32(s.height)); err != nil { //nolint:gosec // validated positive image dimensions
		return err
	}
	return enc.TransitionTexture(tex, gpucore.LayoutTransferDst, gpucore.LayoutShaderReadOnly)
}

func (s *imageStrategy) PostDispatch(enc *gpucore.Encoder) error { return s.copyOut(enc) }
