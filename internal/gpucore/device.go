// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"time"
)

// Device errors.
var (
	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")

	// ErrOutOfMemory is returned when the device cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("gpucore: out of device memory")

	// ErrUnsupported is returned for formats or kernels the device cannot handle.
	ErrUnsupported = errors.New("gpucore: unsupported")

	// ErrDeviceLost is returned after the device has been closed or lost.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrInvalidBinding is returned when a bind group does not satisfy its
	// kernel's layout.
	ErrInvalidBinding = errors.New("gpucore: invalid binding")
)

// Device abstracts the device and queue used by the compute path.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource referenced by a pending submission is undefined
//   - IDs become invalid after destruction and are never reused
//
// Implementations must be safe for concurrent use, but the compute path only
// ever has one submission in flight.
type Device interface {
	// Name returns a human-readable adapter name.
	Name() string

	// CreateBuffer allocates a buffer with undefined contents.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// CreateTexture allocates a texture in LayoutUndefined.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)

	// CreateKernel compiles a kernel and its binding layout.
	CreateKernel(desc *KernelDesc) (KernelID, error)

	// DestroyKernel releases a kernel.
	DestroyKernel(id KernelID)

	// CreateBindGroup binds resources to a kernel's layout.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// WriteBuffer copies host data into a host-writable buffer. The write is
	// visible to the next submitted sequence.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies buffer contents into dst. The caller must have
	// waited on every submission that writes the buffer.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// Submit executes a finished command sequence and returns a fence that
	// signals on completion. A sequence can be submitted once.
	Submit(seq *CommandSequence) (FenceID, error)

	// Wait blocks until the fence signals or timeout elapses. It returns
	// false with a nil error on timeout.
	Wait(fence FenceID, timeout time.Duration) (bool, error)

	// DestroyFence releases a fence.
	DestroyFence(fence FenceID)

	// Close releases the device.
	Close() error
}
