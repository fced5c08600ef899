// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/bilateral/internal/gpucore"
)

// ResourceKind distinguishes buffers from textures.
type ResourceKind uint8

const (
	// KindBuffer is a linear device buffer.
	KindBuffer ResourceKind = iota
	// KindTexture is a 2-D device texture.
	KindTexture
)

// String returns the kind name.
func (k ResourceKind) String() string {
	if k == KindTexture {
		return "texture"
	}
	return "buffer"
}

// ResourceState is the lifecycle state of a device resource.
//
// State machine:
//
//	Uninitialized -> Allocated -> Bound -> InFlight -> Synchronized -> Released
//	Allocated -> InFlight (transfer-only resources)
//	any -> Released
type ResourceState uint8

const (
	// StateUninitialized has no device memory yet.
	StateUninitialized ResourceState = iota

	// StateAllocated owns device memory; the host may write it.
	StateAllocated

	// StateBound is referenced by a bind group.
	StateBound

	// StateInFlight is referenced by a submitted command sequence.
	StateInFlight

	// StateSynchronized has completed all device work; the host may read it.
	StateSynchronized

	// StateReleased has returned its memory to the device.
	StateReleased
)

// String returns the state name.
func (s ResourceState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateAllocated:
		return "Allocated"
	case StateBound:
		return "Bound"
	case StateInFlight:
		return "InFlight"
	case StateSynchronized:
		return "Synchronized"
	case StateReleased:
		return "Released"
	default:
		return fmt.Sprintf("ResourceState(%d)", s)
	}
}

// CanTransition reports whether a resource in state s may move to state to.
func (s ResourceState) CanTransition(to ResourceState) bool {
	if s == StateReleased {
		return false
	}
	if to == StateReleased {
		return true
	}
	switch s {
	case StateUninitialized:
		return to == StateAllocated
	case StateAllocated:
		return to == StateBound || to == StateInFlight
	case StateBound:
		return to == StateInFlight
	case StateInFlight:
		return to == StateSynchronized
	default:
		return false
	}
}

// Resource is a buffer or texture owned by a ResourceManager.
//
// State changes are made by the owning manager; State may be read from any
// goroutine.
type Resource struct {
	kind   ResourceKind
	label  string
	size   uint64
	width  uint32
	height uint32

	buffer  gpucore.BufferID
	texture gpucore.TextureID
	state   atomic.Uint32
}

// Kind returns whether the resource is a buffer or a texture.
func (r *Resource) Kind() ResourceKind { return r.kind }

// Label returns the debug label.
func (r *Resource) Label() string { return r.label }

// Size returns the size in bytes.
func (r *Resource) Size() uint64 { return r.size }

// State returns the current lifecycle state.
func (r *Resource) State() ResourceState { return ResourceState(r.state.Load()) }

func (r *Resource) setState(s ResourceState) { r.state.Store(uint32(s)) }

// BufferID returns the device buffer handle.
func (r *Resource) BufferID() (gpucore.BufferID, error) {
	if r.State() == StateReleased {
		return gpucore.InvalidID, fmt.Errorf("%w: %s", ErrResourceReleased, r.label)
	}
	if r.kind != KindBuffer {
		return gpucore.InvalidID, fmt.Errorf("gpu: %s is a %s, not a buffer", r.label, r.kind)
	}
	return r.buffer, nil
}

// TextureID returns the device texture handle.
func (r *Resource) TextureID() (gpucore.TextureID, error) {
	if r.State() == StateReleased {
		return gpucore.InvalidID, fmt.Errorf("%w: %s", ErrResourceReleased, r.label)
	}
	if r.kind != KindTexture {
		return gpucore.InvalidID, fmt.Errorf("gpu: %s is a %s, not a texture", r.label, r.kind)
	}
	return r.texture, nil
}

// String returns a description used in debug logs.
func (r *Resource) String() string {
	return fmt.Sprintf("%s %q (%d bytes, %s)", r.kind, r.label, r.size, r.State())
}

func (r *Resource) transition(to ResourceState) error {
	from := r.State()
	if from == StateReleased {
		return fmt.Errorf("%w: %s", ErrResourceReleased, r.label)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, r.label, from, to)
	}
	r.setState(to)
	return nil
}
