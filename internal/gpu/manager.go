// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/bilateral/internal/gpucore"
)

// Binding attaches a resource to one slot of a kernel's bind group.
type Binding struct {
	Slot     uint32
	Resource *Resource

	// Offset and Size select a buffer range. Size 0 binds the whole buffer.
	Offset uint64
	Size   uint64
}

// ResourceManager owns every device object of one compute run and enforces
// the resource state machine.
//
// Objects are released exactly once, in reverse creation order, by Release or
// ReleaseAll. ResourceManager is safe for concurrent use.
type ResourceManager struct {
	dev gpucore.Device

	mu         sync.Mutex
	resources  []*Resource
	kernels    []gpucore.KernelID
	bindGroups []gpucore.BindGroupID
	bound      map[gpucore.KernelID]bool
	groupRefs  map[gpucore.BindGroupID][]*Resource
	inFlight   []*Resource
	fence      gpucore.FenceID
	closed     bool
}

// NewResourceManager creates a manager allocating from dev.
func NewResourceManager(dev gpucore.Device) (*ResourceManager, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	return &ResourceManager{
		dev:       dev,
		bound:     make(map[gpucore.KernelID]bool),
		groupRefs: make(map[gpucore.BindGroupID][]*Resource),
	}, nil
}

// AllocateBuffer creates a buffer of size bytes.
func (m *ResourceManager) AllocateBuffer(label string, size uint64, usage gpucore.BufferUsage) (*Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: manager closed", ErrResourceReleased)
	}

	r := &Resource{kind: KindBuffer, label: label, size: size}
	id, err := m.dev.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("%w: buffer %q (%d bytes): %w", ErrResourceAllocation, label, size, err)
	}
	r.buffer = id
	if err := r.transition(StateAllocated); err != nil {
		m.dev.DestroyBuffer(id)
		return nil, err
	}
	m.resources = append(m.resources, r)
	slogger().Debug("gpu: buffer allocated", "label", label, "size", size, "id", id)
	return r, nil
}

// AllocateTexture creates an RGBA32F texture of width×height texels.
func (m *ResourceManager) AllocateTexture(label string, width, height uint32, usage gpucore.TextureUsage) (*Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: manager closed", ErrResourceReleased)
	}

	format := gpucore.TextureFormatRGBA32Float
	size := uint64(width) * uint64(height) * uint64(format.BytesPerTexel())
	r := &Resource{kind: KindTexture, label: label, size: size, width: width, height: height}
	id, err := m.dev.CreateTexture(&gpucore.TextureDesc{
		Label:  label,
		Width:  width,
		Height: height,
		Format: format,
		Usage:  usage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: texture %q (%dx%d): %w", ErrResourceAllocation, label, width, height, err)
	}
	r.texture = id
	if err := r.transition(StateAllocated); err != nil {
		m.dev.DestroyTexture(id)
		return nil, err
	}
	m.resources = append(m.resources, r)
	slogger().Debug("gpu: texture allocated", "label", label, "width", width, "height", height, "id", id)
	return r, nil
}

// CreateKernel compiles a kernel. The kernel is released by ReleaseAll.
func (m *ResourceManager) CreateKernel(desc *gpucore.KernelDesc) (gpucore.KernelID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return gpucore.InvalidID, fmt.Errorf("%w: manager closed", ErrResourceReleased)
	}

	id, err := m.dev.CreateKernel(desc)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: kernel %q: %w", ErrResourceAllocation, desc.Label, err)
	}
	m.kernels = append(m.kernels, id)
	return id, nil
}

// Bind creates the bind group of kernel and moves every bound resource to
// StateBound. A kernel can be bound once.
func (m *ResourceManager) Bind(kernel gpucore.KernelID, label string, bindings []Binding) (gpucore.BindGroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bound[kernel] {
		return gpucore.InvalidID, fmt.Errorf("%w: kernel %d", ErrAlreadyBound, kernel)
	}

	entries := make([]gpucore.BindGroupEntry, 0, len(bindings))
	refs := make([]*Resource, 0, len(bindings))
	for _, b := range bindings {
		r := b.Resource
		if r == nil {
			return gpucore.InvalidID, fmt.Errorf("gpu: binding %d has no resource", b.Slot)
		}
		if r.State() == StateReleased {
			return gpucore.InvalidID, fmt.Errorf("%w: %s", ErrResourceReleased, r.label)
		}
		if !r.State().CanTransition(StateBound) {
			return gpucore.InvalidID, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, r.label, r.State(), StateBound)
		}
		e := gpucore.BindGroupEntry{Binding: b.Slot, Offset: b.Offset, Size: b.Size}
		if r.kind == KindTexture {
			e.Texture = r.texture
		} else {
			e.Buffer = r.buffer
		}
		entries = append(entries, e)
		refs = append(refs, r)
	}

	id, err := m.dev.CreateBindGroup(&gpucore.BindGroupDesc{Label: label, Kernel: kernel, Entries: entries})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group %q: %w", ErrResourceAllocation, label, err)
	}
	for _, r := range refs {
		r.setState(StateBound)
	}
	m.bound[kernel] = true
	m.bindGroups = append(m.bindGroups, id)
	m.groupRefs[id] = refs
	slogger().Debug("gpu: resources bound", "label", label, "bindings", len(refs))
	return id, nil
}

// Write copies host data into a buffer before submission.
func (m *ResourceManager) Write(r *Resource, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := r.BufferID()
	if err != nil {
		return err
	}
	if r.State() != StateAllocated && r.State() != StateBound {
		return fmt.Errorf("%w: host write to %s in state %s", ErrIllegalTransition, r.label, r.State())
	}
	if err := m.dev.WriteBuffer(id, offset, data); err != nil {
		return fmt.Errorf("gpu: write %s: %w", r.label, err)
	}
	return nil
}

// Read copies buffer contents into dst. The buffer must be synchronized.
func (m *ResourceManager) Read(r *Resource, offset uint64, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := r.BufferID()
	if err != nil {
		return err
	}
	if r.State() != StateSynchronized {
		return fmt.Errorf("%w: %s is %s", ErrNotSynchronized, r.label, r.State())
	}
	if err := m.dev.ReadBuffer(id, offset, dst); err != nil {
		return fmt.Errorf("gpu: read %s: %w", r.label, err)
	}
	return nil
}

// Submit hands seq to the device and moves every resource it references to
// StateInFlight. Only one submission may be pending.
func (m *ResourceManager) Submit(seq *gpucore.CommandSequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fence != gpucore.InvalidID {
		return fmt.Errorf("%w: submission already in flight", ErrIllegalTransition)
	}

	refs, err := m.referencedLocked(seq.Commands())
	if err != nil {
		return err
	}
	for _, r := range refs {
		if !r.State().CanTransition(StateInFlight) {
			return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, r.label, r.State(), StateInFlight)
		}
	}

	fence, err := m.dev.Submit(seq)
	if err != nil {
		return fmt.Errorf("gpu: submit %s: %w", seq.Label(), err)
	}
	for _, r := range refs {
		r.setState(StateInFlight)
	}
	m.fence = fence
	m.inFlight = refs
	slogger().Debug("gpu: submitted", "label", seq.Label(), "commands", seq.Len(), "resources", len(refs))
	return nil
}

// referencedLocked returns the resources touched by cmds, directly or
// through a dispatched bind group, each once.
func (m *ResourceManager) referencedLocked(cmds []gpucore.Command) ([]*Resource, error) {
	byBuffer := make(map[gpucore.BufferID]*Resource)
	byTexture := make(map[gpucore.TextureID]*Resource)
	for _, r := range m.resources {
		if r.State() == StateReleased {
			continue
		}
		if r.kind == KindTexture {
			byTexture[r.texture] = r
		} else {
			byBuffer[r.buffer] = r
		}
	}

	seen := make(map[*Resource]bool)
	var out []*Resource
	add := func(r *Resource) {
		if r != nil && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, c := range cmds {
		switch c.Kind {
		case gpucore.CmdDispatch:
			refs, ok := m.groupRefs[c.BindGroup]
			if !ok {
				return nil, fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownResource, c.BindGroup)
			}
			for _, r := range refs {
				add(r)
			}
		default:
			if c.Texture != gpucore.InvalidID {
				add(byTexture[c.Texture])
			}
			if c.Buffer != gpucore.InvalidID {
				add(byBuffer[c.Buffer])
			}
			if c.DstBuffer != gpucore.InvalidID {
				add(byBuffer[c.DstBuffer])
			}
		}
	}
	return out, nil
}

// Synchronize waits for the pending submission. On success every in-flight
// resource becomes StateSynchronized. If timeout elapses first it returns
// ErrDeviceTimeout and the resources stay in flight.
func (m *ResourceManager) Synchronize(timeout time.Duration) error {
	m.mu.Lock()
	fence := m.fence
	m.mu.Unlock()

	if fence == gpucore.InvalidID {
		return fmt.Errorf("%w: nothing submitted", ErrNotSynchronized)
	}

	ok, err := m.dev.Wait(fence, timeout)
	if err != nil {
		return fmt.Errorf("gpu: wait: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no completion after %s", ErrDeviceTimeout, timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.inFlight {
		if r.State() == StateInFlight {
			r.setState(StateSynchronized)
		}
	}
	m.inFlight = nil
	m.dev.DestroyFence(fence)
	m.fence = gpucore.InvalidID
	return nil
}

// Release returns one resource to the device. Releasing twice fails with
// ErrResourceReleased.
func (m *ResourceManager) Release(r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(r)
}

func (m *ResourceManager) releaseLocked(r *Resource) error {
	prev := r.State()
	if err := r.transition(StateReleased); err != nil {
		return err
	}
	if prev == StateInFlight {
		slogger().Warn("gpu: releasing resource with pending device work", "label", r.label)
	}
	switch r.kind {
	case KindTexture:
		m.dev.DestroyTexture(r.texture)
	default:
		m.dev.DestroyBuffer(r.buffer)
	}
	return nil
}

// ReleaseAll releases bind groups, kernels, resources and the pending fence
// in reverse creation order. It is idempotent; after it returns the manager
// rejects new allocations.
func (m *ResourceManager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for i := len(m.bindGroups) - 1; i >= 0; i-- {
		m.dev.DestroyBindGroup(m.bindGroups[i])
	}
	m.bindGroups = nil
	clear(m.groupRefs)

	for i := len(m.kernels) - 1; i >= 0; i-- {
		m.dev.DestroyKernel(m.kernels[i])
	}
	m.kernels = nil

	var errs []error
	released := 0
	for i := len(m.resources) - 1; i >= 0; i-- {
		r := m.resources[i]
		if r.State() == StateReleased {
			continue
		}
		if err := m.releaseLocked(r); err != nil {
			errs = append(errs, err)
			continue
		}
		released++
	}

	if m.fence != gpucore.InvalidID {
		m.dev.DestroyFence(m.fence)
		m.fence = gpucore.InvalidID
	}
	m.inFlight = nil

	slogger().Debug("gpu: resources released", "count", released)
	return errors.Join(errs...)
}

// Live returns the number of resources not yet released.
func (m *ResourceManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.resources {
		if r.State() != StateReleased {
			n++
		}
	}
	return n
}

// Resources returns the resources created so far, in creation order.
func (m *ResourceManager) Resources() []*Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Resource, len(m.resources))
	copy(out, m.resources)
	return out
}
