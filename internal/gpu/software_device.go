// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpucore"
	"github.com/gogpu/bilateral/internal/image"
	"github.com/gogpu/bilateral/internal/parallel"
)

// undefinedBits is the bit pattern written wherever device memory has
// undefined contents (a quiet NaN).
const undefinedBits = 0x7fc00000

// SoftwareOption configures a SoftwareDevice.
type SoftwareOption func(*SoftwareDevice)

// WithWorkers sets the number of goroutines used to emulate dispatches.
func WithWorkers(n int) SoftwareOption {
	return func(d *SoftwareDevice) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithAllocationLimit makes buffer and texture creation fail with
// gpucore.ErrOutOfMemory after n successful allocations.
func WithAllocationLimit(n int) SoftwareOption {
	return func(d *SoftwareDevice) {
		d.allocLimit = n
	}
}

// WithHangingSubmissions makes submitted work never complete, so every
// Wait times out.
func WithHangingSubmissions() SoftwareOption {
	return func(d *SoftwareDevice) {
		d.hang = true
	}
}

// SoftwareDevice executes command sequences on the CPU.
//
// It follows the ordering rules of a real device strictly: memory is
// undefined (NaN) until written, a texture copied or sampled in the wrong
// layout reads undefined data, and a buffer written by a dispatch yields
// undefined data to copies that are not preceded by a barrier.
//
// Submissions run in order on background goroutines without holding the
// object lock, so Wait, Destroy calls and Close never block on pending work.
// A texture destroyed while a submission uses it returns to the pool when
// that submission finishes. SoftwareDevice is safe for concurrent use.
type SoftwareDevice struct {
	// mu guards the object tables, the allocation counters and texture pins.
	mu sync.Mutex

	nextID     uint64
	buffers    map[gpucore.BufferID]*swBuffer
	textures   map[gpucore.TextureID]*swTexture
	kernels    map[gpucore.KernelID]*gpucore.KernelDesc
	bindGroups map[gpucore.BindGroupID]*gpucore.BindGroupDesc
	images     *image.Pool
	last       chan struct{}

	// fenceMu guards fences only.
	fenceMu sync.Mutex
	fences  map[gpucore.FenceID]*swFence

	// execMu guards object contents: buffer bytes, texture texels and
	// layouts, and hazard flags.
	execMu sync.Mutex

	lost atomic.Bool

	workers     int
	allocLimit  int
	allocations int
	hang        bool
	closed      bool
}

type swBuffer struct {
	desc gpucore.BufferDesc
	data []byte

	// shaderWrite is set by a dispatch and cleared by a barrier.
	shaderWrite bool
}

type swTexture struct {
	desc   gpucore.TextureDesc
	img    *image.Float
	layout gpucore.TextureLayout

	// pins counts submissions referencing the texture; released is set by
	// DestroyTexture. The image returns to the pool when both allow it.
	pins     int
	released bool
}

type swFence struct {
	done chan struct{}
	err  error
}

// NewSoftwareDevice creates a software device.
func NewSoftwareDevice(opts ...SoftwareOption) *SoftwareDevice {
	d := &SoftwareDevice{
		buffers:    make(map[gpucore.BufferID]*swBuffer),
		textures:   make(map[gpucore.TextureID]*swTexture),
		kernels:    make(map[gpucore.KernelID]*gpucore.KernelDesc),
		bindGroups: make(map[gpucore.BindGroupID]*gpucore.BindGroupDesc),
		fences:     make(map[gpucore.FenceID]*swFence),
		images:     image.NewPool(2),
		workers:    filter.DefaultWorkers,
		allocLimit: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns "software".
func (d *SoftwareDevice) Name() string { return "software" }

func (d *SoftwareDevice) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *SoftwareDevice) allocateLocked() error {
	if d.closed {
		return gpucore.ErrDeviceLost
	}
	if d.allocLimit >= 0 && d.allocations >= d.allocLimit {
		return fmt.Errorf("%w: allocation limit %d reached", gpucore.ErrOutOfMemory, d.allocLimit)
	}
	d.allocations++
	return nil
}

// CreateBuffer allocates a buffer filled with undefined data.
func (d *SoftwareDevice) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: zero-size buffer %q", gpucore.ErrUnsupported, desc.Label)
	}
	if err := d.allocateLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	data := make([]byte, desc.Size)
	fillUndefined(data)
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &swBuffer{desc: *desc, data: data}
	return id, nil
}

// DestroyBuffer releases a buffer. A pending submission keeps its memory.
func (d *SoftwareDevice) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

// CreateTexture allocates an RGBA32F texture in LayoutUndefined.
func (d *SoftwareDevice) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Format != gpucore.TextureFormatRGBA32Float {
		return gpucore.InvalidID, fmt.Errorf("%w: texture format %s", gpucore.ErrUnsupported, desc.Format)
	}
	img := d.images.Get(int(desc.Width), int(desc.Height))
	if img == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: texture %dx%d", gpucore.ErrUnsupported, desc.Width, desc.Height)
	}
	if err := d.allocateLocked(); err != nil {
		d.images.Put(img)
		return gpucore.InvalidID, err
	}
	fillUndefinedImage(img)
	id := gpucore.TextureID(d.id())
	d.textures[id] = &swTexture{desc: *desc, img: img, layout: gpucore.LayoutUndefined}
	return id, nil
}

// DestroyTexture releases a texture. Its texels return to the pool once no
// pending submission uses them.
func (d *SoftwareDevice) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return
	}
	delete(d.textures, id)
	t.released = true
	if t.pins == 0 {
		d.images.Put(t.img)
		t.img = nil
	}
}

// CreateKernel registers one of the built-in bilateral kernels.
func (d *SoftwareDevice) CreateKernel(desc *gpucore.KernelDesc) (gpucore.KernelID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}
	switch desc.Name {
	case KernelBilateralBuffer, KernelBilateralImage:
	default:
		return gpucore.InvalidID, fmt.Errorf("%w: kernel %q", gpucore.ErrUnsupported, desc.Name)
	}
	if desc.WorkgroupSize[0] == 0 || desc.WorkgroupSize[1] == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: kernel %q has empty workgroup", gpucore.ErrUnsupported, desc.Name)
	}
	k := *desc
	k.Bindings = append([]gpucore.BindingLayout(nil), desc.Bindings...)
	id := gpucore.KernelID(d.id())
	d.kernels[id] = &k
	return id, nil
}

// DestroyKernel releases a kernel.
func (d *SoftwareDevice) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.kernels, id)
}

// CreateBindGroup validates the entries against the kernel layout.
func (d *SoftwareDevice) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k, ok := d.kernels[desc.Kernel]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, desc.Kernel)
	}
	for _, l := range k.Bindings {
		e, ok := findEntry(desc.Entries, l.Binding)
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d missing", gpucore.ErrInvalidBinding, l.Binding)
		}
		if err := d.checkEntryLocked(l, e); err != nil {
			return gpucore.InvalidID, err
		}
	}
	g := &gpucore.BindGroupDesc{
		Label:   desc.Label,
		Kernel:  desc.Kernel,
		Entries: append([]gpucore.BindGroupEntry(nil), desc.Entries...),
	}
	id := gpucore.BindGroupID(d.id())
	d.bindGroups[id] = g
	return id, nil
}

func (d *SoftwareDevice) checkEntryLocked(l gpucore.BindingLayout, e gpucore.BindGroupEntry) error {
	if l.Type == gpucore.BindingTypeSampledTexture {
		t, ok := d.textures[e.Texture]
		if !ok {
			return fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, e.Texture)
		}
		if !t.desc.Usage.Has(gpucore.TextureUsageTextureBinding) {
			return fmt.Errorf("%w: binding %d: texture lacks TextureBinding usage", gpucore.ErrInvalidBinding, l.Binding)
		}
		return nil
	}

	b, ok := d.buffers[e.Buffer]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, e.Buffer)
	}
	want := gpucore.BufferUsageStorage
	if l.Type == gpucore.BindingTypeUniformBuffer {
		want = gpucore.BufferUsageUniform
	}
	if !b.desc.Usage.Has(want) {
		return fmt.Errorf("%w: binding %d (%s): buffer %q lacks usage", gpucore.ErrInvalidBinding, l.Binding, l.Type, b.desc.Label)
	}
	if e.Offset >= b.desc.Size {
		return fmt.Errorf("%w: binding %d offset %d beyond buffer", gpucore.ErrInvalidBinding, l.Binding, e.Offset)
	}
	return nil
}

func findEntry(entries []gpucore.BindGroupEntry, binding uint32) (gpucore.BindGroupEntry, bool) {
	for _, e := range entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpucore.BindGroupEntry{}, false
}

// DestroyBindGroup releases a bind group.
func (d *SoftwareDevice) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bindGroups, id)
}

func (d *SoftwareDevice) lookupBuffer(id gpucore.BufferID) (*swBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	return b, nil
}

// WriteBuffer copies data into a buffer with CopyDst or MapWrite usage.
func (d *SoftwareDevice) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if b.desc.Usage&(gpucore.BufferUsageCopyDst|gpucore.BufferUsageMapWrite) == 0 {
		return fmt.Errorf("%w: buffer %q is not host writable", gpucore.ErrUnsupported, b.desc.Label)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("%w: write of %d bytes at %d exceeds %q", gpucore.ErrInvalidCommand, len(data), offset, b.desc.Label)
	}
	d.execMu.Lock()
	defer d.execMu.Unlock()
	copy(b.data[offset:], data)
	return nil
}

// ReadBuffer copies buffer contents into dst. The buffer needs MapRead usage.
func (d *SoftwareDevice) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if !b.desc.Usage.Has(gpucore.BufferUsageMapRead) {
		return fmt.Errorf("%w: buffer %q is not host readable", gpucore.ErrUnsupported, b.desc.Label)
	}
	if offset+uint64(len(dst)) > b.desc.Size {
		return fmt.Errorf("%w: read of %d bytes at %d exceeds %q", gpucore.ErrInvalidCommand, len(dst), offset, b.desc.Label)
	}
	d.execMu.Lock()
	defer d.execMu.Unlock()
	copy(dst, b.data[offset:])
	return nil
}

// Submit executes seq asynchronously and returns its fence. The objects seq
// references are resolved now; destroying them afterwards does not affect
// the submission.
func (d *SoftwareDevice) Submit(seq *gpucore.CommandSequence) (gpucore.FenceID, error) {
	cmds, err := seq.Consume()
	if err != nil {
		return gpucore.InvalidID, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}
	id := gpucore.FenceID(d.id())
	f := &swFence{done: make(chan struct{})}
	var (
		fr   *swFrame
		prev chan struct{}
	)
	if !d.hang {
		fr = d.frameLocked(cmds)
		prev, d.last = d.last, f.done
	}
	d.mu.Unlock()

	d.fenceMu.Lock()
	d.fences[id] = f
	d.fenceMu.Unlock()

	if fr == nil {
		slogger().Debug("gpu: software submission will never complete", "label", seq.Label())
		return id, nil
	}
	go func() {
		if prev != nil {
			<-prev
		}
		d.execMu.Lock()
		f.err = fr.execute(cmds)
		d.execMu.Unlock()
		d.unpin(fr)
		close(f.done)
	}()
	return id, nil
}

// frameLocked resolves every object cmds reference and pins their textures.
func (d *SoftwareDevice) frameLocked(cmds []gpucore.Command) *swFrame {
	fr := &swFrame{
		buffers:    make(map[gpucore.BufferID]*swBuffer),
		textures:   make(map[gpucore.TextureID]*swTexture),
		kernels:    make(map[gpucore.KernelID]*gpucore.KernelDesc),
		bindGroups: make(map[gpucore.BindGroupID]*gpucore.BindGroupDesc),
		workers:    d.workers,
		lost:       &d.lost,
	}
	addBuffer := func(id gpucore.BufferID) {
		if b, ok := d.buffers[id]; ok {
			fr.buffers[id] = b
		}
	}
	addTexture := func(id gpucore.TextureID) {
		if _, seen := fr.textures[id]; seen {
			return
		}
		if t, ok := d.textures[id]; ok {
			t.pins++
			fr.textures[id] = t
		}
	}
	for _, c := range cmds {
		switch c.Kind {
		case gpucore.CmdDispatch:
			if k, ok := d.kernels[c.Kernel]; ok {
				fr.kernels[c.Kernel] = k
			}
			g, ok := d.bindGroups[c.BindGroup]
			if !ok {
				continue
			}
			fr.bindGroups[c.BindGroup] = g
			for _, e := range g.Entries {
				if e.Texture != gpucore.InvalidID {
					addTexture(e.Texture)
				} else {
					addBuffer(e.Buffer)
				}
			}
		default:
			if c.Texture != gpucore.InvalidID {
				addTexture(c.Texture)
			}
			if c.Buffer != gpucore.InvalidID {
				addBuffer(c.Buffer)
			}
			if c.DstBuffer != gpucore.InvalidID {
				addBuffer(c.DstBuffer)
			}
		}
	}
	return fr
}

// unpin drops the pins of fr and pools textures destroyed meanwhile.
func (d *SoftwareDevice) unpin(fr *swFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range fr.textures {
		t.pins--
		if t.pins == 0 && t.released && t.img != nil {
			d.images.Put(t.img)
			t.img = nil
		}
	}
}

// Wait blocks until fence signals or timeout elapses. A command that failed
// during execution is reported as an error.
func (d *SoftwareDevice) Wait(fence gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.fenceMu.Lock()
	f, ok := d.fences[fence]
	d.fenceMu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", gpucore.ErrUnknownResource, fence)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return true, f.err
	case <-timer.C:
		return false, nil
	}
}

// DestroyFence releases a fence. The submission still runs to completion.
func (d *SoftwareDevice) DestroyFence(fence gpucore.FenceID) {
	d.fenceMu.Lock()
	defer d.fenceMu.Unlock()
	delete(d.fences, fence)
}

// Close marks the device lost and abandons dispatches still running. Objects
// still alive stay counted by Live.
func (d *SoftwareDevice) Close() error {
	d.lost.Store(true)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Live returns the number of live buffers, textures, kernels, bind groups
// and fences.
func (d *SoftwareDevice) Live() int {
	d.fenceMu.Lock()
	n := len(d.fences)
	d.fenceMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	return n + len(d.buffers) + len(d.textures) + len(d.kernels) + len(d.bindGroups)
}

// Command execution

// swFrame holds the objects one submission references, resolved at Submit.
// Its methods run with execMu held.
type swFrame struct {
	buffers    map[gpucore.BufferID]*swBuffer
	textures   map[gpucore.TextureID]*swTexture
	kernels    map[gpucore.KernelID]*gpucore.KernelDesc
	bindGroups map[gpucore.BindGroupID]*gpucore.BindGroupDesc

	workers int
	lost    *atomic.Bool
}

func (fr *swFrame) execute(cmds []gpucore.Command) error {
	for i, c := range cmds {
		var err error
		switch c.Kind {
		case gpucore.CmdTransitionTexture:
			err = fr.transition(c)
		case gpucore.CmdClearTexture:
			err = fr.clear(c)
		case gpucore.CmdCopyBufferToTexture:
			err = fr.copyToTexture(c)
		case gpucore.CmdBufferBarrier:
			err = fr.barrier(c)
		case gpucore.CmdDispatch:
			err = fr.dispatch(c)
		case gpucore.CmdCopyBufferToBuffer:
			err = fr.copyBuffer(c)
		default:
			err = fmt.Errorf("%w: %s", gpucore.ErrInvalidCommand, c.Kind)
		}
		if err != nil {
			return fmt.Errorf("command %d %s: %w", i, c.Kind, err)
		}
	}
	return nil
}

func (fr *swFrame) texture(id gpucore.TextureID) (*swTexture, error) {
	t, ok := fr.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, id)
	}
	return t, nil
}

func (fr *swFrame) buffer(id gpucore.BufferID) (*swBuffer, error) {
	b, ok := fr.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	return b, nil
}

// transition discards the contents when leaving LayoutUndefined or when
// the declared old layout does not match the actual one.
func (fr *swFrame) transition(c gpucore.Command) error {
	t, err := fr.texture(c.Texture)
	if err != nil {
		return err
	}
	if c.OldLayout == gpucore.LayoutUndefined || c.OldLayout != t.layout {
		fillUndefinedImage(t.img)
	}
	t.layout = c.NewLayout
	return nil
}

func (fr *swFrame) clear(c gpucore.Command) error {
	t, err := fr.texture(c.Texture)
	if err != nil {
		return err
	}
	if t.layout != gpucore.LayoutTransferDst {
		fillUndefinedImage(t.img)
		return nil
	}
	t.img.Fill(c.Color[0], c.Color[1], c.Color[2], c.Color[3])
	return nil
}

func (fr *swFrame) copyToTexture(c gpucore.Command) error {
	t, err := fr.texture(c.Texture)
	if err != nil {
		return err
	}
	b, err := fr.buffer(c.Buffer)
	if err != nil {
		return err
	}
	if c.BytesPerRow%textureRowAlignment != 0 {
		return fmt.Errorf("%w: bytes per row %d not aligned to %d", gpucore.ErrInvalidCommand, c.BytesPerRow, textureRowAlignment)
	}
	if !b.desc.Usage.Has(gpucore.BufferUsageCopySrc) || !t.desc.Usage.Has(gpucore.TextureUsageCopyDst) {
		return fmt.Errorf("%w: copy usage flags missing", gpucore.ErrInvalidCommand)
	}
	if c.Width > t.desc.Width || c.Height > t.desc.Height {
		return fmt.Errorf("%w: copy %dx%d exceeds texture", gpucore.ErrInvalidCommand, c.Width, c.Height)
	}
	if t.layout != gpucore.LayoutTransferDst {
		fillUndefinedImage(t.img)
		return nil
	}

	pitch := int(c.BytesPerRow)
	rowBytes := int(c.Width) * image.BytesPerPixel
	for y := range int(c.Height) {
		off := y * pitch
		if off+rowBytes > len(b.data) {
			return fmt.Errorf("%w: copy row %d beyond buffer", gpucore.ErrInvalidCommand, y)
		}
		row := t.img.Row(y)
		for i := range int(c.Width) * image.Channels {
			row[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.data[off+i*4:]))
		}
	}
	return nil
}

func (fr *swFrame) barrier(c gpucore.Command) error {
	b, err := fr.buffer(c.Buffer)
	if err != nil {
		return err
	}
	if c.SrcAccess == gpucore.AccessShaderWrite {
		b.shaderWrite = false
	}
	return nil
}

// copyBuffer copies bytes. A source still carrying an unbarriered
// shader write yields undefined data at the destination.
func (fr *swFrame) copyBuffer(c gpucore.Command) error {
	src, err := fr.buffer(c.Buffer)
	if err != nil {
		return err
	}
	dst, err := fr.buffer(c.DstBuffer)
	if err != nil {
		return err
	}
	if !src.desc.Usage.Has(gpucore.BufferUsageCopySrc) || !dst.desc.Usage.Has(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("%w: copy usage flags missing", gpucore.ErrInvalidCommand)
	}
	if c.SrcOffset+c.Size > src.desc.Size || c.DstOffset+c.Size > dst.desc.Size {
		return fmt.Errorf("%w: copy range out of bounds", gpucore.ErrInvalidCommand)
	}
	region := dst.data[c.DstOffset : c.DstOffset+c.Size]
	if src.shaderWrite {
		slogger().Debug("gpu: copy from buffer without barrier", "buffer", src.desc.Label)
		fillUndefined(region)
		return nil
	}
	copy(region, src.data[c.SrcOffset:c.SrcOffset+c.Size])
	return nil
}

// dispatch emulates one of the built-in kernels over the work-group
// grid. Pixels outside the grid are left untouched.
func (fr *swFrame) dispatch(c gpucore.Command) error {
	k, ok := fr.kernels[c.Kernel]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, c.Kernel)
	}
	g, ok := fr.bindGroups[c.BindGroup]
	if !ok {
		return fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownResource, c.BindGroup)
	}

	paramsBuf, err := fr.boundBuffer(g, slotParams)
	if err != nil {
		return err
	}
	kp, err := parseKernelParams(paramsBuf.data)
	if err != nil {
		return err
	}
	width, height := int(kp.Width), int(kp.Height)

	var src *image.Float
	switch k.Name {
	case KernelBilateralBuffer:
		in, err := fr.boundBuffer(g, slotSource)
		if err != nil {
			return err
		}
		if src, err = image.FromBytes(width, height, in.data, 0); err != nil {
			return err
		}
	case KernelBilateralImage:
		e, _ := findEntry(g.Entries, slotSource)
		t, err := fr.texture(e.Texture)
		if err != nil {
			return err
		}
		if t.img.Width != width || t.img.Height != height {
			return fmt.Errorf("%w: texture %dx%d, params %dx%d", gpucore.ErrInvalidBinding, t.img.Width, t.img.Height, width, height)
		}
		src = t.img
		if t.layout != gpucore.LayoutShaderReadOnly {
			slogger().Debug("gpu: texture sampled outside ShaderReadOnly", "texture", t.desc.Label, "layout", t.layout)
			src = t.img.Clone()
			fillUndefinedImage(src)
		}
	default:
		return fmt.Errorf("%w: kernel %q", gpucore.ErrUnsupported, k.Name)
	}

	out, err := fr.boundBuffer(g, slotOutput)
	if err != nil {
		return err
	}
	if need := uint64(width) * uint64(height) * image.BytesPerPixel; out.desc.Size < need { //nolint:gosec // dimensions come from a u32 uniform
		return fmt.Errorf("%w: output buffer %d bytes, need %d", gpucore.ErrInvalidBinding, out.desc.Size, need)
	}

	kernel, err := filter.NewKernel(src, kp.Params())
	if err != nil {
		return err
	}
	coverW := min(width, int(c.Groups[0]*k.WorkgroupSize[0]))
	coverH := min(height, int(c.Groups[1]*k.WorkgroupSize[1]))
	if coverW > 0 && coverH > 0 {
		if err := fr.runInvocations(kernel, out.data, width, coverW, coverH); err != nil {
			return err
		}
	}
	out.shaderWrite = true
	return nil
}

// runInvocations stops early once the device is closed; the output of an
// abandoned dispatch is never read.
func (fr *swFrame) runInvocations(k *filter.Kernel, out []byte, width, coverW, coverH int) error {
	pool := parallel.NewWorkerPool(fr.workers)
	defer pool.Close()

	return pool.ExecuteBands(parallel.SplitRows(coverH, fr.workers*4), func(b parallel.Band) {
		scratch := k.NewScratch()
		for y := b.Y0; y < b.Y1; y++ {
			if fr.lost.Load() {
				return
			}
			for x := range coverW {
				px := k.FilterPixel(filter.Point{X: x, Y: y}, scratch)
				off := (y*width + x) * image.BytesPerPixel
				for c, v := range px {
					binary.LittleEndian.PutUint32(out[off+c*4:], math.Float32bits(v))
				}
			}
		}
	})
}

func (fr *swFrame) boundBuffer(g *gpucore.BindGroupDesc, slot uint32) (*swBuffer, error) {
	e, ok := findEntry(g.Entries, slot)
	if !ok {
		return nil, fmt.Errorf("%w: binding %d missing", gpucore.ErrInvalidBinding, slot)
	}
	b, err := fr.buffer(e.Buffer)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func fillUndefined(data []byte) {
	for i := 0; i+4 <= len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:], undefinedBits)
	}
}

func fillUndefinedImage(f *image.Float) {
	nan := math.Float32frombits(undefinedBits)
	for i := range f.Pix {
		f.Pix[i] = nan
	}
}
