// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/bilateral/internal/cache"
	"github.com/gogpu/bilateral/internal/gpucore"
)

// ErrNoAdapter is returned when no GPU adapter is available.
var ErrNoAdapter = errors.New("gpu: no GPU adapter found")

// AdapterInfo describes an adapter reported by the Vulkan backend.
type AdapterInfo struct {
	Name string
	Type gputypes.DeviceType
}

// Discrete reports whether the adapter is a discrete or integrated GPU.
func (a AdapterInfo) Discrete() bool {
	return a.Type == gputypes.DeviceTypeDiscreteGPU || a.Type == gputypes.DeviceTypeIntegratedGPU
}

// Adapters lists the adapters of the Vulkan backend.
func Adapters() ([]AdapterInfo, error) {
	instance, err := newVulkanInstance()
	if err != nil {
		return nil, err
	}
	defer instance.Destroy()

	exposed := instance.EnumerateAdapters(nil)
	out := make([]AdapterInfo, len(exposed))
	for i := range exposed {
		out[i] = AdapterInfo{Name: exposed[i].Info.Name, Type: exposed[i].Info.DeviceType}
	}
	return out, nil
}

func newVulkanInstance() (hal.Instance, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", gpucore.ErrUnsupported)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return instance, nil
}

type halBuffer struct {
	buf  hal.Buffer
	desc gpucore.BufferDesc
}

type halTexture struct {
	tex  hal.Texture
	view hal.TextureView
	desc gpucore.TextureDesc
}

type halKernel struct {
	module     hal.ShaderModule
	layout     hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

type halFence struct {
	index   uint64
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
	temps   []hal.Buffer
}

// HALDevice implements gpucore.Device on a wgpu hal device.
//
// Kernels are compiled from WGSL to SPIR-V with naga. Texture layouts and
// buffer barriers are translated into hal texture and buffer transitions.
type HALDevice struct {
	mu sync.Mutex

	name     string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool
	closed   bool

	nextID     uint64
	buffers    map[gpucore.BufferID]*halBuffer
	textures   map[gpucore.TextureID]*halTexture
	kernels    map[gpucore.KernelID]*halKernel
	bindGroups map[gpucore.BindGroupID]hal.BindGroup
	fences     map[gpucore.FenceID]*halFence
	retired    []*halFence
}

// NewHALDevice opens the first discrete or integrated Vulkan adapter, or
// the first adapter of any kind when there is none.
func NewHALDevice() (*HALDevice, error) {
	instance, err := newVulkanInstance()
	if err != nil {
		return nil, err
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	d := newHALDevice(openDev.Device, openDev.Queue, selected.Info.Name, true)
	d.instance = instance
	slogger().Info("gpu: device opened", "adapter", selected.Info.Name)
	return d, nil
}

// NewHALDeviceFromProvider adopts the device of a gpucontext provider. The
// provider must also implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue. Close does not destroy an adopted device.
func NewHALDeviceFromProvider(provider gpucontext.DeviceProvider) (*HALDevice, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL types", gpucore.ErrUnsupported)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", gpucore.ErrUnsupported)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", gpucore.ErrUnsupported)
	}
	return newHALDevice(device, queue, "shared", false), nil
}

func newHALDevice(device hal.Device, queue hal.Queue, name string, owned bool) *HALDevice {
	return &HALDevice{
		name:       name,
		device:     device,
		queue:      queue,
		owned:      owned,
		buffers:    make(map[gpucore.BufferID]*halBuffer),
		textures:   make(map[gpucore.TextureID]*halTexture),
		kernels:    make(map[gpucore.KernelID]*halKernel),
		bindGroups: make(map[gpucore.BindGroupID]hal.BindGroup),
		fences:     make(map[gpucore.FenceID]*halFence),
	}
}

// Name returns the adapter name.
func (d *HALDevice) Name() string { return d.name }

func (d *HALDevice) id() uint64 {
	d.nextID++
	return d.nextID
}

// CreateBuffer creates a hal buffer.
func (d *HALDevice) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %w", gpucore.ErrOutOfMemory, err)
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &halBuffer{buf: buf, desc: *desc}
	return id, nil
}

// DestroyBuffer destroys a hal buffer.
func (d *HALDevice) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
}

// CreateTexture creates a 2-D texture and its view.
func (d *HALDevice) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}
	if desc.Format != gpucore.TextureFormatRGBA32Float {
		return gpucore.InvalidID, fmt.Errorf("%w: texture format %s", gpucore.ErrUnsupported, desc.Format)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA32Float,
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %w", gpucore.ErrOutOfMemory, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label + "_view",
		Format:        gputypes.TextureFormatRGBA32Float,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("create texture view: %w", err)
	}
	id := gpucore.TextureID(d.id())
	d.textures[id] = &halTexture{tex: tex, view: view, desc: *desc}
	return id, nil
}

// DestroyTexture destroys a texture and its view.
func (d *HALDevice) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.tex)
		delete(d.textures, id)
	}
}

// CreateKernel compiles desc.Source to SPIR-V and creates the compute
// pipeline with its bind group layout.
func (d *HALDevice) CreateKernel(desc *gpucore.KernelDesc) (gpucore.KernelID, error) {
	spirv, err := compileWGSL(desc.Source)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%s: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}

	k := &halKernel{}
	k.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label + "_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create shader module: %w", err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Bindings))
	for i, b := range desc.Bindings {
		entries[i] = layoutEntry(b)
	}
	k.layout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		d.destroyKernel(k)
		return gpucore.InvalidID, fmt.Errorf("create bind group layout: %w", err)
	}
	k.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.layout},
	})
	if err != nil {
		d.destroyKernel(k)
		return gpucore.InvalidID, fmt.Errorf("create pipeline layout: %w", err)
	}
	k.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label + "_pipeline",
		Layout:  k.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		d.destroyKernel(k)
		return gpucore.InvalidID, fmt.Errorf("create compute pipeline: %w", err)
	}

	id := gpucore.KernelID(d.id())
	d.kernels[id] = k
	return id, nil
}

func (d *HALDevice) destroyKernel(k *halKernel) {
	if k.pipeline != nil {
		d.device.DestroyComputePipeline(k.pipeline)
	}
	if k.pipeLayout != nil {
		d.device.DestroyPipelineLayout(k.pipeLayout)
	}
	if k.layout != nil {
		d.device.DestroyBindGroupLayout(k.layout)
	}
	if k.module != nil {
		d.device.DestroyShaderModule(k.module)
	}
}

// DestroyKernel destroys the pipeline, layouts and shader module.
func (d *HALDevice) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.kernels[id]; ok {
		d.destroyKernel(k)
		delete(d.kernels, id)
	}
}

// CreateBindGroup creates a hal bind group.
func (d *HALDevice) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k, ok := d.kernels[desc.Kernel]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, desc.Kernel)
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		if e.Texture != gpucore.InvalidID {
			t, ok := d.textures[e.Texture]
			if !ok {
				return gpucore.InvalidID, fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, e.Texture)
			}
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  e.Binding,
				Resource: gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()},
			})
			continue
		}
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, e.Buffer)
		}
		size := e.Size
		if size == 0 {
			size = b.desc.Size - e.Offset
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  e.Binding,
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: e.Offset, Size: size},
		})
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %w", gpucore.ErrInvalidBinding, err)
	}
	id := gpucore.BindGroupID(d.id())
	d.bindGroups[id] = bg
	return id, nil
}

// DestroyBindGroup destroys a bind group.
func (d *HALDevice) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bg, ok := d.bindGroups[id]; ok {
		d.device.DestroyBindGroup(bg)
		delete(d.bindGroups, id)
	}
}

// WriteBuffer writes data through the queue.
func (d *HALDevice) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("%w: write of %d bytes at %d exceeds %q", gpucore.ErrInvalidCommand, len(data), offset, b.desc.Label)
	}
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("write buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

// ReadBuffer maps a MapRead buffer and copies len(dst) bytes at offset.
// The caller must have waited on the fence of the last write.
func (d *HALDevice) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if len(dst) == 0 {
		return nil
	}
	m, err := d.device.MapBuffer(b.buf, offset, uint64(len(dst)))
	if err != nil {
		return fmt.Errorf("map buffer %q: %w", b.desc.Label, err)
	}
	copy(dst, unsafe.Slice((*byte)(m.Ptr), len(dst))) //nolint:gosec // Ptr covers len(dst) bytes until UnmapBuffer
	if err := d.device.UnmapBuffer(b.buf); err != nil {
		return fmt.Errorf("unmap buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

// Submit encodes seq into one command buffer and submits it. The fence
// tracks the queue submission index.
func (d *HALDevice) Submit(seq *gpucore.CommandSequence) (gpucore.FenceID, error) {
	cmds, err := seq.Consume()
	if err != nil {
		return gpucore.InvalidID, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}

	d.sweepRetired()

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: seq.Label()})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create command encoder: %w", err)
	}

	f := &halFence{encoder: encoder}
	if err := encoder.BeginEncoding(seq.Label()); err != nil {
		d.releaseFence(f)
		return gpucore.InvalidID, fmt.Errorf("begin encoding: %w", err)
	}
	for i, c := range cmds {
		if err := d.encode(encoder, c, f); err != nil {
			encoder.DiscardEncoding()
			d.releaseFence(f)
			return gpucore.InvalidID, fmt.Errorf("command %d %s: %w", i, c.Kind, err)
		}
	}

	f.cmd, err = encoder.EndEncoding()
	if err != nil {
		d.releaseFence(f)
		return gpucore.InvalidID, fmt.Errorf("end encoding: %w", err)
	}
	f.index, err = d.queue.Submit([]hal.CommandBuffer{f.cmd})
	if err != nil {
		d.releaseFence(f)
		return gpucore.InvalidID, fmt.Errorf("submit: %w", err)
	}

	id := gpucore.FenceID(d.id())
	d.fences[id] = f
	return id, nil
}

func (d *HALDevice) encode(encoder hal.CommandEncoder, c gpucore.Command, f *halFence) error {
	switch c.Kind {
	case gpucore.CmdTransitionTexture:
		t, ok := d.textures[c.Texture]
		if !ok {
			return fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, c.Texture)
		}
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: layoutUsage(c.OldLayout),
				NewUsage: layoutUsage(c.NewLayout),
			},
		}})

	case gpucore.CmdClearTexture:
		t, ok := d.textures[c.Texture]
		if !ok {
			return fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, c.Texture)
		}
		tmp, pitch, err := d.clearSource(t.desc, c.Color)
		if err != nil {
			return err
		}
		f.temps = append(f.temps, tmp)
		encoder.CopyBufferToTexture(tmp, t.tex, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: pitch, RowsPerImage: t.desc.Height},
			TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
			Size:         hal.Extent3D{Width: t.desc.Width, Height: t.desc.Height, DepthOrArrayLayers: 1},
		}})

	case gpucore.CmdCopyBufferToTexture:
		t, ok := d.textures[c.Texture]
		if !ok {
			return fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, c.Texture)
		}
		b, ok := d.buffers[c.Buffer]
		if !ok {
			return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, c.Buffer)
		}
		encoder.CopyBufferToTexture(b.buf, t.tex, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: c.BytesPerRow, RowsPerImage: c.Height},
			TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
			Size:         hal.Extent3D{Width: c.Width, Height: c.Height, DepthOrArrayLayers: 1},
		}})

	case gpucore.CmdBufferBarrier:
		b, ok := d.buffers[c.Buffer]
		if !ok {
			return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, c.Buffer)
		}
		encoder.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: b.buf,
			Usage: hal.BufferUsageTransition{
				OldUsage: accessUsage(c.SrcAccess),
				NewUsage: accessUsage(c.DstAccess),
			},
		}})

	case gpucore.CmdDispatch:
		k, ok := d.kernels[c.Kernel]
		if !ok {
			return fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, c.Kernel)
		}
		bg, ok := d.bindGroups[c.BindGroup]
		if !ok {
			return fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownResource, c.BindGroup)
		}
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "bilateral_pass"})
		pass.SetPipeline(k.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(c.Groups[0], c.Groups[1], c.Groups[2])
		pass.End()

	case gpucore.CmdCopyBufferToBuffer:
		src, ok := d.buffers[c.Buffer]
		if !ok {
			return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, c.Buffer)
		}
		dst, ok := d.buffers[c.DstBuffer]
		if !ok {
			return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, c.DstBuffer)
		}
		encoder.CopyBufferToBuffer(src.buf, dst.buf, []hal.BufferCopy{
			{SrcOffset: c.SrcOffset, DstOffset: c.DstOffset, Size: c.Size},
		})

	default:
		return fmt.Errorf("%w: %s", gpucore.ErrInvalidCommand, c.Kind)
	}
	return nil
}

// clearSource creates a temporary buffer holding color in every texel.
// hal has no texture clear outside render passes.
func (d *HALDevice) clearSource(desc gpucore.TextureDesc, color [4]float32) (hal.Buffer, uint32, error) {
	texel := desc.Format.BytesPerTexel()
	pitch := (int(desc.Width)*texel + textureRowAlignment - 1) / textureRowAlignment * textureRowAlignment
	data := make([]byte, pitch*int(desc.Height))
	for y := range int(desc.Height) {
		for x := range int(desc.Width) {
			off := y*pitch + x*texel
			for c, v := range color {
				binary.LittleEndian.PutUint32(data[off+c*4:], math.Float32bits(v))
			}
		}
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label + "_clear",
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: clear buffer: %w", gpucore.ErrOutOfMemory, err)
	}
	if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
		d.device.DestroyBuffer(buf)
		return nil, 0, fmt.Errorf("clear buffer: %w", err)
	}
	return buf, uint32(pitch), nil //nolint:gosec // pitch is bounded by the texture width
}

// Wait polls the queue until the fence's submission completes. It returns
// false with a nil error on timeout.
func (d *HALDevice) Wait(fence gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	f, ok := d.fences[fence]
	queue := d.queue
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", gpucore.ErrUnknownResource, fence)
	}
	if queue == nil {
		return false, gpucore.ErrDeviceLost
	}

	deadline := time.Now().Add(timeout)
	delay := minPollInterval
	for {
		if queue.PollCompleted() >= f.index {
			return true, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		time.Sleep(min(delay, left))
		delay = min(delay*2, maxPollInterval)
	}
}

const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

// DestroyFence frees the fence, its command buffer and temporary buffers.
// A submission that has not completed is retired and freed by a later
// Submit or Close.
func (d *HALDevice) DestroyFence(fence gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[fence]
	if !ok {
		return
	}
	delete(d.fences, fence)
	if d.queue.PollCompleted() < f.index {
		d.retired = append(d.retired, f)
		return
	}
	d.releaseFence(f)
}

// sweepRetired frees retired submissions that have completed.
func (d *HALDevice) sweepRetired() {
	if len(d.retired) == 0 {
		return
	}
	done := d.queue.PollCompleted()
	kept := d.retired[:0]
	for _, f := range d.retired {
		if f.index <= done {
			d.releaseFence(f)
			continue
		}
		kept = append(kept, f)
	}
	clear(d.retired[len(kept):])
	d.retired = kept
}

func (d *HALDevice) releaseFence(f *halFence) {
	if f.cmd != nil {
		d.device.FreeCommandBuffer(f.cmd)
		f.cmd = nil
	}
	if f.encoder != nil {
		f.encoder.Destroy()
		f.encoder = nil
	}
	d.destroyTemps(f)
}

func (d *HALDevice) destroyTemps(f *halFence) {
	for _, b := range f.temps {
		d.device.DestroyBuffer(b)
	}
	f.temps = nil
}

// Close destroys every remaining object, then the device and instance when
// they are owned.
func (d *HALDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if len(d.fences) > 0 || len(d.retired) > 0 {
		if err := d.device.WaitIdle(); err != nil {
			slogger().Warn("gpu: wait idle before close", "err", err)
		}
	}
	for id, f := range d.fences {
		d.releaseFence(f)
		delete(d.fences, id)
	}
	for _, f := range d.retired {
		d.releaseFence(f)
	}
	d.retired = nil
	for id, bg := range d.bindGroups {
		d.device.DestroyBindGroup(bg)
		delete(d.bindGroups, id)
	}
	for id, k := range d.kernels {
		d.destroyKernel(k)
		delete(d.kernels, id)
	}
	for id, t := range d.textures {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.tex)
		delete(d.textures, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}

	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	return nil
}

// spirvCache holds compiled kernels keyed by WGSL source; devices opened one
// after another reuse them.
var spirvCache = cache.New[string, []uint32](8)

// compileWGSL compiles WGSL to little-endian SPIR-V words.
func compileWGSL(src string) ([]uint32, error) {
	return spirvCache.GetOrCreate(src, func() ([]uint32, error) {
		return compileSPIRV(src)
	})
}

func compileSPIRV(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("compile shader: SPIR-V size %d is not a multiple of 4", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

func bufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u.Has(gpucore.BufferUsageMapRead) {
		out |= gputypes.BufferUsageMapRead
	}
	if u.Has(gpucore.BufferUsageMapWrite) {
		out |= gputypes.BufferUsageMapWrite
	}
	if u.Has(gpucore.BufferUsageCopySrc) {
		out |= gputypes.BufferUsageCopySrc
	}
	if u.Has(gpucore.BufferUsageCopyDst) {
		out |= gputypes.BufferUsageCopyDst
	}
	if u.Has(gpucore.BufferUsageUniform) {
		out |= gputypes.BufferUsageUniform
	}
	if u.Has(gpucore.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func textureUsage(u gpucore.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u.Has(gpucore.TextureUsageCopyDst) {
		out |= gputypes.TextureUsageCopyDst
	}
	if u.Has(gpucore.TextureUsageTextureBinding) {
		out |= gputypes.TextureUsageTextureBinding
	}
	return out
}

// layoutUsage maps a texture layout to the hal usage that selects it.
func layoutUsage(l gpucore.TextureLayout) gputypes.TextureUsage {
	switch l {
	case gpucore.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	case gpucore.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	default:
		return 0
	}
}

// accessUsage maps a barrier access to the hal buffer usage it implies.
func accessUsage(a gpucore.Access) gputypes.BufferUsage {
	switch a {
	case gpucore.AccessHostWrite:
		return gputypes.BufferUsageMapWrite
	case gpucore.AccessTransferWrite:
		return gputypes.BufferUsageCopyDst
	case gpucore.AccessTransferRead:
		return gputypes.BufferUsageCopySrc
	case gpucore.AccessShaderRead, gpucore.AccessShaderWrite:
		return gputypes.BufferUsageStorage
	case gpucore.AccessHostRead:
		return gputypes.BufferUsageMapRead
	default:
		return 0
	}
}

func layoutEntry(b gpucore.BindingLayout) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: b.Binding, Visibility: gputypes.ShaderStageCompute}
	switch b.Type {
	case gpucore.BindingTypeUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case gpucore.BindingTypeStorageBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	case gpucore.BindingTypeSampledTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeUnfilterableFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	}
	return e
}
