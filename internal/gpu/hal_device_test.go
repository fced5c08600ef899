// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpucore"
	"github.com/gogpu/bilateral/internal/image"
)

// createNoopHALDevice wraps a noop hal device for testing.
func createNoopHALDevice(t *testing.T) *HALDevice {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("noop backend reported no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d := newHALDevice(openDev.Device, openDev.Queue, "noop", true)
	d.instance = instance
	return d
}

// createInterpreterHALDevice wraps the wgpu software backend, which runs
// compute pipelines through its SPIR-V interpreter.
func createInterpreterHALDevice(t *testing.T) *HALDevice {
	t.Helper()
	instance, err := software.API{}.CreateInstance(&hal.InstanceDescriptor{})
	require.NoError(t, err)
	adapters := instance.EnumerateAdapters(nil)
	require.NotEmpty(t, adapters, "software backend reported no adapters")
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	require.NoError(t, err)
	d := newHALDevice(openDev.Device, openDev.Queue, adapters[0].Info.Name, true)
	d.instance = instance
	return d
}

func runOnHAL(t *testing.T, dev *HALDevice, src *image.Float, p filter.Params, mode StorageMode) *image.Float {
	t.Helper()
	s, err := NewStrategy(mode)
	require.NoError(t, err)
	o := &Orchestrator{Device: dev, Timeout: 30 * time.Second}
	out, stats, err := o.Run(context.Background(), src, p, s)
	require.NoError(t, err)
	assert.Equal(t, mode, stats.Mode)
	return out
}

func assertSameImage(t *testing.T, want, got *image.Float) {
	t.Helper()
	require.Equal(t, want.Width, got.Width)
	require.Equal(t, want.Height, got.Height)
	for i := range want.Pix {
		if !assert.InDelta(t, want.Pix[i], got.Pix[i], 1e-3, "index %d", i) {
			return
		}
	}
}

func TestHALBufferKernelMatchesReference(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		p    filter.Params
	}{
		{"partial workgroups", 19, 13, filter.Params{SpatialSigma: 3, IntensitySigma: 0.25, Radius: 2}},
		{"radius zero", 5, 4, filter.Params{SpatialSigma: 1, IntensitySigma: 1, Radius: 0}},
		{"radius beyond image", 6, 3, filter.Params{SpatialSigma: 9, IntensitySigma: 0.5, Radius: 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := randomImage(t, tt.w, tt.h, uint64(tt.w+tt.h))
			want, err := filter.Executor{Workers: 1}.Apply(src, tt.p)
			require.NoError(t, err)

			dev := createInterpreterHALDevice(t)
			defer dev.Close()
			assertSameImage(t, want, runOnHAL(t, dev, src, tt.p, StorageBuffer))
			assert.Empty(t, dev.buffers, "buffers leaked")
			assert.Empty(t, dev.fences, "fences leaked")
		})
	}
}

// TestVulkanKernelsMatchReference runs both kernels on a real adapter.
func TestVulkanKernelsMatchReference(t *testing.T) {
	dev, err := NewHALDevice()
	if err != nil {
		t.Skipf("no Vulkan adapter: %v", err)
	}
	defer dev.Close()

	src := randomImage(t, 37, 21, 5)
	p := filter.Params{SpatialSigma: 4, IntensitySigma: 0.2, Radius: 3}
	want, err := filter.Executor{Workers: 1}.Apply(src, p)
	require.NoError(t, err)

	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			assertSameImage(t, want, runOnHAL(t, dev, src, p, mode))
		})
	}
}

// glslExp is the GLSL.std.450 Exp instruction number.
const glslExp = 27

func TestKernelsComputeWeights(t *testing.T) {
	for _, desc := range []*gpucore.KernelDesc{bufferKernelDesc(), imageKernelDesc()} {
		t.Run(desc.Name, func(t *testing.T) {
			words, err := compileWGSL(desc.Source)
			require.NoError(t, err)

			// OpExtInst: result type, result id, set, instruction, operands.
			exps := 0
			for i := 5; i < len(words); {
				n := int(words[i] >> 16)
				if n == 0 {
					t.Fatalf("malformed instruction at word %d", i)
				}
				if words[i]&0xffff == 12 && n >= 5 && words[i+4] == glslExp {
					exps++
				}
				i += n
			}
			if exps < 2 {
				t.Errorf("kernel evaluates exp %d times, want spatial and range factors", exps)
			}
		})
	}
}

func TestShaderCompilation(t *testing.T) {
	for _, desc := range []*gpucore.KernelDesc{bufferKernelDesc(), imageKernelDesc()} {
		t.Run(desc.Name, func(t *testing.T) {
			if desc.Source == "" {
				t.Fatal("shader source is empty")
			}
			words, err := compileWGSL(desc.Source)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if len(words) == 0 || words[0] != 0x07230203 {
				t.Errorf("missing SPIR-V magic number")
			}
			again, err := compileWGSL(desc.Source)
			if err != nil || &again[0] != &words[0] {
				t.Errorf("second compile was not served from cache")
			}
		})
	}
}

func TestShaderSourcesShareLayout(t *testing.T) {
	for _, src := range []string{bilateralBufferWGSL, bilateralImageWGSL} {
		for _, want := range []string{
			"@workgroup_size(16, 16, 1)",
			"@group(0) @binding(1) var<storage, read_write> dst",
			"@group(0) @binding(2) var<uniform> params: Params",
			"center.a",
		} {
			if !strings.Contains(src, want) {
				t.Errorf("shader missing %q", want)
			}
		}
	}
	if !strings.Contains(bilateralImageWGSL, "textureLoad") {
		t.Error("image shader does not load from the texture")
	}
}

func TestHALDeviceResources(t *testing.T) {
	d := createNoopHALDevice(t)
	defer d.Close()

	buf, err := d.CreateBuffer(&gpucore.BufferDesc{
		Label: "buf", Size: 256,
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := d.WriteBuffer(buf, 0, make([]byte, 128)); err != nil {
		t.Errorf("WriteBuffer: %v", err)
	}
	if err := d.WriteBuffer(buf, 200, make([]byte, 128)); err == nil {
		t.Error("out of range WriteBuffer should fail")
	}

	tex, err := d.CreateTexture(&gpucore.TextureDesc{
		Label: "tex", Width: 8, Height: 8,
		Format: gpucore.TextureFormatRGBA32Float,
		Usage:  gpucore.TextureUsageCopyDst | gpucore.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}

	d.DestroyTexture(tex)
	d.DestroyBuffer(buf)
	if len(d.buffers) != 0 || len(d.textures) != 0 {
		t.Errorf("objects left: %d buffers, %d textures", len(d.buffers), len(d.textures))
	}
}

func TestHALDeviceSubmitTransfer(t *testing.T) {
	d := createNoopHALDevice(t)
	defer d.Close()

	staging, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 256 * 2, Usage: gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst})
	if err != nil {
		t.Fatal(err)
	}
	tex, err := d.CreateTexture(&gpucore.TextureDesc{
		Width: 2, Height: 2, Format: gpucore.TextureFormatRGBA32Float,
		Usage: gpucore.TextureUsageCopyDst | gpucore.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatal(err)
	}

	enc := gpucore.NewEncoder("transfer")
	steps := []error{
		enc.TransitionTexture(tex, gpucore.LayoutUndefined, gpucore.LayoutTransferDst),
		enc.ClearTexture(tex, sentinelColor),
		enc.CopyBufferToTexture(staging, tex, 256, 2, 2),
		enc.TransitionTexture(tex, gpucore.LayoutTransferDst, gpucore.LayoutShaderReadOnly),
	}
	for _, err := range steps {
		if err != nil {
			t.Fatal(err)
		}
	}
	seq, _ := enc.Finish()

	fence, err := d.Submit(seq)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ok, err := d.Wait(fence, time.Second)
	if err != nil || !ok {
		t.Fatalf("Wait = %v, %v", ok, err)
	}
	if f := d.fences[fence]; len(f.temps) != 1 {
		t.Errorf("clear used %d temporary buffers, want 1", len(f.temps))
	}
	d.DestroyFence(fence)
	if len(d.fences) != 0 {
		t.Error("fence not destroyed")
	}
}

func TestHALDeviceCloseIdempotent(t *testing.T) {
	d := createNoopHALDevice(t)
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 64, Usage: gpucore.BufferUsageStorage}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 64}); err == nil {
		t.Error("CreateBuffer after Close should fail")
	}
}

func TestUsageMapping(t *testing.T) {
	got := bufferUsage(gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst)
	if got != gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst {
		t.Errorf("bufferUsage = %v", got)
	}
	if layoutUsage(gpucore.LayoutUndefined) != 0 {
		t.Error("undefined layout should map to no usage")
	}
	if layoutUsage(gpucore.LayoutShaderReadOnly) != gputypes.TextureUsageTextureBinding {
		t.Error("ShaderReadOnly should map to TextureBinding")
	}
	if accessUsage(gpucore.AccessTransferRead) != gputypes.BufferUsageCopySrc {
		t.Error("TransferRead should map to CopySrc")
	}
	e := layoutEntry(gpucore.BindingLayout{Binding: 0, Type: gpucore.BindingTypeSampledTexture})
	if e.Texture == nil || e.Buffer != nil {
		t.Error("sampled texture binding should produce a texture layout entry")
	}
}
