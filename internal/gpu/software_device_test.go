// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpucore"
	"github.com/gogpu/bilateral/internal/image"
)

// =============================================================================
// Helpers
// =============================================================================

type swFixture struct {
	t   *testing.T
	dev *SoftwareDevice
}

func newSWFixture(t *testing.T) *swFixture {
	t.Helper()
	return &swFixture{t: t, dev: NewSoftwareDevice(WithWorkers(2))}
}

func (f *swFixture) buffer(size uint64, usage gpucore.BufferUsage) gpucore.BufferID {
	f.t.Helper()
	id, err := f.dev.CreateBuffer(&gpucore.BufferDesc{Label: "test", Size: size, Usage: usage})
	if err != nil {
		f.t.Fatalf("CreateBuffer: %v", err)
	}
	return id
}

func (f *swFixture) submit(enc *gpucore.Encoder) {
	f.t.Helper()
	seq, err := enc.Finish()
	if err != nil {
		f.t.Fatal(err)
	}
	fence, err := f.dev.Submit(seq)
	if err != nil {
		f.t.Fatalf("Submit: %v", err)
	}
	ok, err := f.dev.Wait(fence, 5*time.Second)
	if err != nil || !ok {
		f.t.Fatalf("Wait = %v, %v", ok, err)
	}
	f.dev.DestroyFence(fence)
}

func (f *swFixture) readImage(id gpucore.BufferID, w, h int) *image.Float {
	f.t.Helper()
	data := make([]byte, w*h*image.BytesPerPixel)
	if err := f.dev.ReadBuffer(id, 0, data); err != nil {
		f.t.Fatalf("ReadBuffer: %v", err)
	}
	img, err := image.FromBytes(w, h, data, 0)
	if err != nil {
		f.t.Fatal(err)
	}
	return img
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func countNaN(f *image.Float) int {
	n := 0
	for _, v := range f.Pix {
		if math.IsNaN(float64(v)) {
			n++
		}
	}
	return n
}

// =============================================================================
// Ordering hazards
// =============================================================================

// dispatchBufferKernel sets up the buffer kernel over src and records the
// dispatch into a new encoder. The caller finishes the sequence.
func dispatchBufferKernel(f *swFixture, src *image.Float) (enc *gpucore.Encoder, out gpucore.BufferID) {
	t := f.t
	t.Helper()
	size := uint64(src.ByteSize())

	in := f.buffer(size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)
	out = f.buffer(size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc)
	params := f.buffer(paramsSize, gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
	must(t, f.dev.WriteBuffer(in, 0, src.Bytes()))
	p := filter.Params{SpatialSigma: 2, IntensitySigma: 0.5, Radius: 1}
	must(t, f.dev.WriteBuffer(params, 0, newKernelParams(src.Width, src.Height, p).toBytes()))

	kernel, err := f.dev.CreateKernel(bufferKernelDesc())
	must(t, err)
	bg, err := f.dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Kernel: kernel,
		Entries: []gpucore.BindGroupEntry{
			{Binding: slotSource, Buffer: in},
			{Binding: slotOutput, Buffer: out},
			{Binding: slotParams, Buffer: params},
		},
	})
	must(t, err)

	enc = gpucore.NewEncoder("dispatch")
	g := DispatchSize(src.Width, src.Height)
	must(t, enc.Dispatch(kernel, bg, g[0], g[1], g[2]))
	return enc, out
}

func TestSoftwareMissingBarrierYieldsUndefined(t *testing.T) {
	src := randomImage(t, 6, 5, 21)

	tests := []struct {
		name    string
		barrier bool
	}{
		{"with barrier", true},
		{"without barrier", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSWFixture(t)
			enc, out := dispatchBufferKernel(f, src)
			rb := f.buffer(uint64(src.ByteSize()), gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
			if tt.barrier {
				must(t, enc.BufferBarrier(out, gpucore.AccessShaderWrite, gpucore.AccessTransferRead))
			}
			must(t, enc.CopyBufferToBuffer(out, rb, 0, 0, uint64(src.ByteSize())))
			f.submit(enc)

			got := f.readImage(rb, src.Width, src.Height)
			nan := countNaN(got)
			if tt.barrier && nan != 0 {
				t.Errorf("%d undefined values with barrier", nan)
			}
			if !tt.barrier && nan != len(got.Pix) {
				t.Errorf("%d of %d values undefined without barrier, want all", nan, len(got.Pix))
			}
		})
	}
}

func TestSoftwareDispatchCoversGridOnly(t *testing.T) {
	f := newSWFixture(t)
	src := randomImage(t, 20, 3, 5)
	size := uint64(src.ByteSize())

	in := f.buffer(size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)
	out := f.buffer(size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc)
	params := f.buffer(paramsSize, gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
	rb := f.buffer(size, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
	must(t, f.dev.WriteBuffer(in, 0, src.Bytes()))
	must(t, f.dev.WriteBuffer(params, 0, newKernelParams(20, 3, filter.DefaultParams()).toBytes()))
	kernel, err := f.dev.CreateKernel(bufferKernelDesc())
	must(t, err)
	bg, err := f.dev.CreateBindGroup(&gpucore.BindGroupDesc{Kernel: kernel, Entries: []gpucore.BindGroupEntry{
		{Binding: slotSource, Buffer: in}, {Binding: slotOutput, Buffer: out}, {Binding: slotParams, Buffer: params},
	}})
	must(t, err)

	// One work-group covers columns 0..15; columns 16..19 are never written.
	enc := gpucore.NewEncoder("short grid")
	must(t, enc.Dispatch(kernel, bg, 1, 1, 1))
	must(t, enc.BufferBarrier(out, gpucore.AccessShaderWrite, gpucore.AccessTransferRead))
	must(t, enc.CopyBufferToBuffer(out, rb, 0, 0, size))
	f.submit(enc)

	got := f.readImage(rb, 20, 3)
	for y := range 3 {
		for x := range 20 {
			undefined := math.IsNaN(float64(got.At(x, y, 0)))
			if undefined != (x >= WorkgroupSize) {
				t.Errorf("pixel (%d,%d) undefined = %v", x, y, undefined)
			}
		}
	}
}

// textureRun records the image-mode upload with the given pre-dispatch
// commands and returns the filtered output.
func textureRun(t *testing.T, src *image.Float, p filter.Params, record func(enc *gpucore.Encoder, staging gpucore.BufferID, tex gpucore.TextureID, pitch uint32)) *image.Float {
	t.Helper()
	f := newSWFixture(t)
	w, h := src.Width, src.Height
	pitch := image.RowPitch(w, textureRowAlignment)

	staging := f.buffer(uint64(pitch*h), gpucore.BufferUsageCopySrc|gpucore.BufferUsageCopyDst)
	data := make([]byte, pitch*h)
	must(t, src.PutBytes(data, pitch))
	must(t, f.dev.WriteBuffer(staging, 0, data))

	tex, err := f.dev.CreateTexture(&gpucore.TextureDesc{
		Width: uint32(w), Height: uint32(h),
		Format: gpucore.TextureFormatRGBA32Float,
		Usage:  gpucore.TextureUsageCopyDst | gpucore.TextureUsageTextureBinding,
	})
	must(t, err)
	out := f.buffer(uint64(src.ByteSize()), gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc)
	params := f.buffer(paramsSize, gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
	rb := f.buffer(uint64(src.ByteSize()), gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
	must(t, f.dev.WriteBuffer(params, 0, newKernelParams(w, h, p).toBytes()))

	kernel, err := f.dev.CreateKernel(imageKernelDesc())
	must(t, err)
	bg, err := f.dev.CreateBindGroup(&gpucore.BindGroupDesc{Kernel: kernel, Entries: []gpucore.BindGroupEntry{
		{Binding: slotSource, Texture: tex}, {Binding: slotOutput, Buffer: out}, {Binding: slotParams, Buffer: params},
	}})
	must(t, err)

	enc := gpucore.NewEncoder("texture")
	record(enc, staging, tex, uint32(pitch))
	g := DispatchSize(w, h)
	must(t, enc.Dispatch(kernel, bg, g[0], g[1], g[2]))
	must(t, enc.BufferBarrier(out, gpucore.AccessShaderWrite, gpucore.AccessTransferRead))
	must(t, enc.CopyBufferToBuffer(out, rb, 0, 0, uint64(src.ByteSize())))
	f.submit(enc)
	return f.readImage(rb, w, h)
}

func TestSoftwareTextureLayoutHazards(t *testing.T) {
	src := randomImage(t, 5, 4, 8)
	p := filter.Params{SpatialSigma: 2, IntensitySigma: 0.5, Radius: 1}
	w, h := uint32(src.Width), uint32(src.Height)

	tests := []struct {
		name      string
		record    func(enc *gpucore.Encoder, staging gpucore.BufferID, tex gpucore.TextureID, pitch uint32)
		undefined bool
	}{
		{
			name: "full sequence",
			record: func(enc *gpucore.Encoder, staging gpucore.BufferID, tex gpucore.TextureID, pitch uint32) {
				_ = enc.TransitionTexture(tex, gpucore.LayoutUndefined, gpucore.LayoutTransferDst)
				_ = enc.ClearTexture(tex, sentinelColor)
				_ = enc.CopyBufferToTexture(staging, tex, pitch, w, h)
				_ = enc.TransitionTexture(tex, gpucore.LayoutTransferDst, gpucore.LayoutShaderReadOnly)
			},
		},
		{
			name: "missing transfer transition",
			record: func(enc *gpucore.Encoder, staging gpucore.BufferID, tex gpucore.TextureID, pitch uint32) {
				_ = enc.ClearTexture(tex, sentinelColor)
				_ = enc.CopyBufferToTexture(staging, tex, pitch, w, h)
				_ = enc.TransitionTexture(tex, gpucore.LayoutTransferDst, gpucore.LayoutShaderReadOnly)
			},
			undefined: true,
		},
		{
			name: "missing shader-read transition",
			record: func(enc *gpucore.Encoder, staging gpucore.BufferID, tex gpucore.TextureID, pitch uint32) {
				_ = enc.TransitionTexture(tex, gpucore.LayoutUndefined, gpucore.LayoutTransferDst)
				_ = enc.CopyBufferToTexture(staging, tex, pitch, w, h)
			},
			undefined: true,
		},
	}

	want, err := filter.Executor{Workers: 1}.Apply(src, p)
	must(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := textureRun(t, src, p, tt.record)
			nan := countNaN(got)
			if tt.undefined {
				if nan == 0 {
					t.Error("expected undefined output")
				}
				return
			}
			if nan != 0 {
				t.Fatalf("%d undefined values", nan)
			}
			for i := range want.Pix {
				if d := math.Abs(float64(want.Pix[i] - got.Pix[i])); d > 1e-3 {
					t.Fatalf("Pix[%d] = %v, want %v", i, got.Pix[i], want.Pix[i])
				}
			}
		})
	}
}

func TestSoftwareSentinelSurvivesPartialCopy(t *testing.T) {
	src := randomImage(t, 4, 2, 3)
	// Radius 0 makes the kernel an identity, exposing the texture contents.
	p := filter.Params{SpatialSigma: 1, IntensitySigma: 1, Radius: 0}

	got := textureRun(t, src, p, func(enc *gpucore.Encoder, staging gpucore.BufferID, tex gpucore.TextureID, pitch uint32) {
		_ = enc.TransitionTexture(tex, gpucore.LayoutUndefined, gpucore.LayoutTransferDst)
		_ = enc.ClearTexture(tex, sentinelColor)
		_ = enc.CopyBufferToTexture(staging, tex, pitch, 2, 2)
		_ = enc.TransitionTexture(tex, gpucore.LayoutTransferDst, gpucore.LayoutShaderReadOnly)
	})
	for y := range 2 {
		for x := range 4 {
			px := got.Pixel(x, y)
			if x < 2 {
				if px != src.Pixel(x, y) {
					t.Errorf("copied pixel (%d,%d) = %v, want %v", x, y, px, src.Pixel(x, y))
				}
				continue
			}
			if px != sentinelColor {
				t.Errorf("uncopied pixel (%d,%d) = %v, want sentinel", x, y, px)
			}
		}
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestSoftwareBindGroupValidation(t *testing.T) {
	f := newSWFixture(t)
	kernel, err := f.dev.CreateKernel(bufferKernelDesc())
	must(t, err)
	storage := f.buffer(64, gpucore.BufferUsageStorage)
	uniform := f.buffer(paramsSize, gpucore.BufferUsageUniform)

	tests := []struct {
		name    string
		entries []gpucore.BindGroupEntry
		wantErr error
	}{
		{"missing binding", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage}}, gpucore.ErrInvalidBinding},
		{"uniform in storage slot", []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: uniform}, {Binding: 1, Buffer: storage}, {Binding: 2, Buffer: uniform},
		}, gpucore.ErrInvalidBinding},
		{"unknown buffer", []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: 999}, {Binding: 1, Buffer: storage}, {Binding: 2, Buffer: uniform},
		}, gpucore.ErrUnknownResource},
	}
	for _, tt := range tests {
		_, err := f.dev.CreateBindGroup(&gpucore.BindGroupDesc{Kernel: kernel, Entries: tt.entries})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	if _, err := f.dev.CreateKernel(&gpucore.KernelDesc{Name: "sobel", WorkgroupSize: [3]uint32{8, 8, 1}}); !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("unknown kernel = %v, want ErrUnsupported", err)
	}
}

func TestSoftwareHostAccessRules(t *testing.T) {
	f := newSWFixture(t)
	storageOnly := f.buffer(16, gpucore.BufferUsageStorage)
	if err := f.dev.WriteBuffer(storageOnly, 0, make([]byte, 4)); !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("WriteBuffer without CopyDst = %v, want ErrUnsupported", err)
	}
	if err := f.dev.ReadBuffer(storageOnly, 0, make([]byte, 4)); !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("ReadBuffer without MapRead = %v, want ErrUnsupported", err)
	}

	rb := f.buffer(16, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
	if err := f.dev.WriteBuffer(rb, 8, make([]byte, 16)); !errors.Is(err, gpucore.ErrInvalidCommand) {
		t.Errorf("out of range write = %v, want ErrInvalidCommand", err)
	}
	data := make([]byte, 16)
	must(t, f.dev.ReadBuffer(rb, 0, data))
	img, err := image.FromBytes(1, 1, data, 0)
	must(t, err)
	if countNaN(img) != 4 {
		t.Errorf("fresh buffer = %v, want undefined", img.Pix)
	}
}

func TestSoftwareSequenceSubmittedOnce(t *testing.T) {
	f := newSWFixture(t)
	a := f.buffer(16, gpucore.BufferUsageCopySrc)
	b := f.buffer(16, gpucore.BufferUsageCopyDst)

	enc := gpucore.NewEncoder("once")
	must(t, enc.CopyBufferToBuffer(a, b, 0, 0, 16))
	seq, err := enc.Finish()
	must(t, err)

	fence, err := f.dev.Submit(seq)
	must(t, err)
	if _, err := f.dev.Submit(seq); !errors.Is(err, gpucore.ErrSequenceConsumed) {
		t.Errorf("second Submit = %v, want ErrSequenceConsumed", err)
	}
	if ok, err := f.dev.Wait(fence, 5*time.Second); !ok || err != nil {
		t.Errorf("Wait = %v, %v", ok, err)
	}
	f.dev.DestroyFence(fence)
	f.dev.DestroyBuffer(a)
	f.dev.DestroyBuffer(b)
	if f.dev.Live() != 0 {
		t.Errorf("Live() = %d, want 0", f.dev.Live())
	}
}

func TestSoftwareClosedDevice(t *testing.T) {
	dev := NewSoftwareDevice()
	must(t, dev.Close())
	if _, err := dev.CreateBuffer(&gpucore.BufferDesc{Size: 16}); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("CreateBuffer after Close = %v, want ErrDeviceLost", err)
	}
}
