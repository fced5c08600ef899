// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/image"
)

func randomImage(t *testing.T, w, h int, seed uint64) *image.Float {
	t.Helper()
	f, err := image.NewFloat(w, h)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range f.Pix {
		f.Pix[i] = rng.Float32()
	}
	return f
}

var allModes = []StorageMode{StorageBuffer, StorageImage}

func runOnSoftware(t *testing.T, dev *SoftwareDevice, src *image.Float, p filter.Params, mode StorageMode) (*image.Float, *Stats, error) {
	t.Helper()
	s, err := NewStrategy(mode)
	require.NoError(t, err)
	o := &Orchestrator{Device: dev, Timeout: 10 * time.Second}
	return o.Run(context.Background(), src, p, s)
}

func TestOrchestratorMatchesReference(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		p    filter.Params
	}{
		{"single workgroup", 7, 5, filter.Params{SpatialSigma: 2, IntensitySigma: 0.3, Radius: 2}},
		{"partial workgroups", 37, 21, filter.Params{SpatialSigma: 4, IntensitySigma: 0.2, Radius: 3}},
		{"defaults", 18, 17, filter.DefaultParams()},
		{"radius zero", 9, 9, filter.Params{SpatialSigma: 1, IntensitySigma: 1, Radius: 0}},
	}
	for _, tt := range tests {
		src := randomImage(t, tt.w, tt.h, uint64(tt.w*tt.h))
		want, err := filter.Executor{Workers: 1}.Apply(src, tt.p)
		require.NoError(t, err)

		for _, mode := range allModes {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				dev := NewSoftwareDevice()
				got, stats, err := runOnSoftware(t, dev, src, tt.p, mode)
				require.NoError(t, err)
				require.Equal(t, want.Width, got.Width)
				require.Equal(t, want.Height, got.Height)
				for i := range want.Pix {
					if !assert.InDelta(t, want.Pix[i], got.Pix[i], 1e-3, "index %d", i) {
						return
					}
				}
				assert.Equal(t, mode, stats.Mode)
				assert.Equal(t, DispatchSize(tt.w, tt.h), stats.Groups)
				assert.Zero(t, dev.Live(), "device objects leaked")
			})
		}
	}
}

func TestOrchestratorStats(t *testing.T) {
	src := randomImage(t, 20, 20, 3)
	p := filter.Params{SpatialSigma: 3, IntensitySigma: 0.5, Radius: 1}

	_, stats, err := runOnSoftware(t, NewSoftwareDevice(), src, p, StorageBuffer)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Resources)
	assert.Equal(t, 3, stats.Commands)
	assert.Equal(t, "software", stats.Device)

	_, stats, err = runOnSoftware(t, NewSoftwareDevice(), src, p, StorageImage)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Resources)
	assert.Equal(t, 7, stats.Commands)
	assert.Equal(t, [3]uint32{2, 2, 1}, stats.Groups)
}

func TestOrchestratorTimeout(t *testing.T) {
	src := randomImage(t, 8, 8, 11)
	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			dev := NewSoftwareDevice(WithHangingSubmissions())
			s, err := NewStrategy(mode)
			require.NoError(t, err)

			o := &Orchestrator{Device: dev, Timeout: 20 * time.Millisecond}
			out, stats, err := o.Run(context.Background(), src, filter.DefaultParams(), s)
			require.ErrorIs(t, err, ErrDeviceTimeout)
			assert.Nil(t, out)
			assert.Nil(t, stats)
			assert.Zero(t, dev.Live(), "resources alive after timeout")
		})
	}
}

func TestOrchestratorTimeoutWhileExecuting(t *testing.T) {
	src := randomImage(t, 384, 384, 17)
	p := filter.Params{SpatialSigma: 8, IntensitySigma: 0.3, Radius: 12}
	const timeout = 20 * time.Millisecond

	for _, mode := range allModes {
		t.Run(mode.String(), func(t *testing.T) {
			dev := NewSoftwareDevice(WithWorkers(1))
			defer dev.Close()
			s, err := NewStrategy(mode)
			require.NoError(t, err)

			o := &Orchestrator{Device: dev, Timeout: timeout}
			start := time.Now()
			_, _, err = o.Run(context.Background(), src, p, s)
			elapsed := time.Since(start)

			require.ErrorIs(t, err, ErrDeviceTimeout)
			assert.Less(t, elapsed, 20*timeout, "run returned %s after a %s timeout", elapsed, timeout)
			assert.Zero(t, dev.Live(), "resources alive after timeout")
		})
	}
}

func TestOrchestratorAllocationFailure(t *testing.T) {
	src := randomImage(t, 8, 8, 13)
	for _, mode := range allModes {
		need := 4
		if mode == StorageImage {
			need = 5
		}
		for limit := range need {
			dev := NewSoftwareDevice(WithAllocationLimit(limit))
			_, _, err := runOnSoftware(t, dev, src, filter.DefaultParams(), mode)
			require.ErrorIs(t, err, ErrResourceAllocation, "mode=%s limit=%d", mode, limit)
			assert.Zero(t, dev.Live(), "mode=%s limit=%d: partial resources leaked", mode, limit)
		}
	}
}

func TestOrchestratorCanceledBeforeSubmit(t *testing.T) {
	dev := NewSoftwareDevice()
	s, err := NewStrategy(StorageBuffer)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &Orchestrator{Device: dev}
	_, _, err = o.Run(ctx, randomImage(t, 4, 4, 1), filter.DefaultParams(), s)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dev.Live())
}

func TestOrchestratorInvalidInput(t *testing.T) {
	s, err := NewStrategy(StorageBuffer)
	require.NoError(t, err)

	_, _, err = (&Orchestrator{}).Run(context.Background(), randomImage(t, 2, 2, 1), filter.DefaultParams(), s)
	assert.ErrorIs(t, err, ErrNilDevice)

	o := &Orchestrator{Device: NewSoftwareDevice()}
	_, _, err = o.Run(context.Background(), nil, filter.DefaultParams(), s)
	assert.ErrorIs(t, err, filter.ErrNilImage)

	_, _, err = o.Run(context.Background(), randomImage(t, 2, 2, 1), filter.Params{SpatialSigma: 0, IntensitySigma: 1}, s)
	assert.ErrorIs(t, err, filter.ErrInvalidParams)
}

func TestParseStorageMode(t *testing.T) {
	tests := []struct {
		in      string
		want    StorageMode
		wantErr bool
	}{
		{"buffer", StorageBuffer, false},
		{"IMAGE", StorageImage, false},
		{" texture ", StorageImage, false},
		{"sampler", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStorageMode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownStorageMode, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	_, err := NewStrategy(StorageMode(9))
	assert.ErrorIs(t, err, ErrUnknownStorageMode)
}
