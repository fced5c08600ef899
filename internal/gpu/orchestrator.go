// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpucore"
	"github.com/gogpu/bilateral/internal/image"
)

// DefaultTimeout bounds the wait for a submitted filter run.
const DefaultTimeout = 30 * time.Second

// Stats describes one completed GPU run.
type Stats struct {
	Mode      StorageMode
	Device    string
	Resources int
	Groups    [3]uint32
	Commands  int

	// Upload covers allocation, host writes and binding.
	Upload time.Duration
	// Compute covers recording, submission and the wait.
	Compute time.Duration
	// Readback covers the host read and decode.
	Readback time.Duration
	Total    time.Duration
}

// Orchestrator runs the bilateral filter on a device.
//
// Every run allocates its own resources and releases them before returning,
// on success and on every error path.
type Orchestrator struct {
	Device gpucore.Device

	// Timeout bounds the wait for the submission. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Run filters src with p using strategy s.
func (o *Orchestrator) Run(ctx context.Context, src *image.Float, p filter.Params, s Strategy) (out *image.Float, stats *Stats, err error) {
	if o.Device == nil {
		return nil, nil, ErrNilDevice
	}
	if src == nil {
		return nil, nil, filter.ErrNilImage
	}
	if err := src.Validate(); err != nil {
		return nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rm, err := NewResourceManager(o.Device)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if rerr := rm.ReleaseAll(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("gpu: release: %w", rerr))
		}
	}()

	stats = &Stats{
		Mode:   s.Mode(),
		Device: o.Device.Name(),
		Groups: DispatchSize(src.Width, src.Height),
	}

	var (
		kernel gpucore.KernelID
		group  gpucore.BindGroupID
		seq    *gpucore.CommandSequence
	)

	plan := NewExecutionPlan("bilateral."+s.Mode().String(),
		Step{StepAllocate, func() error {
			return s.Allocate(rm, src.Width, src.Height)
		}},
		Step{StepUpload, func() error {
			return s.Upload(rm, src, p)
		}},
		Step{StepBind, func() error {
			var err error
			if kernel, err = rm.CreateKernel(s.Kernel()); err != nil {
				return err
			}
			group, err = rm.Bind(kernel, "bilateral.bindings", s.Bindings())
			return err
		}},
		Step{StepRecord, func() error {
			enc := gpucore.NewEncoder("bilateral." + s.Mode().String())
			if err := s.PreDispatch(enc); err != nil {
				return err
			}
			g := stats.Groups
			if err := enc.Dispatch(kernel, group, g[0], g[1], g[2]); err != nil {
				return err
			}
			if err := s.PostDispatch(enc); err != nil {
				return err
			}
			var err error
			seq, err = enc.Finish()
			if err == nil {
				stats.Commands = seq.Len()
				slogger().Debug("gpu: recorded", "sequence", seq.String())
			}
			return err
		}},
		Step{StepSubmit, func() error {
			return rm.Submit(seq)
		}},
		Step{StepWait, func() error {
			return rm.Synchronize(timeout)
		}},
		Step{StepReadback, func() error {
			var err error
			out, err = s.Readback(rm)
			return err
		}},
	)
	slogger().Debug("gpu: plan", "plan", plan.String(), "device", stats.Device)

	start := time.Now()
	if err := plan.Execute(ctx); err != nil {
		slogger().Warn("gpu: run failed", "mode", s.Mode(), "err", err)
		return nil, nil, err
	}

	stats.Resources = len(rm.Resources())
	stats.Upload = plan.Duration(StepAllocate, StepUpload, StepBind)
	stats.Compute = plan.Duration(StepRecord, StepSubmit, StepWait)
	stats.Readback = plan.Duration(StepReadback)
	stats.Total = time.Since(start)
	slogger().Info("gpu: run finished",
		"mode", stats.Mode,
		"device", stats.Device,
		"width", src.Width,
		"height", src.Height,
		"total", stats.Total)
	return out, stats, nil
}
