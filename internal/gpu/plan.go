// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// StepKind identifies a step of an execution plan.
type StepKind uint8

// Plan steps in execution order.
const (
	StepAllocate StepKind = iota
	StepUpload
	StepBind
	StepRecord
	StepSubmit
	StepWait
	StepReadback
)

// String returns the step name.
func (k StepKind) String() string {
	switch k {
	case StepAllocate:
		return "allocate"
	case StepUpload:
		return "upload"
	case StepBind:
		return "bind"
	case StepRecord:
		return "record"
	case StepSubmit:
		return "submit"
	case StepWait:
		return "wait"
	case StepReadback:
		return "readback"
	default:
		return fmt.Sprintf("StepKind(%d)", k)
	}
}

// Step is one unit of a plan.
type Step struct {
	Kind StepKind
	Run  func() error
}

// ExecutionPlan is an ordered list of steps that can be executed once.
type ExecutionPlan struct {
	label    string
	steps    []Step
	timings  []time.Duration
	consumed atomic.Bool
}

// NewExecutionPlan creates a plan from steps.
func NewExecutionPlan(label string, steps ...Step) *ExecutionPlan {
	return &ExecutionPlan{label: label, steps: steps}
}

// Steps returns the step kinds in order.
func (p *ExecutionPlan) Steps() []StepKind {
	out := make([]StepKind, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Kind
	}
	return out
}

// Execute runs every step in order and stops at the first error.
//
// ctx is checked before the submit step only: once work is on the device it
// runs to completion or timeout.
func (p *ExecutionPlan) Execute(ctx context.Context) error {
	if !p.consumed.CompareAndSwap(false, true) {
		return ErrPlanConsumed
	}
	p.timings = make([]time.Duration, len(p.steps))
	for i, s := range p.steps {
		if s.Kind == StepSubmit {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("gpu: %s canceled before submit: %w", p.label, err)
			}
		}
		start := time.Now()
		if err := s.Run(); err != nil {
			return fmt.Errorf("%s: %w", s.Kind, err)
		}
		p.timings[i] = time.Since(start)
	}
	return nil
}

// Duration returns the total time spent in steps of the given kinds.
// It is valid after Execute.
func (p *ExecutionPlan) Duration(kinds ...StepKind) time.Duration {
	var d time.Duration
	for i, s := range p.steps {
		if i >= len(p.timings) {
			break
		}
		for _, k := range kinds {
			if s.Kind == k {
				d += p.timings[i]
			}
		}
	}
	return d
}

// String lists the steps.
func (p *ExecutionPlan) String() string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Kind.String()
	}
	return p.label + "[" + strings.Join(names, " -> ") + "]"
}
