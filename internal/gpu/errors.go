// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "errors"

// Compute path errors.
var (
	// ErrIllegalTransition is returned when a resource is moved to a state
	// that does not follow from its current one.
	ErrIllegalTransition = errors.New("gpu: illegal resource state transition")

	// ErrResourceReleased is returned when a released resource is used.
	ErrResourceReleased = errors.New("gpu: resource already released")

	// ErrAlreadyBound is returned when a kernel is bound a second time.
	ErrAlreadyBound = errors.New("gpu: resources already bound")

	// ErrDeviceTimeout is returned when a submission does not complete
	// within the configured timeout.
	ErrDeviceTimeout = errors.New("gpu: device timeout")

	// ErrNotSynchronized is returned when the host reads a resource whose
	// device work has not been waited on.
	ErrNotSynchronized = errors.New("gpu: resource not synchronized")

	// ErrResourceAllocation is returned when a buffer, texture, kernel or
	// bind group cannot be created.
	ErrResourceAllocation = errors.New("gpu: resource allocation failed")

	// ErrPlanConsumed is returned when an execution plan is run twice.
	ErrPlanConsumed = errors.New("gpu: execution plan already consumed")

	// ErrNilDevice is returned when no device is configured.
	ErrNilDevice = errors.New("gpu: device is nil")

	// ErrUnknownStorageMode is returned for an unrecognized storage mode.
	ErrUnknownStorageMode = errors.New("gpu: unknown storage mode")
)
