package bilateral

import (
	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpu"
	"github.com/gogpu/bilateral/internal/image"
)

// Errors returned by this package. Match them with errors.Is.
var (
	// ErrLoad is returned when an input image cannot be read or decoded.
	ErrLoad = image.ErrLoad

	// ErrUnsupportedFormat is returned by Save for an unknown file extension.
	ErrUnsupportedFormat = image.ErrUnsupportedFormat

	// ErrInvalidParams is returned for non-positive sigmas or a negative radius.
	ErrInvalidParams = filter.ErrInvalidParams

	// ErrDimensionMismatch is returned when source and destination sizes differ.
	ErrDimensionMismatch = filter.ErrDimensionMismatch

	// ErrResourceAllocation is returned when a GPU buffer, texture, kernel
	// or bind group cannot be created.
	ErrResourceAllocation = gpu.ErrResourceAllocation

	// ErrDeviceTimeout is returned when GPU work does not complete in time.
	ErrDeviceTimeout = gpu.ErrDeviceTimeout
)
