package bilateral

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/bilateral/internal/gpu"
)

// ErrUnknownMode is returned when parsing an unrecognized mode or backend name.
var ErrUnknownMode = errors.New("bilateral: unknown mode")

// ExecMode selects where the filter runs.
type ExecMode int

const (
	// ModeCPU evaluates every pixel on the calling goroutine.
	ModeCPU ExecMode = iota

	// ModeCPUParallel splits rows into bands across a fixed worker pool.
	ModeCPUParallel

	// ModeGPU runs a compute kernel on a GPU device.
	ModeGPU
)

// String returns the mode name.
func (m ExecMode) String() string {
	switch m {
	case ModeCPU:
		return "cpu"
	case ModeCPUParallel:
		return "cpu-parallel"
	case ModeGPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// ParseExecMode parses "cpu", "cpu-parallel" or "gpu".
func ParseExecMode(s string) (ExecMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return ModeCPU, nil
	case "cpu-parallel", "parallel":
		return ModeCPUParallel, nil
	case "gpu":
		return ModeGPU, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// StorageMode selects how the source image is presented to the GPU kernel.
type StorageMode = gpu.StorageMode

const (
	// StorageBuffer holds the source in a linear storage buffer.
	StorageBuffer = gpu.StorageBuffer

	// StorageImage holds the source in a sampled RGBA32F texture.
	StorageImage = gpu.StorageImage
)

// ParseStorageMode parses "buffer" or "image".
func ParseStorageMode(s string) (StorageMode, error) {
	m, err := gpu.ParseStorageMode(s)
	if err != nil {
		return 0, fmt.Errorf("%w: storage %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Backend selects the device used by ModeGPU.
type Backend int

const (
	// BackendVulkan opens a Vulkan adapter through gogpu/wgpu.
	BackendVulkan Backend = iota

	// BackendSoftware emulates the device on the CPU.
	BackendSoftware
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case BackendVulkan:
		return "vulkan"
	case BackendSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// ParseBackend parses "vulkan" or "software".
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vulkan", "hal":
		return BackendVulkan, nil
	case "software", "sw":
		return BackendSoftware, nil
	default:
		return 0, fmt.Errorf("%w: backend %q", ErrUnknownMode, s)
	}
}
