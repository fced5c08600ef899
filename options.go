package bilateral

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpu"
)

// DefaultWorkers is the worker count used by ModeCPUParallel.
const DefaultWorkers = filter.DefaultWorkers

// DefaultTimeout bounds the wait for GPU work.
const DefaultTimeout = gpu.DefaultTimeout

// Options selects how Apply runs the filter.
type Options struct {
	// Mode selects CPU, parallel CPU or GPU execution.
	Mode ExecMode

	// Storage selects the GPU source layout. Ignored by CPU modes.
	Storage StorageMode

	// Backend selects the GPU device. Ignored when Provider is set.
	Backend Backend

	// Provider supplies a shared GPU device. It must also expose
	// HalDevice() and HalQueue(); the device is not closed by Apply.
	Provider gpucontext.DeviceProvider

	// Workers is the goroutine count for ModeCPUParallel and for the
	// software device. Zero means DefaultWorkers.
	Workers int

	// Timeout bounds the wait for GPU work. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultOptions returns options for parallel CPU execution with
// DefaultWorkers workers.
func DefaultOptions() Options {
	return Options{
		Mode:    ModeCPUParallel,
		Storage: StorageBuffer,
		Backend: BackendVulkan,
		Workers: DefaultWorkers,
		Timeout: DefaultTimeout,
	}
}

// Option configures Options.
//
// Example:
//
//	opts := bilateral.NewOptions(
//	    bilateral.WithMode(bilateral.ModeGPU),
//	    bilateral.WithStorage(bilateral.StorageImage),
//	)
type Option func(*Options)

// NewOptions applies opts to DefaultOptions.
func NewOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMode sets the execution mode.
func WithMode(m ExecMode) Option {
	return func(o *Options) {
		o.Mode = m
	}
}

// WithStorage sets the GPU storage mode.
func WithStorage(s StorageMode) Option {
	return func(o *Options) {
		o.Storage = s
	}
}

// WithBackend sets the GPU device backend.
func WithBackend(b Backend) Option {
	return func(o *Options) {
		o.Backend = b
	}
}

// WithProvider runs GPU work on a shared device.
func WithProvider(p gpucontext.DeviceProvider) Option {
	return func(o *Options) {
		o.Provider = p
	}
}

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithTimeout bounds the wait for GPU work.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// Validate checks that the options name known modes.
func (o Options) Validate() error {
	if o.Mode < ModeCPU || o.Mode > ModeGPU {
		return fmt.Errorf("%w: exec mode %d", ErrUnknownMode, o.Mode)
	}
	if o.Storage != StorageBuffer && o.Storage != StorageImage {
		return fmt.Errorf("%w: storage mode %d", ErrUnknownMode, o.Storage)
	}
	if o.Backend != BackendVulkan && o.Backend != BackendSoftware {
		return fmt.Errorf("%w: backend %d", ErrUnknownMode, o.Backend)
	}
	if o.Workers < 0 {
		return fmt.Errorf("bilateral: negative worker count %d", o.Workers)
	}
	return nil
}

func (o Options) workers() int {
	if o.Workers <= 0 {
		return DefaultWorkers
	}
	return o.Workers
}
