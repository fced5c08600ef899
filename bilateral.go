package bilateral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/bilateral/internal/filter"
	"github.com/gogpu/bilateral/internal/gpu"
	"github.com/gogpu/bilateral/internal/gpucore"
	"github.com/gogpu/bilateral/internal/image"
)

// Image is a width×height RGBA image with float32 channels in [0, 1].
type Image = image.Float

// Params are the filter parameters.
type Params = filter.Params

// DefaultQuality is the JPEG quality used by Save.
const DefaultQuality = image.DefaultJPEGQuality

// DefaultParams returns spatial and intensity sigmas of 35 and a radius of 10.
func DefaultParams() Params {
	return filter.DefaultParams()
}

// NewImage creates a zeroed image.
func NewImage(width, height int) (*Image, error) {
	return image.NewFloat(width, height)
}

// Load decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file.
func Load(path string) (*Image, error) {
	return image.Load(path)
}

// Save encodes img by the extension of path. JPEG output uses quality.
// Nothing is written if encoding fails.
func Save(path string, img *Image, quality int) error {
	return image.Save(path, img, quality)
}

// Report describes a completed run.
type Report struct {
	Mode    ExecMode
	Storage StorageMode
	Device  string
	Width   int
	Height  int

	// Compute is the filter time without host transfers.
	Compute time.Duration
	// Transfer is the time spent uploading and reading back.
	Transfer time.Duration
	// Total is the wall time of the run.
	Total time.Duration
}

// Apply filters src with p and returns a new image.
func Apply(ctx context.Context, src *Image, p Params, opts Options) (*Image, error) {
	out, _, err := Run(ctx, src, p, opts)
	return out, err
}

// Run filters src with p and reports timings.
func Run(ctx context.Context, src *Image, p Params, opts Options) (*Image, *Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	if err := validateInput(src, p); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	report := &Report{Mode: opts.Mode, Width: src.Width, Height: src.Height}

	var (
		out *Image
		err error
	)
	switch opts.Mode {
	case ModeCPU:
		out, err = filter.Executor{Workers: 1}.Apply(src, p)
		report.Device = "cpu"
	case ModeCPUParallel:
		out, err = filter.Executor{Workers: opts.workers()}.Apply(src, p)
		report.Device = fmt.Sprintf("cpu x%d", opts.workers())
	case ModeGPU:
		out, err = runGPU(ctx, src, p, opts, report)
	}
	if err != nil {
		return nil, nil, err
	}

	report.Total = time.Since(start)
	if opts.Mode != ModeGPU {
		report.Compute = report.Total
	}
	Logger().Info("bilateral: filtered",
		"mode", report.Mode,
		"device", report.Device,
		"width", report.Width,
		"height", report.Height,
		"total", report.Total)
	return out, report, nil
}

// validateInput rejects bad input before any device is opened.
func validateInput(src *Image, p Params) error {
	if src == nil {
		return filter.ErrNilImage
	}
	if err := src.Validate(); err != nil {
		return err
	}
	return p.Validate()
}

func runGPU(ctx context.Context, src *Image, p Params, opts Options, report *Report) (out *Image, err error) {
	dev, err := openDevice(opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("bilateral: close device: %w", cerr))
		}
	}()

	strategy, err := gpu.NewStrategy(opts.Storage)
	if err != nil {
		return nil, err
	}
	o := &gpu.Orchestrator{Device: dev, Timeout: opts.Timeout}
	out, stats, err := o.Run(ctx, src, p, strategy)
	if err != nil {
		return nil, err
	}
	report.Storage = stats.Mode
	report.Device = stats.Device
	report.Compute = stats.Compute
	report.Transfer = stats.Upload + stats.Readback
	return out, nil
}

func openDevice(opts Options) (gpucore.Device, error) {
	if opts.Provider != nil {
		d, err := gpu.NewHALDeviceFromProvider(opts.Provider)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	switch opts.Backend {
	case BackendSoftware:
		return gpu.NewSoftwareDevice(gpu.WithWorkers(opts.workers())), nil
	default:
		d, err := gpu.NewHALDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResourceAllocation, err)
		}
		return d, nil
	}
}

// Adapter describes a GPU adapter.
type Adapter struct {
	Name     string
	Discrete bool
}

// Adapters lists the Vulkan adapters visible to ModeGPU.
func Adapters() ([]Adapter, error) {
	infos, err := gpu.Adapters()
	if err != nil {
		return nil, err
	}
	out := make([]Adapter, len(infos))
	for i, a := range infos {
		out[i] = Adapter{Name: a.Name, Discrete: a.Discrete()}
	}
	return out, nil
}
