package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/bilateral"
	"github.com/gogpu/bilateral/internal/config"
)

type filterFlags struct {
	configFile     string
	input          string
	output         string
	mode           string
	storage        string
	device         string
	workers        int
	quality        int
	timeout        time.Duration
	radius         int
	spatialSigma   float32
	intensitySigma float32
	verbose        bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "bilateral",
		Short:         "edge-preserving image smoothing on CPU or GPU",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.AddCommand(newFilterCmd(), newDevicesCmd())
	return root
}

func newFilterCmd() *cobra.Command {
	var f filterFlags
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "filter an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			return runFilter(cmd, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "config file path (yaml)")
	fl.StringVar(&f.input, "in", "", "input image (png, jpeg, gif, bmp, tiff, webp)")
	fl.StringVar(&f.output, "out", "", "output image; format from extension")
	fl.StringVar(&f.mode, "mode", def.Mode, "cpu, cpu-parallel or gpu")
	fl.StringVar(&f.storage, "storage", def.Storage, "gpu source storage: buffer or image")
	fl.StringVar(&f.device, "device", def.Device, "gpu device: vulkan or software")
	fl.IntVar(&f.workers, "workers", def.Workers, "cpu-parallel worker count")
	fl.IntVar(&f.quality, "quality", def.Quality, "jpeg quality 1-100")
	fl.DurationVar(&f.timeout, "timeout", def.Timeout, "gpu wait timeout")
	fl.IntVar(&f.radius, "radius", def.Filter.Radius, "window half-size")
	fl.Float32Var(&f.spatialSigma, "spatial-sigma", def.Filter.SpatialSigma, "spatial sigma")
	fl.Float32Var(&f.intensitySigma, "intensity-sigma", def.Filter.IntensitySigma, "intensity sigma")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log progress to stderr")
	return cmd
}

// resolve loads the config file, if any, and lets explicitly set flags
// override it.
func (f *filterFlags) resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("in") {
		cfg.Input = f.input
	}
	if changed("out") {
		cfg.Output = f.output
	}
	if changed("mode") {
		cfg.Mode = f.mode
	}
	if changed("storage") {
		cfg.Storage = f.storage
	}
	if changed("device") {
		cfg.Device = f.device
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("quality") {
		cfg.Quality = f.quality
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("radius") {
		cfg.Filter.Radius = f.radius
	}
	if changed("spatial-sigma") {
		cfg.Filter.SpatialSigma = f.spatialSigma
	}
	if changed("intensity-sigma") {
		cfg.Filter.IntensitySigma = f.intensitySigma
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}

	if cfg.Input == "" || cfg.Output == "" {
		return nil, errors.New("both --in and --out are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runFilter(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.Verbose {
		bilateral.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(),
			&slog.HandlerOptions{Level: slog.LevelDebug})))
		defer bilateral.SetLogger(nil)
	}

	p, opts, err := cfg.Resolve()
	if err != nil {
		return err
	}
	src, err := bilateral.Load(cfg.Input)
	if err != nil {
		return err
	}
	out, report, err := bilateral.Run(cmd.Context(), src, p, opts)
	if err != nil {
		return err
	}
	if err := bilateral.Save(cfg.Output, out, cfg.Quality); err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report, cfg.Output)
	return nil
}

func printReport(w io.Writer, r *bilateral.Report, output string) {
	pr := message.NewPrinter(language.English)
	pr.Fprintf(w, "filtered %d x %d (%d pixels) with %s on %s\n",
		r.Width, r.Height, r.Width*r.Height, r.Mode, r.Device)
	if r.Mode == bilateral.ModeGPU {
		pr.Fprintf(w, "storage:           %s\n", r.Storage)
		pr.Fprintf(w, "without copying:   %d µs\n", r.Compute.Microseconds())
		pr.Fprintf(w, "with copying:      %d µs\n", (r.Compute + r.Transfer).Microseconds())
		pr.Fprintf(w, "copy time:         %d µs\n", r.Transfer.Microseconds())
	}
	pr.Fprintf(w, "total:             %d µs\n", r.Total.Microseconds())
	pr.Fprintf(w, "wrote %s\n", output)
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "list gpu adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			adapters, err := bilateral.Adapters()
			if err != nil {
				fmt.Fprintf(w, "vulkan: %v\n", err)
			}
			for i, a := range adapters {
				kind := "integrated"
				if a.Discrete {
					kind = "discrete"
				}
				fmt.Fprintf(w, "%d: %s (%s)\n", i, a.Name, kind)
			}
			fmt.Fprintln(w, "software: cpu emulation, always available")
			return nil
		},
	}
}
