// Package config loads bilateral run settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/bilateral"
)

// ErrInvalidConfig is returned when a configuration value is out of range or
// names an unknown mode.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is one filter run.
type Config struct {
	Input   string        `yaml:"input"`
	Output  string        `yaml:"output"`
	Mode    string        `yaml:"mode"`
	Storage string        `yaml:"storage"`
	Device  string        `yaml:"device"`
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
	Quality int           `yaml:"quality"`
	Verbose bool          `yaml:"verbose"`
	Filter  FilterConfig  `yaml:"filter"`
}

// FilterConfig holds the kernel parameters.
type FilterConfig struct {
	SpatialSigma   float32 `yaml:"spatial_sigma"`
	IntensitySigma float32 `yaml:"intensity_sigma"`
	Radius         int     `yaml:"radius"`
}

// Default returns the settings used when no file or flag overrides them.
func Default() *Config {
	p := bilateral.DefaultParams()
	o := bilateral.DefaultOptions()
	return &Config{
		Mode:    o.Mode.String(),
		Storage: o.Storage.String(),
		Device:  o.Backend.String(),
		Workers: o.Workers,
		Timeout: o.Timeout,
		Quality: bilateral.DefaultQuality,
		Filter: FilterConfig{
			SpatialSigma:   p.SpatialSigma,
			IntensitySigma: p.IntensitySigma,
			Radius:         p.Radius,
		},
	}
}

// Load reads path and overlays it on Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data over Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks every field without touching the filesystem.
func (c *Config) Validate() error {
	if _, _, err := c.Resolve(); err != nil {
		return err
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("%w: quality %d not in [1, 100]", ErrInvalidConfig, c.Quality)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// Resolve converts c into filter parameters and run options.
func (c *Config) Resolve() (bilateral.Params, bilateral.Options, error) {
	p := bilateral.Params{
		SpatialSigma:   c.Filter.SpatialSigma,
		IntensitySigma: c.Filter.IntensitySigma,
		Radius:         c.Filter.Radius,
	}
	if err := p.Validate(); err != nil {
		return p, bilateral.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	mode, err := bilateral.ParseExecMode(c.Mode)
	if err != nil {
		return p, bilateral.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	storage, err := bilateral.ParseStorageMode(c.Storage)
	if err != nil {
		return p, bilateral.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	backend, err := bilateral.ParseBackend(c.Device)
	if err != nil {
		return p, bilateral.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	opts := bilateral.NewOptions(
		bilateral.WithMode(mode),
		bilateral.WithStorage(storage),
		bilateral.WithBackend(backend),
		bilateral.WithWorkers(c.Workers),
		bilateral.WithTimeout(c.Timeout),
	)
	if err := opts.Validate(); err != nil {
		return p, opts, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, opts, nil
}
