package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/bilateral"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Mode != "cpu-parallel" {
		t.Errorf("Mode = %q, want cpu-parallel", cfg.Mode)
	}
	if cfg.Quality != 100 {
		t.Errorf("Quality = %d, want 100", cfg.Quality)
	}
	if cfg.Filter.Radius != 10 || cfg.Filter.SpatialSigma != 35 || cfg.Filter.IntensitySigma != 35 {
		t.Errorf("Filter = %+v, want 35/35/10", cfg.Filter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
mode: gpu
storage: image
timeout: 5s
filter:
  radius: 3
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Mode != "gpu" || cfg.Storage != "image" {
		t.Errorf("Mode, Storage = %q, %q", cfg.Mode, cfg.Storage)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Filter.Radius != 3 {
		t.Errorf("Radius = %d, want 3", cfg.Filter.Radius)
	}
	if cfg.Filter.SpatialSigma != 35 {
		t.Errorf("SpatialSigma = %v, want default 35", cfg.Filter.SpatialSigma)
	}

	p, opts, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if opts.Mode != bilateral.ModeGPU || opts.Storage != bilateral.StorageImage {
		t.Errorf("opts = %+v", opts)
	}
	if p.Radius != 3 {
		t.Errorf("p.Radius = %d, want 3", p.Radius)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Mode != Default().Mode {
		t.Errorf("Mode = %q", cfg.Mode)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("radius: 3\n")); err == nil {
		t.Error("Parse() accepted unknown top-level key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "tpu" }},
		{"storage", func(c *Config) { c.Storage = "cube" }},
		{"device", func(c *Config) { c.Device = "metal" }},
		{"sigma", func(c *Config) { c.Filter.IntensitySigma = 0 }},
		{"radius", func(c *Config) { c.Filter.Radius = -1 }},
		{"quality", func(c *Config) { c.Quality = 0 }},
		{"timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"workers", func(c *Config) { c.Workers = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateWrapsCause(t *testing.T) {
	cfg := Default()
	cfg.Filter.SpatialSigma = -1
	if err := cfg.Validate(); !errors.Is(err, bilateral.ErrInvalidParams) {
		t.Errorf("Validate() = %v, want ErrInvalidParams", err)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := Default()
	cfg.Input = "in.png"
	cfg.Mode = "cpu"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Input != "in.png" || got.Mode != "cpu" || got.Timeout != cfg.Timeout {
		t.Errorf("Load() = %+v", got)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() = %v, want ErrNotExist", err)
	}
}
