package bilateral

import (
	"errors"
	"testing"
)

func TestExecModeString(t *testing.T) {
	tests := []struct {
		name string
		mode ExecMode
		want string
	}{
		{"CPU", ModeCPU, "cpu"},
		{"CPUParallel", ModeCPUParallel, "cpu-parallel"},
		{"GPU", ModeGPU, "gpu"},
		{"Unknown", ExecMode(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.want {
				t.Errorf("ExecMode(%d).String() = %q, want %q", tt.mode, got, tt.want)
			}
		})
	}
}

func TestParseExecMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ExecMode
		wantErr bool
	}{
		{"cpu", ModeCPU, false},
		{"CPU-Parallel", ModeCPUParallel, false},
		{"parallel", ModeCPUParallel, false},
		{" gpu ", ModeGPU, false},
		{"tpu", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseExecMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownMode) {
				t.Errorf("ParseExecMode(%q) error = %v, want ErrUnknownMode", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseExecMode(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestParseStorageModeAndBackend(t *testing.T) {
	if m, err := ParseStorageMode("image"); err != nil || m != StorageImage {
		t.Errorf("ParseStorageMode(image) = %v, %v", m, err)
	}
	if _, err := ParseStorageMode("cube"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseStorageMode(cube) error = %v, want ErrUnknownMode", err)
	}
	if b, err := ParseBackend("software"); err != nil || b != BackendSoftware {
		t.Errorf("ParseBackend(software) = %v, %v", b, err)
	}
	if b, err := ParseBackend("Vulkan"); err != nil || b != BackendVulkan {
		t.Errorf("ParseBackend(Vulkan) = %v, %v", b, err)
	}
	if _, err := ParseBackend("metal"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseBackend(metal) error = %v, want ErrUnknownMode", err)
	}
	if BackendSoftware.String() != "software" || Backend(7).String() != "unknown" {
		t.Error("Backend.String() mismatch")
	}
}
