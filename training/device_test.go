package training

import (
	"errors"
	"testing"

	"github.com/tsawler/go-multitask/tensor"
)

func TestResolveDevice(t *testing.T) {
	tests := []struct {
		name       string
		wantDevice tensor.DeviceType
		wantDevErr bool
		wantCfgErr bool
	}{
		{"cpu", tensor.CPU, false, false},
		{"CPU", tensor.CPU, false, false},
		{"gpu", tensor.CPU, true, false},
		{"cuda", tensor.CPU, true, false},
		{"metal", tensor.CPU, true, false},
		{"tpu", tensor.CPU, false, true},
		{"", tensor.CPU, false, true},
	}

	for _, tt := range tests {
		dev, err := ResolveDevice(tt.name)
		switch {
		case tt.wantDevErr:
			var devErr *DeviceError
			if !errors.As(err, &devErr) {
				t.Errorf("ResolveDevice(%q): expected DeviceError, got %v", tt.name, err)
			}
		case tt.wantCfgErr:
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("ResolveDevice(%q): expected ConfigError, got %v", tt.name, err)
			}
		default:
			if err != nil {
				t.Errorf("ResolveDevice(%q): unexpected error %v", tt.name, err)
			}
			if dev != tt.wantDevice {
				t.Errorf("ResolveDevice(%q): expected %s, got %s", tt.name, tt.wantDevice, dev)
			}
		}
	}
}

func TestDescribeDevice(t *testing.T) {
	if DescribeDevice() == "" {
		t.Error("expected a non-empty device description")
	}
}
