package training

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/tsawler/go-multitask/tensor"
)

// ResolveDevice maps a configured device name to a tensor device. Model
// parameters, optimizer state and batch tensors all live on this one
// device; asking for an unavailable accelerator is a fatal configuration
// problem, not something the loop retries.
func ResolveDevice(name string) (tensor.DeviceType, error) {
	switch strings.ToLower(name) {
	case "cpu":
		return tensor.CPU, nil
	case "gpu", "cuda", "metal":
		return tensor.CPU, &DeviceError{
			Reason: fmt.Sprintf("device %q is not available in this build, only cpu is supported", name),
		}
	default:
		return tensor.CPU, &ConfigError{Field: "Device", Reason: fmt.Sprintf("unknown device %q", name)}
	}
}

// DescribeDevice reports the CPU a run executes on, including the vector
// extensions BLAS will benefit from
func DescribeDevice() string {
	var features []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE42, "SSE4.2"},
		{cpuid.AVX, "AVX"},
		{cpuid.AVX2, "AVX2"},
		{cpuid.AVX512F, "AVX512F"},
		{cpuid.FMA3, "FMA3"},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = "unknown CPU"
	}
	return fmt.Sprintf("%s (%d cores, %s)", brand, cpuid.CPU.LogicalCores, strings.Join(features, " "))
}
