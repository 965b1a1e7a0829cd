package particlelife

import (
	"errors"
	"fmt"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/gpu"
)

// ComputeUnsupportedMessage is shown instead of starting the simulation.
const ComputeUnsupportedMessage = "Sorry, compute shaders are not supported on this system. A WebGPU capable adapter is required."

var ErrComputeUnsupported = errors.New("compute shaders unsupported")

// Minimum adapter limits the pipeline dispatches against.
const (
	MinWorkgroupsPerDimension = core.DomainWidth / core.RenderGroupWidth
	MinStorageBindingSize     = core.ParticleSetSize
)

// LimitsFunc reports the limits of the default adapter.
type LimitsFunc func() (gpu.Limits, error)

// DetectCompute checks that backend can run the pipeline. Only
// ErrComputeUnsupported failures are expected to be shown to users.
func DetectCompute(backend string, query LimitsFunc) error {
	switch backend {
	case BackendSoftware:
		return nil
	case BackendWebGPU:
	default:
		return fmt.Errorf("unknown compute backend %q", backend)
	}
	if query == nil {
		query = gpu.DefaultAdapterLimits
	}
	limits, err := query()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrComputeUnsupported, err)
	}
	return CheckLimits(limits)
}

func CheckLimits(l gpu.Limits) error {
	if l.MaxComputeWorkgroupsPerDimension < MinWorkgroupsPerDimension {
		return fmt.Errorf("%w: %d work-groups per dimension, need %d",
			ErrComputeUnsupported, l.MaxComputeWorkgroupsPerDimension, MinWorkgroupsPerDimension)
	}
	if l.MaxStorageBufferBindingSize < MinStorageBindingSize {
		return fmt.Errorf("%w: storage bindings of %d bytes, need %d",
			ErrComputeUnsupported, l.MaxStorageBufferBindingSize, MinStorageBindingSize)
	}
	return nil
}
