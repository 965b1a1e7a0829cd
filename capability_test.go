package particlelife

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/particlelife/compute/gpu"
)

func limitsReturning(l gpu.Limits, err error) LimitsFunc {
	return func() (gpu.Limits, error) { return l, err }
}

func TestDetectComputeSoftwareAlwaysSupported(t *testing.T) {
	called := false
	query := func() (gpu.Limits, error) {
		called = true
		return gpu.Limits{}, errors.New("no adapter")
	}
	require.NoError(t, DetectCompute(BackendSoftware, query))
	assert.False(t, called)
}

func TestDetectComputeWithoutAdapter(t *testing.T) {
	err := DetectCompute(BackendWebGPU, limitsReturning(gpu.Limits{}, errors.New("no adapter")))
	require.ErrorIs(t, err, ErrComputeUnsupported)
	assert.Contains(t, err.Error(), "no adapter")
}

func TestDetectComputeChecksLimits(t *testing.T) {
	good := gpu.Limits{
		MaxComputeWorkgroupsPerDimension: 65535,
		MaxStorageBufferBindingSize:      128 << 20,
	}
	require.NoError(t, DetectCompute(BackendWebGPU, limitsReturning(good, nil)))

	few := good
	few.MaxComputeWorkgroupsPerDimension = MinWorkgroupsPerDimension - 1
	err := DetectCompute(BackendWebGPU, limitsReturning(few, nil))
	require.ErrorIs(t, err, ErrComputeUnsupported)
	assert.Contains(t, err.Error(), "work-groups per dimension")

	small := good
	small.MaxStorageBufferBindingSize = MinStorageBindingSize - 1
	err = CheckLimits(small)
	require.ErrorIs(t, err, ErrComputeUnsupported)
	assert.Contains(t, err.Error(), "storage bindings")
}

func TestDetectComputeUnknownBackend(t *testing.T) {
	err := DetectCompute("vulkan", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrComputeUnsupported)
}

func TestSoftwareDeviceMeetsMinimumLimits(t *testing.T) {
	assert.NoError(t, CheckLimits(gpu.NewSoftwareDevice().Limits()))
}
