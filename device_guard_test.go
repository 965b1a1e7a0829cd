package particlelife

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/particlelife/compute/gpu"
)

func TestEnsureSingleDevice(t *testing.T) {
	logger, logs := newObservedLogger(true)
	app := NewAppBuilder().UseModule(LoggingModule{Logger: logger}).Build()
	dev := gpu.NewSoftwareDevice()

	first := ensureSingleDevice(app, dev)
	assert.Same(t, first, ensureSingleDevice(app, dev))

	tag, ok := Resource[ComputeDeviceTag](app)
	require.True(t, ok)
	assert.Same(t, first, tag)
	assert.Equal(t, "software", tag.Name)
	assert.Equal(t, dev.Limits(), tag.Limits)
	assert.Equal(t, 1, logs.FilterMessageSnippet("compute device software:").Len())

	assert.PanicsWithValue(t, "Multiple compute devices installed: software and webgpu", func() {
		ensureSingleDevice(app, renamedDevice{Device: gpu.NewSoftwareDevice(), name: "webgpu"})
	})
}

func TestEnsureSingleDeviceRejectsSmallLimits(t *testing.T) {
	app := NewAppBuilder().Build()
	small := gpu.NewSoftwareDevice(gpu.WithLimits(gpu.Limits{
		MaxComputeWorkgroupsPerDimension: 1,
		MaxStorageBufferBindingSize:      1 << 30,
	}))

	assert.Panics(t, func() { ensureSingleDevice(app, small) })
	_, ok := Resource[ComputeDeviceTag](app)
	assert.False(t, ok)
}

func TestEnsureSingleDeviceNilApp(t *testing.T) {
	assert.Panics(t, func() { ensureSingleDevice(nil, gpu.NewSoftwareDevice()) })
}
