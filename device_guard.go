package particlelife

import (
	"github.com/gekko3d/particlelife/compute/gpu"
)

// ComputeDeviceTag records which device drives the pipeline and the limits it
// reported when installed. An App holds at most one.
type ComputeDeviceTag struct {
	Name   string
	Limits gpu.Limits
}

// ensureSingleDevice installs the tag for device. Installing the same device
// name twice is allowed, a second name or a device below the pipeline's
// minimum limits is fatal.
func ensureSingleDevice(app *App, device gpu.Device) *ComputeDeviceTag {
	if app == nil {
		panic("ensureSingleDevice: app is nil")
	}
	name := device.Name()
	if tag, ok := Resource[ComputeDeviceTag](app); ok {
		if tag.Name != name {
			app.fatal("Multiple compute devices installed: %s and %s", tag.Name, name)
		}
		return tag
	}

	limits := device.Limits()
	if err := CheckLimits(limits); err != nil {
		app.fatal("compute device %s: %v", name, err)
	}
	tag := &ComputeDeviceTag{Name: name, Limits: limits}
	app.addResources(tag)
	app.Logger().Debugf("compute device %s: %d work-groups per dimension, %d byte storage bindings",
		name, limits.MaxComputeWorkgroupsPerDimension, limits.MaxStorageBufferBindingSize)
	return tag
}
