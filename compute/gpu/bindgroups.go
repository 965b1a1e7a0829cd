package gpu

import (
	"fmt"

	"github.com/gekko3d/particlelife/compute/core"
)

// BindGroupBuilder creates the per-stage layouts once and a fresh bind group
// for each stage every frame.
type BindGroupBuilder struct {
	device  Device
	layouts [core.StageCount]BindGroupLayoutID
	current [core.StageCount]BindGroupID
	built   uint64
}

func NewBindGroupBuilder(device Device) (*BindGroupBuilder, error) {
	b := &BindGroupBuilder{device: device}
	for _, kind := range core.Stages {
		id, err := device.CreateBindGroupLayout(StageLayout(kind))
		if err != nil {
			return nil, fmt.Errorf("create %s bind group layout: %w", kind, err)
		}
		b.layouts[kind] = id
	}
	return b, nil
}

// Layout is the immutable layout of a stage, used when creating its programs.
func (b *BindGroupBuilder) Layout(kind core.StageKind) BindGroupLayoutID {
	return b.layouts[kind]
}

// Build binds res to the stage layout. The previous frame's group for the
// stage is released. An unset handle fails before anything is created.
func (b *BindGroupBuilder) Build(kind core.StageKind, res Resources) (BindGroupID, error) {
	entries, err := res.entries(kind)
	if err != nil {
		return 0, err
	}
	id, err := b.device.CreateBindGroup(BindGroupDesc{
		Label:   kind.String() + " bind group",
		Layout:  b.layouts[kind],
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("create %s bind group: %w", kind, err)
	}
	if prev := b.current[kind]; prev != 0 {
		b.device.ReleaseBindGroup(prev)
	}
	b.current[kind] = id
	b.built++
	return id, nil
}

// BuildAll builds every stage in declaration order.
func (b *BindGroupBuilder) BuildAll(res Resources) ([core.StageCount]BindGroupID, error) {
	var out [core.StageCount]BindGroupID
	for _, kind := range core.Stages {
		id, err := b.Build(kind, res)
		if err != nil {
			return out, err
		}
		out[kind] = id
	}
	return out, nil
}

// Current returns the group built most recently for a stage.
func (b *BindGroupBuilder) Current(kind core.StageKind) BindGroupID {
	return b.current[kind]
}

// Built counts bind groups created so far.
func (b *BindGroupBuilder) Built() uint64 { return b.built }
