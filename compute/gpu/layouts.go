package gpu

import (
	"fmt"

	"github.com/gekko3d/particlelife/compute/core"
)

// Binding slots of the simulation stage.
const (
	SimParticlesBinding uint32 = 0
	SimWeightsBinding   uint32 = 1
	SimPreviousBinding  uint32 = 2
)

// Binding slots of the render stage.
const (
	RenderOutputBinding    uint32 = 0
	RenderParticlesBinding uint32 = 1
	RenderColoursBinding   uint32 = 2
)

// StageLayout returns the fixed bind group layout of a stage. The tables mirror
// the @group(0) declarations in simulation.wgsl and render.wgsl.
func StageLayout(kind core.StageKind) BindGroupLayoutDesc {
	switch kind {
	case core.StageSimulation:
		return BindGroupLayoutDesc{
			Label: "simulation bind group layout",
			Entries: []BindGroupLayoutEntry{
				{Binding: SimParticlesBinding, Type: BindingStorageBuffer, MinBindingSize: core.ParticleSetSize},
				{Binding: SimWeightsBinding, Type: BindingReadOnlyStorageTexture, Format: TextureFormatR32Float},
				{Binding: SimPreviousBinding, Type: BindingReadOnlyStorageBuffer, MinBindingSize: core.ParticleSetSize},
			},
		}
	case core.StageRender:
		return BindGroupLayoutDesc{
			Label: "render bind group layout",
			Entries: []BindGroupLayoutEntry{
				{Binding: RenderOutputBinding, Type: BindingWriteOnlyStorageTexture, Format: TextureFormatRGBA8Unorm},
				{Binding: RenderParticlesBinding, Type: BindingReadOnlyStorageBuffer, MinBindingSize: core.ParticleSetSize},
				{Binding: RenderColoursBinding, Type: BindingUniformBuffer, MinBindingSize: core.ColoursSize},
			},
		}
	}
	panic("gpu: unknown stage kind")
}

// Resources are the concrete handles bound for one frame.
type Resources struct {
	Particles BufferID
	// Previous holds the same particles as Particles at upload time and is
	// never written by a dispatch.
	Previous  BufferID
	Colours   BufferID
	Weights   TextureID
	Output    TextureID
}

// entries resolves the stage table against res. A zero handle is reported as ErrUnsetResource.
func (res Resources) entries(kind core.StageKind) ([]BindGroupEntry, error) {
	layout := StageLayout(kind)
	out := make([]BindGroupEntry, 0, len(layout.Entries))
	for _, e := range layout.Entries {
		entry := BindGroupEntry{Binding: e.Binding}
		switch {
		case kind == core.StageSimulation && e.Binding == SimParticlesBinding,
			kind == core.StageRender && e.Binding == RenderParticlesBinding:
			entry.Buffer = res.Particles
		case kind == core.StageSimulation && e.Binding == SimPreviousBinding:
			entry.Buffer = res.Previous
		case kind == core.StageRender && e.Binding == RenderColoursBinding:
			entry.Buffer = res.Colours
		case kind == core.StageSimulation && e.Binding == SimWeightsBinding:
			entry.Texture = res.Weights
		case kind == core.StageRender && e.Binding == RenderOutputBinding:
			entry.Texture = res.Output
		}
		if entry.Buffer == 0 && entry.Texture == 0 {
			return nil, &UnsetResourceError{Stage: kind, Binding: e.Binding, Type: e.Type}
		}
		out = append(out, entry)
	}
	return out, nil
}

// UnsetResourceError names the slot whose handle was missing.
type UnsetResourceError struct {
	Stage   core.StageKind
	Binding uint32
	Type    BindingType
}

func (e *UnsetResourceError) Error() string {
	return fmt.Sprintf("gpu: %s binding %d (%s) has no resource", e.Stage, e.Binding, e.Type)
}

func (e *UnsetResourceError) Unwrap() error { return ErrUnsetResource }
