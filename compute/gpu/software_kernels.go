package gpu

import (
	"fmt"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/shaders"
)

// ParticleKernels returns host kernels for the four particle entry points, keyed
// like ProgramDesc.Key. They honour dispatch coverage: only particles or pixels
// reached by the dispatched work-groups are touched.
func ParticleKernels(sim core.SimParams, render core.RenderParams) map[string]Kernel {
	simKey := core.StageSimulation.String()
	renderKey := core.StageRender.String()
	return map[string]Kernel{
		simKey + "." + shaders.EntryInit: func(inv *Invocation) error {
			return withParticles(inv, func(ps *core.ParticleSet, _ *core.WeightsMatrix) {
				core.SimulationInit(ps, inv.Invocations(core.ParticleGroupSize))
			})
		},
		simKey + "." + shaders.EntryUpdate: func(inv *Invocation) error {
			pbuf, err := inv.Buffer(SimPreviousBinding)
			if err != nil {
				return err
			}
			var prev core.ParticleSet
			if err := prev.Decode(pbuf); err != nil {
				return err
			}
			return withParticles(inv, func(ps *core.ParticleSet, w *core.WeightsMatrix) {
				core.SimulationUpdate(ps, &prev, w, sim, inv.Invocations(core.ParticleGroupSize))
			})
		},
		renderKey + "." + shaders.EntryInit: func(inv *Invocation) error {
			out, err := outputTexture(inv)
			if err != nil {
				return err
			}
			cols, rows := coverage(inv)
			core.RenderInit(out.Pix, int(out.Width), int(out.Height), cols, rows)
			return nil
		},
		renderKey + "." + shaders.EntryUpdate: func(inv *Invocation) error {
			out, err := outputTexture(inv)
			if err != nil {
				return err
			}
			buf, err := inv.Buffer(RenderParticlesBinding)
			if err != nil {
				return err
			}
			cbuf, err := inv.Buffer(RenderColoursBinding)
			if err != nil {
				return err
			}
			var ps core.ParticleSet
			if err := ps.Decode(buf); err != nil {
				return err
			}
			var colours core.ParticleColours
			if err := colours.Decode(cbuf); err != nil {
				return err
			}
			cols, rows := coverage(inv)
			core.RenderUpdate(out.Pix, int(out.Width), int(out.Height), cols, rows, &ps, &colours, render)
			return nil
		},
	}
}

// withParticles decodes the simulation bindings, runs fn and writes the particles back.
func withParticles(inv *Invocation, fn func(ps *core.ParticleSet, w *core.WeightsMatrix)) error {
	buf, err := inv.Buffer(SimParticlesBinding)
	if err != nil {
		return err
	}
	tex, err := inv.Texture(SimWeightsBinding)
	if err != nil {
		return err
	}
	if tex.Width != core.MaxFlavours || tex.Height != core.MaxFlavours {
		return fmt.Errorf("weights texture %dx%d does not match %d flavours", tex.Width, tex.Height, core.MaxFlavours)
	}

	var ps core.ParticleSet
	if err := ps.Decode(buf); err != nil {
		return err
	}
	var w core.WeightsMatrix
	if err := w.Decode(tex.Pix); err != nil {
		return err
	}
	fn(&ps, &w)
	ps.Encode(buf)
	return nil
}

func outputTexture(inv *Invocation) (*SoftTexture, error) {
	out, err := inv.Texture(RenderOutputBinding)
	if err != nil {
		return nil, err
	}
	if out.Format != TextureFormatRGBA8Unorm {
		return nil, fmt.Errorf("output texture format %s: %w", out.Format, ErrLayoutMismatch)
	}
	return out, nil
}

func coverage(inv *Invocation) (cols, rows int) {
	if inv.Groups[2] == 0 {
		return 0, 0
	}
	return int(inv.Groups[0] * core.RenderGroupWidth), int(inv.Groups[1] * core.RenderGroupHeight)
}
