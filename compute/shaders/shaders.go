package shaders

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/gekko3d/particlelife/compute/core"
)

//go:embed simulation.wgsl
var SimulationWGSL string

//go:embed render.wgsl
var RenderWGSL string

//go:embed blit.wgsl
var BlitWGSL string

// Entry points shared by both compute programs.
const (
	EntryInit   = "init"
	EntryUpdate = "update"
)

// Simulation returns simulation.wgsl with its domain constants filled in.
func Simulation(p core.SimParams) string {
	var b strings.Builder
	writeCommon(&b)
	writeF32(&b, "DELTA_TIME", p.DeltaTime)
	writeF32(&b, "INTERACTION_RADIUS", p.InteractionRadius)
	writeF32(&b, "REPULSION_RADIUS", p.RepulsionRadius)
	writeF32(&b, "FRICTION", p.Friction)
	writeF32(&b, "FORCE_SCALE", p.ForceScale)
	b.WriteString("\n")
	b.WriteString(SimulationWGSL)
	return b.String()
}

// Render returns render.wgsl with its domain constants filled in.
func Render(p core.RenderParams) string {
	var b strings.Builder
	writeCommon(&b)
	writeF32(&b, "PARTICLE_RADIUS", p.ParticleRadius)
	b.WriteString("\n")
	b.WriteString(RenderWGSL)
	return b.String()
}

func writeCommon(b *strings.Builder) {
	fmt.Fprintf(b, "const PARTICLE_COUNT: u32 = %du;\n", core.MaxParticles)
	fmt.Fprintf(b, "const FLAVOUR_COUNT: i32 = %d;\n", core.MaxFlavours)
	writeF32(b, "DOMAIN_WIDTH", core.DomainWidth)
	writeF32(b, "DOMAIN_HEIGHT", core.DomainHeight)
}

func writeF32(b *strings.Builder, name string, v float32) {
	fmt.Fprintf(b, "const %s: f32 = %s;\n", name, f32Literal(v))
}

// f32Literal formats v so WGSL parses it as a float, never as an integer.
func f32Literal(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
