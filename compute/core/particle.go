package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

const (
	MaxFlavours  = 10
	MaxParticles = 1024

	DomainWidth  = 512
	DomainHeight = 512

	// Work-group shapes baked into the WGSL programs.
	RenderGroupWidth  = 8
	RenderGroupHeight = 8
	ParticleGroupSize = 64
)

// Byte sizes of the GPU-visible structures.
const (
	ParticleStride   = 64
	ParticleSetSize  = ParticleStride * MaxParticles
	WeightsTexelSize = 4
	WeightsSize      = WeightsTexelSize * MaxFlavours * MaxFlavours
	ColourStride     = 16
	ColoursSize      = ColourStride * MaxFlavours
	OutputTexelSize  = 4
)

// Particle matches the WGSL layout in simulation.wgsl and render.wgsl
// struct Particle { position: vec3<f32>, velocity: vec3<f32>, acceleration: vec3<f32>, flavour: f32 }
// Every vec3 occupies 16 bytes; the struct is rounded up to 64.
type Particle struct {
	Position     mgl32.Vec3
	_            float32
	Velocity     mgl32.Vec3
	_            float32
	Acceleration mgl32.Vec3
	_            float32
	Flavour      float32
	_            [3]float32
}

// ParticleSet is the fixed-capacity particle array uploaded every frame.
type ParticleSet [MaxParticles]Particle

// WeightsMatrix holds the pull of flavour j on flavour i at [i][j].
type WeightsMatrix [MaxFlavours][MaxFlavours]float32

// ParticleColours is the per-flavour RGBA palette.
type ParticleColours [MaxFlavours]mgl32.Vec4

// State is the authoritative simulation state owned by the update context.
type State struct {
	Particles ParticleSet
	Weights   WeightsMatrix
	Colours   ParticleColours
}

// FlavourOf returns the flavour index stored in p, clamped to the palette.
func FlavourOf(p *Particle) int {
	f := int(p.Flavour)
	if f < 0 {
		return 0
	}
	if f >= MaxFlavours {
		return MaxFlavours - 1
	}
	return f
}
