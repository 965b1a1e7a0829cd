package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// SimParams are the simulation constants injected into simulation.wgsl.
type SimParams struct {
	DeltaTime         float32
	InteractionRadius float32
	RepulsionRadius   float32
	Friction          float32
	ForceScale        float32
}

func DefaultSimParams() SimParams {
	return SimParams{
		DeltaTime:         0.5,
		InteractionRadius: 48,
		RepulsionRadius:   12,
		Friction:          0.2,
		ForceScale:        1,
	}
}

// RenderParams are the render constants injected into render.wgsl.
type RenderParams struct {
	ParticleRadius float32
}

func DefaultRenderParams() RenderParams {
	return RenderParams{ParticleRadius: 2}
}

// Background is the colour the render stage clears to.
var Background = [4]uint8{0, 0, 0, 255}

// SimulationInit mirrors simulation.wgsl:init for the first n particles.
func SimulationInit(ps *ParticleSet, n int) {
	n = min(n, MaxParticles)
	for i := 0; i < n; i++ {
		ps[i].Acceleration = mgl32.Vec3{}
	}
}

// SimulationUpdate mirrors simulation.wgsl:update for the first n particles.
// Every particle is read from prev, the pre-step state, and only ps[0:n] is
// written. ps and prev may be the same set.
func SimulationUpdate(ps, prev *ParticleSet, w *WeightsMatrix, params SimParams, n int) {
	n = min(n, MaxParticles)
	src := *prev

	beta := params.RepulsionRadius / params.InteractionRadius
	damping := 1 - params.Friction*params.DeltaTime

	for i := 0; i < n; i++ {
		me := &src[i]
		self := FlavourOf(me)

		var acc mgl32.Vec3
		for j := range src {
			if j == i {
				continue
			}
			d := torusDelta(me.Position, src[j].Position)
			dist := d.Len()
			if dist <= 0 || dist >= params.InteractionRadius {
				continue
			}
			weight := w[self][FlavourOf(&src[j])]
			f := interaction(dist/params.InteractionRadius, beta, weight) * params.ForceScale
			acc = acc.Add(d.Mul(f / dist))
		}

		p := &ps[i]
		p.Acceleration = acc
		p.Position = wrapPosition(me.Position.Add(me.Velocity.Mul(params.DeltaTime)))
		p.Velocity = me.Velocity.Add(acc.Mul(params.DeltaTime)).Mul(damping)
	}
}

// interaction is the particle-life force profile: linear repulsion below beta,
// then a tent of height weight peaking halfway between beta and 1.
func interaction(r, beta, weight float32) float32 {
	if r < beta {
		return (r/beta - 1) * float32(math.Abs(float64(weight)))
	}
	if r < 1 {
		return weight * (1 - float32(math.Abs(float64(2*r-1-beta)))/(1-beta))
	}
	return 0
}

func torusDelta(from, to mgl32.Vec3) mgl32.Vec3 {
	d := to.Sub(from)
	d[0] = wrapDelta(d[0], DomainWidth)
	d[1] = wrapDelta(d[1], DomainHeight)
	return d
}

func wrapDelta(d, size float32) float32 {
	if d > size/2 {
		return d - size
	}
	if d < -size/2 {
		return d + size
	}
	return d
}

func wrapPosition(p mgl32.Vec3) mgl32.Vec3 {
	p[0] = wrapCoord(p[0], DomainWidth)
	p[1] = wrapCoord(p[1], DomainHeight)
	return p
}

func wrapCoord(x, size float32) float32 {
	half := size / 2
	if x >= -half && x < half {
		return x
	}
	return x - size*float32(math.Floor(float64((x+half)/size)))
}

// RenderInit mirrors render.wgsl:init over a cols x rows pixel region.
func RenderInit(pix []byte, width, height, cols, rows int) {
	cols, rows = min(cols, width), min(rows, height)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			copy(pix[(y*width+x)*OutputTexelSize:], Background[:])
		}
	}
}

// RenderUpdate mirrors render.wgsl:update. Each covered pixel takes the colour of
// the highest-index particle whose centre is within radius, else Background.
func RenderUpdate(pix []byte, width, height, cols, rows int, ps *ParticleSet, colours *ParticleColours, params RenderParams) {
	RenderInit(pix, width, height, cols, rows)
	cols, rows = min(cols, width), min(rows, height)

	r := params.ParticleRadius
	r2 := r * r
	for i := range ps {
		p := &ps[i]
		cx := p.Position[0] + float32(width)/2
		cy := p.Position[1] + float32(height)/2
		texel := colourToTexel(colours[FlavourOf(p)])

		x0 := max(0, int(math.Floor(float64(cx-r))))
		x1 := min(cols-1, int(math.Ceil(float64(cx+r))))
		y0 := max(0, int(math.Floor(float64(cy-r))))
		y1 := min(rows-1, int(math.Ceil(float64(cy+r))))
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx := float32(x) + 0.5 - cx
				dy := float32(y) + 0.5 - cy
				if dx*dx+dy*dy < r2 {
					copy(pix[(y*width+x)*OutputTexelSize:], texel[:])
				}
			}
		}
	}
}

func colourToTexel(c mgl32.Vec4) [4]uint8 {
	var t [4]uint8
	for k := 0; k < 4; k++ {
		v := mgl32.Clamp(c[k], 0, 1)
		t[k] = uint8(v*255 + 0.5)
	}
	return t
}
