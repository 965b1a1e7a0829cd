package core

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// NewState builds the startup state: particles scattered across the domain,
// a hue-wheel palette and either zero or random weights.
func NewState(seed int64, randomWeights bool) *State {
	rng := rand.New(rand.NewSource(seed))
	st := &State{}
	RandomizeParticles(&st.Particles, rng, DomainWidth, DomainHeight)
	st.Colours = HuePalette()
	if randomWeights {
		st.Weights = RandomWeights(rng)
	}
	return st
}

// RandomizeParticles places particles uniformly in [-w/2, w/2) x [-h/2, h/2)
// with per-axis velocities in [-0.5, 0.5). Flavours cycle through the palette.
func RandomizeParticles(ps *ParticleSet, rng *rand.Rand, width, height float32) {
	for i := range ps {
		p := &ps[i]
		*p = Particle{}
		p.Position = mgl32.Vec3{
			(rng.Float32() - 0.5) * width,
			(rng.Float32() - 0.5) * height,
			0,
		}
		p.Velocity = mgl32.Vec3{
			rng.Float32() - 0.5,
			rng.Float32() - 0.5,
			0,
		}
		p.Flavour = float32(i % MaxFlavours)
	}
}

func RandomWeights(rng *rand.Rand) WeightsMatrix {
	var w WeightsMatrix
	for i := range w {
		for j := range w[i] {
			w[i][j] = rng.Float32()*2 - 1
		}
	}
	return w
}

// HuePalette spreads MaxFlavours opaque colours evenly around the hue wheel.
func HuePalette() ParticleColours {
	var c ParticleColours
	for i := range c {
		h := float64(i) / float64(MaxFlavours)
		r, g, b := hsvToRGB(h, 0.75, 1)
		c[i] = mgl32.Vec4{r, g, b, 1}
	}
	return c
}

func hsvToRGB(h, s, v float64) (float32, float32, float32) {
	h = h * 6
	sector := math.Floor(h)
	f := h - sector
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64
	switch int(sector) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return float32(r), float32(g), float32(b)
}
