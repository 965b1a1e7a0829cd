package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Bytes returns the GPU layout of the particle set.
func (ps *ParticleSet) Bytes() []byte {
	buf := make([]byte, ParticleSetSize)
	ps.Encode(buf)
	return buf
}

// Encode writes the GPU layout of ps into dst, which must hold ParticleSetSize bytes.
func (ps *ParticleSet) Encode(dst []byte) {
	_ = dst[ParticleSetSize-1]
	for i := range ps {
		encodeParticle(dst[i*ParticleStride:(i+1)*ParticleStride], &ps[i])
	}
}

// Decode reads a GPU particle buffer back into ps.
func (ps *ParticleSet) Decode(src []byte) error {
	if len(src) < ParticleSetSize {
		return fmt.Errorf("particle buffer too small: %d < %d", len(src), ParticleSetSize)
	}
	for i := range ps {
		decodeParticle(src[i*ParticleStride:(i+1)*ParticleStride], &ps[i])
	}
	return nil
}

func encodeParticle(b []byte, p *Particle) {
	putVec3Padded(b[0:16], p.Position)
	putVec3Padded(b[16:32], p.Velocity)
	putVec3Padded(b[32:48], p.Acceleration)
	binary.LittleEndian.PutUint32(b[48:], math.Float32bits(p.Flavour))
	clear(b[52:64])
}

func decodeParticle(b []byte, p *Particle) {
	p.Position = vec3At(b[0:])
	p.Velocity = vec3At(b[16:])
	p.Acceleration = vec3At(b[32:])
	p.Flavour = f32At(b[48:])
}

// Bytes returns the weights as a row-major R32Float texel block.
func (w *WeightsMatrix) Bytes() []byte {
	buf := make([]byte, WeightsSize)
	w.Encode(buf)
	return buf
}

func (w *WeightsMatrix) Encode(dst []byte) {
	_ = dst[WeightsSize-1]
	for i := range w {
		for j := range w[i] {
			off := (i*MaxFlavours + j) * WeightsTexelSize
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(w[i][j]))
		}
	}
}

func (w *WeightsMatrix) Decode(src []byte) error {
	if len(src) < WeightsSize {
		return fmt.Errorf("weights texture too small: %d < %d", len(src), WeightsSize)
	}
	for i := range w {
		for j := range w[i] {
			w[i][j] = f32At(src[(i*MaxFlavours+j)*WeightsTexelSize:])
		}
	}
	return nil
}

// Bytes returns the palette as an array<vec4<f32>, MaxFlavours> uniform block.
func (c *ParticleColours) Bytes() []byte {
	buf := make([]byte, ColoursSize)
	c.Encode(buf)
	return buf
}

func (c *ParticleColours) Encode(dst []byte) {
	_ = dst[ColoursSize-1]
	for i, col := range c {
		for k := 0; k < 4; k++ {
			binary.LittleEndian.PutUint32(dst[i*ColourStride+k*4:], math.Float32bits(col[k]))
		}
	}
}

func (c *ParticleColours) Decode(src []byte) error {
	if len(src) < ColoursSize {
		return fmt.Errorf("colour buffer too small: %d < %d", len(src), ColoursSize)
	}
	for i := range c {
		for k := 0; k < 4; k++ {
			c[i][k] = f32At(src[i*ColourStride+k*4:])
		}
	}
	return nil
}

func putVec3Padded(b []byte, v mgl32.Vec3) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(v[2]))
	binary.LittleEndian.PutUint32(b[12:], 0)
}

func vec3At(b []byte) mgl32.Vec3 {
	return mgl32.Vec3{f32At(b[0:]), f32At(b[4:]), f32At(b[8:])}
}

func f32At(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
