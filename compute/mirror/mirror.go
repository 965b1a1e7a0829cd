package mirror

import (
	"sync/atomic"

	"github.com/gekko3d/particlelife/compute/core"
)

// Snapshot is the render context's private copy of one frame of simulation state.
// It holds values only, so nothing the update context does afterwards is visible through it.
type Snapshot struct {
	Frame     uint64
	Particles core.ParticleSet
	Weights   core.WeightsMatrix
	Colours   core.ParticleColours
	Images    core.Images
}

// Extract copies the authoritative state into a fresh snapshot. A published
// snapshot is never written again, so every frame gets its own.
func Extract(frame uint64, state *core.State, images *core.Images) *Snapshot {
	s := &Snapshot{
		Frame:     frame,
		Particles: state.Particles,
		Weights:   state.Weights,
		Colours:   state.Colours,
	}
	if images != nil {
		s.Images = *images
	}
	return s
}

// Mirror publishes the most recent snapshot to readers outside the frame loop.
type Mirror struct {
	latest atomic.Pointer[Snapshot]
}

func (m *Mirror) Update(s *Snapshot) {
	m.latest.Store(s)
}

// Get returns the latest snapshot or nil before the first frame.
func (m *Mirror) Get() *Snapshot {
	return m.latest.Load()
}
