package mirror

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/particlelife/compute/core"
)

func TestExtractIsIsolatedFromLaterMutation(t *testing.T) {
	state := core.NewState(9, true)
	images := core.NewImages()

	snap := Extract(5, state, images)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(5), snap.Frame)
	assert.Equal(t, state.Particles, snap.Particles)
	assert.Equal(t, state.Weights, snap.Weights)
	assert.Equal(t, *images, snap.Images)

	original := snap.Particles[0]
	state.Particles[0].Position = mgl32.Vec3{99, 99, 0}
	state.Weights[0][0] = 42
	images.ResizeOutput(64, 64)

	assert.Equal(t, original, snap.Particles[0])
	assert.NotEqual(t, float32(42), snap.Weights[0][0])
	assert.Equal(t, uint32(core.DomainWidth), snap.Images.Output.Width)
}

func TestExtractWithoutImages(t *testing.T) {
	snap := Extract(1, core.NewState(1, false), nil)
	assert.True(t, snap.Images.Output.IsZero())
	assert.True(t, snap.Images.Weights.IsZero())
}

func TestMirrorPublishesLatest(t *testing.T) {
	var m Mirror
	assert.Nil(t, m.Get())

	state := core.NewState(2, false)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if s := m.Get(); s != nil {
				_ = s.Particles[0]
			}
		}
	}()
	for f := uint64(1); f <= 10; f++ {
		m.Update(Extract(f, state, nil))
	}
	wg.Wait()

	assert.Equal(t, uint64(10), m.Get().Frame)
}
