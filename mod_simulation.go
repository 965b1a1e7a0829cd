package particlelife

import (
	"github.com/gekko3d/particlelife/compute/core"
)

// SimulationModule installs the authoritative simulation state and the image
// handles shared with the display and inspection layers. Systems in the
// update stages are the only writers of *core.State.
type SimulationModule struct {
	Seed          int64
	RandomWeights bool
}

func (m SimulationModule) Install(app *App, cmd *Commands) {
	state := core.NewState(m.Seed, m.RandomWeights)
	images := core.NewImages()
	cmd.AddResources(state, images)
	app.Logger().Infof("simulation: %d particles, %d flavours, seed %d, output image %s",
		core.MaxParticles, core.MaxFlavours, m.Seed, images.Output.Handle)
}
