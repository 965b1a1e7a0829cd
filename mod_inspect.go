package particlelife

import (
	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/inspect"
)

// InspectModule connects an inspection server to the app. Edits are applied
// in the Update stage and the latest frame report is published after Render.
type InspectModule struct {
	Server *inspect.Server
}

func (m InspectModule) Install(app *App, cmd *Commands) {
	if m.Server == nil {
		m.Server = inspect.NewServer(app.Logger())
	}
	cmd.AddResources(m.Server)
	cmd.UseSystem(System(applyEditsSystem).InStage(Update).RunAlways())
	cmd.UseSystem(System(publishReportSystem).InStage(PostRender).RunAlways())
}

func applyEditsSystem(server *inspect.Server, state *core.State) {
	server.Drain(state)
}

func publishReportSystem(server *inspect.Server, p *ComputePipeline, cmd *Commands) {
	if p.Last.Frame == 0 {
		return
	}
	if err := server.Publish(p.Last); err != nil {
		cmd.Logger().Warnf("inspect publish: %v", err)
	}
}
