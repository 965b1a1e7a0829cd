package particlelife

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/display"
	"github.com/gekko3d/particlelife/compute/frame"
	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/graph"
)

// DisplayFactory builds the presenter run after the simulation stage.
type DisplayFactory func(p *ComputePipeline) (graph.Presenter, error)

// ComputeModule installs the compute pipeline on Device and schedules one
// frame per app tick in the Render stage.
type ComputeModule struct {
	Device     gpu.Device
	Sim        core.SimParams
	Render     core.RenderParams
	Registerer prometheus.Registerer
	Display    DisplayFactory
	// InspectEvery runs the blocking diagnostic readback every N frames.
	InspectEvery uint64
}

// ComputePipeline is the resource owning everything on the render side.
type ComputePipeline struct {
	Device    gpu.Device
	Scheduler *frame.Scheduler
	Metrics   *frame.Metrics
	Presenter graph.Presenter
	Last      frame.Report

	inspectEvery uint64
}

func (m ComputeModule) Install(app *App, cmd *Commands) {
	if m.Device == nil {
		app.fatal("ComputeModule: no device")
	}
	ensureSingleDevice(app, m.Device)

	sim, render := m.Sim, m.Render
	if sim == (core.SimParams{}) {
		sim = core.DefaultSimParams()
	}
	if render == (core.RenderParams{}) {
		render = core.DefaultRenderParams()
	}

	metrics := frame.NewMetrics(m.Registerer)
	sched, err := frame.NewScheduler(m.Device,
		frame.WithLogger(app.Logger()),
		frame.WithMetrics(metrics),
		frame.WithSimParams(sim),
		frame.WithRenderParams(render),
	)
	if err != nil {
		app.fatal("compute pipeline: %v", err)
	}

	p := &ComputePipeline{
		Device:       m.Device,
		Scheduler:    sched,
		Metrics:      metrics,
		inspectEvery: m.InspectEvery,
	}
	if m.Display != nil {
		presenter, err := m.Display(p)
		if err != nil {
			app.fatal("display: %v", err)
		}
		p.Presenter = presenter
		sched.SetPresenter(presenter)
	}

	cmd.AddResources(p)
	cmd.UseSystem(System(absorbResultsSystem).InStage(PreUpdate).RunAlways())
	cmd.UseSystem(System(resizeOutputSystem).InStage(PreUpdate).RunAlways())
	cmd.UseSystem(System(computeTickSystem).InStage(Render).RunAlways())
}

// absorbResultsSystem copies the latest simulation output into the
// authoritative state.
func absorbResultsSystem(p *ComputePipeline, state *core.State, cmd *Commands) {
	ps, ok, err := p.Scheduler.Result()
	if err != nil {
		cmd.app.fatal("simulation result: %v", err)
	}
	if ok {
		state.Particles = *ps
	}
}

// resizeOutputSystem follows the presenter's size. Replacing the output image
// gives it a new handle, which the image store picks up on the next upload.
func resizeOutputSystem(p *ComputePipeline, images *core.Images, cmd *Commands) {
	r, ok := p.Presenter.(graph.Resizer)
	if !ok {
		return
	}
	width, height, ok := r.TakeResize()
	if !ok || (width == images.Output.Width && height == images.Output.Height) {
		return
	}
	images.ResizeOutput(width, height)
	cmd.Logger().Debugf("output image resized to %dx%d as %s", width, height, images.Output.Handle)
}

func computeTickSystem(p *ComputePipeline, state *core.State, images *core.Images, cmd *Commands) {
	report, err := p.Scheduler.Tick(state, images)
	if errors.Is(err, display.ErrWindowClosed) {
		cmd.Logger().Infof("window closed after frame %d", p.Scheduler.Frame())
		cmd.Exit()
		return
	}
	if err != nil {
		cmd.app.fatal("compute: %v", err)
	}
	p.Last = report

	if p.inspectEvery > 0 && report.Frame%p.inspectEvery == 0 {
		p.Scheduler.MustInspect()
	}
}

// NewDevice creates the compute device named by cfg. surface is only used by
// the webgpu backend and may be nil.
func NewDevice(cfg Config, surface *wgpu.SurfaceDescriptor) (gpu.Device, error) {
	switch cfg.Compute.Backend {
	case BackendSoftware:
		validate := gpu.ValidateWGSL
		if cfg.Compute.Validate == ValidateEntryPoint {
			validate = gpu.ValidateEntryPoint
		}
		return gpu.NewSoftwareDevice(
			gpu.WithValidator(validate),
			gpu.WithKernels(gpu.ParticleKernels(cfg.SimParams(), cfg.RenderParams())),
		), nil
	case BackendWebGPU:
		dev, err := gpu.NewWebGPUDevice(gpu.WebGPUOptions{Surface: surface})
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	return nil, fmt.Errorf("unknown compute backend %q", cfg.Compute.Backend)
}
