package particlelife

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/display"
	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/graph"
	"github.com/gekko3d/particlelife/compute/inspect"
)

type pipelineFixture struct {
	app      *App
	pipeline *ComputePipeline
	state    *core.State
	logs     *observer.ObservedLogs
	registry *prometheus.Registry
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Compute.Validate = ValidateEntryPoint
	cfg.Simulation.RandomWeights = false
	return cfg
}

func newPipeline(t *testing.T, mod ComputeModule, extra ...Module) pipelineFixture {
	t.Helper()
	cfg := testConfig()
	if mod.Device == nil {
		dev, err := NewDevice(cfg, nil)
		require.NoError(t, err)
		mod.Device = dev
	}
	reg := prometheus.NewRegistry()
	mod.Registerer = reg
	mod.Sim = cfg.SimParams()
	mod.Render = cfg.RenderParams()

	logger, logs := newObservedLogger(true)
	modules := []Module{
		LoggingModule{Logger: logger},
		SimulationModule{Seed: cfg.Simulation.Seed, RandomWeights: cfg.Simulation.RandomWeights},
		mod,
	}
	app := NewAppBuilder().UseModule(append(modules, extra...)...).Build()

	p, ok := Resource[ComputePipeline](app)
	require.True(t, ok)
	require.NoError(t, p.Scheduler.Compiler.Wait(context.Background()))
	state, ok := Resource[core.State](app)
	require.True(t, ok)
	return pipelineFixture{app: app, pipeline: p, state: state, logs: logs, registry: reg}
}

func TestPipelineAbsorbsSimulationResults(t *testing.T) {
	f := newPipeline(t, ComputeModule{})
	initial := core.NewState(1, false)

	require.NoError(t, f.app.Run(context.Background(), 3))

	// Frame 1 initialises, frame 2 steps once; frame 3's step is still in flight.
	expected := initial.Particles
	core.SimulationInit(&expected, core.MaxParticles)
	core.SimulationUpdate(&expected, &expected, &initial.Weights, testConfig().SimParams(), core.MaxParticles)
	assert.Equal(t, expected, f.state.Particles)
	assert.NotEqual(t, initial.Particles[0].Position, f.state.Particles[0].Position)

	last := f.pipeline.Last
	assert.Equal(t, uint64(3), last.Frame)
	assert.Equal(t, [core.StageCount]graph.PipelineState{graph.Update, graph.Update}, last.States)
	assert.Equal(t, float64(3), testutil.ToFloat64(f.pipeline.Metrics.Frames))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.pipeline.Metrics.Readbacks.WithLabelValues("result")))
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("1024 particles").Len())
}

func TestPipelineRunsInspectionReadback(t *testing.T) {
	f := newPipeline(t, ComputeModule{InspectEvery: 2})

	require.NoError(t, f.app.Run(context.Background(), 4))
	assert.Equal(t, 2, f.logs.FilterMessageSnippet("particle 0:").Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.pipeline.Metrics.Readbacks.WithLabelValues("inspect")))
}

func TestPipelineWritesPNGFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	var sink *display.PNGSink
	f := newPipeline(t, ComputeModule{
		Display: func(p *ComputePipeline) (graph.Presenter, error) {
			var err error
			sink, err = display.NewPNGSink(p.Device, p.Scheduler.Buffers.Images, dir, 2, 1, nil)
			return sink, err
		},
	})
	assert.Same(t, sink, f.pipeline.Presenter)

	require.NoError(t, f.app.Run(context.Background(), 4))
	assert.Equal(t, 2, sink.Written())
	for _, name := range []string{"frame_000002.png", "frame_000004.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

type scriptedPresenter struct {
	failAt uint64
	err    error
	seen   []uint64
}

func (p *scriptedPresenter) Present(f *graph.Frame) error {
	p.seen = append(p.seen, f.Number)
	if f.Number == p.failAt {
		return p.err
	}
	return nil
}

func TestPipelineExitsWhenWindowCloses(t *testing.T) {
	presenter := &scriptedPresenter{failAt: 3, err: display.ErrWindowClosed}
	f := newPipeline(t, ComputeModule{
		Display: func(*ComputePipeline) (graph.Presenter, error) { return presenter, nil },
	})

	require.NoError(t, f.app.Run(context.Background(), 0))
	assert.Equal(t, uint64(3), f.app.Frames())
	assert.Equal(t, []uint64{1, 2, 3}, presenter.seen)
	assert.Equal(t, 1, f.logs.FilterMessage("window closed after frame 3").Len())
}

type resizingPresenter struct {
	scriptedPresenter
	width, height uint32
	pending       bool
}

func (p *resizingPresenter) Present(f *graph.Frame) error {
	if f.Number == 1 {
		p.pending = true
	}
	return p.scriptedPresenter.Present(f)
}

func (p *resizingPresenter) TakeResize() (uint32, uint32, bool) {
	if !p.pending {
		return 0, 0, false
	}
	p.pending = false
	return p.width, p.height, true
}

func TestPipelineFollowsPresenterResize(t *testing.T) {
	presenter := &resizingPresenter{width: 100, height: 36}
	f := newPipeline(t, ComputeModule{
		Display: func(*ComputePipeline) (graph.Presenter, error) { return presenter, nil },
	})
	images, ok := Resource[core.Images](f.app)
	require.True(t, ok)
	before := images.Output

	require.NoError(t, f.app.Run(context.Background(), 3))
	assert.Equal(t, uint32(100), images.Output.Width)
	assert.Equal(t, uint32(36), images.Output.Height)
	assert.NotEqual(t, before.Handle, images.Output.Handle)
	assert.Equal(t, images.Output, f.pipeline.Last.Images.Output)
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("output image resized to 100x36").Len())

	var sizes [][2]uint32
	for _, r := range f.pipeline.Device.(*gpu.SoftwareDevice).Dispatches() {
		if strings.HasPrefix(r.Program, core.StageRender.String()+".") {
			sizes = append(sizes, [2]uint32{r.X, r.Y})
		}
	}
	require.Len(t, sizes, 3)
	assert.Equal(t, [2]uint32{core.DomainWidth / core.RenderGroupWidth, core.DomainHeight / core.RenderGroupHeight}, sizes[0])
	assert.Equal(t, [2]uint32{13, 5}, sizes[1], "ceil(100/8) by ceil(36/8)")
	assert.Equal(t, sizes[1], sizes[2])
}

func TestPipelineFailureIsFatal(t *testing.T) {
	presenter := &scriptedPresenter{failAt: 2, err: errors.New("surface lost")}
	f := newPipeline(t, ComputeModule{
		Display: func(*ComputePipeline) (graph.Presenter, error) { return presenter, nil },
	})

	assert.Panics(t, func() { _ = f.app.Run(context.Background(), 5) })
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("surface lost").Len())
}

func TestDisplayFactoryErrorIsFatal(t *testing.T) {
	assert.PanicsWithValue(t, "display: no surface", func() {
		NewAppBuilder().UseModule(SimulationModule{}, ComputeModule{
			Device:  gpu.NewSoftwareDevice(gpu.WithValidator(gpu.ValidateEntryPoint)),
			Display: func(*ComputePipeline) (graph.Presenter, error) { return nil, errors.New("no surface") },
		}).Build()
	})
}

type renamedDevice struct {
	gpu.Device
	name string
}

func (d renamedDevice) Name() string { return d.name }

func TestComputeModuleRejectsSecondDevice(t *testing.T) {
	first := gpu.NewSoftwareDevice(gpu.WithValidator(gpu.ValidateEntryPoint))
	second := renamedDevice{Device: gpu.NewSoftwareDevice(), name: "other"}

	assert.PanicsWithValue(t, "Multiple compute devices installed: software and other", func() {
		NewAppBuilder().UseModule(
			SimulationModule{},
			ComputeModule{Device: first},
			ComputeModule{Device: second},
		).Build()
	})
}

func TestNewDevice(t *testing.T) {
	dev, err := NewDevice(testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "software", dev.Name())

	cfg := testConfig()
	cfg.Compute.Backend = "metal"
	_, err = NewDevice(cfg, nil)
	assert.ErrorContains(t, err, `unknown compute backend "metal"`)
}

func TestInspectModuleAppliesEditsAndPublishes(t *testing.T) {
	server := inspect.NewServer(nil)
	defer server.Close()
	f := newPipeline(t, ComputeModule{}, InspectModule{Server: server})

	red := [4]float32{1, 0, 0, 1}
	require.NoError(t, server.Submit(inspect.Edit{Op: inspect.OpSetColour, Flavour: 0, Colour: red}))
	require.NoError(t, server.Submit(inspect.Edit{Op: inspect.OpSetWeight, Row: 1, Col: 2, Value: 0.5}))

	require.NoError(t, f.app.Run(context.Background(), 2))
	assert.Equal(t, red, [4]float32(f.state.Colours[0]))
	assert.Equal(t, float32(0.5), f.state.Weights[1][2])

	snap := f.pipeline.Scheduler.Mirror.Get()
	require.NotNil(t, snap)
	assert.Equal(t, float32(0.5), snap.Weights[1][2])

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg inspect.Message
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, uint64(2), msg.Frame)
	assert.Equal(t, server.RunID, msg.RunID)
}
