package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/mirror"
)

type fakeStatuses map[gpu.ProgramHandle]gpu.ProgramStatus

func (f fakeStatuses) Status(h gpu.ProgramHandle) (gpu.ProgramStatus, error) {
	s := f[h]
	if s == gpu.ProgramFailed {
		return s, gpu.ErrProgramFailed
	}
	return s, nil
}

func TestStateMachineAdvancesOneStepPerPoll(t *testing.T) {
	src := fakeStatuses{0: gpu.ProgramPending, 1: gpu.ProgramPending}
	m := NewStateMachine(0, 1)

	state, err := m.Poll(src)
	require.NoError(t, err)
	assert.Equal(t, Loading, state)

	src[0], src[1] = gpu.ProgramReady, gpu.ProgramReady
	state, _ = m.Poll(src)
	assert.Equal(t, Init, state, "both ready still only advances once")
	state, _ = m.Poll(src)
	assert.Equal(t, Update, state)

	for i := 0; i < 3; i++ {
		state, err = m.Poll(src)
		require.NoError(t, err)
		assert.Equal(t, Update, state)
	}
}

func TestStateMachineChecksInitBeforeUpdate(t *testing.T) {
	src := fakeStatuses{0: gpu.ProgramPending, 1: gpu.ProgramReady}
	m := NewStateMachine(0, 1)
	for i := 0; i < 4; i++ {
		state, err := m.Poll(src)
		require.NoError(t, err)
		assert.Equal(t, Loading, state)
	}
}

func TestStateMachineNeverRegresses(t *testing.T) {
	src := fakeStatuses{0: gpu.ProgramReady, 1: gpu.ProgramReady}
	m := NewStateMachine(0, 1)
	m.Poll(src)
	m.Poll(src)
	require.Equal(t, Update, m.State())

	src[0], src[1] = gpu.ProgramPending, gpu.ProgramPending
	state, err := m.Poll(src)
	require.NoError(t, err)
	assert.Equal(t, Update, state)
}

func TestStateMachineReportsFailure(t *testing.T) {
	src := fakeStatuses{0: gpu.ProgramReady, 1: gpu.ProgramFailed}
	m := NewStateMachine(0, 1)
	state, err := m.Poll(src)
	assert.ErrorIs(t, err, gpu.ErrProgramFailed)
	assert.Equal(t, Loading, state)
}

func TestDefaultEdgesOrder(t *testing.T) {
	order, err := sortNodes(DefaultEdges())
	require.NoError(t, err)
	assert.Equal(t, []NodeID{NodeRender, NodeSimulation, NodeDisplay}, order)
}

func TestSortNodesRejectsCycles(t *testing.T) {
	_, err := sortNodes([]Edge{
		{From: NodeRender, To: NodeSimulation},
		{From: NodeSimulation, To: NodeRender},
	})
	assert.ErrorIs(t, err, ErrCycle)

	_, err = sortNodes([]Edge{{From: NodeRender, To: NodeID(7)}})
	assert.Error(t, err)
}

type recordingPresenter struct {
	dev    *gpu.SoftwareDevice
	seen   []int
	frames []uint64
}

func (p *recordingPresenter) Present(f *Frame) error {
	p.seen = append(p.seen, len(p.dev.Dispatches()))
	p.frames = append(p.frames, f.Number)
	return nil
}

type fixture struct {
	dev      *gpu.SoftwareDevice
	compiler *gpu.PipelineCompiler
	buffers  *gpu.BufferManager
	binds    *gpu.BindGroupBuilder
	graph    *ExecutionGraph
	state    *core.State
	images   *core.Images
}

func newFixture(t *testing.T, opts ...gpu.SoftwareOption) *fixture {
	t.Helper()
	base := []gpu.SoftwareOption{
		gpu.WithValidator(gpu.ValidateEntryPoint),
		gpu.WithKernels(gpu.ParticleKernels(core.DefaultSimParams(), core.DefaultRenderParams())),
	}
	dev := gpu.NewSoftwareDevice(append(base, opts...)...)
	binds, err := gpu.NewBindGroupBuilder(dev)
	require.NoError(t, err)
	compiler := gpu.NewPipelineCompiler(dev)
	stages := QueueStages(compiler, binds, core.DefaultSimParams(), core.DefaultRenderParams())
	g, err := NewExecutionGraph(dev, stages, DefaultEdges())
	require.NoError(t, err)
	return &fixture{
		dev:      dev,
		compiler: compiler,
		buffers:  gpu.NewBufferManager(dev),
		binds:    binds,
		graph:    g,
		state:    core.NewState(1, false),
		images:   core.NewImages(),
	}
}

func (fx *fixture) frame(t *testing.T, n uint64) *Frame {
	t.Helper()
	snap := mirror.Extract(n, fx.state, fx.images)
	res, err := fx.buffers.Upload(snap)
	require.NoError(t, err)
	groups, err := fx.binds.BuildAll(res)
	require.NoError(t, err)
	return &Frame{Number: n, Groups: groups, Output: snap.Images.Output}
}

func TestExecutionGraphRunsStagesInOrder(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.compiler.Wait(context.Background()))
	p := &recordingPresenter{dev: fx.dev}
	fx.graph.SetPresenter(p)

	var states [][core.StageCount]PipelineState
	for n := uint64(1); n <= 3; n++ {
		f := fx.frame(t, n)
		require.NoError(t, fx.graph.Run(f))
		states = append(states, fx.graph.States())
		assert.Equal(t, [core.StageCount]int{1, 1}, f.Dispatched)
	}
	assert.Equal(t, [core.StageCount]PipelineState{Init, Init}, states[0])
	assert.Equal(t, [core.StageCount]PipelineState{Update, Update}, states[1])
	assert.Equal(t, [core.StageCount]PipelineState{Update, Update}, states[2])

	records := fx.dev.Dispatches()
	require.Len(t, records, 6)
	want := []string{
		"render.init", "simulation.init",
		"render.update", "simulation.update",
		"render.update", "simulation.update",
	}
	for i, r := range records {
		assert.Equal(t, want[i], r.Program)
	}
	assert.Equal(t, []int{2, 4, 6}, p.seen, "display sees the simulation submission")
	assert.Equal(t, []uint64{1, 2, 3}, p.frames)
}

func TestDispatchSizes(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.compiler.Wait(context.Background()))
	require.NoError(t, fx.graph.Run(fx.frame(t, 1)))

	for _, r := range fx.dev.Dispatches() {
		switch r.Program {
		case "render.init":
			assert.Equal(t, [3]uint32{64, 64, 1}, [3]uint32{r.X, r.Y, r.Z})
		case "simulation.init":
			assert.Equal(t, [3]uint32{16, 1, 1}, [3]uint32{r.X, r.Y, r.Z})
		}
	}

	render := fx.graph.Stage(core.StageRender)
	x, y, z := render.Workgroups(&Frame{Output: core.ImageRef{Width: 100, Height: 20}})
	assert.Equal(t, [3]uint32{13, 3, 1}, [3]uint32{x, y, z})
}

func TestLoadingStageDispatchesNothing(t *testing.T) {
	release := make(chan struct{})
	fx := newFixture(t, gpu.WithValidator(func(desc gpu.ProgramDesc) error {
		<-release
		return gpu.ValidateEntryPoint(desc)
	}))

	for n := uint64(1); n <= 3; n++ {
		f := fx.frame(t, n)
		require.NoError(t, fx.graph.Run(f))
		assert.Equal(t, [core.StageCount]int{0, 0}, f.Dispatched)
		assert.Equal(t, [core.StageCount]PipelineState{Loading, Loading}, fx.graph.States())
	}
	assert.Empty(t, fx.dev.Dispatches())
	assert.Zero(t, fx.dev.Submits())

	close(release)
	require.NoError(t, fx.compiler.Wait(context.Background()))
	f := fx.frame(t, 4)
	require.NoError(t, fx.graph.Run(f))
	assert.Equal(t, [core.StageCount]int{1, 1}, f.Dispatched)
	assert.Len(t, fx.dev.Dispatches(), 2)
}

func TestRunReturnsCompileFailure(t *testing.T) {
	fx := newFixture(t, gpu.WithValidator(func(desc gpu.ProgramDesc) error {
		if desc.Module == "render" && desc.EntryPoint == "update" {
			return errors.New("syntax error")
		}
		return nil
	}))
	require.NoError(t, fx.compiler.Wait(context.Background()))

	err := fx.graph.Run(fx.frame(t, 1))
	assert.ErrorIs(t, err, gpu.ErrProgramFailed)
	assert.Empty(t, fx.dev.Dispatches())
}

func TestNewExecutionGraphRejectsMissingStage(t *testing.T) {
	dev := gpu.NewSoftwareDevice()
	var stages [core.StageCount]*Stage
	_, err := NewExecutionGraph(dev, stages, DefaultEdges())
	assert.Error(t, err)
}

func TestRenderSeesPreviousTick(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.compiler.Wait(context.Background()))

	// advance both stages to Update
	require.NoError(t, fx.graph.Run(fx.frame(t, 1)))
	require.NoError(t, fx.graph.Run(fx.frame(t, 2)))

	fx.state = core.NewState(3, false)
	start := mgl32.Vec3{-100, 50, 0}
	for i := range fx.state.Particles {
		fx.state.Particles[i].Position = start
		fx.state.Particles[i].Velocity = mgl32.Vec3{20, 0, 0}
	}
	require.NoError(t, fx.graph.Run(fx.frame(t, 3)))

	raw, err := fx.dev.ReadBuffer(fx.buffers.ParticlesBuf)
	require.NoError(t, err)
	var after core.ParticleSet
	require.NoError(t, after.Decode(raw))
	require.InDelta(t, 10, after[0].Position.X()-start.X(), 1e-3, "simulation moved the particles")

	tex, ok := fx.buffers.Images.Resolve(fx.images.Output.Handle)
	require.True(t, ok)
	pix, err := fx.dev.ReadTexture(tex)
	require.NoError(t, err)

	texelAt := func(x, y float32) []byte {
		px := int(x + core.DomainWidth/2)
		py := int(y + core.DomainHeight/2)
		idx := (py*core.DomainWidth + px) * core.OutputTexelSize
		return pix[idx : idx+3]
	}
	// the disc is drawn where the particles were before this tick's step
	assert.NotEqual(t, core.Background[:3], texelAt(start.X(), start.Y()))
	assert.Equal(t, core.Background[:3], texelAt(after[0].Position.X(), after[0].Position.Y()))
}
