package graph

import (
	"fmt"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/shaders"
)

// Frame collects the work of one tick. Stages append passes to it and the
// graph submits them in order.
type Frame struct {
	Number uint64
	Groups [core.StageCount]gpu.BindGroupID
	Output core.ImageRef

	Passes     []gpu.Pass
	Dispatched [core.StageCount]int
	submitted  int
}

// Pending returns the passes recorded since the last submit.
func (f *Frame) Pending() []gpu.Pass {
	return f.Passes[f.submitted:]
}

// Stage is one compute stage. Kind selects between the simulation and render
// variants; there are no others.
type Stage struct {
	Kind core.StageKind

	machine  *StateMachine
	compiler *gpu.PipelineCompiler
	init     gpu.ProgramHandle
	update   gpu.ProgramHandle
}

func NewStage(kind core.StageKind, compiler *gpu.PipelineCompiler, init, update gpu.ProgramHandle) *Stage {
	return &Stage{
		Kind:     kind,
		machine:  NewStateMachine(init, update),
		compiler: compiler,
		init:     init,
		update:   update,
	}
}

// QueueStages queues the init and update programs of both stages and returns
// the stages in core.Stages order.
func QueueStages(compiler *gpu.PipelineCompiler, binds *gpu.BindGroupBuilder, sim core.SimParams, render core.RenderParams) [core.StageCount]*Stage {
	sources := [core.StageCount]string{
		core.StageSimulation: shaders.Simulation(sim),
		core.StageRender:     shaders.Render(render),
	}
	var stages [core.StageCount]*Stage
	for _, kind := range core.Stages {
		queue := func(entry string) gpu.ProgramHandle {
			return compiler.Queue(gpu.ProgramDesc{
				Label:      kind.String() + "_" + entry,
				Module:     kind.String(),
				Source:     sources[kind],
				EntryPoint: entry,
				Layout:     binds.Layout(kind),
			})
		}
		stages[kind] = NewStage(kind, compiler, queue(shaders.EntryInit), queue(shaders.EntryUpdate))
	}
	return stages
}

func (s *Stage) State() PipelineState { return s.machine.State() }

// PollReady advances the state machine by at most one step.
func (s *Stage) PollReady() (PipelineState, error) {
	state, err := s.machine.Poll(s.compiler)
	if err != nil {
		return state, fmt.Errorf("%s stage: %w", s.Kind, err)
	}
	return state, nil
}

// Workgroups is the dispatch size for the stage.
func (s *Stage) Workgroups(f *Frame) (x, y, z uint32) {
	switch s.Kind {
	case core.StageRender:
		return ceilDiv(f.Output.Width, core.RenderGroupWidth), ceilDiv(f.Output.Height, core.RenderGroupHeight), 1
	case core.StageSimulation:
		return ceilDiv(core.MaxParticles, core.ParticleGroupSize), 1, 1
	}
	return 0, 0, 0
}

// Dispatch records the pass for the current state into f. A stage still
// Loading records nothing and reports false.
func (s *Stage) Dispatch(f *Frame) (bool, error) {
	var h gpu.ProgramHandle
	switch s.State() {
	case Loading:
		return false, nil
	case Init:
		h = s.init
	case Update:
		h = s.update
	}
	prog, ok := s.compiler.Program(h)
	if !ok {
		return false, fmt.Errorf("%s stage: program %d not ready in state %s", s.Kind, h, s.State())
	}
	group := f.Groups[s.Kind]
	if group == 0 {
		return false, fmt.Errorf("%s stage bind group: %w", s.Kind, gpu.ErrUnsetResource)
	}

	x, y, z := s.Workgroups(f)
	f.Passes = append(f.Passes, gpu.Pass{
		Label:     s.Kind.String() + "_" + s.State().String(),
		Program:   prog,
		BindGroup: group,
		X:         x,
		Y:         y,
		Z:         z,
	})
	f.Dispatched[s.Kind]++
	return true, nil
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}
