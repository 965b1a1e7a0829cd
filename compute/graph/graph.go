package graph

import (
	"errors"
	"fmt"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/gpu"
)

var ErrCycle = errors.New("execution graph has a cycle")

// NodeID names a node of the execution graph.
type NodeID uint8

const (
	NodeSimulation NodeID = iota
	NodeRender
	NodeDisplay

	nodeCount = 3
)

func (n NodeID) String() string {
	switch n {
	case NodeSimulation:
		return "simulation"
	case NodeRender:
		return "render"
	case NodeDisplay:
		return "display"
	}
	return "unknown"
}

func (n NodeID) stage() (core.StageKind, bool) {
	switch n {
	case NodeSimulation:
		return core.StageSimulation, true
	case NodeRender:
		return core.StageRender, true
	}
	return 0, false
}

// Edge orders From before To.
type Edge struct {
	From, To NodeID
}

// DefaultEdges makes render read the particles before the simulation writes
// them, so what is displayed lags the simulation by one tick.
func DefaultEdges() []Edge {
	return []Edge{
		{From: NodeRender, To: NodeSimulation},
		{From: NodeSimulation, To: NodeDisplay},
	}
}

// Presenter is the external display step.
type Presenter interface {
	Present(f *Frame) error
}

// Resizer is implemented by presenters whose target can change size. TakeResize
// returns the latest size once and then reports false until the next change.
type Resizer interface {
	TakeResize() (width, height uint32, ok bool)
}

// Submitter receives recorded passes. gpu.Device implements it.
type Submitter interface {
	Submit(passes []gpu.Pass) error
}

// ExecutionGraph runs the stages of a frame in dependency order.
type ExecutionGraph struct {
	stages    [core.StageCount]*Stage
	order     []NodeID
	submitter Submitter
	presenter Presenter
}

func NewExecutionGraph(submitter Submitter, stages [core.StageCount]*Stage, edges []Edge) (*ExecutionGraph, error) {
	for kind, s := range stages {
		if s == nil || s.Kind != core.StageKind(kind) {
			return nil, fmt.Errorf("stage slot %s: missing or mismatched stage", core.StageKind(kind))
		}
	}
	order, err := sortNodes(edges)
	if err != nil {
		return nil, err
	}
	return &ExecutionGraph{stages: stages, order: order, submitter: submitter}, nil
}

// sortNodes is Kahn's algorithm. Ties go to the lower NodeID.
func sortNodes(edges []Edge) ([]NodeID, error) {
	var indegree [nodeCount]int
	var next [nodeCount][]NodeID
	for _, e := range edges {
		if e.From >= nodeCount || e.To >= nodeCount {
			return nil, fmt.Errorf("edge %s -> %s: unknown node", e.From, e.To)
		}
		next[e.From] = append(next[e.From], e.To)
		indegree[e.To]++
	}

	order := make([]NodeID, 0, nodeCount)
	var ready []NodeID
	for n := NodeID(0); n < nodeCount; n++ {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, m := range next[n] {
			indegree[m]--
			if indegree[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	if len(order) != nodeCount {
		return nil, ErrCycle
	}
	return order, nil
}

func (g *ExecutionGraph) SetPresenter(p Presenter) { g.presenter = p }

// Order returns the node order used by Run.
func (g *ExecutionGraph) Order() []NodeID {
	return append([]NodeID(nil), g.order...)
}

func (g *ExecutionGraph) Stage(kind core.StageKind) *Stage { return g.stages[kind] }

// States returns the current state of every stage.
func (g *ExecutionGraph) States() [core.StageCount]PipelineState {
	var out [core.StageCount]PipelineState
	for kind, s := range g.stages {
		out[kind] = s.State()
	}
	return out
}

// Run polls every stage once, then visits the nodes in order. Passes are
// submitted before the display node and at the end of the frame.
func (g *ExecutionGraph) Run(f *Frame) error {
	for _, s := range g.stages {
		if _, err := s.PollReady(); err != nil {
			return err
		}
	}

	for _, n := range g.order {
		if kind, ok := n.stage(); ok {
			if _, err := g.stages[kind].Dispatch(f); err != nil {
				return err
			}
			continue
		}
		if err := g.flush(f); err != nil {
			return err
		}
		if g.presenter != nil {
			if err := g.presenter.Present(f); err != nil {
				return fmt.Errorf("%s: %w", n, err)
			}
		}
	}
	return g.flush(f)
}

func (g *ExecutionGraph) flush(f *Frame) error {
	pending := f.Pending()
	if len(pending) == 0 {
		return nil
	}
	if err := g.submitter.Submit(pending); err != nil {
		return fmt.Errorf("submit frame %d: %w", f.Number, err)
	}
	f.submitted = len(f.Passes)
	return nil
}
