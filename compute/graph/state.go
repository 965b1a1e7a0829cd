package graph

import (
	"fmt"

	"github.com/gekko3d/particlelife/compute/gpu"
)

// PipelineState is the readiness of one compute stage.
type PipelineState uint8

const (
	Loading PipelineState = iota
	Init
	Update
)

func (s PipelineState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Init:
		return "init"
	case Update:
		return "update"
	}
	return "unknown"
}

// ProgramStatusSource reports compilation progress. *gpu.PipelineCompiler implements it.
type ProgramStatusSource interface {
	Status(h gpu.ProgramHandle) (gpu.ProgramStatus, error)
}

// StateMachine walks Loading -> Init -> Update as the stage's programs
// become ready. It advances at most one state per Poll and never goes back.
type StateMachine struct {
	state      PipelineState
	initProg   gpu.ProgramHandle
	updateProg gpu.ProgramHandle
}

func NewStateMachine(initProg, updateProg gpu.ProgramHandle) *StateMachine {
	return &StateMachine{initProg: initProg, updateProg: updateProg}
}

func (m *StateMachine) State() PipelineState { return m.state }

// Poll checks readiness once. A failed program is returned as an error and
// leaves the state unchanged.
func (m *StateMachine) Poll(src ProgramStatusSource) (PipelineState, error) {
	for _, h := range [...]gpu.ProgramHandle{m.initProg, m.updateProg} {
		status, err := src.Status(h)
		if status == gpu.ProgramFailed {
			return m.state, err
		}
	}

	switch m.state {
	case Loading:
		if m.ready(src, m.initProg) {
			m.state = Init
		}
	case Init:
		if m.ready(src, m.updateProg) {
			m.state = Update
		}
	case Update:
	default:
		return m.state, fmt.Errorf("invalid pipeline state %d", m.state)
	}
	return m.state, nil
}

func (m *StateMachine) ready(src ProgramStatusSource, h gpu.ProgramHandle) bool {
	status, _ := src.Status(h)
	return status == gpu.ProgramReady
}
