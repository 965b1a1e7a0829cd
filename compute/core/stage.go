package core

// StageKind tags the two compute stages of a frame.
type StageKind uint8

const (
	StageSimulation StageKind = iota
	StageRender

	StageCount = 2
)

func (k StageKind) String() string {
	switch k {
	case StageSimulation:
		return "simulation"
	case StageRender:
		return "render"
	}
	return "unknown"
}

// Stages lists every stage kind in declaration order.
var Stages = [StageCount]StageKind{StageSimulation, StageRender}
