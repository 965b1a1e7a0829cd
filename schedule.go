package particlelife

import (
	"fmt"
	"slices"
)

// State is an app-level state for stateful apps. States are consecutive
// integers from the initial to the final state.
type State int

// Stage is a named step of a frame. Stages run in order, once per frame.
type Stage struct {
	Name string
}

var (
	Prelude    = Stage{Name: "Prelude"}
	PreUpdate  = Stage{Name: "PreUpdate"}
	Update     = Stage{Name: "Update"}
	PostUpdate = Stage{Name: "PostUpdate"}
	PreRender  = Stage{Name: "PreRender"}
	Render     = Stage{Name: "Render"}
	PostRender = Stage{Name: "PostRender"}
	Finale     = Stage{Name: "Finale"}
)

type statePhase int

const (
	enter statePhase = iota
	execute
	exit
)

type systemScheduleBuilder struct {
	system        systemFn
	inStage       Stage
	runAlways     bool
	stateProvided bool
	inState       State
	inStatePhase  statePhase
}

type stateScheduleBuilder struct {
	state  State
	phase  statePhase
	always bool
}

func OnEnter(state State) stateScheduleBuilder {
	return stateScheduleBuilder{state: state, phase: enter}
}

func OnExecute(state State) stateScheduleBuilder {
	return stateScheduleBuilder{state: state, phase: execute}
}

func OnExit(state State) stateScheduleBuilder {
	return stateScheduleBuilder{state: state, phase: exit}
}

func Always() stateScheduleBuilder {
	return stateScheduleBuilder{always: true}
}

func (sched systemScheduleBuilder) InStage(s Stage) systemScheduleBuilder {
	sched.inStage = s
	return sched
}

// InState restricts the system to one state phase, or to every state for Always.
func (sched systemScheduleBuilder) InState(s stateScheduleBuilder) systemScheduleBuilder {
	sched.runAlways = s.always
	sched.inState = s.state
	sched.inStatePhase = s.phase
	sched.stateProvided = true
	return sched
}

func (sched systemScheduleBuilder) RunAlways() systemScheduleBuilder {
	sched.runAlways = true
	return sched
}

// System schedules fn in the Update stage. Its parameters are resolved from
// the app resources, and *Commands, when it is called.
func System(fn systemFn) systemScheduleBuilder {
	return systemScheduleBuilder{system: fn, inStage: Update}
}

type stagePosition struct {
	target Stage
	after  bool
}

func BeforeStage(s Stage) stagePosition { return stagePosition{target: s} }
func AfterStage(s Stage) stagePosition  { return stagePosition{target: s, after: true} }

// UseStage inserts a custom stage next to an existing one.
func (app *App) UseStage(stage Stage, where stagePosition) *App {
	idx := slices.IndexFunc(app.stages, func(s Stage) bool { return s.Name == where.target.Name })
	if idx < 0 {
		panic(fmt.Sprintf("Stage %v not found", where.target.Name))
	}
	if where.after {
		idx++
	}
	app.stages = slices.Insert(app.stages, idx, stage)
	app.initStatefulStage(stage)
	return app
}

// UseSystem registers a system. Systems without a state, or marked RunAlways,
// run every frame before the stateful systems of their stage.
func (app *App) UseSystem(system systemScheduleBuilder) *App {
	stage := system.inStage.Name
	if system.runAlways || !system.stateProvided {
		if _, ok := app.systemsStateless[stage]; !ok {
			panic(fmt.Sprintf("Stage %v doesn't exist", stage))
		}
		app.systemsStateless[stage] = append(app.systemsStateless[stage], system.system)
		return app
	}

	if !app.stateful {
		panic("Trying to use a stateful system in a stateless app.")
	}
	systemsInStage, ok := app.systems[stage]
	if !ok {
		panic(fmt.Sprintf("Stage %v doesn't exist", stage))
	}
	systemsInState, ok := systemsInStage[system.inState]
	if !ok {
		panic(fmt.Sprintf("State %v doesn't exist", system.inState))
	}
	systemsInState[system.inStatePhase] = append(systemsInState[system.inStatePhase], system.system)
	return app
}

func (app *App) initStatefulStage(stage Stage) {
	app.systemsStateless[stage.Name] = make([]systemFn, 0)

	if app.stateful {
		byState := make(map[State]map[statePhase][]systemFn)
		for state := app.initialState; state <= app.finalState; state++ {
			byState[state] = make(map[statePhase][]systemFn)
		}
		app.systems[stage.Name] = byState
	}
}
