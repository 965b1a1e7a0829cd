package particlelife

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockResource1 struct {
	name string
}
type MockResource2 struct {
	name string
}

func NewMockResource1(name string) *MockResource1 {
	return &MockResource1{name: name}
}
func NewMockResource2(name string) *MockResource2 {
	return &MockResource2{name: name}
}

func TestApp_changeState(t *testing.T) {
	app := &App{
		stateful:     true,
		initialState: 1,
		state:        1,
		finalState:   2,
	}

	// Test changing state
	app.changeState(2)
	if app.nextState != State(2) {
		t.Errorf("The nextState should be set correctly.")
	}
	if !app.stateTransitioning {
		t.Errorf("The stateTransitioning flag should be true.")
	}

	// Test executing state change
	app.executeChangeState(2)
	if app.state != State(2) {
		t.Errorf("The app state should change correctly.")
	}
}

func TestApp_addResources(t *testing.T) {
	// Test setup
	app := &App{
		resources: make(map[reflect.Type]any),
	}

	// Add a resource
	resource1 := NewMockResource1("Resource1")
	app.addResources(resource1)

	// Check that the resource was added
	assert.Contains(t, app.resources, reflect.TypeOf(resource1).Elem(), "Resource1 should be in resources map.")

	// Expect panic when trying to add the same type of resource again
	require.PanicsWithValue(t, fmt.Sprintf("%s is already in resources", reflect.TypeOf(resource1)), func() {
		app.addResources(resource1) // Try adding resource1 again, should panic
	})

	// Add a resource
	resource2 := NewMockResource2("Resource2")
	app.addResources(resource2)

	// Check that the resource was added
	assert.Contains(t, app.resources, reflect.TypeOf(resource2).Elem(), "Resource2 should be in resources map.")
}

type counter struct {
	n int
}

func TestApp_RunStopsAtMaxFrames(t *testing.T) {
	app := NewAppBuilder().Build()
	c := &counter{}
	app.addResources(c)
	app.UseSystem(System(func(c *counter) { c.n++ }).InStage(Update).RunAlways())

	require.NoError(t, app.Run(context.Background(), 5))
	assert.Equal(t, 5, c.n)
	assert.Equal(t, uint64(5), app.Frames())
}

func TestApp_RunStopsOnExit(t *testing.T) {
	app := NewAppBuilder().Build()
	c := &counter{}
	app.addResources(c)
	app.UseSystem(System(func(c *counter, cmd *Commands) {
		c.n++
		if c.n == 3 {
			cmd.Exit()
		}
	}).InStage(Update).RunAlways())

	require.NoError(t, app.Run(context.Background(), 0))
	assert.Equal(t, 3, c.n)
}

func TestApp_RunHonoursContext(t *testing.T) {
	app := NewAppBuilder().Build()
	ctx, cancel := context.WithCancel(context.Background())
	c := &counter{}
	app.addResources(c)
	app.UseSystem(System(func(c *counter) {
		c.n++
		if c.n == 2 {
			cancel()
		}
	}).InStage(PostRender).RunAlways())

	err := app.Run(ctx, 100)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, c.n)
}

func TestApp_RunStagesInOrder(t *testing.T) {
	app := NewAppBuilder().Build()
	var order []string
	for _, stage := range []Stage{Finale, Render, PreUpdate, Prelude} {
		name := stage.Name
		app.UseSystem(System(func() { order = append(order, name) }).InStage(stage).RunAlways())
	}

	require.NoError(t, app.Run(context.Background(), 1))
	assert.Equal(t, []string{"Prelude", "PreUpdate", "Render", "Finale"}, order)
}

func TestApp_StatefulRunLeavesFinalState(t *testing.T) {
	app := NewAppBuilder().UseStates(0, 2).Build()
	var entered []State
	for s := State(0); s <= 2; s++ {
		state := s
		app.UseSystem(System(func() { entered = append(entered, state) }).InState(OnEnter(state)))
		app.UseSystem(System(func(cmd *Commands) { cmd.ChangeState(state + 1) }).InState(OnExecute(state)))
	}

	require.NoError(t, app.Run(context.Background(), 10))
	assert.Equal(t, []State{0, 1, 2}, entered)
	assert.Equal(t, uint64(2), app.Frames())
}

func TestResourceLookup(t *testing.T) {
	app := NewAppBuilder().Build()
	app.addResources(NewMockResource1("one"))

	r, ok := Resource[MockResource1](app)
	require.True(t, ok)
	assert.Equal(t, "one", r.name)

	_, ok = Resource[MockResource2](app)
	assert.False(t, ok)
}

func TestApp_MissingDependencyPanics(t *testing.T) {
	app := NewAppBuilder().Build()
	app.UseSystem(System(func(*MockResource2) {}).InStage(Update).RunAlways())

	assert.Panics(t, func() { _ = app.Run(context.Background(), 1) })
}
