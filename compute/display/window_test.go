package display

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gekko3d/particlelife/compute/graph"
)

var _ graph.Resizer = (*Window)(nil)

func TestWindowResizeIsTakenOnce(t *testing.T) {
	w := &Window{}
	_, _, ok := w.TakeResize()
	assert.False(t, ok)

	assert.False(t, w.record(0, 300), "minimised windows are ignored")
	assert.True(t, w.record(640, 360))
	assert.True(t, w.record(800, 450))

	width, height, ok := w.TakeResize()
	assert.True(t, ok)
	assert.Equal(t, uint32(800), width)
	assert.Equal(t, uint32(450), height)

	_, _, ok = w.TakeResize()
	assert.False(t, ok)
}
