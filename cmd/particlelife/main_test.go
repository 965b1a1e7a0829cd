package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gekko3d/particlelife"
)

type teardownLog []string

type closer struct {
	log  *teardownLog
	name string
}

func (c closer) Close()   { *c.log = append(*c.log, c.name) }
func (c closer) Release() { *c.log = append(*c.log, c.name) }
func (c closer) Destroy() { *c.log = append(*c.log, c.name) }

func TestTeardownOrder(t *testing.T) {
	var log teardownLog
	td := teardown{
		window:    closer{&log, "window"},
		device:    closer{&log, "device"},
		native:    closer{&log, "native"},
		terminate: func() { log = append(log, "terminate") },
	}
	td.run()
	assert.Equal(t, teardownLog{"window", "device", "native", "terminate"}, log)
}

func TestTeardownHeadless(t *testing.T) {
	var log teardownLog
	td := teardown{device: closer{&log, "device"}}
	td.run()
	assert.Equal(t, teardownLog{"device"}, log)

	assert.NotPanics(t, (&teardown{}).run)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig("", particlelife.BackendSoftware, particlelife.DisplayNone, true)
	assert.NoError(t, err)
	assert.Equal(t, particlelife.BackendSoftware, cfg.Compute.Backend)
	assert.Equal(t, particlelife.DisplayNone, cfg.Display.Mode)
	assert.True(t, cfg.Log.Debug)

	_, err = loadConfig("", "metal", "", false)
	assert.Error(t, err)
}
