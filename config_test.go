package particlelife

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/particlelife/compute/core"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, core.DefaultSimParams(), cfg.SimParams())
	assert.Equal(t, core.DefaultRenderParams(), cfg.RenderParams())
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := ParseConfig(ExampleConfigFile)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := ParseConfig(`
[simulation]
seed = 42
friction = 0.5
randomweights = false

[compute]
backend = webgpu

[display]
mode = window

[metrics]
addr = :9090
`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Simulation.Seed)
	assert.Equal(t, float32(0.5), cfg.SimParams().Friction)
	assert.False(t, cfg.Simulation.RandomWeights)
	assert.Equal(t, BackendWebGPU, cfg.Compute.Backend)
	assert.Equal(t, DisplayWindow, cfg.Display.Mode)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Empty(t, cfg.Inspect.Addr)
	assert.Equal(t, float32(48), cfg.Simulation.InteractionRadius)
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulation.DeltaTime = 0
	cfg.Render.ParticleRadius = -1
	cfg.Compute.Backend = "opengl"
	cfg.Display.Mode = DisplayWindow

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulation.deltatime")
	assert.Contains(t, err.Error(), "render.particleradius")
	assert.Contains(t, err.Error(), `compute.backend "opengl"`)
	assert.Contains(t, err.Error(), "display.mode window needs compute.backend webgpu")
}

func TestValidateRepulsionInsideInteraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulation.RepulsionRadius = cfg.Simulation.InteractionRadius
	assert.ErrorContains(t, cfg.Validate(), "simulation.repulsionradius")
}

func TestValidatePNGDisplay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Display.Mode = DisplayPNG
	require.NoError(t, cfg.Validate())

	cfg.Display.Every = 0
	assert.ErrorContains(t, cfg.Validate(), "display png")
}

func TestParseConfigRejectsUnknownVariable(t *testing.T) {
	_, err := ParseConfig("[simulation]\nparticles = 10\n")
	assert.Error(t, err)
}

func TestReadConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "particlelife.gcfg")
	require.NoError(t, os.WriteFile(fname, []byte("[render]\nparticleradius = 3.5\n"), 0o644))

	cfg, err := ReadConfig(fname)
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), cfg.RenderParams().ParticleRadius)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.gcfg"))
	assert.ErrorContains(t, err, "read config")
}
