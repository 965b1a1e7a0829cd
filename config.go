package particlelife

import (
	"errors"
	"fmt"

	"gopkg.in/gcfg.v1"

	"github.com/gekko3d/particlelife/compute/core"
)

const ExampleConfigFile = `# particlelife configuration

[Simulation]
# Seed for initial positions, velocities and random weights.
Seed = 1
DeltaTime = 0.5
InteractionRadius = 48
RepulsionRadius = 12
Friction = 0.2
ForceScale = 1
# Fill the weights matrix with uniform values in [-1, 1) instead of zeros.
RandomWeights = true

[Render]
ParticleRadius = 2

[Compute]
# software | webgpu
Backend = software
# naga | entrypoint; only used by the software backend.
Validate = naga

[Display]
# none | png | window
Mode = none
Dir = frames
Every = 60
Scale = 1

[Inspect]
# Websocket inspection endpoint. Unset disables it.
# Addr = :8081

[Metrics]
# Prometheus endpoint. Unset disables it.
# Addr = :9090

[Log]
Debug = false
# Log particle 0 with a blocking readback every N frames. 0 disables it.
InspectEvery = 0
`

const (
	BackendSoftware = "software"
	BackendWebGPU   = "webgpu"

	DisplayNone   = "none"
	DisplayPNG    = "png"
	DisplayWindow = "window"

	ValidateNaga       = "naga"
	ValidateEntryPoint = "entrypoint"
)

type SimulationConfig struct {
	Seed              int64
	DeltaTime         float32
	InteractionRadius float32
	RepulsionRadius   float32
	Friction          float32
	ForceScale        float32
	RandomWeights     bool
}

type RenderConfig struct {
	ParticleRadius float32
}

type ComputeConfig struct {
	Backend  string
	Validate string
}

type DisplayConfig struct {
	Mode  string
	Dir   string
	Every uint64
	Scale int
}

type AddrConfig struct {
	Addr string
}

type LogSection struct {
	Debug        bool
	InspectEvery uint64
}

type Config struct {
	Simulation SimulationConfig
	Render     RenderConfig
	Compute    ComputeConfig
	Display    DisplayConfig
	Inspect    AddrConfig
	Metrics    AddrConfig
	Log        LogSection
}

func DefaultConfig() Config {
	sim := core.DefaultSimParams()
	return Config{
		Simulation: SimulationConfig{
			Seed:              1,
			DeltaTime:         sim.DeltaTime,
			InteractionRadius: sim.InteractionRadius,
			RepulsionRadius:   sim.RepulsionRadius,
			Friction:          sim.Friction,
			ForceScale:        sim.ForceScale,
			RandomWeights:     true,
		},
		Render:  RenderConfig{ParticleRadius: core.DefaultRenderParams().ParticleRadius},
		Compute: ComputeConfig{Backend: BackendSoftware, Validate: ValidateNaga},
		Display: DisplayConfig{Mode: DisplayNone, Dir: "frames", Every: 60, Scale: 1},
	}
}

// ReadConfig loads fname over the defaults.
func ReadConfig(fname string) (Config, error) {
	cfg := DefaultConfig()
	if err := gcfg.ReadFileInto(&cfg, fname); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", fname, err)
	}
	return cfg, cfg.Validate()
}

// ParseConfig loads an INI string over the defaults.
func ParseConfig(text string) (Config, error) {
	cfg := DefaultConfig()
	if err := gcfg.ReadStringInto(&cfg, text); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	s := c.Simulation
	if s.DeltaTime <= 0 {
		errs = append(errs, fmt.Errorf("simulation.deltatime must be positive, got %g", s.DeltaTime))
	}
	if s.InteractionRadius <= 0 {
		errs = append(errs, fmt.Errorf("simulation.interactionradius must be positive, got %g", s.InteractionRadius))
	}
	if s.RepulsionRadius <= 0 || s.RepulsionRadius >= s.InteractionRadius {
		errs = append(errs, fmt.Errorf("simulation.repulsionradius must be in (0, %g), got %g", s.InteractionRadius, s.RepulsionRadius))
	}
	if s.Friction < 0 || s.Friction*s.DeltaTime >= 1 {
		errs = append(errs, fmt.Errorf("simulation.friction %g with deltatime %g does not damp", s.Friction, s.DeltaTime))
	}
	if c.Render.ParticleRadius <= 0 {
		errs = append(errs, fmt.Errorf("render.particleradius must be positive, got %g", c.Render.ParticleRadius))
	}
	switch c.Compute.Backend {
	case BackendSoftware, BackendWebGPU:
	default:
		errs = append(errs, fmt.Errorf("compute.backend %q is not one of software, webgpu", c.Compute.Backend))
	}
	switch c.Compute.Validate {
	case ValidateNaga, ValidateEntryPoint:
	default:
		errs = append(errs, fmt.Errorf("compute.validate %q is not one of naga, entrypoint", c.Compute.Validate))
	}
	switch c.Display.Mode {
	case DisplayNone, DisplayPNG:
	case DisplayWindow:
		if c.Compute.Backend != BackendWebGPU {
			errs = append(errs, errors.New("display.mode window needs compute.backend webgpu"))
		}
	default:
		errs = append(errs, fmt.Errorf("display.mode %q is not one of none, png, window", c.Display.Mode))
	}
	if c.Display.Mode == DisplayPNG && (c.Display.Every == 0 || c.Display.Scale < 1 || c.Display.Dir == "") {
		errs = append(errs, errors.New("display png needs dir, every >= 1 and scale >= 1"))
	}
	return errors.Join(errs...)
}

func (c Config) SimParams() core.SimParams {
	return core.SimParams{
		DeltaTime:         c.Simulation.DeltaTime,
		InteractionRadius: c.Simulation.InteractionRadius,
		RepulsionRadius:   c.Simulation.RepulsionRadius,
		Friction:          c.Simulation.Friction,
		ForceScale:        c.Simulation.ForceScale,
	}
}

func (c Config) RenderParams() core.RenderParams {
	return core.RenderParams{ParticleRadius: c.Render.ParticleRadius}
}
