package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gekko3d/particlelife"
	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/display"
	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/graph"
	"github.com/gekko3d/particlelife/compute/inspect"
)

const statsEvery = 600

func init() {
	// glfw and the surface must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	configFile := flag.String("config", "", "gcfg configuration file")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until interrupted")
	backend := flag.String("backend", "", "override compute.backend (software, webgpu)")
	mode := flag.String("display", "", "override display.mode (none, png, window)")
	debug := flag.Bool("debug", false, "enable debug logging")
	example := flag.Bool("example-config", false, "print an example configuration and exit")
	flag.Parse()

	if *example {
		fmt.Print(particlelife.ExampleConfigFile)
		return
	}

	cfg, err := loadConfig(*configFile, *backend, *mode, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := particlelife.NewDefaultLogger("particlelife", cfg.Log.Debug)
	defer func() { _ = logger.Sync() }()

	if err := particlelife.DetectCompute(cfg.Compute.Backend, nil); err != nil {
		if errors.Is(err, particlelife.ErrComputeUnsupported) {
			logger.Warnf("%v", err)
			fmt.Println(particlelife.ComputeUnsupportedMessage)
			return
		}
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *frames); err != nil {
		logger.Errorf("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(fname, backend, mode string, debug bool) (particlelife.Config, error) {
	cfg := particlelife.DefaultConfig()
	if fname != "" {
		var err error
		if cfg, err = particlelife.ReadConfig(fname); err != nil {
			return cfg, err
		}
	}
	if backend != "" {
		cfg.Compute.Backend = backend
	}
	if mode != "" {
		cfg.Display.Mode = mode
	}
	if debug {
		cfg.Log.Debug = true
	}
	return cfg, cfg.Validate()
}

// teardown releases the display stack in dependency order. The blit objects
// belong to the device, and the device's surface to the native window.
type teardown struct {
	window    interface{ Close() }
	device    interface{ Release() }
	native    interface{ Destroy() }
	terminate func()
}

func (t *teardown) run() {
	if t.window != nil {
		t.window.Close()
	}
	if t.device != nil {
		t.device.Release()
	}
	if t.native != nil {
		t.native.Destroy()
	}
	if t.terminate != nil {
		t.terminate()
	}
}

func run(ctx context.Context, cfg particlelife.Config, logger *particlelife.DefaultLogger, frames uint64) error {
	var (
		win     *glfw.Window
		surface *wgpu.SurfaceDescriptor
		td      teardown
	)
	defer td.run()

	if cfg.Display.Mode == particlelife.DisplayWindow {
		var err error
		win, err = display.OpenWindow(core.DomainWidth, core.DomainHeight, "Particle Life")
		if err != nil {
			return fmt.Errorf("open window: %w", err)
		}
		td.native, td.terminate = win, glfw.Terminate
		surface = display.SurfaceDescriptor(win)
	}

	device, err := particlelife.NewDevice(cfg, surface)
	if err != nil {
		return err
	}
	td.device = device

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var presenter particlelife.DisplayFactory
	switch cfg.Display.Mode {
	case particlelife.DisplayPNG:
		presenter = func(p *particlelife.ComputePipeline) (graph.Presenter, error) {
			return display.NewPNGSink(p.Device, p.Scheduler.Buffers.Images, cfg.Display.Dir, cfg.Display.Every, cfg.Display.Scale, logger)
		}
	case particlelife.DisplayWindow:
		presenter = func(p *particlelife.ComputePipeline) (graph.Presenter, error) {
			dev, ok := p.Device.(*gpu.WebGPUDevice)
			if !ok {
				return nil, fmt.Errorf("window display needs the webgpu device, have %s", p.Device.Name())
			}
			w, err := display.NewWindow(win, dev, p.Scheduler.Buffers.Images, logger)
			if err != nil {
				return nil, err
			}
			td.window = w
			return w, nil
		}
	}

	modules := []particlelife.Module{
		particlelife.LoggingModule{Logger: logger},
		particlelife.TimeModule{},
		particlelife.SimulationModule{
			Seed:          cfg.Simulation.Seed,
			RandomWeights: cfg.Simulation.RandomWeights,
		},
		particlelife.ComputeModule{
			Device:       device,
			Sim:          cfg.SimParams(),
			Render:       cfg.RenderParams(),
			Registerer:   reg,
			Display:      presenter,
			InspectEvery: cfg.Log.InspectEvery,
		},
	}
	var server *inspect.Server
	if cfg.Inspect.Addr != "" {
		server = inspect.NewServer(logger)
		modules = append(modules, particlelife.InspectModule{Server: server})
	}

	app := particlelife.NewAppBuilder().UseModule(modules...).Build()
	app.UseSystem(particlelife.System(logStats).InStage(particlelife.Finale).RunAlways())

	var servers []*http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{Addr: cfg.Metrics.Addr, Handler: mux})
	}
	if server != nil {
		servers = append(servers, &http.Server{Addr: cfg.Inspect.Addr, Handler: server.Handler()})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Infof("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	runErr := app.Run(gctx, frames)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown %s: %v", srv.Addr, err)
		}
	}
	if server != nil {
		server.Close()
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Infof("stopped after %d frames", app.Frames())
	return nil
}

func logStats(t *particlelife.Time, p *particlelife.ComputePipeline, cmd *particlelife.Commands) {
	if t.Frame == 0 || t.Frame%statsEvery != 0 {
		return
	}
	r := p.Last
	fps := 0.0
	if t.Dt > 0 {
		fps = float64(time.Second) / float64(t.Dt)
	}
	cmd.Logger().Infof("frame %d: %.1f fps, tick %s, states %v", r.Frame, fps, r.Duration, r.States)
}
