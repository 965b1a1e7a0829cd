package frame

import (
	"fmt"
	"sync"
	"time"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/gpu"
	"github.com/gekko3d/particlelife/compute/graph"
	"github.com/gekko3d/particlelife/compute/mirror"
)

// Logger is the subset of the app logger the scheduler writes to.
type Logger interface {
	DebugEnabled() bool
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) DebugEnabled() bool    { return false }
func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}

// Report summarises one scheduled frame.
type Report struct {
	Frame         uint64
	States        [core.StageCount]graph.PipelineState
	Dispatched    [core.StageCount]int
	Passes        []gpu.Pass
	UploadedBytes uint64
	Images        core.Images
	Duration      time.Duration
}

type Option func(*Scheduler)

func WithLogger(l Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithSimParams(p core.SimParams) Option {
	return func(s *Scheduler) { s.sim = p }
}

func WithRenderParams(p core.RenderParams) Option {
	return func(s *Scheduler) { s.render = p }
}

// Scheduler drives one frame per Tick: snapshot, upload, bind, dispatch.
// Tick runs on the render context; Result is handed back to the simulation context.
type Scheduler struct {
	Mirror   mirror.Mirror
	Device   gpu.Device
	Compiler *gpu.PipelineCompiler
	Buffers  *gpu.BufferManager
	Binds    *gpu.BindGroupBuilder
	Graph    *graph.ExecutionGraph

	sim     core.SimParams
	render  core.RenderParams
	log     Logger
	metrics *Metrics

	frame uint64

	mu       sync.Mutex
	pending  gpu.Readback
	result   *core.ParticleSet
	last     Report
	resource gpu.Resources
}

// NewScheduler creates the buffers, layouts and graph on device and queues
// every compute program. Compilation continues in the background.
func NewScheduler(device gpu.Device, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		Device: device,
		sim:    core.DefaultSimParams(),
		render: core.DefaultRenderParams(),
		log:    nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	binds, err := gpu.NewBindGroupBuilder(device)
	if err != nil {
		return nil, err
	}
	s.Binds = binds
	s.Buffers = gpu.NewBufferManager(device)
	if err := s.Buffers.EnsureAllocated(); err != nil {
		return nil, err
	}
	s.Compiler = gpu.NewPipelineCompiler(device)

	stages := graph.QueueStages(s.Compiler, binds, s.sim, s.render)
	g, err := graph.NewExecutionGraph(device, stages, graph.DefaultEdges())
	if err != nil {
		return nil, err
	}
	s.Graph = g
	s.log.Infof("compute pipeline on %s device, order %v", device.Name(), g.Order())
	return s, nil
}

// SetPresenter attaches the display step run after the simulation stage.
func (s *Scheduler) SetPresenter(p graph.Presenter) {
	s.Graph.SetPresenter(p)
}

// Tick schedules one frame from the authoritative state. It does not wait
// for the GPU to finish.
func (s *Scheduler) Tick(state *core.State, images *core.Images) (Report, error) {
	start := time.Now()
	s.frame++

	snap := mirror.Extract(s.frame, state, images)
	s.Mirror.Update(snap)

	before := s.Buffers.UploadedBytes()
	res, err := s.Buffers.Upload(snap)
	if err != nil {
		return Report{}, fmt.Errorf("frame %d upload: %w", s.frame, err)
	}
	groups, err := s.Binds.BuildAll(res)
	if err != nil {
		return Report{}, fmt.Errorf("frame %d bind: %w", s.frame, err)
	}

	f := &graph.Frame{Number: s.frame, Groups: groups, Output: snap.Images.Output}
	if err := s.Graph.Run(f); err != nil {
		return Report{}, fmt.Errorf("frame %d: %w", s.frame, err)
	}

	if f.Dispatched[core.StageSimulation] > 0 {
		s.requestResult(res.Particles)
	}

	report := Report{
		Frame:         s.frame,
		States:        s.Graph.States(),
		Dispatched:    f.Dispatched,
		Passes:        f.Passes,
		UploadedBytes: s.Buffers.UploadedBytes() - before,
		Images:        snap.Images,
		Duration:      time.Since(start),
	}
	s.mu.Lock()
	s.last = report
	s.resource = res
	s.mu.Unlock()

	s.observe(report)
	return report, nil
}

func (s *Scheduler) observe(r Report) {
	if s.metrics == nil {
		return
	}
	s.metrics.Frames.Inc()
	s.metrics.UploadedBytes.Add(float64(r.UploadedBytes))
	s.metrics.BindGroups.Add(float64(core.StageCount))
	for _, kind := range core.Stages {
		state := r.States[kind]
		s.metrics.StageState.WithLabelValues(kind.String()).Set(float64(state))
		if r.Dispatched[kind] > 0 {
			s.metrics.Dispatches.WithLabelValues(kind.String(), state.String()).Add(float64(r.Dispatched[kind]))
		}
	}
	s.metrics.TickSeconds.Observe(r.Duration.Seconds())
}

// requestResult starts a non-blocking copy of the particle buffer unless one
// is still in flight.
func (s *Scheduler) requestResult(buf gpu.BufferID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return
	}
	rb, err := s.Device.RequestReadback(buf)
	if err != nil {
		s.log.Warnf("frame %d: particle readback: %v", s.frame, err)
		return
	}
	s.pending = rb
	if s.metrics != nil {
		s.metrics.Readbacks.WithLabelValues("result").Inc()
	}
}

// Result returns the particles written by the most recent completed
// simulation dispatch, once. It returns false while nothing new is available.
func (s *Scheduler) Result() (*core.ParticleSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		data, done, err := s.pending.Poll()
		if done {
			s.pending = nil
			if err != nil {
				return nil, false, fmt.Errorf("particle readback: %w", err)
			}
			var ps core.ParticleSet
			if err := ps.Decode(data); err != nil {
				return nil, false, err
			}
			s.result = &ps
		}
	}
	if s.result == nil {
		return nil, false, nil
	}
	out := s.result
	s.result = nil
	return out, true, nil
}

// Inspect blocks until the particle buffer has been copied back and returns it.
// It is a diagnostic path and stalls the caller.
func (s *Scheduler) Inspect() (*core.ParticleSet, error) {
	data, err := s.Device.ReadBuffer(s.Buffers.ParticlesBuf)
	if err != nil {
		return nil, fmt.Errorf("inspect particles: %w", err)
	}
	var ps core.ParticleSet
	if err := ps.Decode(data); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Readbacks.WithLabelValues("inspect").Inc()
	}
	if s.log.DebugEnabled() {
		p := ps[0]
		s.log.Debugf("particle 0: pos=%v vel=%v acc=%v flavour=%v", p.Position, p.Velocity, p.Acceleration, p.Flavour)
	}
	return &ps, nil
}

// MustInspect is Inspect for callers that treat a failed readback as fatal.
func (s *Scheduler) MustInspect() *core.ParticleSet {
	ps, err := s.Inspect()
	if err != nil {
		panic(err)
	}
	return ps
}

// Last returns the report of the latest frame.
func (s *Scheduler) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Resources returns the handles bound in the latest frame.
func (s *Scheduler) Resources() gpu.Resources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource
}

func (s *Scheduler) Frame() uint64 { return s.frame }
