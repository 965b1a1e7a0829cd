package frame

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scheduler's prometheus collectors.
type Metrics struct {
	Frames        prometheus.Counter
	Dispatches    *prometheus.CounterVec
	UploadedBytes prometheus.Counter
	BindGroups    prometheus.Counter
	Readbacks     *prometheus.CounterVec
	StageState    *prometheus.GaugeVec
	TickSeconds   prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "particlelife_frames_total",
			Help: "Frames scheduled",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "particlelife_dispatches_total",
			Help: "Compute passes recorded by stage and pipeline state",
		}, []string{"stage", "state"}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "particlelife_uploaded_bytes_total",
			Help: "Bytes written to GPU buffers and textures",
		}),
		BindGroups: f.NewCounter(prometheus.CounterOpts{
			Name: "particlelife_bind_groups_total",
			Help: "Bind groups created",
		}),
		Readbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "particlelife_readbacks_total",
			Help: "Particle buffer readbacks by kind",
		}, []string{"kind"}),
		StageState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "particlelife_stage_state",
			Help: "Pipeline state per stage (0 loading, 1 init, 2 update)",
		}, []string{"stage"}),
		TickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "particlelife_tick_seconds",
			Help:    "Time spent scheduling one frame",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
