// Package metrics holds the Prometheus collectors of the pipeline manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eink_pipeline"

// Metrics holds all pipeline collectors.
type Metrics struct {
	// Pool
	PipesUsed   prometheus.Gauge
	PipesActive prometheus.Gauge
	Allocations *prometheus.CounterVec // result
	Activations *prometheus.CounterVec // outcome

	// Stages
	Ticks        *prometheus.CounterVec // stage, result
	RingRetries  *prometheus.CounterVec // stage
	TriggerDrops *prometheus.CounterVec // stage
	Abandoned    *prometheus.CounterVec // stage

	// Frames
	FramesTotal     prometheus.Gauge
	FramesDecoded   prometheus.Gauge
	FramesRefreshed prometheus.Gauge
	Batches         prometheus.Counter

	// Ring
	RingRegions *prometheus.GaugeVec // state

	Enabled prometheus.Gauge
}

// New registers the collectors with reg. A nil reg builds unregistered
// collectors, which keeps tests independent of each other.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PipesUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipes_used",
			Help:      "Pipe slots currently allocated",
		}),
		PipesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipes_active",
			Help:      "Pipe slots currently activated",
		}),
		Allocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Pipe allocation attempts by result",
		}, []string{"result"}),
		Activations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Pipe activations by outcome",
		}, []string{"outcome"}),
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_ticks_total",
			Help:      "Stage ticks by stage and result",
		}, []string{"stage", "result"}),
		RingRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_retries_total",
			Help:      "Extra ring attempts made while waiting for a region",
		}, []string{"stage"}),
		TriggerDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_drops_total",
			Help:      "Completion interrupts dropped because the stage queue was full",
		}, []string{"stage"}),
		Abandoned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_abandoned_total",
			Help:      "Ticks abandoned after the retry budget ran out",
		}, []string{"stage"}),
		FramesTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_frames_total",
			Help:      "Frames in the current batch",
		}),
		FramesDecoded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_frames_decoded",
			Help:      "Frames decoded in the current batch",
		}),
		FramesRefreshed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_frames_refreshed",
			Help:      "Frames shown in the current batch",
		}),
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_finished_total",
			Help:      "Batches whose last frame was shown",
		}),
		RingRegions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_regions",
			Help:      "Ring regions by state",
		}, []string{"state"}),
		Enabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled",
			Help:      "1 while the pipeline is enabled",
		}),
	}
}

// Frames records the batch counters.
func (m *Metrics) Frames(total, decoded, refreshed uint32) {
	m.FramesTotal.Set(float64(total))
	m.FramesDecoded.Set(float64(decoded))
	m.FramesRefreshed.Set(float64(refreshed))
}

// Ring records region counts per state.
func (m *Metrics) Ring(free, decoding, ready, transferring int) {
	m.RingRegions.WithLabelValues("free").Set(float64(free))
	m.RingRegions.WithLabelValues("decoding").Set(float64(decoding))
	m.RingRegions.WithLabelValues("ready").Set(float64(ready))
	m.RingRegions.WithLabelValues("transferring").Set(float64(transferring))
}
