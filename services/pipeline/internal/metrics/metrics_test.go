package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	switch {
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Allocations.WithLabelValues("ok").Inc()
	m.Frames(8, 3, 1)
	m.Ring(1, 1, 1, 1)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["eink_pipeline_allocations_total"])
	assert.True(t, names["eink_pipeline_batch_frames_total"])
	assert.True(t, names["eink_pipeline_ring_regions"])

	assert.Equal(t, 8.0, value(t, m.FramesTotal))
	assert.Equal(t, 3.0, value(t, m.FramesDecoded))
	assert.Equal(t, 1.0, value(t, m.RingRegions.WithLabelValues("ready")))
}

func TestNilRegistryIsIsolated(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Batches.Inc()
	assert.Equal(t, 1.0, value(t, a.Batches))
	assert.Equal(t, 0.0, value(t, b.Batches))
}
