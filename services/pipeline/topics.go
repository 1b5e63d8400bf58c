package pipeline

import (
	"time"

	"einkpipe-go/bus"
	"einkpipe-go/services/pipeline/internal/sequencer"
	"einkpipe-go/types"
)

// Bus topics. State and batch are retained.
var (
	TopicState     = bus.T("pipeline", "state")
	TopicBatch     = bus.T("pipeline", "batch")
	TopicAbandoned = bus.T("pipeline", "event", "abandoned")
)

func (m *Manager) publish(t bus.Topic, payload any, retained bool) {
	if m.conn == nil {
		return
	}
	m.conn.Publish(m.conn.NewMessage(t, payload, retained))
}

func (m *Manager) publishState(status string) {
	level := "disabled"
	if m.enabled.Load() {
		level = "enabled"
	}
	m.publish(TopicState, types.PipelineState{Level: level, Status: status, TS: time.Now().UnixNano()}, true)
}

func (m *Manager) publishBatch(phase types.BatchPhase, c sequencer.Counters) {
	m.met.Frames(c.Total, c.Decoded, c.Refreshed)
	m.publish(TopicBatch, types.BatchStatus{
		Phase:     phase,
		Total:     c.Total,
		Decoded:   c.Decoded,
		Refreshed: c.Refreshed,
		TS:        time.Now().UnixNano(),
	}, true)
}
