// Package pipeline manages the pool of hardware pipe slots and the
// decode/transfer pipeline that shows their frames on an e-ink panel.
//
// Two locks guard the manager: the pool lock (slots, set membership and the
// enabled flag) and the frame lock inside the sequencer. They are never held
// together. Hardware calls may run under the pool lock, never under the
// frame lock.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"einkpipe-go/bus"
	"einkpipe-go/errcode"
	"einkpipe-go/services/pipeline/config"
	"einkpipe-go/services/pipeline/internal/metrics"
	"einkpipe-go/services/pipeline/internal/pool"
	"einkpipe-go/services/pipeline/internal/retry"
	"einkpipe-go/services/pipeline/internal/ringbuf"
	"einkpipe-go/services/pipeline/internal/sequencer"
	"einkpipe-go/services/pipeline/internal/stage"
	"einkpipe-go/services/pipeline/internal/wavedump"
	"einkpipe-go/types"
)

// PipeID names a pipe slot, 0..MaxPipes()-1.
type PipeID int

// Stage names used in logs, metrics and events.
const (
	StageDecode   = "decode"
	StageTransfer = "transfer"
	StageDump     = "wavedump"
)

// Option customises a Manager.
type Option func(*options)

type options struct {
	log   *zap.Logger
	conn  *bus.Connection
	reg   prometheus.Registerer
	sleep retry.SleepFunc
	sink  wavedump.Sink
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithBus publishes state, batch progress and stage events on conn.
func WithBus(conn *bus.Connection) Option { return func(o *options) { o.conn = conn } }

// WithRegistry registers the manager's metrics with reg.
func WithRegistry(reg prometheus.Registerer) Option { return func(o *options) { o.reg = reg } }

// WithSleep replaces the pause used between ring retries.
func WithSleep(fn retry.SleepFunc) Option { return func(o *options) { o.sleep = fn } }

// WithDumpSink stores waveform captures somewhere other than WaveDumpDir.
func WithDumpSink(s wavedump.Sink) Option { return func(o *options) { o.sink = s } }

type Manager struct {
	cfg   config.PipelineConfig
	panel types.Panel
	hw    Hardware
	log   *zap.Logger
	conn  *bus.Connection
	met   *metrics.Metrics

	mu      sync.Mutex // pool lock
	pool    *pool.Pool
	enabled atomic.Bool

	seq    *sequencer.Sequencer
	ring   *ringbuf.Ring
	policy retry.Policy
	dump   *wavedump.Dumper

	runMu     sync.Mutex
	stop      context.CancelFunc
	decodeW   *stage.Worker
	transferW *stage.Worker
	dumpW     *stage.Worker // nil unless WaveDump

	warnDecode   rate.Sometimes
	warnTransfer rate.Sometimes
}

// New builds a manager for cfg.Panel, allocating the waveform ring from mem.
// The manager starts disabled with every pipe free.
func New(cfg *config.Config, hw Hardware, mem Memory, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	maxPipes, err := cfg.Panel.MaxPipes()
	if err != nil {
		return nil, err
	}
	p, err := pool.New(maxPipes)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:   cfg.Pipeline,
		panel: cfg.Panel,
		hw:    hw,
		log:   o.log.Named("pipeline"),
		conn:  o.conn,
		met:   metrics.New(o.reg),
		pool:  p,
		seq:   sequencer.New(cfg.Pipeline.PreDecodeFrames),
		policy: retry.Policy{
			MaxAttempts: cfg.Pipeline.RetryAttempts,
			Backoff:     cfg.Pipeline.RetryBackoff,
			Sleep:       o.sleep,
		},
		warnDecode:   rate.Sometimes{First: 3, Interval: time.Second},
		warnTransfer: rate.Sometimes{First: 3, Interval: time.Second},
	}

	if cfg.Pipeline.WaveDump {
		wb, ok := hw.(wavedump.Writeback)
		if !ok {
			return nil, errcode.New(errcode.InvalidParams, "new", "wave dump needs a write-back capable controller")
		}
		sink := o.sink
		if sink == nil {
			sink = wavedump.DirSink(cfg.Pipeline.WaveDumpDir)
		}
		m.dump = wavedump.New(mem, wb, sink, m.log)
	}

	m.ring, err = ringbuf.New(mem, cfg.Pipeline.RingRegions, cfg.Panel.FrameBytes())
	if err != nil {
		return nil, err
	}

	m.decodeW = stage.New(StageDecode, cfg.Pipeline.TriggerQueue, m.DecodeTick,
		stage.WithDropHook(func() { m.met.TriggerDrops.WithLabelValues(StageDecode).Inc() }))
	m.transferW = stage.New(StageTransfer, cfg.Pipeline.TriggerQueue, m.TransferTick,
		stage.WithDropHook(func() { m.met.TriggerDrops.WithLabelValues(StageTransfer).Inc() }))
	if m.dump != nil {
		m.dumpW = stage.New(StageDump, 4, m.saveCapture,
			stage.WithDropHook(func() { m.met.TriggerDrops.WithLabelValues(StageDump).Inc() }))
	}

	m.log.Info("pipeline manager ready",
		zap.String("panel", cfg.Panel.Name),
		zap.Int("max_pipes", maxPipes),
		zap.Int("ring_regions", cfg.Pipeline.RingRegions),
		zap.Int("region_bytes", cfg.Panel.FrameBytes()),
		zap.Bool("batching", cfg.Pipeline.Batching))
	m.publishState("ready")
	m.publishBatch(types.BatchIdle, sequencer.Counters{})
	m.updateRing()
	return m, nil
}

// Close stops the stage workers, then releases the ring and any pending
// waveform capture.
func (m *Manager) Close() {
	m.stopWorkers()
	if m.dump != nil {
		m.dump.Close()
	}
	m.ring.Close()
}

// MaxPipes is the number of pipe slots.
func (m *Manager) MaxPipes() int { return m.pool.Len() }

// Panel returns the panel snapshot the manager was built with.
func (m *Manager) Panel() types.Panel { return m.panel }

// Enabled reports whether the pipeline is enabled.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// Frames is a snapshot of the batch counters.
func (m *Manager) Frames() sequencer.Counters { return m.seq.Snapshot() }

// RingStats counts ring regions per state.
func (m *Manager) RingStats() ringbuf.Stats { return m.ring.Snapshot() }

// Pipe reports one slot.
func (m *Manager) Pipe(id PipeID) (types.PipeStatus, error) {
	if err := m.checkID("pipe", id); err != nil {
		return types.PipeStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Get(int(id)).Status(), nil
}

// PipeLists is the free and used list order, for diagnostics.
type PipeLists struct {
	Free []int `json:"free"`
	Used []int `json:"used"`
}

// DebugPipes snapshots both lists.
func (m *Manager) DebugPipes() PipeLists {
	m.mu.Lock()
	defer m.mu.Unlock()
	return PipeLists{Free: m.pool.FreeIDs(), Used: m.pool.UsedIDs()}
}

func (m *Manager) checkID(op string, id PipeID) error {
	if id < 0 || int(id) >= m.pool.Len() {
		return errcode.New(errcode.InvalidID, op, fmt.Sprintf("pipe %d out of range [0,%d)", id, m.pool.Len()))
	}
	return nil
}

// logListsLocked dumps the pool lists at debug level.
func (m *Manager) logListsLocked(msg string) {
	if ce := m.log.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(zap.Ints("free", m.pool.FreeIDs()), zap.Ints("used", m.pool.UsedIDs()))
	}
}

// updatePoolLocked refreshes the pool gauges.
func (m *Manager) updatePoolLocked() {
	active := 0
	m.pool.EachUsed(func(s *pool.Slot) {
		if s.Active() {
			active++
		}
	})
	m.met.PipesUsed.Set(float64(m.pool.UsedCount()))
	m.met.PipesActive.Set(float64(active))
}

func (m *Manager) updateRing() {
	s := m.ring.Snapshot()
	m.met.Ring(s.Free, s.Decoding, s.Ready, s.Transferring)
}

func hwFault(op string, err error) error { return errcode.Wrap(errcode.HardwareFault, op, err) }
