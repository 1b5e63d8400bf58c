package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"einkpipe-go/services/pipeline/internal/ringbuf"
	"einkpipe-go/services/pipeline/internal/sequencer"
	"einkpipe-go/services/pipeline/internal/stage"
	"einkpipe-go/types"
)

// Start runs the stage workers until ctx is done or Close is called. Later
// calls are ignored.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop != nil {
		return
	}
	ctx, m.stop = context.WithCancel(ctx)
	for _, w := range m.workers() {
		w.Start(ctx)
	}
}

func (m *Manager) workers() []*stage.Worker {
	ws := []*stage.Worker{m.decodeW, m.transferW}
	if m.dumpW != nil {
		ws = append(ws, m.dumpW)
	}
	return ws
}

// stopWorkers cancels the workers and waits for their goroutines.
func (m *Manager) stopWorkers() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop == nil {
		return
	}
	m.stop()
	for _, w := range m.workers() {
		<-w.Stopped()
		m.log.Debug("stage worker stopped",
			zap.String("stage", w.Name()),
			zap.Uint64("ticks", w.Ticks()),
			zap.Uint32("drops", w.Drops()))
	}
}

// NotifyDecodeDone is the decode-complete interrupt entry. It never blocks.
func (m *Manager) NotifyDecodeDone() { m.decodeW.Trigger() }

// NotifyTransferDone is the transfer-complete interrupt entry. It never blocks.
func (m *Manager) NotifyTransferDone() { m.transferW.Trigger() }

// TriggerDrops reports interrupts lost to full stage queues.
func (m *Manager) TriggerDrops() (decode, transfer uint32) {
	return m.decodeW.Drops(), m.transferW.Drops()
}

// DecodeTick runs after each decode completes: it hands the finished region
// to the transfer side and starts decoding the next frame.
func (m *Manager) DecodeTick(ctx context.Context) {
	if !m.enabled.Load() {
		m.met.Ticks.WithLabelValues(StageDecode, "disabled").Inc()
		return
	}
	if m.seq.Snapshot().Total == 0 {
		m.met.Ticks.WithLabelValues(StageDecode, "idle").Inc()
		return
	}
	defer m.updateRing()

	m.refreshDecoded()
	m.ring.CommitDecoded()

	st := m.seq.BeginDecode()
	if st.Idle {
		m.met.Ticks.WithLabelValues(StageDecode, "idle").Inc()
		return
	}
	if st.Prime {
		// Look-ahead: the transfer chain starts once enough frames are ready.
		if reg, err := m.ring.AcquireTransfer(); err != nil {
			m.log.Warn("look-ahead transfer found no ready frame", zap.Error(err))
		} else {
			m.startTransfer(reg)
		}
	}
	if st.Done {
		m.met.Ticks.WithLabelValues(StageDecode, "done").Inc()
		m.log.Debug("batch decoded",
			zap.Uint32("total", st.Total),
			zap.Uint32("decoded", st.Decoded))
		m.publishBatch(types.BatchRunning, st.Counters)
		return
	}

	var reg ringbuf.Region
	n, err := m.policy.Do(ctx, func() (err error) {
		reg, err = m.ring.ReserveDecode()
		return err
	})
	if n > 1 {
		m.met.RingRetries.WithLabelValues(StageDecode).Add(float64(n - 1))
	}
	if err != nil {
		m.abandon(StageDecode, n, err, st.Counters, &m.warnDecode)
		return
	}

	c := m.seq.Decoded()
	m.met.Frames(c.Total, c.Decoded, c.Refreshed)
	if err := m.hw.PrepareDecode(reg.Addr.Phys, m.panel); err != nil {
		m.stageFault(StageDecode, "prepare decode", err)
		return
	}
	if err := m.hw.StartDecode(); err != nil {
		m.stageFault(StageDecode, "start decode", err)
		return
	}
	m.met.Ticks.WithLabelValues(StageDecode, "ok").Inc()
	m.log.Debug("decode started",
		zap.Uint32("frame", st.Frame),
		zap.Int("region", reg.Index),
		zap.Uint64("phys", reg.Addr.Phys),
		zap.Uint32("total", c.Total))
}

// TransferTick runs after each transfer completes: it frees the region just
// shown, then starts the next frame or finishes the batch.
func (m *Manager) TransferTick(ctx context.Context) {
	if !m.enabled.Load() {
		m.met.Ticks.WithLabelValues(StageTransfer, "disabled").Inc()
		return
	}
	st := m.seq.BeginTransfer()
	if st.Idle {
		m.met.Ticks.WithLabelValues(StageTransfer, "idle").Inc()
		return
	}
	defer m.updateRing()

	// Only a completed transfer gives its region back. After an abandoned
	// tick nothing is in flight and this is a no-op.
	m.ring.ReleaseTransferred()

	switch {
	case st.Final:
		m.met.Ticks.WithLabelValues(StageTransfer, "finished").Inc()
		m.finishBatch(st.Counters)
	case st.Next < st.Total:
		var reg ringbuf.Region
		n, err := m.policy.Do(ctx, func() (err error) {
			reg, err = m.ring.AcquireTransfer()
			return err
		})
		if n > 1 {
			m.met.RingRetries.WithLabelValues(StageTransfer).Add(float64(n - 1))
		}
		if err != nil {
			m.abandon(StageTransfer, n, err, st.Counters, &m.warnTransfer)
			return
		}
		c := m.seq.Refreshed(st.Next)
		m.met.Frames(c.Total, c.Decoded, c.Refreshed)
		if m.startTransfer(reg) {
			m.met.Ticks.WithLabelValues(StageTransfer, "ok").Inc()
		}
	default:
		m.met.Ticks.WithLabelValues(StageTransfer, "stray").Inc()
	}
}

func (m *Manager) startTransfer(reg ringbuf.Region) bool {
	if err := m.hw.ConfigureTransfer(m.panel); err != nil {
		m.stageFault(StageTransfer, "configure transfer", err)
		return false
	}
	if err := m.hw.SetTransferAddr(reg.Addr.Phys); err != nil {
		m.stageFault(StageTransfer, "set transfer address", err)
		return false
	}
	if err := m.hw.StartTransfer(); err != nil {
		m.stageFault(StageTransfer, "start transfer", err)
		return false
	}
	m.log.Debug("transfer started", zap.Int("region", reg.Index), zap.Uint64("phys", reg.Addr.Phys))
	return true
}

func (m *Manager) finishBatch(c sequencer.Counters) {
	m.met.Batches.Inc()
	pipes := m.completeActive()
	m.log.Info("batch finished",
		zap.Uint32("total", c.Total),
		zap.Ints("pipes", pipes),
		zap.Bool("auto_release", m.cfg.AutoRelease))
	m.publishBatch(types.BatchFinished, c)

	if m.dumpW != nil {
		m.dumpW.Trigger()
	}
}

// saveCapture runs on the dump worker so file I/O stays off the transfer path.
func (m *Manager) saveCapture(context.Context) {
	name, err := m.dump.Dump()
	if err != nil {
		m.log.Error("waveform capture not saved", zap.Error(err))
		return
	}
	if name != "" {
		m.log.Info("waveform capture saved", zap.String("file", name))
	}
}

// abandon gives up on a tick whose ring wait ran out. Counters are left as
// they were.
func (m *Manager) abandon(stage string, attempts int, err error, c sequencer.Counters, warn *rate.Sometimes) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.met.Ticks.WithLabelValues(stage, "cancelled").Inc()
		return
	}
	m.met.Ticks.WithLabelValues(stage, "abandoned").Inc()
	m.met.Abandoned.WithLabelValues(stage).Inc()
	warn.Do(func() {
		m.log.Warn("no ring region, tick abandoned",
			zap.String("stage", stage),
			zap.Int("attempts", attempts),
			zap.Uint32("total", c.Total),
			zap.Uint32("decoded", c.Decoded),
			zap.Uint32("refreshed", c.Refreshed),
			zap.Error(err))
	})
	m.publish(TopicAbandoned, types.StageAbandoned{
		Stage:    stage,
		Attempts: attempts,
		Reason:   err.Error(),
		TS:       time.Now().UnixNano(),
	}, false)
}

func (m *Manager) stageFault(stage, what string, err error) {
	m.met.Ticks.WithLabelValues(stage, "hardware_fault").Inc()
	m.log.Error(what+" failed", zap.String("stage", stage), zap.Error(err))
}
