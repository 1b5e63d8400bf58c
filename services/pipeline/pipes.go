package pipeline

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"einkpipe-go/errcode"
	"einkpipe-go/services/pipeline/internal/pool"
	"einkpipe-go/types"
)

// Allocate takes the head of the free list. It never blocks.
func (m *Manager) Allocate() (PipeID, error) {
	m.mu.Lock()
	s, ok := m.pool.Allocate()
	if !ok {
		m.mu.Unlock()
		m.met.Allocations.WithLabelValues("exhausted").Inc()
		m.log.Warn("no free pipe")
		return -1, errcode.New(errcode.NoFreeResource, "allocate", "all pipes in use")
	}
	id := s.ID
	m.updatePoolLocked()
	m.logListsLocked("pipe lists after allocate")
	m.mu.Unlock()

	m.met.Allocations.WithLabelValues("ok").Inc()
	m.log.Debug("pipe allocated", zap.Int("pipe_id", id))
	return PipeID(id), nil
}

// Configure binds a job to an allocated pipe and programs it. Configuring a
// pipe that is not allocated is ignored.
func (m *Manager) Configure(id PipeID, p types.JobParams) error {
	if err := m.checkID("configure", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.pool.Used(int(id))
	if !ok {
		m.log.Debug("configure on unallocated pipe dropped", zap.Int("pipe_id", int(id)))
		return nil
	}
	if err := m.programPipe(s.ID, p); err != nil {
		// The hardware may hold part of the new job; leave nothing to activate.
		s.Params, s.JobID = types.JobParams{}, ""
		s.Decoded, s.Refreshed = 0, 0
		return hwFault("configure", err)
	}
	s.Params = p
	s.Decoded, s.Refreshed = 0, 0
	s.JobID = uuid.NewString()

	if m.dump != nil {
		if err := m.dump.Arm(m.panel.WaveBytes(p.TotalFrames)); err != nil {
			m.log.Warn("waveform capture not armed", zap.Int("pipe_id", s.ID), zap.Error(err))
		}
	}

	m.log.Info("pipe configured",
		zap.Int("pipe_id", s.ID),
		zap.String("job_id", s.JobID),
		zap.Uint32("left", p.Window.Left), zap.Uint32("top", p.Window.Top),
		zap.Uint32("right", p.Window.Right), zap.Uint32("bottom", p.Window.Bottom),
		zap.Uint64("wav_phys", p.Waveform.Phys),
		zap.Uint32("total", p.TotalFrames),
		zap.Stringer("mode", p.Mode),
		zap.Bool("update_all", p.Image.UpdateAll))
	return nil
}

func (m *Manager) programPipe(id int, p types.JobParams) error {
	if err := m.hw.SetUpdateAll(p.Image.UpdateAll); err != nil {
		return err
	}
	if err := m.hw.ConfigurePipe(id, p); err != nil {
		return err
	}
	return m.hw.BindWaveform(id, p.Waveform.Phys)
}

// Activate enables a configured pipe and adds its frames to the batch.
//
// Activating an active pipe is a no-op. If the batch is on its last frame the
// activation is rolled back and BatchBusy returned; the caller may retry once
// the batch completes.
func (m *Manager) Activate(id PipeID) error {
	if err := m.checkID("activate", id); err != nil {
		return err
	}

	m.mu.Lock()
	s, ok := m.pool.Used(int(id))
	switch {
	case !ok:
		m.mu.Unlock()
		m.met.Activations.WithLabelValues("not_ready").Inc()
		return errcode.New(errcode.NotReady, "activate", "pipe not allocated")
	case s.Active():
		m.mu.Unlock()
		m.log.Warn("pipe already active", zap.Int("pipe_id", int(id)))
		return nil
	case s.Params.TotalFrames == 0:
		m.mu.Unlock()
		m.met.Activations.WithLabelValues("not_ready").Inc()
		return errcode.New(errcode.NotReady, "activate", "pipe has no frames")
	}
	if err := m.hw.EnablePipe(s.ID); err != nil {
		m.mu.Unlock()
		m.met.Activations.WithLabelValues("hardware_fault").Inc()
		return hwFault("activate", err)
	}
	s.State = types.PipeUsedActive
	frames, job := s.Params.TotalFrames, s.JobID
	m.updatePoolLocked()
	m.mu.Unlock()

	if !m.cfg.Batching {
		m.met.Activations.WithLabelValues("unbatched").Inc()
		m.log.Debug("pipe enabled without batching", zap.Int("pipe_id", int(id)))
		return nil
	}

	out, err := m.seq.Admit(frames)
	if err != nil {
		m.rollback(id, job)
		m.met.Activations.WithLabelValues(string(errcode.Of(err))).Inc()
		c := m.seq.Snapshot()
		m.log.Info("activation deferred, batch finishing",
			zap.Int("pipe_id", int(id)),
			zap.Uint32("total", c.Total),
			zap.Uint32("decoded", c.Decoded),
			zap.Uint32("refreshed", c.Refreshed))
		return err
	}

	c := m.seq.Snapshot()
	m.met.Activations.WithLabelValues(out.String()).Inc()
	m.log.Info("pipe activated",
		zap.Int("pipe_id", int(id)),
		zap.String("job_id", job),
		zap.Stringer("batch", out),
		zap.Uint32("frames", frames),
		zap.Uint32("total", c.Total),
		zap.Uint32("decoded", c.Decoded),
		zap.Uint32("refreshed", c.Refreshed))
	m.publishBatch(types.BatchRunning, c)
	if out.KickDecode() {
		m.decodeW.Trigger()
	}
	return nil
}

// rollback undoes an activation the sequencer refused, unless the slot has
// since been released or reconfigured.
func (m *Manager) rollback(id PipeID, job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.pool.Used(int(id))
	if !ok || !s.Active() || s.JobID != job {
		return
	}
	s.State = types.PipeUsed
	if err := m.hw.DisablePipe(s.ID); err != nil {
		m.log.Error("disable on rollback failed", zap.Int("pipe_id", s.ID), zap.Error(err))
	}
	m.updatePoolLocked()
}

// Release zeroes a pipe and returns it to the free list. Releasing a free
// pipe is a no-op.
func (m *Manager) Release(id PipeID) error {
	if err := m.checkID("release", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logListsLocked("pipe lists before release")
	if !m.pool.Release(int(id)) {
		m.log.Debug("release of free pipe ignored", zap.Int("pipe_id", int(id)))
		return nil
	}
	m.updatePoolLocked()
	m.logListsLocked("pipe lists after release")
	m.log.Debug("pipe released", zap.Int("pipe_id", int(id)))
	return nil
}

// ResetAll disables and releases every allocated pipe.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.pool.UsedIDs()
	for _, id := range ids {
		if err := m.hw.DisablePipe(id); err != nil {
			m.log.Error("disable on reset failed", zap.Int("pipe_id", id), zap.Error(err))
		}
		m.pool.Release(id)
	}
	m.updatePoolLocked()
	m.log.Info("all pipes reset", zap.Int("released", len(ids)))
}

// QueryFreeMask has bit i set when pipe i is free.
func (m *Manager) QueryFreeMask() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.FreeMask()
}

// refreshDecoded copies the hardware decode counts into the used slots.
func (m *Manager) refreshDecoded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.EachUsed(func(s *pool.Slot) {
		n, err := m.hw.DecodedFrames(s.ID)
		if err != nil {
			m.log.Debug("decode count unavailable", zap.Int("pipe_id", s.ID), zap.Error(err))
			return
		}
		s.Decoded = min(n, s.Params.TotalFrames)
	})
}

// completeActive marks every active pipe fully shown and, with auto-release
// on, returns them to the free list.
func (m *Manager) completeActive() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var done []int
	m.pool.EachUsed(func(s *pool.Slot) {
		if !s.Active() {
			return
		}
		s.Decoded = s.Params.TotalFrames
		s.Refreshed = s.Params.TotalFrames
		done = append(done, s.ID)
	})
	if !m.cfg.AutoRelease {
		return done
	}
	for _, id := range done {
		m.pool.Release(id)
	}
	m.updatePoolLocked()
	return done
}
