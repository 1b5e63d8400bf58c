package pipeline

import "go.uber.org/zap"

// Enable prepares the panel output and interrupts. Enabling twice is a
// no-op.
func (m *Manager) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled.Load() {
		return nil
	}
	if err := m.hw.SetOutputMode(m.panel); err != nil {
		return hwFault("enable", err)
	}
	if err := m.hw.SetDataReverse(); err != nil {
		return hwFault("enable", err)
	}
	if err := m.hw.EnableIRQ(); err != nil {
		return hwFault("enable", err)
	}
	m.enabled.Store(true)
	m.met.Enabled.Set(1)
	m.log.Info("pipeline enabled")
	m.publishState("enabled")
	return nil
}

// Disable stops the stages from doing work. Disabling twice is a no-op.
func (m *Manager) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled.Load() {
		return nil
	}
	m.enabled.Store(false)
	m.met.Enabled.Set(0)
	m.log.Info("pipeline disabled", zap.Int("pipes_used", m.pool.UsedCount()))
	m.publishState("disabled")
	return nil
}
