package manager

// Unload releases the loaded engine, if any. It waits for a running
// inference to finish.
func (m *Manager) Unload() error {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.unloadLocked()
}

func (m *Manager) unloadLocked() error {
	if m.slot == nil {
		return nil
	}
	slot := m.slot
	m.slot = nil
	err := slot.engine.Close()
	m.setState(StateIdle, nil)
	m.log.Info().Str("event", "unload_done").Str("path", slot.path).Send()
	m.publish("unload_done", m.Generation(), map[string]any{"path": slot.path})
	return err
}

// Close cancels background work and releases the engine. Pending requests
// still deliver a result.
func (m *Manager) Close() error {
	m.cancel()
	return m.Unload()
}
