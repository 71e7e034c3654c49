package manager

import (
	"time"

	"ghostd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	s := m.Settings()
	resp := types.StatusResponse{
		Provider:       s.Provider,
		Generation:     m.Generation(),
		ManualInFlight: m.ManualInFlight(),
		AutoInFlight:   m.AutoInFlight(),
		LoadsTotal:     m.loadsTotal.Load(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	m.mu.RLock()
	resp.State = string(m.state)
	resp.LastError = m.lastErr
	m.mu.RUnlock()

	// TryLock keeps /status responsive while an inference holds the slot.
	if m.slotMu.TryLock() {
		if m.slot != nil {
			resp.ModelPath = m.slot.path
			resp.GPULayers = m.slot.layers
			if m.slot.device != nil {
				resp.Device = m.slot.device.Name
			}
		}
		m.slotMu.Unlock()
	}
	return resp
}
