package manager

import (
	"context"
	"errors"
	"fmt"

	"ghostd/internal/common/fsutil"
	"ghostd/internal/device"
	"ghostd/internal/engine"
	"ghostd/internal/modelref"
	"ghostd/pkg/types"
)

// EnsureLoaded loads the engine for the current settings, downloading the
// default model when it is not cached yet. It blocks; hosts call it from a
// worker goroutine or use Preload.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	_, err := m.ensureLoadedLocked(ctx, m.Settings())
	return err
}

// Preload starts EnsureLoaded in the background. The returned handle carries
// an empty Result on success.
func (m *Manager) Preload() *Pending {
	p := newPending(m.Generation(), Manual)
	go func() {
		err := m.EnsureLoaded(m.baseCtx)
		if err != nil {
			m.log.Warn().Str("event", "preload_failed").Err(err).Send()
		}
		p.deliver(Result{Err: err})
	}()
	return p
}

// ensureLoadedLocked returns the slot for s, replacing an engine loaded under
// different settings. A failed load leaves the slot empty. slotMu must be held.
func (m *Manager) ensureLoadedLocked(ctx context.Context, s Settings) (*loadedEngine, error) {
	key := s.loadKey()
	if m.slot != nil && m.slot.key == key {
		return m.slot, nil
	}
	if m.slot != nil {
		m.log.Info().Str("event", "settings_changed").Str("path", m.slot.path).Msg("reloading engine")
		m.unloadLocked()
	}

	gen := m.Generation()
	m.setState(StateLoading, nil)
	m.publish("ensure_start", gen, map[string]any{"provider": s.Provider})
	m.loadsTotal.Add(1)

	slot, err := m.load(ctx, s)
	if err != nil {
		m.setState(StateError, err)
		metricLoads.WithLabelValues(s.Provider, "error").Inc()
		m.log.Error().Str("event", "ensure_error").Str("provider", s.Provider).Err(err).Send()
		m.publish("ensure_error", gen, map[string]any{"provider": s.Provider, "error": err.Error()})
		return nil, err
	}
	slot.key = key
	m.slot = slot
	m.setState(StateReady, nil)
	metricLoads.WithLabelValues(s.Provider, "ok").Inc()
	ev := m.log.Info().Str("event", "ensure_ready").Str("provider", s.Provider).Int("gpu_layers", slot.layers)
	if slot.path != "" {
		ev = ev.Str("path", slot.path)
	}
	if slot.device != nil {
		ev = ev.Str("device", slot.device.ID)
	}
	ev.Send()
	m.publish("ensure_ready", gen, map[string]any{"provider": s.Provider, "path": slot.path, "gpu_layers": slot.layers})
	return slot, nil
}

func (m *Manager) load(ctx context.Context, s Settings) (*loadedEngine, error) {
	if s.IsRemote() {
		eng, err := m.remote(s.Provider, engine.RemoteOptions{
			Endpoint:    s.Endpoint,
			APIKey:      s.APIKey,
			Model:       s.RemoteModel,
			Temperature: s.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return &loadedEngine{engine: eng}, nil
	}

	if err := m.backendOK(); err != nil {
		return nil, err
	}
	dev, hasDev := m.selectDevice(ctx, s)
	path, err := m.modelPath(ctx, s, hasDev)
	if err != nil {
		return nil, err
	}

	opts := engine.LoadOptions{
		ContextSize: s.ContextSize,
		Threads:     s.Threads,
		Temperature: float32(s.Temperature),
	}
	slot := &loadedEngine{path: path}
	if hasDev {
		opts.GPULayers = engine.AllLayers
		opts.MainGPU = dev.ID
		slot.device = &dev
		slot.layers = engine.AllLayers
	}
	eng, err := m.backend.Load(path, opts)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	slot.engine = eng
	return slot, nil
}

// selectDevice picks the device to offload to. ok is false when CPU only is
// forced or no device is present.
func (m *Manager) selectDevice(ctx context.Context, s Settings) (types.Device, bool) {
	if s.ForceCPUOnly {
		return types.Device{}, false
	}
	devs, err := m.devices.Devices(ctx)
	if err != nil {
		m.log.Debug().Str("event", "device_enum_failed").Err(err).Msg("assuming CPU only")
		return types.Device{}, false
	}
	return device.Select(devs, s.PreferredDevice)
}

// overridePath returns the configured local model path when the override is
// enabled and the file exists.
func overridePath(s Settings) (string, bool) {
	if !s.OverrideModelPath || isBlank(s.LocalModelPath) {
		return "", false
	}
	p, err := fsutil.ExpandHome(s.LocalModelPath)
	if err != nil || !fsutil.FileExists(p) {
		return "", false
	}
	return p, true
}

// defaultReference is the configured default model for the device class.
func defaultReference(s Settings, gpu bool) (modelref.Reference, error) {
	text := s.DefaultCPUModel
	if gpu {
		text = s.DefaultGPUModel
	}
	return modelref.Parse(text)
}

func (m *Manager) modelPath(ctx context.Context, s Settings, gpu bool) (string, error) {
	if p, ok := overridePath(s); ok {
		return p, nil
	}
	if s.OverrideModelPath {
		m.log.Warn().Str("event", "override_missing").Str("path", s.LocalModelPath).Msg("using default model")
	}
	ref, err := defaultReference(s, gpu)
	if err != nil {
		return "", err
	}
	if m.store == nil {
		return "", errors.New("no model store configured")
	}
	return m.store.Resolve(ctx, ref)
}
