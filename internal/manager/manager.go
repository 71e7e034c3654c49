package manager

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"ghostd/internal/artifact"
	"ghostd/internal/device"
	"ghostd/internal/engine"
	"ghostd/internal/registry"
	"ghostd/pkg/types"
)

// Manager is the completion coordinator. All methods are safe for concurrent
// use; none of the non-blocking ones (RequestCompletion, Poll, Readiness,
// UpdateSettings, generation accessors) wait on inference or I/O.
type Manager struct {
	generation     atomic.Uint64
	manualInFlight atomic.Int32
	autoInFlight   atomic.Int32
	loadsTotal     atomic.Uint64

	// slotMu guards slot and serializes load, inference and unload.
	slotMu sync.Mutex
	slot   *loadedEngine

	cfgMu    sync.RWMutex
	settings Settings

	mu      sync.RWMutex
	state   State
	lastErr string

	pubMu     sync.RWMutex
	publisher EventPublisher

	store     *artifact.Store
	backend   engine.Backend
	backendOK func() error
	devices   device.Enumerator
	remote    RemoteFactory
	log       zerolog.Logger

	baseCtx   context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// New constructs a Manager with default collaborators for the given store.
func New(store *artifact.Store, s Settings) *Manager {
	return NewWithConfig(ManagerConfig{Store: store, Settings: s})
}

// Generation returns the current generation.
func (m *Manager) Generation() uint64 { return m.generation.Load() }

// NextGeneration increments the generation and returns the new value. Every
// request stamped with an older value becomes stale.
func (m *Manager) NextGeneration() uint64 { return m.generation.Add(1) }

// IsCurrent reports whether gen is still the latest generation.
func (m *Manager) IsCurrent(gen uint64) bool { return m.generation.Load() == gen }

// ManualInFlight reports whether a manual request is running. While it is,
// hosts must not schedule automatic requests.
func (m *Manager) ManualInFlight() bool { return m.manualInFlight.Load() > 0 }

// AutoInFlight reports whether an automatic request is running.
func (m *Manager) AutoInFlight() bool { return m.autoInFlight.Load() > 0 }

func (m *Manager) flight(t Trigger) *atomic.Int32 {
	if t == Manual {
		return &m.manualInFlight
	}
	return &m.autoInFlight
}

// Settings returns the current settings snapshot.
func (m *Manager) Settings() Settings {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.settings
}

// UpdateSettings swaps the settings snapshot. It takes effect on the next
// ensure or completion and never interrupts in-flight work.
func (m *Manager) UpdateSettings(s Settings) {
	s = s.WithDefaults()
	m.cfgMu.Lock()
	m.settings = s
	m.cfgMu.Unlock()
	m.publish("settings_updated", m.Generation(), map[string]any{"provider": s.Provider})
}

// ListModels returns the artifacts in the models directory.
func (m *Manager) ListModels() ([]types.Model, error) {
	if m.store == nil {
		return nil, nil
	}
	return registry.LoadDir(m.store.Dir())
}

// Devices enumerates compute devices. An empty list means CPU only.
func (m *Manager) Devices(ctx context.Context) ([]types.Device, error) {
	return m.devices.Devices(ctx)
}

// Ready reports whether an engine is loaded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	m.state = s
	if err != nil {
		m.lastErr = err.Error()
	} else if s == StateReady {
		m.lastErr = ""
	}
	m.mu.Unlock()
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func isBlank(s string) bool { return strings.TrimFunc(s, unicode.IsSpace) == "" }
