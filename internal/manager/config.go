package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ghostd/internal/artifact"
	"ghostd/internal/device"
	"ghostd/internal/engine"
)

// RemoteFactory builds the engine for a remote provider.
type RemoteFactory func(provider string, o engine.RemoteOptions) (engine.Engine, error)

// ManagerConfig encapsulates all collaborators and tunables for Manager construction.
type ManagerConfig struct {
	Settings Settings
	// Store caches model artifacts. Required for the local provider.
	Store *artifact.Store
	// Backend loads local models; defaults to engine.NewLlamaBackend().
	Backend engine.Backend
	// Devices enumerates GPUs; defaults to device.Default().
	Devices device.Enumerator
	// Remote builds remote engines; defaults to engine.NewRemote.
	Remote    RemoteFactory
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	backend := cfg.Backend
	if backend == nil {
		backend = engine.NewLlamaBackend()
	}
	m := &Manager{
		settings:  cfg.Settings.WithDefaults(),
		store:     cfg.Store,
		backend:   backend,
		backendOK: sync.OnceValue(backend.Init),
		devices:   cfg.Devices,
		remote:    cfg.Remote,
		publisher: cfg.Publisher,
		log:       zerolog.Nop(),
		state:     StateIdle,
		startTime: time.Now(),
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	if m.devices == nil {
		m.devices = device.Default()
	}
	if m.remote == nil {
		m.remote = engine.NewRemote
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	return m
}
