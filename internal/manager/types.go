package manager

import (
	"ghostd/internal/engine"
	"ghostd/pkg/types"
)

// Trigger distinguishes user-invoked requests from debounced ones.
type Trigger int

const (
	// Automatic requests are debounced and may be superseded by typing.
	Automatic Trigger = iota
	// Manual requests are user-invoked and always run.
	Manual
)

func (t Trigger) String() string {
	if t == Manual {
		return "manual"
	}
	return "automatic"
}

// State represents the lifecycle state of the engine slot.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// CompletionContext is the text around the cursor and the prompt built from it.
type CompletionContext struct {
	Prefix string
	Suffix string
	Prompt string
	// FIM is set when Prompt uses fill-in-the-middle sentinels.
	FIM bool
}

// Empty reports whether there is nothing to complete from.
func (c CompletionContext) Empty() bool { return isBlank(c.Prefix) && isBlank(c.Suffix) }

// Result is delivered once per request.
type Result struct {
	Generation uint64
	Trigger    Trigger
	Text       string
	// Err is ErrCancelled when the request went stale.
	Err error
}

// loadedEngine is the content of the engine slot.
type loadedEngine struct {
	engine engine.Engine
	key    loadKey
	path   string
	device *types.Device
	layers int
}
