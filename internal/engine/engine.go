// Package engine abstracts text generation backends: an in-process
// llama.cpp runtime for local GGUF models and remote chat-completion APIs.
package engine

import (
	"context"
	"runtime"
)

// AllLayers asks the backend to offload every layer it can to the device.
const AllLayers = 999

// Engine generates a completion for a prompt. Implementations are not
// required to be safe for concurrent use; callers serialize access.
type Engine interface {
	// Complete returns up to maxTokens tokens of continuation for prompt.
	// Implementations return when ctx is cancelled, at the latest after the
	// next generated token.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	// Close releases the engine's resources.
	Close() error
}

// Backend loads local model files into engines.
type Backend interface {
	// Init prepares the backend once per process. An error means local
	// inference is unavailable for the lifetime of the process.
	Init() error
	// Load reads the model at path. A failed load leaves no state behind.
	Load(path string, opts LoadOptions) (Engine, error)
}

// LoadOptions are backend parameters fixed at load time.
type LoadOptions struct {
	// GPULayers is the number of layers to offload; 0 keeps everything on the
	// CPU and AllLayers offloads as many as the device allows.
	GPULayers int
	// MainGPU is the device id hosting the model, empty for the default.
	MainGPU     string
	ContextSize int
	Threads     int
	Temperature float32
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.ContextSize <= 0 {
		o.ContextSize = 2048
	}
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	return o
}
