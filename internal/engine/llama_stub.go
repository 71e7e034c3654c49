//go:build !llama

package engine

// LlamaBuilt reports whether this binary was compiled with in-process llama support.
const LlamaBuilt = false

// stubBackend refuses to run local inference in builds without the 'llama'
// tag, keeping default builds and CI cgo-free. Remote providers still work.
type stubBackend struct{}

// NewLlamaBackend returns a backend whose Init always fails.
func NewLlamaBackend() Backend { return stubBackend{} }

func (stubBackend) Init() error {
	return ErrUnavailable("llama support not built (missing 'llama' build tag)")
}

func (stubBackend) Load(string, LoadOptions) (Engine, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
