//go:build llama

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt reports whether this binary was compiled with in-process llama support.
const LlamaBuilt = true

type llamaBackend struct{}

// NewLlamaBackend returns the in-process go-llama.cpp backend.
func NewLlamaBackend() Backend { return llamaBackend{} }

func (llamaBackend) Init() error { return nil }

func (llamaBackend) Load(path string, opts LoadOptions) (Engine, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	opts = opts.withDefaults()
	mo := []llama.ModelOption{
		llama.SetContext(opts.ContextSize),
		llama.SetGPULayers(opts.GPULayers),
	}
	if opts.MainGPU != "" {
		mo = append(mo, llama.SetMainGPU(opts.MainGPU))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &llamaEngine{model: m, opts: opts}, nil
}

// llamaEngine owns the loaded model.
type llamaEngine struct {
	model *llama.LLama
	opts  LoadOptions
}

func (e *llamaEngine) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if e.model == nil {
		return "", errors.New("llama model not initialized")
	}
	var out strings.Builder
	// Stop at the next token once ctx is done; drop leaked sentinels.
	e.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if !ContainsSentinel(tok) {
			out.WriteString(tok)
		}
		return true
	})
	po := []llama.PredictOption{
		llama.SetTokens(max(1, maxTokens)),
		llama.SetThreads(max(1, e.opts.Threads)),
		llama.SetTemperature(e.opts.Temperature),
		llama.SetTopK(1),
	}
	if IsFIMPrompt(prompt) {
		po = append(po, llama.SetStopWords(FileSep, FIMPrefix, FIMSuffix, "<|endoftext|>"))
	}
	if _, err := e.model.Predict(prompt, po...); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (e *llamaEngine) Close() error {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}
