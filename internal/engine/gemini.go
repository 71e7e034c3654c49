package engine

import (
	"context"
	"fmt"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
)

// geminiEngine uses the any-llm-go Gemini provider.
type geminiEngine struct {
	backend     anyllm.Provider
	model       string
	temperature float64
}

// NewGemini returns an engine for the Gemini API at o.Endpoint.
func NewGemini(o RemoteOptions) (Engine, error) {
	opts := []anyllm.Option{anyllm.WithBaseURL(o.Endpoint)}
	if o.APIKey != "" {
		opts = append(opts, anyllm.WithAPIKey(o.APIKey))
	}
	backend, err := gemini.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create backend: %w", err)
	}
	return &geminiEngine{backend: backend, model: o.Model, temperature: o.Temperature}, nil
}

func (e *geminiEngine) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	temp := e.temperature
	params := anyllm.CompletionParams{
		Model:       e.model,
		Messages:    []anyllm.Message{{Role: anyllm.RoleUser, Content: prompt}},
		Temperature: &temp,
	}
	if maxTokens > 0 {
		mt := maxTokens
		params.MaxTokens = &mt
	}
	resp, err := e.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("gemini: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("gemini: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

func (e *geminiEngine) Close() error { return nil }
