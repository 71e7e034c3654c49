package engine

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// openAIEngine sends the prompt as a single user message to an
// OpenAI-compatible chat-completions endpoint.
type openAIEngine struct {
	client      oai.Client
	model       string
	temperature float64
}

// NewOpenAI returns an engine for an OpenAI-compatible endpoint.
func NewOpenAI(o RemoteOptions) Engine {
	opts := []option.RequestOption{
		option.WithBaseURL(o.Endpoint),
		option.WithMaxRetries(0),
	}
	if o.APIKey != "" {
		opts = append(opts, option.WithAPIKey(o.APIKey))
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	return &openAIEngine{client: oai.NewClient(opts...), model: o.Model, temperature: o.Temperature}
}

func (e *openAIEngine) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(e.model),
		Messages:    []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
		Temperature: param.NewOpt(e.temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *openAIEngine) Close() error { return nil }
