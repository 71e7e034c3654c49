package engine

import (
	"fmt"
	"net/http"
	"strings"
)

// Provider names accepted by NewRemote.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultOpenAIEndpoint is the OpenAI-compatible base URL used when none is
// configured.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// RemoteOptions configure an engine backed by a hosted chat-completion API.
// Device settings do not apply to remote engines.
type RemoteOptions struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
}

// NewRemote returns the engine for a remote provider name.
func NewRemote(provider string, o RemoteOptions) (Engine, error) {
	if strings.TrimSpace(o.Endpoint) == "" {
		return nil, ErrUnavailable(fmt.Sprintf("%s provider: endpoint is not configured", provider))
	}
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAI(o), nil
	case ProviderGemini:
		return NewGemini(o)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s, %s, %s", provider, ProviderLocal, ProviderOpenAI, ProviderGemini)
	}
}
