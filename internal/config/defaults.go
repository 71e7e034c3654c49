package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"ghostd/internal/engine"
	"ghostd/pkg/types"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr         = "127.0.0.1:7311"
	DefaultModelsDir    = "~/.local/share/ghostd/models"
	DefaultRegistryURL  = "https://huggingface.co"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultMaxBodyBytes = 1 << 20
)

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unspecified fields. LLM settings defaults are applied
// by the manager so the file keeps only what the user set.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.RegistryURL == "" {
		c.RegistryURL = DefaultRegistryURL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	NormalizeSettings(&c.LLM)
}

// NormalizeSettings lowercases the provider, selects local when it is unset
// and gives OpenAI its public endpoint.
func NormalizeSettings(s *types.Settings) {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = engine.ProviderLocal
	}
	if s.Provider == engine.ProviderOpenAI && s.Endpoint == "" {
		s.Endpoint = engine.DefaultOpenAIEndpoint
	}
}

// Validate checks field constraints. A remote provider needs an endpoint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %s", describe(err))
	}
	if c.LLM.Provider != engine.ProviderLocal && strings.TrimSpace(c.LLM.Endpoint) == "" {
		return fmt.Errorf("invalid config: llm.endpoint is required for provider %q", c.LLM.Provider)
	}
	return nil
}

// ValidateSettings applies the same checks to settings submitted at runtime.
func ValidateSettings(s types.Settings) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %s", describe(err))
	}
	if s.Provider != engine.ProviderLocal && strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("invalid settings: endpoint is required for provider %q", s.Provider)
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
