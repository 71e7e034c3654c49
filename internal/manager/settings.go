package manager

import (
	"runtime"
	"strings"
	"time"

	"ghostd/internal/engine"
	"ghostd/pkg/types"
)

// Defaults applied when the corresponding Settings fields are unset.
const (
	DefaultGPUModel            = "mradermacher/Luau-Qwen3-4B-FIM-v0.1-i1-GGUF:Q4_K_M"
	DefaultCPUModel            = "OleFranz/Qwen3-0.6B-Text-FIM-GGUF"
	DefaultEndpoint            = engine.DefaultOpenAIEndpoint
	DefaultMaxCompletionTokens = 128
	DefaultTemperature         = 0.2
	DefaultContextSize         = 2048
	DefaultCompletionTimeout   = 60 * time.Second
	// FIMMaxTokens caps fill-in-the-middle requests, which fill a small gap.
	FIMMaxTokens = 50
)

// RedactedAPIKey replaces a configured key in API responses.
const RedactedAPIKey = "***"

var defaultRemoteModels = map[string]string{
	engine.ProviderOpenAI: "gpt-4o-mini",
	engine.ProviderGemini: "gemini-2.0-flash",
}

// Settings is an immutable configuration snapshot. The Manager reads a copy
// per operation; UpdateSettings swaps it without touching in-flight work.
type Settings struct {
	Provider            string
	Endpoint            string
	APIKey              string
	RemoteModel         string
	OverrideModelPath   bool
	LocalModelPath      string
	PreferredDevice     string
	ForceCPUOnly        bool
	DefaultGPUModel     string
	DefaultCPUModel     string
	MaxCompletionTokens int
	// Temperature 0 is greedy decoding; a negative value selects the default.
	Temperature         float64
	ContextSize         int
	Threads             int
	// CompletionTimeout bounds a single inference call; 0 disables it.
	CompletionTimeout   time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:          DefaultEndpoint,
		Temperature:       DefaultTemperature,
		CompletionTimeout: DefaultCompletionTimeout,
	}.WithDefaults()
}

// WithDefaults fills unset fields. CompletionTimeout is left as is: zero
// means no timeout.
func (s Settings) WithDefaults() Settings {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = engine.ProviderLocal
	}
	if s.DefaultGPUModel == "" {
		s.DefaultGPUModel = DefaultGPUModel
	}
	if s.DefaultCPUModel == "" {
		s.DefaultCPUModel = DefaultCPUModel
	}
	if s.MaxCompletionTokens <= 0 {
		s.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if s.Temperature < 0 {
		s.Temperature = DefaultTemperature
	}
	if s.ContextSize <= 0 {
		s.ContextSize = DefaultContextSize
	}
	if s.Threads <= 0 {
		s.Threads = runtime.NumCPU()
	}
	if s.RemoteModel == "" {
		s.RemoteModel = defaultRemoteModels[s.Provider]
	}
	if s.CompletionTimeout < 0 {
		s.CompletionTimeout = 0
	}
	return s
}

// IsRemote reports whether completions go to a hosted API.
func (s Settings) IsRemote() bool { return s.Provider != engine.ProviderLocal }

// loadKey holds the fields that determine which engine is loaded. A slot
// loaded under a different key is replaced on the next ensure.
type loadKey struct {
	provider, endpoint, apiKey, remoteModel string
	override                                bool
	localPath, preferredDevice              string
	forceCPU                                bool
	gpuModel, cpuModel                      string
	contextSize, threads                    int
	temperature                             float64
}

func (s Settings) loadKey() loadKey {
	return loadKey{
		provider: s.Provider, endpoint: s.Endpoint, apiKey: s.APIKey, remoteModel: s.RemoteModel,
		override: s.OverrideModelPath, localPath: s.LocalModelPath, preferredDevice: s.PreferredDevice,
		forceCPU: s.ForceCPUOnly, gpuModel: s.DefaultGPUModel, cpuModel: s.DefaultCPUModel,
		contextSize: s.ContextSize, threads: s.Threads, temperature: s.Temperature,
	}
}

// SettingsFromDTO converts the API representation. A zero CompletionTimeoutMS
// keeps the default timeout; a negative one disables it.
func SettingsFromDTO(d types.Settings) Settings {
	s := Settings{
		Provider:            d.Provider,
		Endpoint:            d.Endpoint,
		APIKey:              d.APIKey,
		RemoteModel:         d.RemoteModel,
		OverrideModelPath:   d.OverrideModelPath,
		LocalModelPath:      d.LocalModelPath,
		PreferredDevice:     d.PreferredDevice,
		ForceCPUOnly:        d.ForceCPUOnly,
		DefaultGPUModel:     d.DefaultGPUModel,
		DefaultCPUModel:     d.DefaultCPUModel,
		MaxCompletionTokens: d.MaxCompletionTokens,
		Temperature:         DefaultTemperature,
		ContextSize:         d.ContextSize,
		Threads:             d.Threads,
		CompletionTimeout:   DefaultCompletionTimeout,
	}
	if d.Temperature != nil {
		s.Temperature = *d.Temperature
	}
	switch {
	case d.CompletionTimeoutMS > 0:
		s.CompletionTimeout = time.Duration(d.CompletionTimeoutMS) * time.Millisecond
	case d.CompletionTimeoutMS < 0:
		s.CompletionTimeout = 0
	}
	return s.WithDefaults()
}

// DTO converts to the API representation with the API key redacted.
func (s Settings) DTO() types.Settings {
	d := types.Settings{
		Provider:            s.Provider,
		Endpoint:            s.Endpoint,
		RemoteModel:         s.RemoteModel,
		OverrideModelPath:   s.OverrideModelPath,
		LocalModelPath:      s.LocalModelPath,
		PreferredDevice:     s.PreferredDevice,
		ForceCPUOnly:        s.ForceCPUOnly,
		DefaultGPUModel:     s.DefaultGPUModel,
		DefaultCPUModel:     s.DefaultCPUModel,
		MaxCompletionTokens: s.MaxCompletionTokens,
		Temperature:         &s.Temperature,
		ContextSize:         s.ContextSize,
		Threads:             s.Threads,
		CompletionTimeoutMS: s.CompletionTimeout.Milliseconds(),
	}
	if s.CompletionTimeout == 0 {
		d.CompletionTimeoutMS = -1
	}
	if s.APIKey != "" {
		d.APIKey = RedactedAPIKey
	}
	return d
}
