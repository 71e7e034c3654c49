package types

// Model represents a model artifact found in the local models directory.
type Model struct {
	// Filename of the artifact; doubles as its stable identifier.
	// example: Luau-Qwen3-4B-FIM-v0.1.i1-Q4_K_M.gguf
	ID string `json:"id" example:"Luau-Qwen3-4B-FIM-v0.1.i1-Q4_K_M.gguf"`
	// Human-friendly name (filename without extension).
	// example: Luau-Qwen3-4B-FIM-v0.1.i1-Q4_K_M
	Name string `json:"name" example:"Luau-Qwen3-4B-FIM-v0.1.i1-Q4_K_M"`
	// Absolute path to the model file on disk.
	// example: /home/user/.local/share/ghostd/models/Luau-Qwen3-4B-FIM-v0.1.i1-Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/.local/share/ghostd/models/Luau-Qwen3-4B-FIM-v0.1.i1-Q4_K_M.gguf"`
	// Quantization variant parsed from the filename, if recognizable.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// File size in bytes.
	SizeBytes int64 `json:"size_bytes"`
	// True when a checksum sidecar was written for this file by a completed download.
	HasSidecar bool `json:"has_sidecar"`
}

// Device is one compute device that can host model layers.
type Device struct {
	// Identifier passed to the inference backend as the main device.
	// example: 0
	ID string `json:"id" example:"0"`
	// Display name.
	// example: NVIDIA GPU
	Name string `json:"name" example:"NVIDIA GPU"`
}

// Settings is the user-facing completion configuration.
type Settings struct {
	Provider            string   `json:"provider" yaml:"provider" toml:"provider" validate:"omitempty,oneof=local openai gemini"`
	Endpoint            string   `json:"endpoint,omitempty" yaml:"endpoint" toml:"endpoint" validate:"omitempty,url"`
	APIKey              string   `json:"api_key,omitempty" yaml:"api_key" toml:"api_key"`
	RemoteModel         string   `json:"remote_model,omitempty" yaml:"remote_model" toml:"remote_model"`
	OverrideModelPath   bool     `json:"override_model_path" yaml:"override_model_path" toml:"override_model_path"`
	LocalModelPath      string   `json:"local_model_path,omitempty" yaml:"local_model_path" toml:"local_model_path"`
	PreferredDevice     string   `json:"preferred_device,omitempty" yaml:"preferred_device" toml:"preferred_device"`
	ForceCPUOnly        bool     `json:"force_cpu_only" yaml:"force_cpu_only" toml:"force_cpu_only"`
	DefaultGPUModel     string   `json:"default_gpu_model,omitempty" yaml:"default_gpu_model" toml:"default_gpu_model"`
	DefaultCPUModel     string   `json:"default_cpu_model,omitempty" yaml:"default_cpu_model" toml:"default_cpu_model"`
	MaxCompletionTokens int      `json:"max_completion_tokens,omitempty" yaml:"max_completion_tokens" toml:"max_completion_tokens" validate:"gte=0"`
	// Sampling temperature; nil keeps the default and 0 selects greedy decoding.
	Temperature         *float64 `json:"temperature,omitempty" yaml:"temperature" toml:"temperature" validate:"omitempty,gte=0,lte=2"`
	ContextSize         int      `json:"context_size,omitempty" yaml:"context_size" toml:"context_size" validate:"gte=0"`
	Threads             int      `json:"threads,omitempty" yaml:"threads" toml:"threads" validate:"gte=0"`
	// Per-completion timeout in milliseconds; 0 keeps the server default, negative disables.
	CompletionTimeoutMS int64    `json:"completion_timeout_ms,omitempty" yaml:"completion_timeout_ms" toml:"completion_timeout_ms"`
}
