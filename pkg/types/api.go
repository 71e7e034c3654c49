package types

// CompleteRequest asks for a completion at a cursor position in a document.
type CompleteRequest struct {
	// Full document text.
	// example: local function add(a, b)\n\nend
	Text string `json:"text" example:"local function add(a, b)\n\nend"`
	// Cursor offset in characters (runes), not bytes. Clamped to the text length.
	// example: 26
	Cursor int `json:"cursor" example:"26"`
	// Manual requests bypass the debounce policy and report errors to the caller.
	// example: true
	Manual bool `json:"manual,omitempty" example:"true"`
}

// CompleteResponse carries a completion or reports that it was superseded.
type CompleteResponse struct {
	// Suggested insertion text; empty when cancelled or when the model produced nothing.
	Text string `json:"text"`
	// Generation the request was stamped with.
	// example: 42
	Generation uint64 `json:"generation" example:"42"`
	// True when a newer request superseded this one before delivery.
	Cancelled bool `json:"cancelled"`
	// Trigger that produced the request (manual or automatic).
	// example: manual
	Trigger string `json:"trigger" example:"manual"`
}

// DownloadRequest asks the server to fetch and verify a model artifact.
type DownloadRequest struct {
	// Model reference; empty selects the default model for the current device class.
	// example: OleFranz/Qwen3-0.6B-Text-FIM-GGUF:Q8_0
	Reference string `json:"reference,omitempty" example:"OleFranz/Qwen3-0.6B-Text-FIM-GGUF:Q8_0"`
}

// DownloadEvent is one NDJSON line of a download stream.
type DownloadEvent struct {
	// Operation id shared by every line of the stream.
	ID string `json:"id"`
	// One of preparing, verifying_existing, downloading, finished.
	// example: downloading
	Phase string `json:"phase,omitempty" example:"downloading"`
	// Bytes hashed or transferred so far.
	Transferred uint64 `json:"transferred"`
	// Total size when known.
	Total *uint64 `json:"total,omitempty"`
	// Set on the final line.
	Done bool `json:"done,omitempty"`
	// Final artifact path (final line only).
	Path string `json:"path,omitempty"`
	// Error message when the download failed (final line only).
	Error string `json:"error,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Models present in the local models directory.
	Models []Model `json:"models"`
}

// DevicesResponse is returned by GET /devices.
type DevicesResponse struct {
	// Usable compute devices; empty means CPU only.
	Devices []Device `json:"devices"`
}

// ReadinessResponse is returned by GET /readiness.
type ReadinessResponse struct {
	// One of ready, needs_download, needs_endpoint, backend_unavailable, invalid_reference.
	// example: needs_download
	State string `json:"state" example:"needs_download"`
	// Reference that must be downloaded (needs_download only).
	Reference string `json:"reference,omitempty"`
	// Human-readable detail.
	Message string `json:"message,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall state: idle, loading, ready, error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Active provider (local, openai, gemini).
	Provider string `json:"provider"`
	// Path of the loaded model, empty when nothing is loaded.
	ModelPath string `json:"model_path,omitempty"`
	// Device the model was placed on; empty for CPU.
	Device string `json:"device,omitempty"`
	// GPU layers requested at load time.
	GPULayers int `json:"gpu_layers"`
	// Current value of the generation counter.
	Generation uint64 `json:"generation"`
	// In-flight request flags.
	ManualInFlight bool `json:"manual_in_flight"`
	AutoInFlight   bool `json:"auto_in_flight"`
	// Total number of engine loads.
	// example: 2
	LoadsTotal uint64 `json:"loads_total" example:"2"`
	// Last error observed by the coordinator (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// HostMessage is sent by a WebSocket client to drive its session.
type HostMessage struct {
	// One of text_changed, manual, accept, dismiss, download.
	Type string `json:"type"`
	// Document text (text_changed).
	Text string `json:"text,omitempty"`
	// Cursor offset in runes (text_changed).
	Cursor int `json:"cursor,omitempty"`
	// Model reference (download).
	Reference string `json:"reference,omitempty"`
}

// SessionState is pushed to WebSocket clients whenever their session changes.
type SessionState struct {
	// Session id.
	ID string `json:"id"`
	// Current generation of the coordinator.
	Generation uint64 `json:"generation"`
	// Ghost suggestion for the current text, if any.
	Suggestion string `json:"suggestion,omitempty"`
	// Short status line, e.g. "Generating completion...".
	Status string `json:"status,omitempty"`
	// Last error from a manual request.
	LastError string `json:"last_error,omitempty"`
	// True while a completion for this session is outstanding.
	Busy bool `json:"busy"`
	// Latest progress of a running download.
	Download *DownloadEvent `json:"download,omitempty"`
	// Text returned by the most recent accept message.
	Accepted string `json:"accepted,omitempty"`
}
