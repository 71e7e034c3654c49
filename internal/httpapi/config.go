package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// progressInterval is the minimum spacing of NDJSON download progress lines.
// Phase changes and the final line are always sent.
var progressInterval = 100 * time.Millisecond

// SetProgressInterval sets the download progress throttle (<=0 restores default).
func SetProgressInterval(d time.Duration) {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	progressInterval = d
}

// Debounce settings for WebSocket sessions; zero keeps the session defaults.
var (
	sessionDebounce time.Duration
	sessionMaxWait  time.Duration
)

// SetSessionTiming configures automatic-completion debounce for /ws sessions.
func SetSessionTiming(debounce, maxWait time.Duration) {
	sessionDebounce, sessionMaxWait = debounce, maxWait
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
