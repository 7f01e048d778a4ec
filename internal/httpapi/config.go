package httpapi

import "net/http"

const defaultMaxBodyBytes int64 = 32 << 20

// maxBodyBytes bounds request bodies. Message envelopes carry images in their
// blob, hence the generous default.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
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

// eventStream serves GET /events when set.
var eventStream http.Handler

// SetEventStream installs the handler for GET /events (nil disables the route).
func SetEventStream(h http.Handler) { eventStream = h }
