package web

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// EnableHSTS enables HTTP Strict Transport Security header.
	// Only enable this if you're serving over HTTPS.
	EnableHSTS bool
	// HSTSMaxAge is the max-age value for HSTS in seconds (default: 1 year).
	HSTSMaxAge int
}

// DefaultSecurityConfig returns the default security configuration.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		EnableHSTS: false,
		HSTSMaxAge: 31536000,
	}
}

// securityHeadersMiddleware adds security headers to all responses.
// The server only answers JSON and WebSocket upgrades, so the CSP denies
// everything.
func securityHeadersMiddleware(config SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")

			if config.EnableHSTS {
				maxAge := config.HSTSMaxAge
				if maxAge <= 0 {
					maxAge = 31536000
				}
				h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(maxAge)+"; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestSizeLimitMiddleware limits the size of request bodies.
func requestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hideServerInfoResponseWriter strips server identification headers,
// including ones copied from the backend by the pass-through proxy.
type hideServerInfoResponseWriter struct {
	http.ResponseWriter
	headerWritten bool
}

func (w *hideServerInfoResponseWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")
		w.headerWritten = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *hideServerInfoResponseWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Hijack implements http.Hijacker; the relay upgrade needs it.
func (w *hideServerInfoResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher.
func (w *hideServerInfoResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (w *hideServerInfoResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func hideServerInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&hideServerInfoResponseWriter{ResponseWriter: w}, r)
	})
}

// DefaultRequestTimeout is the default timeout for plain HTTP requests.
const DefaultRequestTimeout = 30 * time.Second

// requestTimeoutMiddleware adds a timeout to HTTP requests.
// WebSocket upgrade requests are excluded from the timeout.
func requestTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := http.TimeoutHandler(next, timeout, "Request timeout")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// isUpgrade reports whether r asks for a WebSocket upgrade.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
