package web

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AccessLogConfig holds configuration for access logging.
type AccessLogConfig struct {
	// Path is the file path for the access log.
	// Empty string disables access logging.
	Path string

	// MaxSizeMB is the maximum size of the log file in megabytes before rotation.
	// Default: 10MB
	MaxSizeMB int

	// MaxBackups is the maximum number of old log files to retain.
	// Default: 1
	MaxBackups int
}

// AccessLogger writes security-relevant requests (relay connections,
// rejected credentials, rate limiting) to a rotated file.
type AccessLogger struct {
	writer   io.WriteCloser
	mu       sync.Mutex
	basePath string
	clientIP func(*http.Request) string
}

// NewAccessLogger creates a new access logger that writes to the specified file.
// If path is empty, returns nil (access logging disabled).
func NewAccessLogger(config AccessLogConfig, basePath string, clientIP func(*http.Request) string) *AccessLogger {
	if config.Path == "" {
		return nil
	}

	maxSize := config.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := config.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 1
	}

	return newAccessLogger(&lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}, basePath, clientIP)
}

func newAccessLogger(w io.WriteCloser, basePath string, clientIP func(*http.Request) string) *AccessLogger {
	if clientIP == nil {
		clientIP = func(r *http.Request) string { return hostOnly(r.RemoteAddr) }
	}
	return &AccessLogger{writer: w, basePath: basePath, clientIP: clientIP}
}

// Close closes the access logger.
func (a *AccessLogger) Close() error {
	if a == nil || a.writer == nil {
		return nil
	}
	return a.writer.Close()
}

// LogEntry represents a single access log entry.
type LogEntry struct {
	Timestamp    time.Time
	ClientIP     string
	Method       string
	Path         string
	StatusCode   int
	BytesWritten int64
	Duration     time.Duration
	UserAgent    string

	// EventType is relay_session, unauthorized, forbidden or rate_limited.
	EventType    string
	ErrorMessage string
}

// Write writes a log entry to the access log file.
// Format: timestamp client_ip "method path" status bytes duration_ms "user-agent" event [error]
func (a *AccessLogger) Write(entry LogEntry) {
	if a == nil || a.writer == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	line := fmt.Sprintf("%s %s \"%s %s\" %d %d %dms \"%s\" %s",
		entry.Timestamp.Format(time.RFC3339),
		entry.ClientIP,
		entry.Method,
		entry.Path,
		entry.StatusCode,
		entry.BytesWritten,
		entry.Duration.Milliseconds(),
		escapeQuotes(entry.UserAgent),
		entry.EventType,
	)
	if entry.ErrorMessage != "" {
		line += fmt.Sprintf(" error=\"%s\"", escapeQuotes(entry.ErrorMessage))
	}
	line += "\n"

	_, _ = a.writer.Write([]byte(line))
}

// escapeQuotes escapes quotes in a string for log safety.
func escapeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// accessLogResponseWriter wraps http.ResponseWriter to capture status code and bytes written.
type accessLogResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
	hijacked     bool
}

func (w *accessLogResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *accessLogResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Hijack implements http.Hijacker for WebSocket support.
func (w *accessLogResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		w.hijacked = true
		w.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Flush implements http.Flusher to support streaming responses.
func (w *accessLogResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for interface detection.
func (w *accessLogResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware returns an HTTP middleware that logs security-relevant access events.
func (a *AccessLogger) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &accessLogResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		eventType := a.determineEventType(r, wrapped)
		if eventType == "" {
			return
		}

		errorMsg := ""
		if wrapped.statusCode >= 400 {
			errorMsg = http.StatusText(wrapped.statusCode)
		}

		a.Write(LogEntry{
			Timestamp:    start,
			ClientIP:     a.clientIP(r),
			Method:       r.Method,
			Path:         r.URL.Path,
			StatusCode:   wrapped.statusCode,
			BytesWritten: wrapped.bytesWritten,
			Duration:     time.Since(start),
			UserAgent:    r.UserAgent(),
			EventType:    eventType,
			ErrorMessage: errorMsg,
		})
	})
}

// determineEventType classifies a finished request. An empty result means
// the request is not logged.
func (a *AccessLogger) determineEventType(r *http.Request, w *accessLogResponseWriter) string {
	switch w.statusCode {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}

	// Relay sessions are logged when they end, so the duration covers the session.
	if w.hijacked && r.URL.Path == a.basePath+"api/ws" {
		return "relay_session"
	}
	return ""
}
