// Package logging provides centralized logging configuration for rlbridge.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger is the application-wide logger
	globalLogger *slog.Logger
	globalMu     sync.RWMutex

	// level is shared by every handler created by Initialize so the
	// console level can be changed at runtime (config reload).
	level slog.LevelVar

	// logWriter holds the log file writer (if any) for cleanup.
	// Can be *os.File or *lumberjack.Logger
	logWriter   io.WriteCloser
	logWriterMu sync.Mutex

	// allowedComponents stores the set of components to log (empty means all)
	allowedComponents map[string]bool
	componentsMu      sync.RWMutex
)

// FileLogConfig holds configuration for file-based logging with rotation.
type FileLogConfig struct {
	// Path is the file path for the log file.
	// Empty string disables file logging.
	Path string

	// MaxSizeMB is the maximum size of the log file in megabytes before rotation.
	// Default: 10MB
	MaxSizeMB int

	// MaxBackups is the maximum number of old log files to retain.
	// Default: 3
	MaxBackups int

	// Compress determines if rotated log files should be compressed.
	Compress bool
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// FileLog enables file output with rotation. Nil or empty Path disables it.
	FileLog *FileLogConfig
	// JSON enables JSON output format
	JSON bool
	// Components is a list of component names to include in logs (empty means all)
	Components []string
}

// Initialize sets up the global logger with the given configuration.
// Logs always go to stderr; when FileLog is set they are also written
// to a rotated file.
func Initialize(cfg Config) error {
	level.Set(ParseLevel(cfg.Level))
	SetComponents(cfg.Components)

	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	var out io.Writer = os.Stderr
	if cfg.FileLog != nil && cfg.FileLog.Path != "" {
		maxSize := cfg.FileLog.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.FileLog.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}

		lj := &lumberjack.Logger{
			Filename:   cfg.FileLog.Path,
			MaxSize:    maxSize,    // megabytes
			MaxBackups: maxBackups, // number of backups
			MaxAge:     0,          // don't delete old files based on age
			Compress:   cfg.FileLog.Compress,
		}
		if logWriter != nil {
			logWriter.Close()
		}
		logWriter = lj
		out = io.MultiWriter(os.Stderr, lj)
	}

	logger := slog.New(newHandler(out, cfg.JSON))

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

func newHandler(w io.Writer, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: &level}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// Level returns the current minimum level of the global logger.
func Level() slog.Level {
	return level.Level()
}

// SetComponents replaces the component filter. An empty list allows all.
func SetComponents(components []string) {
	componentsMu.Lock()
	defer componentsMu.Unlock()

	if len(components) == 0 {
		allowedComponents = nil
		return
	}
	allowedComponents = make(map[string]bool, len(components))
	for _, c := range components {
		allowedComponents[c] = true
	}
}

// Get returns the global logger.
// If Initialize hasn't been called, returns slog.Default().
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Close cleans up logging resources (closes log file if open).
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		if err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
	}
	return nil
}

// ParseLevel converts a string level to slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isComponentAllowed checks if a component should be logged.
func isComponentAllowed(component string) bool {
	componentsMu.RLock()
	defer componentsMu.RUnlock()

	if allowedComponents == nil {
		return true
	}
	return allowedComponents[component]
}

// componentFilterHandler wraps a slog.Handler and filters based on component.
type componentFilterHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !isComponentAllowed(h.component) {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *componentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if !isComponentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilterHandler{
		inner:     h.inner.WithAttrs(attrs),
		component: h.component,
	}
}

func (h *componentFilterHandler) WithGroup(name string) slog.Handler {
	return &componentFilterHandler{
		inner:     h.inner.WithGroup(name),
		component: h.component,
	}
}

// WithComponent returns a logger with a component attribute.
// If component filtering is enabled and this component is not in the allowed list,
// the returned logger discards everything.
func WithComponent(component string) *slog.Logger {
	base := Get()
	handler := &componentFilterHandler{
		inner:     base.Handler().WithAttrs([]slog.Attr{slog.String("component", component)}),
		component: component,
	}
	return slog.New(handler)
}

// Relay returns a logger for the server-side relay.
func Relay() *slog.Logger {
	return WithComponent("relay")
}

// Session returns a logger for the client-side session controller.
func Session() *slog.Logger {
	return WithComponent("session")
}

// Auth returns a logger for credential handling.
func Auth() *slog.Logger {
	return WithComponent("auth")
}

// Web returns a logger for HTTP routes.
func Web() *slog.Logger {
	return WithComponent("web")
}

// ConfigLog returns a logger for configuration loading and reloads.
func ConfigLog() *slog.Logger {
	return WithComponent("config")
}

// WithSession returns a logger carrying the relay session id.
func WithSession(base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("session_id", sessionID)
}

// WithClient returns a logger with the remote client address and session id.
func WithClient(base *slog.Logger, clientIP, sessionID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With(
		"client_ip", clientIP,
		"session_id", sessionID,
	)
}

// TokenPreview returns a short, log-safe preview of a bearer credential.
func TokenPreview(token string) string {
	if len(token) > 20 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	if len(token) > 4 {
		return token[:4] + "..."
	}
	return "***"
}
