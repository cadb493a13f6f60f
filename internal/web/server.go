// Package web provides the HTTP server that hosts the relay endpoint, the
// health check and the backend REST pass-through under one base path.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	configPkg "github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/logging"
	"github.com/landingbay/rlbridge/internal/relay"
)

// Config holds the web server configuration.
type Config struct {
	// Settings is the loaded configuration. Nil means configPkg.Default().
	Settings *configPkg.Config

	// Relay overrides the relay built from Settings. The server does not
	// take ownership of an injected relay.
	Relay *relay.Relay

	// Logger defaults to logging.Web().
	Logger *slog.Logger
}

// Server is the dashboard-facing HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mu         sync.Mutex
	shutdown   bool

	// basePath prefixes every route; it starts and ends with "/".
	basePath string

	relay        *relay.Relay
	ownsRelay    bool
	proxyChecker *TrustedProxyChecker

	// Access logger for security-relevant events (nil if disabled)
	accessLogger *AccessLogger
}

// NewServer creates a new web server.
func NewServer(config Config) (*Server, error) {
	settings := config.Settings
	if settings == nil {
		settings = configPkg.Default()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Web()
	}

	basePath := settings.Server.BasePath
	s := &Server{
		logger:       logger,
		basePath:     basePath,
		relay:        config.Relay,
		proxyChecker: NewTrustedProxyChecker(settings.Server.TrustedProxies),
	}

	if s.relay == nil {
		rc := relay.FromSettings(settings.Relay)
		rc.ClientIP = s.proxyChecker.ClientIP
		if settings.Relay.JWTSecret != "" {
			verifier, err := relay.NewHS256Verifier(settings.Relay.JWTSecret)
			if err != nil {
				return nil, err
			}
			rc.Verifier = verifier
		}
		r, err := relay.New(rc)
		if err != nil {
			return nil, err
		}
		s.relay = r
		s.ownsRelay = true
	}

	pyPrefix := basePath + "api/py/"
	backendProxy, err := newBackendProxy(settings.Relay.BackendURL, pyPrefix, settings.Relay.CookieName, logger)
	if err != nil {
		s.closeRelay()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(basePath+"api/ws", s.relay)
	mux.HandleFunc(basePath+"api/health", s.handleHealthCheck)
	mux.Handle(pyPrefix, backendProxy)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeErrorJSON(w, http.StatusNotFound, "Not found")
	})

	// Middlewares, innermost first.
	var handler http.Handler = mux
	handler = requestSizeLimitMiddleware(1 * 1024 * 1024)(handler)
	handler = requestTimeoutMiddleware(DefaultRequestTimeout)(handler)
	handler = securityHeadersMiddleware(SecurityConfig{
		EnableHSTS: settings.Server.EnableHSTS,
		HSTSMaxAge: DefaultSecurityConfig().HSTSMaxAge,
	})(handler)
	if handler, err = gzipMiddleware(handler); err != nil {
		s.closeRelay()
		return nil, err
	}
	handler = hideServerInfoMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	s.accessLogger = NewAccessLogger(AccessLogConfig{Path: settings.Server.AccessLog}, basePath, s.proxyChecker.ClientIP)
	handler = s.accessLogger.Middleware(handler)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Web server initialized",
		"base_path", basePath,
		"backend", s.relay.Endpoint(),
		"verify_credentials", settings.Relay.JWTSecret != "")

	return s, nil
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(listener net.Listener) error {
	err := s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the HTTP handler for the server.
// This is useful for testing with httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Relay returns the relay serving the WebSocket endpoint.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// BasePath returns the route prefix.
func (s *Server) BasePath() string {
	return s.basePath
}

// Shutdown stops accepting requests, then closes live relay sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	if s.ownsRelay {
		err = errors.Join(err, s.relay.Close(ctx))
	}
	if s.accessLogger != nil {
		s.accessLogger.Close()
	}
	return err
}

// IsShutdown returns whether the server has been shut down.
func (s *Server) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// OnConfigChanged applies the settings that can change without a restart:
// log level and the relay origin allowlist.
func (s *Server) OnConfigChanged(cfg *configPkg.Config) {
	logging.SetLevel(cfg.Log.Level)
	s.relay.SetAllowedOrigins(cfg.Relay.AllowedOrigins)
	s.logger.Info("Configuration reloaded",
		"log_level", cfg.Log.Level,
		"allowed_origins", len(cfg.Relay.AllowedOrigins))
}

func (s *Server) closeRelay() {
	if s.ownsRelay {
		s.relay.Close(context.Background())
	}
}

// handleHealthCheck reports liveness and the number of relayed sessions.
// It is not behind authentication so load balancers can poll it.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}

	if s.IsShutdown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unavailable",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSONOK(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  s.relay.ActiveSessions(),
	})
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", s.proxyChecker.ClientIP(r),
			"upgrade", isUpgrade(r),
			"user_agent", r.UserAgent(),
		)
		next.ServeHTTP(w, r)
	})
}
