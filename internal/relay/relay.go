// Package relay bridges browser WebSocket sessions to the simulation backend.
//
// Each accepted upgrade becomes a Session with two legs: the client leg
// (browser to relay) and the backend leg (relay to the simulator). The
// credential is read from the upgrade request, verified once, and passed
// to the backend as a query parameter when dialing. Frames are forwarded
// verbatim in both directions; the relay itself only ever originates the
// proxy-connected notice.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/logging"
)

// Config configures a Relay.
type Config struct {
	// BackendURL is the simulation backend base URL.
	BackendURL string
	// CookieName is the cookie carrying the bearer credential.
	CookieName string
	// HandshakeTimeout bounds the time for both legs to open.
	HandshakeTimeout time.Duration
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait and PingPeriod drive keepalive on the client leg.
	PongWait   time.Duration
	PingPeriod time.Duration
	// MaxMessageSize limits inbound frames on both legs.
	MaxMessageSize int64
	// QueueSize bounds each leg's outbound queue.
	QueueSize int
	// MaxConnectionsPerIP caps live sessions per client IP. Zero means unlimited.
	MaxConnectionsPerIP int
	// AllowedOrigins is the origin allowlist. Empty means same-origin only.
	AllowedOrigins []string
	// RateLimit throttles upgrade attempts per client IP.
	RateLimit RateLimitConfig

	// Verifier, when set, checks the credential before the backend is dialed.
	Verifier Verifier
	// Dialer opens backend legs. Defaults to a proxy-aware dialer.
	Dialer *websocket.Dialer
	// ClientIP resolves the client address. Defaults to the RemoteAddr host.
	ClientIP func(*http.Request) string
	// Logger defaults to logging.Relay().
	Logger *slog.Logger
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return FromSettings(config.Default().Relay)
}

// FromSettings converts the file-level relay settings.
func FromSettings(s config.RelayConfig) Config {
	return Config{
		BackendURL:          s.BackendURL,
		CookieName:          s.CookieName,
		HandshakeTimeout:    s.HandshakeTimeout.D(),
		WriteWait:           s.WriteWait.D(),
		PongWait:            s.PongWait.D(),
		PingPeriod:          s.PingPeriod.D(),
		MaxMessageSize:      s.MaxMessageSize,
		QueueSize:           s.QueueSize,
		MaxConnectionsPerIP: s.MaxConnectionsPerIP,
		AllowedOrigins:      s.AllowedOrigins,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: s.RateLimit.RequestsPerSecond,
			Burst:             s.RateLimit.Burst,
		},
	}
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Active   int   `json:"active"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Dials    int64 `json:"dials"`
}

// Relay is an http.Handler that accepts client upgrades and runs sessions.
type Relay struct {
	cfg      Config
	endpoint *url.URL
	logger   *slog.Logger
	authLog  *slog.Logger

	upgrader websocket.Upgrader
	origins  atomic.Pointer[func(*http.Request) bool]
	tracker  *ConnectionTracker
	limiter  *RateLimiter

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	closeOnce  sync.Once

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	accepted atomic.Int64
	rejected atomic.Int64
	dials    atomic.Int64
}

// New validates cfg and returns a Relay.
func New(cfg Config) (*Relay, error) {
	endpoint, err := BackendURL(cfg.BackendURL)
	if err != nil {
		return nil, err
	}
	if cfg.CookieName == "" {
		cfg.CookieName = config.DefaultCookieName
	}
	if cfg.HandshakeTimeout <= 0 {
		return nil, errors.New("handshake timeout must be positive")
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = config.DefaultWriteWait
	}
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer()
	}
	if cfg.ClientIP == nil {
		cfg.ClientIP = remoteIP
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Relay()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	r := &Relay{
		cfg:        cfg,
		endpoint:   endpoint,
		logger:     cfg.Logger,
		authLog:    logging.Auth(),
		tracker:    NewConnectionTracker(cfg.MaxConnectionsPerIP),
		limiter:    NewRateLimiter(cfg.RateLimit),
		baseCtx:    ctx,
		baseCancel: cancel,
		sessions:   make(map[string]*Session),
	}
	r.SetAllowedOrigins(cfg.AllowedOrigins)
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return (*r.origins.Load())(req)
		},
	}
	return r, nil
}

// SetAllowedOrigins replaces the origin allowlist for future upgrades.
func (r *Relay) SetAllowedOrigins(origins []string) {
	check := newOriginChecker(origins, func(origin, host string, allowed bool, reason string) {
		r.logger.Debug("Origin check", "origin", origin, "host", host, "allowed", allowed, "reason", reason)
	})
	r.origins.Store(&check)
}

// Endpoint returns the backend simulation endpoint without credentials.
func (r *Relay) Endpoint() string {
	return r.endpoint.String()
}

// ActiveSessions returns the number of running sessions.
func (r *Relay) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Active:   r.ActiveSessions(),
		Accepted: r.accepted.Load(),
		Rejected: r.rejected.Load(),
		Dials:    r.dials.Load(),
	}
}

// ServeHTTP implements http.Handler.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !websocket.IsWebSocketUpgrade(req) {
		w.Header().Set("Connection", "Upgrade")
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "Expected WebSocket upgrade", http.StatusUpgradeRequired)
		return
	}

	if r.baseCtx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// Origin is checked before anything else so a cross-site page cannot
	// cause backend dials.
	if !(*r.origins.Load())(req) {
		r.rejected.Add(1)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	clientIP := r.cfg.ClientIP(req)
	if !r.limiter.Allow(clientIP) {
		r.rejected.Add(1)
		r.logger.Warn("Upgrade rate limited", "client_ip", clientIP)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	if !r.tracker.TryAdd(clientIP) {
		r.rejected.Add(1)
		r.logger.Warn("Too many sessions from client", "client_ip", clientIP,
			"limit", r.cfg.MaxConnectionsPerIP)
		http.Error(w, "Too Many Connections", http.StatusTooManyRequests)
		return
	}
	defer r.tracker.Remove(clientIP)

	sessionID := uuid.NewString()
	logger := logging.WithClient(r.logger, clientIP, sessionID)

	token, err := r.authenticate(req)
	if err != nil {
		r.rejected.Add(1)
		r.authLog.Warn("Rejecting session", "client_ip", clientIP, "session_id", sessionID, "error", err)
		// Upgrade then close without a payload so the client sees the
		// socket close before any frame.
		if conn, uerr := r.upgrader.Upgrade(w, req, nil); uerr == nil {
			closeSilently(conn, r.cfg.WriteWait)
		}
		return
	}

	if err := r.serve(w, req, sessionID, clientIP, token, logger); err != nil {
		r.rejected.Add(1)
	}
}

// authenticate extracts and optionally verifies the credential.
func (r *Relay) authenticate(req *http.Request) (string, error) {
	token, err := Credential(req, r.cfg.CookieName)
	if err != nil {
		return "", err
	}
	if r.cfg.Verifier != nil {
		id, err := r.cfg.Verifier.Verify(token)
		if err != nil {
			return "", err
		}
		r.authLog.Debug("Credential verified", "subject", id.Subject, "token", logging.TokenPreview(token))
	}
	return token, nil
}

// serve opens both legs within the handshake window and runs the session.
// A non-nil error means the session never became ready.
func (r *Relay) serve(w http.ResponseWriter, req *http.Request, sessionID, clientIP, token string, logger *slog.Logger) error {
	hsCtx, hsCancel := context.WithTimeout(r.baseCtx, r.cfg.HandshakeTimeout)
	defer hsCancel()

	r.dials.Add(1)
	dialed := dialBackend(hsCtx, r.cfg.Dialer, r.endpoint, token)

	clientConn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		hsCancel()
		discardDial(dialed)
		logger.Warn("Client upgrade failed", "error", err)
		return err
	}

	var backendConn *websocket.Conn
	select {
	case res := <-dialed:
		if res.err != nil {
			logger.Warn("Backend leg failed to open", "backend", r.Endpoint(), "error", res.err)
			closeSilently(clientConn, r.cfg.WriteWait)
			return res.err
		}
		backendConn = res.conn
	case <-hsCtx.Done():
		discardDial(dialed)
		err := fmt.Errorf("backend leg: %w", ErrHandshakeTimeout)
		if errors.Is(context.Cause(r.baseCtx), ErrRelayClosed) {
			err = ErrRelayClosed
		}
		logger.Warn("Backend leg did not open in time", "timeout", r.cfg.HandshakeTimeout, "error", err)
		closeSilently(clientConn, r.cfg.WriteWait)
		return err
	}

	client := newLeg("client", clientConn, r.cfg.QueueSize, r.cfg.WriteWait, r.cfg.PingPeriod)
	client.configureKeepalive(r.cfg.MaxMessageSize, r.cfg.PongWait)
	backend := newLeg("backend", backendConn, r.cfg.QueueSize, r.cfg.WriteWait, 0)
	backend.configureKeepalive(r.cfg.MaxMessageSize, 0)

	sess := newSession(r.baseCtx, sessionID, clientIP, client, backend, logger)
	if err := sess.signalReady(); err != nil {
		client.Close(websocket.CloseInternalServerErr)
		backend.Close(websocket.CloseInternalServerErr)
		return err
	}

	if !r.register(sess) {
		client.Close(websocket.CloseGoingAway)
		backend.Close(websocket.CloseGoingAway)
		return ErrRelayClosed
	}
	defer r.unregister(sess)

	r.accepted.Add(1)
	logger.Info("Session ready", "backend", r.Endpoint(), "token", logging.TokenPreview(token))

	cause := sess.Run()
	up, down := sess.Forwarded()
	attrs := []any{
		"duration", time.Since(sess.StartedAt).Round(time.Millisecond),
		"upstream_frames", up,
		"downstream_frames", down,
		"cause", cause,
	}
	if isGraceful(cause) {
		logger.Info("Session closed", attrs...)
	} else {
		logger.Warn("Session terminated", attrs...)
	}
	return nil
}

func (r *Relay) register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.baseCtx.Err() != nil {
		return false
	}
	r.sessions[s.ID] = s
	r.wg.Add(1)
	return true
}

func (r *Relay) unregister(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	r.wg.Done()
}

// Close stops accepting sessions, tears down the running ones and waits
// for them to finish or for ctx to expire.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.baseCancel(ErrRelayClosed)
	r.mu.Unlock()
	r.closeOnce.Do(r.limiter.Close)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
