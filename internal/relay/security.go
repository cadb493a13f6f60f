package relay

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionTracker counts live sessions per client IP.
type ConnectionTracker struct {
	mu          sync.RWMutex
	connections map[string]int
	maxPerIP    int
}

// NewConnectionTracker creates a tracker. maxPerIP <= 0 disables the cap.
func NewConnectionTracker(maxPerIP int) *ConnectionTracker {
	return &ConnectionTracker{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// TryAdd reserves a slot for ip. It reports false when the cap is reached.
func (ct *ConnectionTracker) TryAdd(ip string) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	current := ct.connections[ip]
	if ct.maxPerIP > 0 && current >= ct.maxPerIP {
		return false
	}
	ct.connections[ip] = current + 1
	return true
}

// Remove releases a slot for ip.
func (ct *ConnectionTracker) Remove(ip string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	current := ct.connections[ip]
	if current <= 1 {
		delete(ct.connections, ip)
	} else {
		ct.connections[ip] = current - 1
	}
}

// Count returns the number of live sessions for ip.
func (ct *ConnectionTracker) Count(ip string) int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.connections[ip]
}

// RateLimitConfig configures per-IP accept throttling.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained accept rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the number of accepts allowed in a burst.
	Burst int
	// CleanupInterval is how often idle entries are evicted.
	CleanupInterval time.Duration
	// EntryTTL is how long an idle entry is kept.
	EntryTTL time.Duration
}

type rateLimitEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles upgrade attempts per client IP.
// It is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimitEntry
	config   RateLimitConfig

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = 10 * time.Minute
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*rateLimitEntry),
		config:      config,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether an accept from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.config.RequestsPerSecond <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimitEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	close(rl.stopCleanup)
	<-rl.cleanupDone
}

func (rl *RateLimiter) cleanupLoop() {
	defer close(rl.cleanupDone)

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.EntryTTL)
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// OriginCheckLogger receives the outcome of each origin check.
type OriginCheckLogger func(origin, host string, allowed bool, reason string)

// newOriginChecker returns a CheckOrigin function for the upgrader.
// An empty allowlist means same-origin only; "*" allows everything.
// Requests without an Origin header come from non-browser clients and
// are allowed.
func newOriginChecker(allowedOrigins []string, logger OriginCheckLogger) func(*http.Request) bool {
	allowedSet := make(map[string]bool)
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
		allowedSet[strings.ToLower(strings.TrimSuffix(origin, "/"))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		result := func(allowed bool, reason string) bool {
			if logger != nil {
				logger(origin, r.Host, allowed, reason)
			}
			return allowed
		}

		if origin == "" {
			return result(true, "no origin header")
		}
		if allowAll {
			return result(true, "all origins allowed")
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return result(false, "unparseable origin")
		}

		if len(allowedSet) > 0 {
			if allowedSet[strings.ToLower(origin)] || allowedSet[strings.ToLower(originURL.Host)] {
				return result(true, "origin in allowlist")
			}
			return result(false, "origin not in allowlist")
		}

		if isSameOrigin(r, originURL) {
			return result(true, "same origin")
		}
		return result(false, "cross origin")
	}
}

// isSameOrigin compares the origin's host and port with the request host.
// When the request host carries no port (typical behind a reverse proxy)
// only hostnames are compared.
func isSameOrigin(r *http.Request, originURL *url.URL) bool {
	requestHostname, requestPort, err := net.SplitHostPort(r.Host)
	if err != nil {
		requestHostname, requestPort = r.Host, ""
	}
	originHostname, originPort, err := net.SplitHostPort(originURL.Host)
	if err != nil {
		originHostname, originPort = originURL.Host, ""
	}

	if !strings.EqualFold(requestHostname, originHostname) {
		return false
	}

	if originPort == "" {
		switch originURL.Scheme {
		case "https", "wss":
			originPort = "443"
		case "http", "ws":
			originPort = "80"
		}
	}
	if requestPort == "" {
		return true
	}
	return requestPort == originPort
}

// remoteIP returns the host part of r.RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
