package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/mocksim"
	"github.com/landingbay/rlbridge/internal/protocol"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestServer starts a server in front of backend.
func newTestServer(t *testing.T, backend http.Handler, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	settings := config.Default()
	settings.Relay.BackendURL = backendSrv.URL
	settings.Relay.RateLimit = config.RateLimitConfig{}
	settings.Relay.MaxConnectionsPerIP = 0
	if mutate != nil {
		mutate(settings)
	}

	s, err := NewServer(Config{Settings: settings, Logger: discard})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		srv.Close()
	})
	return s, srv
}

func TestServer_Health(t *testing.T) {
	s, srv := newTestServer(t, mocksim.New(mocksim.Options{}).Handler(), nil)

	resp, err := http.Get(srv.URL + "/landing-bay-rl/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Sessions  int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Sessions != 0 {
		t.Errorf("health = %+v", body)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339", body.Timestamp)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/landing-bay-rl/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health after shutdown = %d, want 503", rec.Code)
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	_, srv := newTestServer(t, mocksim.New(mocksim.Options{}).Handler(), nil)

	resp, err := http.Get(srv.URL + "/landing-bay-rl/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should be off by default")
	}
}

func TestServer_NotFound(t *testing.T) {
	_, srv := newTestServer(t, mocksim.New(mocksim.Options{}).Handler(), nil)

	for _, path := range []string{"/", "/landing-bay-rl/api/nope", "/api/ws"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestServer_RelayRequiresUpgrade(t *testing.T) {
	_, srv := newTestServer(t, mocksim.New(mocksim.Options{}).Handler(), nil)

	resp, err := http.Get(srv.URL + "/landing-bay-rl/api/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426", resp.StatusCode)
	}
	if got := resp.Header.Get("Upgrade"); got != "websocket" {
		t.Errorf("Upgrade = %q, want websocket", got)
	}
}

func dialRelay(t *testing.T, srv *httptest.Server, token, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Cookie", "jwt_token="+token)
	}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/landing-bay-rl/api/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func TestServer_RelaySession(t *testing.T) {
	backend := mocksim.New(mocksim.Options{})
	s, srv := newTestServer(t, backend.Handler(), nil)

	conn, _, err := dialRelay(t, srv, "tok", "")
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ, _ := protocol.PeekType(data); typ != protocol.TypeProxyConnected {
		t.Fatalf("first frame type = %q, want proxy-connected", typ)
	}
	if got := s.Relay().ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions() = %d, want 1", got)
	}

	if got := backend.Tokens(); len(got) != 1 || got[0] != "tok" {
		t.Errorf("backend tokens = %v, want [tok]", got)
	}
}

func TestServer_ConfigReloadUpdatesOrigins(t *testing.T) {
	s, srv := newTestServer(t, mocksim.New(mocksim.Options{}).Handler(), nil)

	if _, resp, err := dialRelay(t, srv, "tok", "https://dash.example.com"); err == nil {
		t.Fatal("cross-origin dial should fail before reload")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin dial response = %v, want 403", resp)
	}

	reloaded := config.Default()
	reloaded.Log.Level = "debug"
	reloaded.Relay.AllowedOrigins = []string{"https://dash.example.com/"}
	s.OnConfigChanged(reloaded)

	conn, _, err := dialRelay(t, srv, "tok", "https://dash.example.com")
	if err != nil {
		t.Fatalf("dial after reload error = %v", err)
	}
	conn.Close()
}

// headerBackend records the headers of the last request and answers with body.
type headerBackend struct {
	mu     sync.Mutex
	header http.Header
	path   string
	body   string
}

func (b *headerBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.header = r.Header.Clone()
	b.path = r.URL.Path
	b.mu.Unlock()
	w.Header().Set("Server", "uvicorn")
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, b.body)
}

func TestServer_BackendProxyTranslatesCookie(t *testing.T) {
	backend := &headerBackend{body: `[]`}
	_, srv := newTestServer(t, backend, nil)

	req, _ := http.NewRequest("GET", srv.URL+"/landing-bay-rl/api/py/episodes", nil)
	req.AddCookie(&http.Cookie{Name: "jwt_token", Value: "secret"})
	req.AddCookie(&http.Cookie{Name: "other", Value: "x"})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Server") != "" {
		t.Errorf("Server header leaked: %q", resp.Header.Get("Server"))
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.path != "/episodes" {
		t.Errorf("backend path = %q, want /episodes", backend.path)
	}
	if got := backend.header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", got)
	}
	if got := backend.header.Get("Cookie"); got != "" {
		t.Errorf("Cookie forwarded: %q", got)
	}
}

func TestServer_BackendProxyEpisodes(t *testing.T) {
	backend := mocksim.New(mocksim.Options{})
	backend.RecordEpisode("tok", protocol.Result{Success: true, FuelUsed: 12.5, LandingAccuracy: 0.97})
	_, srv := newTestServer(t, backend.Handler(), nil)

	get := func(token string) *http.Response {
		req, _ := http.NewRequest("GET", srv.URL+"/landing-bay-rl/api/py/episodes", nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: "jwt_token", Value: token})
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := get("tok")
	defer resp.Body.Close()
	var episodes []mocksim.Episode
	if err := json.NewDecoder(resp.Body).Decode(&episodes); err != nil {
		t.Fatal(err)
	}
	if len(episodes) != 1 || !episodes[0].Success || episodes[0].FuelUsed != 12.5 {
		t.Errorf("episodes = %+v", episodes)
	}

	anon := get("")
	anon.Body.Close()
	if anon.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", anon.StatusCode)
	}
}

func TestServer_BackendProxyUnavailable(t *testing.T) {
	_, srv := newTestServer(t, http.NotFoundHandler(), func(c *config.Config) {
		c.Relay.BackendURL = "http://127.0.0.1:1"
	})

	resp, err := http.Get(srv.URL + "/landing-bay-rl/api/py/episodes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestServer_GzipLargeResponses(t *testing.T) {
	backend := &headerBackend{body: `[` + strings.Repeat(`{"id":1,"success":true},`, 200) + `{"id":2}]`}
	_, srv := newTestServer(t, backend, nil)

	req, _ := http.NewRequest("GET", srv.URL+"/landing-bay-rl/api/py/episodes", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", got)
	}
}

func TestServer_CustomBasePath(t *testing.T) {
	_, srv := newTestServer(t, mocksim.New(mocksim.Options{}).Handler(), func(c *config.Config) {
		c.Server.BasePath = "/"
	})

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestNewServer_RejectsBadBackend(t *testing.T) {
	settings := config.Default()
	settings.Relay.BackendURL = "ftp://example.com"
	if _, err := NewServer(Config{Settings: settings, Logger: discard}); err == nil {
		t.Error("NewServer() should reject an unsupported backend scheme")
	}
}
