// Package mocksim implements a fake simulation backend speaking the
// landing-bay WebSocket protocol. It is used by tests and by the
// mock-sim-server development binary.
package mocksim

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landingbay/rlbridge/internal/protocol"
)

// Options controls the fake backend.
type Options struct {
	// Steps is the number of state frames per auto episode. Default 5.
	Steps int
	// TrainEpisodes is the number of training episodes per train run. Default 3.
	TrainEpisodes int
	// Interval is the delay between scripted frames.
	Interval time.Duration
	// Accept decides whether a token may open a session. Default: any non-empty token.
	Accept func(token string) bool
	// UpgradeDelay stalls every upgrade, simulating a slow backend.
	UpgradeDelay time.Duration
	// RejectStatus, when non-zero, answers every upgrade with this status.
	RejectStatus int
	// Script replaces the built-in simulator for each accepted peer.
	Script func(p *Peer)
	// Logger receives debug output. Nil discards it.
	Logger *slog.Logger
}

// Episode is a completed episode, shaped like the backend's history rows.
type Episode struct {
	ID              int       `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Success         bool      `json:"success"`
	FuelUsed        float64   `json:"fuel_used"`
	LandingAccuracy float64   `json:"landing_accuracy"`
}

// Server is the fake backend.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu       sync.Mutex
	tokens   []string
	peers    []*Peer
	episodes map[string][]Episode
	nextID   int

	accepted chan *Peer
}

// New creates a fake backend.
func New(opts Options) *Server {
	if opts.Steps <= 0 {
		opts.Steps = 5
	}
	if opts.TrainEpisodes <= 0 {
		opts.TrainEpisodes = 3
	}
	if opts.Accept == nil {
		opts.Accept = func(token string) bool { return token != "" }
	}
	return &Server{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		episodes: make(map[string][]Episode),
		accepted: make(chan *Peer, 16),
	}
}

// Handler returns the backend routes: /ws/simulate, /episodes and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/simulate", s.handleSimulate)
	mux.HandleFunc("/episodes", s.handleEpisodes)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Tokens returns the tokens presented on every dial, in order.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Dials returns the number of upgrade attempts seen.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Accepted delivers each peer once its upgrade completes.
func (s *Server) Accepted() <-chan *Peer {
	return s.accepted
}

// Episodes returns the history recorded for token.
func (s *Server) Episodes(token string) []Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Episode(nil), s.episodes[token]...)
}

// Close disconnects every peer.
func (s *Server) Close() {
	s.mu.Lock()
	peers := append([]*Peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			token = auth
		}
	}

	s.mu.Lock()
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()

	if s.opts.UpgradeDelay > 0 {
		select {
		case <-time.After(s.opts.UpgradeDelay):
		case <-r.Context().Done():
			return
		}
	}
	if s.opts.RejectStatus != 0 {
		http.Error(w, http.StatusText(s.opts.RejectStatus), s.opts.RejectStatus)
		return
	}
	if !s.opts.Accept(token) {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &Peer{conn: conn, Token: token}

	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()

	select {
	case s.accepted <- p:
	default:
	}

	s.debug("Peer connected", "token_len", len(token))
	if s.opts.Script != nil {
		s.opts.Script(p)
		return
	}
	s.simulate(p)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !s.opts.Accept(token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
		return
	}
	episodes := s.Episodes(token)
	if episodes == nil {
		episodes = []Episode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

// RecordEpisode appends a history row for token.
func (s *Server) RecordEpisode(token string, res protocol.Result) Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ep := Episode{
		ID:              s.nextID,
		Timestamp:       time.Now().UTC(),
		Success:         res.Success,
		FuelUsed:        res.FuelUsed,
		LandingAccuracy: res.LandingAccuracy,
	}
	// Newest first, matching the backend ordering.
	s.episodes[token] = append([]Episode{ep}, s.episodes[token]...)
	return ep
}

func (s *Server) debug(msg string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Debug(msg, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
