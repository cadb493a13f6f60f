package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/landingbay/rlbridge/internal/config"
	"github.com/landingbay/rlbridge/internal/session"
)

// Client provides HTTP methods for the dashboard REST API and opens relayed
// simulation sessions. It is safe for concurrent use.
type Client struct {
	baseURL        string // dashboard base URL, always ending in "/"
	token          string
	cookieName     string
	connectTimeout time.Duration
	httpClient     *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithToken sets the bearer credential sent as the session cookie.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// WithCookieName overrides the credential cookie name. Default is "jwt_token".
func WithCookieName(name string) Option {
	return func(client *Client) {
		client.cookieName = name
	}
}

// WithConnectTimeout bounds connect plus readiness for sessions opened by Connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.connectTimeout = d
	}
}

// New creates a new dashboard client.
// baseURL is the dashboard address including the base path
// (e.g., "http://localhost:3000/landing-bay-rl/").
func New(baseURL string, opts ...Option) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c := &Client{
		baseURL:        baseURL,
		cookieName:     config.DefaultCookieName,
		connectTimeout: config.DefaultConnectTimeout,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiURL builds a full API URL below the base path.
func (c *Client) apiURL(path string) string {
	return c.baseURL + "api/" + strings.TrimPrefix(path, "/")
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Episode is one row of the episode history.
type Episode struct {
	ID              int       `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Success         bool      `json:"success"`
	FuelUsed        float64   `json:"fuel_used"`
	LandingAccuracy float64   `json:"landing_accuracy"`
}

// HealthInfo is the response of the health endpoint.
type HealthInfo struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Sessions  int       `json:"sessions"`
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ListEpisodes returns the episode history of the authenticated user,
// newest first.
func (c *Client) ListEpisodes(ctx context.Context) ([]Episode, error) {
	var episodes []Episode
	if err := c.getJSON(ctx, "list episodes", c.apiURL("py/episodes"), &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// Health queries the relay server's health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var info HealthInfo
	if err := c.getJSON(ctx, "health", c.apiURL("health"), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, op, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.token})
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// Connect returns an idle session controller bound to this client's
// dashboard and credential. The transport opens on the first Start.
func (c *Client) Connect(callbacks session.Callbacks) (*session.Controller, error) {
	return session.New(session.Options{
		URL:            c.baseURL,
		Token:          c.token,
		CookieName:     c.cookieName,
		ConnectTimeout: c.connectTimeout,
		Callbacks:      callbacks,
	})
}
