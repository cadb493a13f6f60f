// Package config handles configuration loading and management for rlbridge.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration.
const (
	EnvConfigPath = "RLBRIDGE_CONFIG"
	EnvBackendURL = "PYTHON_API_URL"
	EnvBasePath   = "RLBRIDGE_BASE_PATH"
	EnvJWTSecret  = "RLBRIDGE_JWT_SECRET"
	EnvToken      = "RLBRIDGE_TOKEN"
)

// Defaults. They match the values used by the dashboard deployment.
const (
	DefaultListen           = "127.0.0.1:3000"
	DefaultBasePath         = "/landing-bay-rl/"
	DefaultBackendURL       = "http://localhost:8000"
	DefaultCookieName       = "jwt_token"
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultQueueSize        = 256
	DefaultWriteWait        = 10 * time.Second

	MinHandshakeTimeout = 5 * time.Second
	MaxHandshakeTimeout = 10 * time.Second
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration that reads and writes as a Go duration string
// ("5s", "1m30s") in every supported file format.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// ServerConfig configures the HTTP server hosting the relay endpoint.
type ServerConfig struct {
	// Listen is the TCP address the server binds to.
	Listen string `yaml:"listen" json:"listen" toml:"listen"`
	// BasePath prefixes every route. It must start and end with "/".
	BasePath string `yaml:"base_path" json:"base_path" toml:"base_path"`
	// TrustedProxies lists IPs/CIDRs whose X-Forwarded-For headers are honored.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies" toml:"trusted_proxies"`
	// AccessLog is the path of the security access log. Empty disables it.
	AccessLog string `yaml:"access_log" json:"access_log" toml:"access_log"`
	// EnableHSTS sets Strict-Transport-Security; only useful behind HTTPS.
	EnableHSTS bool `yaml:"enable_hsts" json:"enable_hsts" toml:"enable_hsts"`
}

// RateLimitConfig bounds connection attempts per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" json:"rps" toml:"rps"`
	Burst             int     `yaml:"burst" json:"burst" toml:"burst"`
}

// RelayConfig configures the server-side relay.
type RelayConfig struct {
	// BackendURL is the base URL of the simulation backend (http(s) or ws(s)).
	BackendURL string `yaml:"backend_url" json:"backend_url" toml:"backend_url"`
	// CookieName is the cookie carrying the bearer credential.
	CookieName string `yaml:"cookie_name" json:"cookie_name" toml:"cookie_name"`
	// JWTSecret enables HS256 verification of the credential at accept time.
	// Empty means the credential is treated as opaque.
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" toml:"jwt_secret"`
	// HandshakeTimeout bounds the time for both legs to open.
	HandshakeTimeout Duration `yaml:"handshake_timeout" json:"handshake_timeout" toml:"handshake_timeout"`
	// WriteWait is the time allowed to write one frame.
	WriteWait Duration `yaml:"write_wait" json:"write_wait" toml:"write_wait"`
	// PongWait is how long the client leg may stay silent before it is dropped.
	PongWait Duration `yaml:"pong_wait" json:"pong_wait" toml:"pong_wait"`
	// PingPeriod is the keepalive interval on the client leg. Must be below PongWait.
	PingPeriod Duration `yaml:"ping_period" json:"ping_period" toml:"ping_period"`
	// MaxMessageSize is the largest frame accepted on either leg, in bytes.
	MaxMessageSize int64 `yaml:"max_message_size" json:"max_message_size" toml:"max_message_size"`
	// QueueSize bounds the frames waiting to be written on each leg.
	QueueSize int `yaml:"queue_size" json:"queue_size" toml:"queue_size"`
	// MaxConnectionsPerIP caps concurrent sessions from one client IP.
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip" json:"max_connections_per_ip" toml:"max_connections_per_ip"`
	// AllowedOrigins lists browser origins accepted on upgrade. Empty means same-origin.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
	// RateLimit bounds connection attempts per client IP.
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
}

// ClientConfig configures the terminal session controller.
type ClientConfig struct {
	// URL is the dashboard base URL, including the base path.
	URL string `yaml:"url" json:"url" toml:"url"`
	// Token is the bearer credential sent as the relay cookie.
	Token string `yaml:"token" json:"token" toml:"token"`
	// ConnectTimeout bounds connect + readiness.
	ConnectTimeout Duration `yaml:"connect_timeout" json:"connect_timeout" toml:"connect_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string   `yaml:"level" json:"level" toml:"level"`
	File       string   `yaml:"file" json:"file" toml:"file"`
	MaxSizeMB  int      `yaml:"max_size_mb" json:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups" json:"max_backups" toml:"max_backups"`
	JSON       bool     `yaml:"json" json:"json" toml:"json"`
	Components []string `yaml:"components" json:"components" toml:"components"`
}

// Config represents the complete rlbridge configuration.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server" toml:"server"`
	Relay  RelayConfig  `yaml:"relay" json:"relay" toml:"relay"`
	Client ClientConfig `yaml:"client" json:"client" toml:"client"`
	Log    LogConfig    `yaml:"log" json:"log" toml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   DefaultListen,
			BasePath: DefaultBasePath,
		},
		Relay: RelayConfig{
			BackendURL:          DefaultBackendURL,
			CookieName:          DefaultCookieName,
			HandshakeTimeout:    Duration(DefaultHandshakeTimeout),
			WriteWait:           Duration(DefaultWriteWait),
			PongWait:            Duration(60 * time.Second),
			PingPeriod:          Duration(54 * time.Second),
			MaxMessageSize:      64 * 1024,
			QueueSize:           DefaultQueueSize,
			MaxConnectionsPerIP: 4,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 2,
				Burst:             5,
			},
		},
		Client: ClientConfig{
			URL:            "http://" + DefaultListen + DefaultBasePath,
			ConnectTimeout: Duration(DefaultConnectTimeout),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultConfigPath returns the default configuration file path for the current platform.
func DefaultConfigPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, "rlbridge", "config.yaml")
}

// Load reads, decodes, overrides from the environment and validates the
// configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, Format(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if given. With an empty path the default location
// is tried and a missing file falls back to Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	path = DefaultConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Format returns the file format implied by the path extension:
// "yaml", "json" (comments allowed) or "toml".
func Format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Parse decodes data in the given format over Default(), applies environment
// overrides and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()

	switch format {
	case "json":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalid, format)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Relay.BackendURL = v
	}
	if v := os.Getenv(EnvBasePath); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Relay.JWTSecret = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Client.Token = v
	}
}

// Validate checks invariants that the relay and controller rely on.
func (c *Config) Validate() error {
	var errs []error

	if !strings.HasPrefix(c.Server.BasePath, "/") || !strings.HasSuffix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start and end with a slash", c.Server.BasePath))
	}
	if c.Relay.BackendURL == "" {
		errs = append(errs, errors.New("relay.backend_url is required"))
	}
	if c.Relay.CookieName == "" {
		errs = append(errs, errors.New("relay.cookie_name is required"))
	}
	if ht := c.Relay.HandshakeTimeout.D(); ht < MinHandshakeTimeout || ht > MaxHandshakeTimeout {
		errs = append(errs, fmt.Errorf("relay.handshake_timeout %s must be between %s and %s",
			ht, MinHandshakeTimeout, MaxHandshakeTimeout))
	}
	if c.Relay.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.queue_size must be positive, got %d", c.Relay.QueueSize))
	}
	if c.Relay.PingPeriod.D() <= 0 || c.Relay.PingPeriod >= c.Relay.PongWait {
		errs = append(errs, fmt.Errorf("relay.ping_period %s must be positive and below pong_wait %s",
			c.Relay.PingPeriod.D(), c.Relay.PongWait.D()))
	}
	if c.Relay.WriteWait.D() <= 0 {
		errs = append(errs, errors.New("relay.write_wait must be positive"))
	}
	if c.Relay.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("relay.max_message_size must be positive"))
	}
	if c.Client.ConnectTimeout.D() <= 0 {
		errs = append(errs, errors.New("client.connect_timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
