// Package config handles TOML (or YAML) configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/relay-proxy/config.toml",
	"configs/config.toml",
}

// ReservedPrefix is the path prefix the proxy keeps for its own endpoints.
const ReservedPrefix = "/_relay"

// Paths served by the proxy itself rather than the wrapped application.
const (
	HealthzPath = ReservedPrefix + "/healthz"
	StatusPath  = ReservedPrefix + "/status"
)

const (
	defaultRelayTimeout   = 3 * time.Second
	defaultRelayBufferMax = 64 * 1024 * 1024
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	AppURL    string `kong:"name='app-url',help='Wrapped application base URL (overrides config).',env='APP_URL'"`
	RelayHost string `kong:"help='Relay endpoint host (overrides config).',env='RELAY_HOST'"`
	RelayPort int    `kong:"help='Relay endpoint port (overrides config).',env='RELAY_PORT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server"`
	App     AppConfig     `toml:"app" yaml:"app"`
	Relay   RelayConfig   `toml:"relay" yaml:"relay"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// AppConfig holds connection settings for the wrapped application.
type AppConfig struct {
	BaseURL         string `toml:"base_url" yaml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections" yaml:"idle_connections"`
}

// RelayConfig holds the relay endpoint settings. The relay channel is plain,
// unauthenticated TCP; AcknowledgePlaintext must be set to accept that.
type RelayConfig struct {
	Host                 string `toml:"host" yaml:"host"`
	Port                 int    `toml:"port" yaml:"port"`
	TimeoutMS            int    `toml:"timeout_ms" yaml:"timeout_ms"`
	BufferMaxBytes       int    `toml:"buffer_max_bytes" yaml:"buffer_max_bytes"`
	AcknowledgePlaintext bool   `toml:"acknowledge_plaintext" yaml:"acknowledge_plaintext"`
	CookiePolicy         string `toml:"cookie_policy" yaml:"cookie_policy"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/relay-proxy/config.toml then configs/config.toml. Files ending in
// .yaml or .yml are parsed as YAML, everything else as TOML.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.AppURL != "" {
		c.App.BaseURL = cli.AppURL
	}
	if cli.RelayHost != "" {
		c.Relay.Host = cli.RelayHost
	}
	if cli.RelayPort != 0 {
		c.Relay.Port = cli.RelayPort
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Wrapped application URL: required, http or https.
	if c.App.BaseURL == "" {
		return fmt.Errorf("app.base_url is required")
	}
	u, err := url.Parse(c.App.BaseURL)
	if err != nil {
		return fmt.Errorf("app.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("app.base_url must use http or https; got %q", c.App.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("app.base_url has no host; got %q", c.App.BaseURL)
	}

	// Relay endpoint.
	if c.Relay.Host == "" {
		return fmt.Errorf("relay.host is required")
	}
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be 1–65535; got %d", c.Relay.Port)
	}
	if !c.Relay.AcknowledgePlaintext {
		return fmt.Errorf("relay channel is unauthenticated plaintext TCP and overrides every response; set relay.acknowledge_plaintext = true to accept")
	}
	switch strings.ToLower(c.Relay.CookiePolicy) {
	case "", "skip", "strict":
		// valid
	default:
		return fmt.Errorf("relay.cookie_policy must be one of: skip, strict; got %q", c.Relay.CookiePolicy)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.App.TimeoutSeconds < 0 {
		return fmt.Errorf("app.timeout_seconds must be non-negative; got %d", c.App.TimeoutSeconds)
	}
	if c.App.IdleConnections < 0 {
		return fmt.Errorf("app.idle_connections must be non-negative; got %d", c.App.IdleConnections)
	}
	if c.Relay.TimeoutMS < 0 {
		return fmt.Errorf("relay.timeout_ms must be non-negative; got %d", c.Relay.TimeoutMS)
	}
	if c.Relay.BufferMaxBytes < 0 {
		return fmt.Errorf("relay.buffer_max_bytes must be non-negative; got %d", c.Relay.BufferMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{HealthzPath, StatusPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.App.TimeoutSeconds == 0 {
		c.App.TimeoutSeconds = 120
	}
	if c.App.IdleConnections == 0 {
		c.App.IdleConnections = 100
	}
	if c.Relay.TimeoutMS == 0 {
		c.Relay.TimeoutMS = int(defaultRelayTimeout / time.Millisecond)
	}
	if c.Relay.BufferMaxBytes == 0 {
		c.Relay.BufferMaxBytes = defaultRelayBufferMax
	}
	if c.Relay.CookiePolicy == "" {
		c.Relay.CookiePolicy = "skip"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = ReservedPrefix + "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the relay endpoint as host:port.
func (c *RelayConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Timeout returns the relay round-trip timeout, 3s when unset.
func (c *RelayConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return defaultRelayTimeout
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// BufferMax returns the relay buffer ceiling, 64 MiB when unset.
func (c *RelayConfig) BufferMax() int {
	if c.BufferMaxBytes <= 0 {
		return defaultRelayBufferMax
	}
	return c.BufferMaxBytes
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
