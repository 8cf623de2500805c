package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// requiredSections is the smallest config that passes validation.
const requiredSections = `
[app]
base_url = "http://127.0.0.1:8080"

[relay]
host = "127.0.0.1"
port = 8023
acknowledge_plaintext = true
`

// writeConfig writes data to a file named name in a fresh temp dir.
func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[app]
base_url = "http://app.internal:8080"
timeout_seconds = 60
idle_connections = 50

[relay]
host = "10.0.0.2"
port = 8023
timeout_ms = 1500
buffer_max_bytes = 1048576
acknowledge_plaintext = true
cookie_policy = "strict"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.App.BaseURL != "http://app.internal:8080" {
		t.Errorf("App.BaseURL = %q, want %q", cfg.App.BaseURL, "http://app.internal:8080")
	}
	if cfg.App.TimeoutSeconds != 60 {
		t.Errorf("App.TimeoutSeconds = %d, want %d", cfg.App.TimeoutSeconds, 60)
	}
	if got := cfg.Relay.Addr(); got != "10.0.0.2:8023" {
		t.Errorf("Relay.Addr() = %q, want %q", got, "10.0.0.2:8023")
	}
	if got := cfg.Relay.Timeout(); got != 1500*time.Millisecond {
		t.Errorf("Relay.Timeout() = %v, want %v", got, 1500*time.Millisecond)
	}
	if got := cfg.Relay.BufferMax(); got != 1048576 {
		t.Errorf("Relay.BufferMax() = %d, want %d", got, 1048576)
	}
	if cfg.Relay.CookiePolicy != "strict" {
		t.Errorf("Relay.CookiePolicy = %q, want %q", cfg.Relay.CookiePolicy, "strict")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  port: 9100
app:
  base_url: http://127.0.0.1:8080
relay:
  host: relay.local
  port: 9023
  timeout_ms: 250
  acknowledge_plaintext: true
log:
  format: text
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9100)
	}
	if got := cfg.Relay.Addr(); got != "relay.local:9023" {
		t.Errorf("Relay.Addr() = %q, want %q", got, "relay.local:9023")
	}
	if got := cfg.Relay.Timeout(); got != 250*time.Millisecond {
		t.Errorf("Relay.Timeout() = %v, want %v", got, 250*time.Millisecond)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "config.toml", requiredSections)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Relay.TimeoutMS != 3000 {
		t.Errorf("default Relay.TimeoutMS = %d, want %d", cfg.Relay.TimeoutMS, 3000)
	}
	if cfg.Relay.BufferMaxBytes != 64*1024*1024 {
		t.Errorf("default Relay.BufferMaxBytes = %d, want %d", cfg.Relay.BufferMaxBytes, 64*1024*1024)
	}
	if cfg.Relay.CookiePolicy != "skip" {
		t.Errorf("default Relay.CookiePolicy = %q, want %q", cfg.Relay.CookiePolicy, "skip")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/_relay/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/_relay/metrics")
	}
}

func TestLoad_ShippedExample(t *testing.T) {
	cfg, err := Load(cliWithPath(filepath.Join("..", "..", "configs", "config.toml")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Relay.Addr(); got != "127.0.0.1:8023" {
		t.Errorf("Relay.Addr() = %q, want %q", got, "127.0.0.1:8023")
	}
	if cfg.App.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("App.BaseURL = %q, want %q", cfg.App.BaseURL, "http://127.0.0.1:8080")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, "config.toml", requiredSections+`
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`)

	cli := &CLI{
		Config:    path,
		Host:      "127.0.0.1",
		Port:      3000,
		AppURL:    "https://app.example:8443",
		RelayHost: "relay.example",
		RelayPort: 9999,
		LogLevel:  "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.App.BaseURL != "https://app.example:8443" {
		t.Errorf("App.BaseURL = %q, want %q (CLI override)", cfg.App.BaseURL, "https://app.example:8443")
	}
	if cfg.Relay.Host != "relay.example" || cfg.Relay.Port != 9999 {
		t.Errorf("Relay = %s, want relay.example:9999 (CLI override)", cfg.Relay.Addr())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name: "missing app url",
			data: `
[relay]
host = "127.0.0.1"
port = 8023
acknowledge_plaintext = true
`,
			wantMsg: "app.base_url",
		},
		{
			name: "non-http app url",
			data: `
[app]
base_url = "ftp://127.0.0.1"

[relay]
host = "127.0.0.1"
port = 8023
acknowledge_plaintext = true
`,
			wantMsg: "http or https",
		},
		{
			name: "missing relay host",
			data: `
[app]
base_url = "http://127.0.0.1:8080"

[relay]
port = 8023
acknowledge_plaintext = true
`,
			wantMsg: "relay.host",
		},
		{
			name: "relay port out of range",
			data: `
[app]
base_url = "http://127.0.0.1:8080"

[relay]
host = "127.0.0.1"
port = 70000
acknowledge_plaintext = true
`,
			wantMsg: "relay.port",
		},
		{
			name: "plaintext not acknowledged",
			data: `
[app]
base_url = "http://127.0.0.1:8080"

[relay]
host = "127.0.0.1"
port = 8023
`,
			wantMsg: "acknowledge_plaintext",
		},
		{
			name:    "unknown cookie policy",
			data:    requiredSections + "cookie_policy = \"abort\"\n",
			wantMsg: "cookie_policy",
		},
		{
			name:    "negative relay timeout",
			data:    requiredSections + "timeout_ms = -1\n",
			wantMsg: "relay.timeout_ms",
		},
		{
			name:    "negative relay buffer",
			data:    requiredSections + "buffer_max_bytes = -1\n",
			wantMsg: "relay.buffer_max_bytes",
		},
		{
			name:    "negative port",
			data:    requiredSections + "\n[server]\nport = -1\n",
			wantMsg: "server.port",
		},
		{
			name:    "negative body max bytes",
			data:    requiredSections + "\n[server]\nbody_max_bytes = -1\n",
			wantMsg: "server.body_max_bytes",
		},
		{
			name:    "invalid log level",
			data:    requiredSections + "\n[log]\nlevel = \"verbose\"\n",
			wantMsg: "log.level",
		},
		{
			name:    "invalid log format",
			data:    requiredSections + "\n[log]\nformat = \"xml\"\n",
			wantMsg: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, "config.toml", tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_NegativeAppTimeout(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[app]
base_url = "http://127.0.0.1:8080"
timeout_seconds = -5

[relay]
host = "127.0.0.1"
port = 8023
acknowledge_plaintext = true
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, "config.toml", requiredSections+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, "config.toml", requiredSections+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "config.toml", "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "config.toml", requiredSections)

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "config.toml", requiredSections)
	path2 := writeConfig(t, "config.toml", requiredSections)

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, "config.toml", requiredSections+`
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithReservedRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz", "/_relay/healthz"},
		{"healthz sub", "/_relay/healthz/metrics"},
		{"status", "/_relay/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, "config.toml", requiredSections+`
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "config.toml", requiredSections+`
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestRelayConfig_Fallbacks(t *testing.T) {
	rc := &RelayConfig{Host: "::1", Port: 8023}
	if got := rc.Addr(); got != "[::1]:8023" {
		t.Errorf("Addr() = %q, want %q", got, "[::1]:8023")
	}
	if got := rc.Timeout(); got != 3*time.Second {
		t.Errorf("Timeout() = %v, want 3s", got)
	}
	if got := rc.BufferMax(); got != 64*1024*1024 {
		t.Errorf("BufferMax() = %d, want 64 MiB", got)
	}
}
