package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/weather-exporter/internal/validation"
)

const testUserAgent = "weather-exporter/1.0 ops@weather.no"

var envKeys = []string{
	"ENV_NAME",
	"WEATHER_USER_AGENT",
	"WEATHER_LOCATIONS",
	"PORT",
	"LOG_LEVEL",
	"WEATHER_POLL_INTERVAL",
	"CACHE_BACKEND",
	"MEMCACHED_ADDRS",
	"SQLITE_PATH",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeDotEnv(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

const minimalEnvYAML = `
user_agent: "weather-exporter/1.0 ops@weather.no"
locations:
  - Oslo
  - Bergen
`

func strPtr(s string) *string { return &s }

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_USER_AGENT", testUserAgent)
	t.Setenv("WEATHER_LOCATIONS", "Oslo")

	cfg, err := LoadFrom(t.TempDir(), Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want 5m", cfg.PollInterval)
	}
	if cfg.MinInterval != time.Minute || cfg.BackoffBase != time.Minute || cfg.BackoffMax != 30*time.Minute {
		t.Errorf("policy durations = %v/%v/%v, want 1m/1m/30m", cfg.MinInterval, cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 30s", cfg.UpstreamTimeout)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 1 {
		t.Errorf("rate limit = %v/%d, want 5/1", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
server:
  port: 9100
log_level: DEBUG
poll:
  interval: 10m
  min_interval: 2m
  backoff_base: 30s
  backoff_max: 15m
  jitter: 0
upstream:
  timeout: 5s
  rate_limit_rps: 2.5
  rate_limit_burst: 3
cache:
  backend: sqlite
  sqlite:
    path: /tmp/coords.db
shutdown:
  timeout: 20s
`)

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if got := strings.Join(cfg.Locations, "|"); got != "Oslo|Bergen" {
		t.Errorf("Locations = %q, want Oslo|Bergen", got)
	}
	if cfg.ServerPort != 9100 {
		t.Errorf("ServerPort = %d, want 9100", cfg.ServerPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PollInterval != 10*time.Minute || cfg.MinInterval != 2*time.Minute {
		t.Errorf("intervals = %v/%v, want 10m/2m", cfg.PollInterval, cfg.MinInterval)
	}
	if cfg.BackoffBase != 30*time.Second || cfg.BackoffMax != 15*time.Minute {
		t.Errorf("backoff = %v/%v, want 30s/15m", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.Jitter != 0 {
		t.Errorf("Jitter = %v, want 0", cfg.Jitter)
	}
	if cfg.UpstreamTimeout != 5*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 5s", cfg.UpstreamTimeout)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 3 {
		t.Errorf("rate limit = %v/%d, want 2.5/3", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.CacheBackend != "sqlite" || cfg.SQLitePath != "/tmp/coords.db" {
		t.Errorf("cache = %q %q, want sqlite /tmp/coords.db", cfg.CacheBackend, cfg.SQLitePath)
	}
	if cfg.ShutdownTimeout != 20*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 20s", cfg.ShutdownTimeout)
	}
}

func TestLoad_EnvNameSelectsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	prod := minimalEnvYAML + "server:\n  port: 9200\n"
	if err := os.WriteFile(filepath.Join(configDir, "prod.yaml"), []byte(prod), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("ENV_NAME", "prod")

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ServerPort != 9200 {
		t.Errorf("ServerPort = %d, want 9200 from prod.yaml", cfg.ServerPort)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
poll:
  interval: ""
  backoff_max: "not-a-duration"
`)

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want default 5m", cfg.PollInterval)
	}
	if cfg.BackoffMax != 30*time.Minute {
		t.Errorf("BackoffMax = %v, want default 30m", cfg.BackoffMax)
	}
}

func TestLoad_ValidationFailsWhenUpstreamTimeoutZero(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
upstream:
  timeout: 0s
`)

	cfg, err := LoadFrom(dir, Overrides{})
	if err == nil {
		t.Fatalf("LoadFrom() expected error, got %+v", cfg)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "UpstreamTimeout") {
		t.Errorf("error = %v, want mention of UpstreamTimeout", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "locations: [unterminated\n")

	_, err := LoadFrom(dir, Overrides{})
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("LoadFrom() error = %v, want parse config file error", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+"server:\n  port: 9100\n")
	t.Setenv("PORT", "9300")
	t.Setenv("WEATHER_LOCATIONS", "Tromsø, Stavanger")
	t.Setenv("WEATHER_POLL_INTERVAL", "2m")
	t.Setenv("CACHE_BACKEND", "MEMCACHED")
	t.Setenv("MEMCACHED_ADDRS", "cache1:11211,cache2:11211")
	t.Setenv("LOG_LEVEL", "warning")

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ServerPort != 9300 {
		t.Errorf("ServerPort = %d, want 9300", cfg.ServerPort)
	}
	if got := strings.Join(cfg.Locations, "|"); got != "Tromsø|Stavanger" {
		t.Errorf("Locations = %q, want Tromsø|Stavanger", got)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", cfg.PollInterval)
	}
	if cfg.CacheBackend != "memcached" || cfg.MemcachedAddrs != "cache1:11211,cache2:11211" {
		t.Errorf("cache = %q %q", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	t.Setenv("PORT", "ninety")

	_, err := LoadFrom(dir, Overrides{})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("LoadFrom() error = %v, want ErrInvalid", err)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeDotEnv(t, dir, "WEATHER_USER_AGENT=\"dotenv-agent/2.0 me@example.com\"\nWEATHER_LOCATIONS=Oslo\n")
	// godotenv sets process variables; drop them once the test ends.
	t.Cleanup(func() {
		os.Unsetenv("WEATHER_USER_AGENT")
		os.Unsetenv("WEATHER_LOCATIONS")
	})

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.UserAgent != "dotenv-agent/2.0 me@example.com" {
		t.Errorf("UserAgent = %q, want value from .env", cfg.UserAgent)
	}
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeDotEnv(t, dir, "PORT=9400\n")
	t.Setenv("PORT", "9500")

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ServerPort != 9500 {
		t.Errorf("ServerPort = %d, want 9500 from environment", cfg.ServerPort)
	}
}

func TestLoad_OverridesWin(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	t.Setenv("PORT", "9300")
	t.Setenv("LOG_LEVEL", "error")

	port := 9600
	poll := 90 * time.Second
	cfg, err := LoadFrom(dir, Overrides{
		UserAgent:    strPtr("flag-agent/3.0 (+https://example.net)"),
		Locations:    []string{"Lisbon"},
		Port:         &port,
		LogLevel:     strPtr("debug"),
		PollInterval: &poll,
	})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.UserAgent != "flag-agent/3.0 (+https://example.net)" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if len(cfg.Locations) != 1 || cfg.Locations[0] != "Lisbon" {
		t.Errorf("Locations = %v, want [Lisbon]", cfg.Locations)
	}
	if cfg.ServerPort != 9600 || cfg.LogLevel != "debug" || cfg.PollInterval != 90*time.Second {
		t.Errorf("overrides not applied: port=%d level=%q poll=%v", cfg.ServerPort, cfg.LogLevel, cfg.PollInterval)
	}
}

func TestLoad_LocationsCleaned(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
user_agent: "weather-exporter/1.0 ops@weather.no"
locations:
  - "  Oslo "
  - ""
  - Oslo
  - "St. John's"
`)

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if got := strings.Join(cfg.Locations, "|"); got != "Oslo|St. John's" {
		t.Errorf("Locations = %q, want Oslo|St. John's", got)
	}
}

func TestLoad_RejectsInvalidLocation(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	_, err := LoadFrom(dir, Overrides{Locations: []string{"Oslo; DROP TABLE"}})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
	if !errors.Is(err, validation.ErrLocationInvalidChars) {
		t.Errorf("error = %v, want ErrLocationInvalidChars", err)
	}
}

func TestLoad_RequiresLocations(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_USER_AGENT", testUserAgent)

	_, err := LoadFrom(t.TempDir(), Overrides{})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("error = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "Locations") {
		t.Errorf("error = %v, want mention of Locations", err)
	}
}

func TestLoad_UserAgentRules(t *testing.T) {
	tests := []struct {
		name     string
		ua       string
		wantErr  error
		wantWarn bool
	}{
		{"missing", "", validation.ErrUserAgentEmpty, false},
		{"too short", "a@b.c", validation.ErrUserAgentTooShort, false},
		{"no contact", "weatherexporter", validation.ErrUserAgentNoContact, false},
		{"placeholder warns", "test-app/1.0 test@example.com", nil, true},
		{"good", testUserAgent, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("WEATHER_LOCATIONS", "Oslo")
			if tt.ua != "" {
				t.Setenv("WEATHER_USER_AGENT", tt.ua)
			}

			cfg, err := LoadFrom(t.TempDir(), Overrides{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("error = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFrom() error = %v", err)
			}
			if got := len(cfg.Warnings) > 0; got != tt.wantWarn {
				t.Errorf("warnings = %v, wantWarn %v", cfg.Warnings, tt.wantWarn)
			}
		})
	}
}

func TestLoad_CacheBackendRules(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		sqlite  string
		wantErr bool
	}{
		{"in_memory", "in_memory", "", false},
		{"memcached uses default addrs", "memcached", "", false},
		{"sqlite", "sqlite", "/tmp/x.db", false},
		{"unknown", "redis", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, minimalEnvYAML)
			t.Setenv("CACHE_BACKEND", tt.backend)
			if tt.sqlite != "" {
				t.Setenv("SQLITE_PATH", tt.sqlite)
			}

			_, err := LoadFrom(dir, Overrides{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BackoffBaseAboveMax(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
poll:
  backoff_base: 1h
  backoff_max: 30m
`)

	_, err := LoadFrom(dir, Overrides{})
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "BackoffBase") {
		t.Fatalf("error = %v, want BackoffBase validation failure", err)
	}
}

func TestLoad_MinIntervalAbovePollWarns(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML+`
poll:
  interval: 1m
  min_interval: 3m
`)

	cfg, err := LoadFrom(dir, Overrides{})
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if len(cfg.Warnings) != 1 || !strings.Contains(cfg.Warnings[0], "min interval") {
		t.Errorf("Warnings = %v, want min interval warning", cfg.Warnings)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Minute, time.Minute},
		{"  ", time.Minute, time.Minute},
		{"bogus", time.Minute, time.Minute},
		{"0s", time.Minute, time.Minute},
		{"-5s", time.Minute, time.Minute},
		{"90s", time.Minute, 90 * time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Minute); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}
