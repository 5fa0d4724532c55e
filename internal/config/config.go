package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-exporter/internal/cache"
	"github.com/kjstillabower/weather-exporter/internal/validation"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config holds exporter configuration resolved from defaults, the optional
// YAML file, the environment and command-line overrides.
type Config struct {
	UserAgent string   `validate:"required"`
	Locations []string `validate:"required,min=1,dive,required"`

	ServerPort int    `validate:"min=1,max=65535"`
	LogLevel   string `validate:"oneof=debug info warn error"`

	PollInterval time.Duration `validate:"min=1s"`
	MinInterval  time.Duration `validate:"min=1s"`
	BackoffBase  time.Duration `validate:"min=1s,ltefield=BackoffMax"`
	BackoffMax   time.Duration `validate:"min=1s"`
	Jitter       float64       `validate:"min=0,max=1"`

	SearchURL       string        `validate:"omitempty,url"`
	ForecastURL     string        `validate:"omitempty,url"`
	UpstreamTimeout time.Duration `validate:"min=1s"`
	RateLimitRPS    float64       `validate:"gt=0"`
	RateLimitBurst  int           `validate:"min=1"`

	CacheBackend          string `validate:"oneof=in_memory memcached sqlite"`
	MemcachedAddrs        string `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int    `validate:"min=0"`
	SQLitePath            string `validate:"required_if=CacheBackend sqlite"`

	ShutdownTimeout time.Duration `validate:"min=0"`

	// Warnings collects non-fatal findings, such as a placeholder user agent.
	Warnings []string `validate:"-"`
}

// Overrides carries command-line values. Nil or empty fields leave the lower
// layers untouched.
type Overrides struct {
	UserAgent    *string
	Locations    []string
	Port         *int
	LogLevel     *string
	PollInterval *time.Duration
}

type fileConfig struct {
	UserAgent string   `yaml:"user_agent"`
	Locations []string `yaml:"locations"`
	LogLevel  string   `yaml:"log_level"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Poll struct {
		Interval    string   `yaml:"interval"`
		MinInterval string   `yaml:"min_interval"`
		BackoffBase string   `yaml:"backoff_base"`
		BackoffMax  string   `yaml:"backoff_max"`
		Jitter      *float64 `yaml:"jitter"`
	} `yaml:"poll"`

	Upstream struct {
		SearchURL      string  `yaml:"search_url"`
		ForecastURL    string  `yaml:"forecast_url"`
		Timeout        string  `yaml:"timeout"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"upstream"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"cache"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Defaults returns the configuration used when no layer sets a value.
func Defaults() *Config {
	return &Config{
		ServerPort:       9090,
		LogLevel:         "info",
		PollInterval:     5 * time.Minute,
		MinInterval:      time.Minute,
		BackoffBase:      time.Minute,
		BackoffMax:       30 * time.Minute,
		Jitter:           0.1,
		UpstreamTimeout:  30 * time.Second,
		RateLimitRPS:     5,
		RateLimitBurst:   1,
		CacheBackend:     cache.BackendInMemory,
		MemcachedAddrs:   "localhost:11211",
		MemcachedTimeout: 500 * time.Millisecond,
		SQLitePath:       "weather-exporter.db",
		ShutdownTimeout:  10 * time.Second,
	}
}

// Load resolves configuration relative to the working directory.
func Load(o Overrides) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd, o)
}

// LoadFrom resolves configuration with dir as the project root: defaults, then
// dir/config/{ENV_NAME}.yaml (default dev) when present, then dir/.env and the
// process environment, then o.
func LoadFrom(dir string, o Overrides) (*Config, error) {
	cfg := Defaults()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyFile(cfg, &fc)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyOverrides(cfg, o)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if s := strings.TrimSpace(fc.UserAgent); s != "" {
		cfg.UserAgent = s
	}
	if len(fc.Locations) > 0 {
		cfg.Locations = fc.Locations
	}
	if s := strings.TrimSpace(fc.LogLevel); s != "" {
		cfg.LogLevel = s
	}
	if fc.Server.Port > 0 {
		cfg.ServerPort = fc.Server.Port
	}

	cfg.PollInterval = parseDuration(fc.Poll.Interval, cfg.PollInterval)
	cfg.MinInterval = parseDuration(fc.Poll.MinInterval, cfg.MinInterval)
	cfg.BackoffBase = parseDuration(fc.Poll.BackoffBase, cfg.BackoffBase)
	cfg.BackoffMax = parseDuration(fc.Poll.BackoffMax, cfg.BackoffMax)
	if fc.Poll.Jitter != nil {
		cfg.Jitter = *fc.Poll.Jitter
	}

	if s := strings.TrimSpace(fc.Upstream.SearchURL); s != "" {
		cfg.SearchURL = s
	}
	if s := strings.TrimSpace(fc.Upstream.ForecastURL); s != "" {
		cfg.ForecastURL = s
	}
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, cfg.UpstreamTimeout)
	if fc.Upstream.RateLimitRPS > 0 {
		cfg.RateLimitRPS = fc.Upstream.RateLimitRPS
	}
	if fc.Upstream.RateLimitBurst > 0 {
		cfg.RateLimitBurst = fc.Upstream.RateLimitBurst
	}

	if s := strings.TrimSpace(fc.Cache.Backend); s != "" {
		cfg.CacheBackend = s
	}
	if s := strings.TrimSpace(fc.Cache.Memcached.Addrs); s != "" {
		cfg.MemcachedAddrs = s
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, cfg.MemcachedTimeout)
	if fc.Cache.Memcached.MaxIdleConns > 0 {
		cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	}
	if s := strings.TrimSpace(fc.Cache.SQLite.Path); s != "" {
		cfg.SQLitePath = s
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, cfg.ShutdownTimeout)
}

func applyEnv(cfg *Config) error {
	if s := strings.TrimSpace(os.Getenv("WEATHER_USER_AGENT")); s != "" {
		cfg.UserAgent = s
	}
	if s := os.Getenv("WEATHER_LOCATIONS"); strings.TrimSpace(s) != "" {
		cfg.Locations = validation.SplitLocations(s)
	}
	if s := strings.TrimSpace(os.Getenv("PORT")); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%w: PORT must be a number, got %q", ErrInvalid, s)
		}
		cfg.ServerPort = port
	}
	if s := strings.TrimSpace(os.Getenv("LOG_LEVEL")); s != "" {
		cfg.LogLevel = s
	}
	if s := strings.TrimSpace(os.Getenv("WEATHER_POLL_INTERVAL")); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: WEATHER_POLL_INTERVAL: %v", ErrInvalid, err)
		}
		cfg.PollInterval = d
	}
	if s := strings.TrimSpace(os.Getenv("CACHE_BACKEND")); s != "" {
		cfg.CacheBackend = s
	}
	if s := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); s != "" {
		cfg.MemcachedAddrs = s
	}
	if s := strings.TrimSpace(os.Getenv("SQLITE_PATH")); s != "" {
		cfg.SQLitePath = s
	}
	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.UserAgent != nil {
		cfg.UserAgent = strings.TrimSpace(*o.UserAgent)
	}
	if len(o.Locations) > 0 {
		cfg.Locations = o.Locations
	}
	if o.Port != nil {
		cfg.ServerPort = *o.Port
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.PollInterval != nil {
		cfg.PollInterval = *o.PollInterval
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is so validation can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New()

// validate normalizes cfg in place and checks it. Locations are cleaned and
// deduplicated; a weak user agent adds a warning instead of failing.
func validate(cfg *Config) error {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))

	ua, warnings, err := validation.ValidateUserAgent(cfg.UserAgent)
	if err != nil {
		return fmt.Errorf("%w: user agent: %w", ErrInvalid, err)
	}
	cfg.UserAgent = ua
	cfg.Warnings = append(cfg.Warnings, warnings...)

	locations, err := validation.CleanLocations(cfg.Locations)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.Locations = locations

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if cfg.MinInterval > cfg.PollInterval {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("min interval %s exceeds poll interval %s", cfg.MinInterval, cfg.PollInterval))
	}
	return nil
}
