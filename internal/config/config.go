package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/wolfeidau/stockpile/internal/client"
)

// Prefix is prepended to every environment variable name.
const Prefix = "STOCKPILE_"

// Store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config is the client side configuration, loaded from STOCKPILE_*
// environment variables and an optional .env file.
type Config struct {
	// Debug enables console logging at debug level.
	Debug bool `env:"DEBUG" envDefault:"false"`

	// Profile names the session, so several accounts can be signed in side
	// by side.
	Profile string `env:"PROFILE" envDefault:"default"`

	// Telemetry enables OTLP metric export.
	Telemetry bool `env:"TELEMETRY" envDefault:"false"`

	API   APIConfig
	Store StoreConfig
}

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL string        `env:"API_BASE_URL" envDefault:"http://localhost:8000/api/v1"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	// Cache enables the response cache for GET requests, on disk when
	// CacheDir is set.
	Cache    bool   `env:"CACHE" envDefault:"false"`
	CacheDir string `env:"CACHE_DIR"`

	RefreshMaxTries uint          `env:"REFRESH_MAX_TRIES" envDefault:"3"`
	RefreshTimeout  time.Duration `env:"REFRESH_TIMEOUT" envDefault:"30s"`
}

// StoreConfig selects where tokens are kept.
type StoreConfig struct {
	Kind string `env:"STORE" envDefault:"file"`

	// Dir is the session directory for the file store,
	// ~/.stockpile/sessions when empty.
	Dir string `env:"STORE_DIR"`

	RedisAddr string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisTTL  time.Duration `env:"REDIS_TTL" envDefault:"720h"`
}

// Load reads .env if present and parses the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	return Parse(nil)
}

// Parse builds a Config from environ, or the process environment when
// environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix, Environment: environ}); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *Config) Sanitize() {
	c.Profile = strings.TrimSpace(c.Profile)
	if c.Profile == "" {
		c.Profile = "default"
	}

	c.API.Sanitize()
	c.Store.Sanitize()
}

// Validate rejects configuration the client cannot run with.
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	return c.Store.Validate()
}

// Sanitize clamps timeouts and retry counts.
func (a *APIConfig) Sanitize() {
	a.BaseURL = strings.TrimSuffix(strings.TrimSpace(a.BaseURL), "/")

	if a.Timeout <= 0 {
		a.Timeout = 30 * time.Second
	}
	if a.RefreshTimeout <= 0 {
		a.RefreshTimeout = 30 * time.Second
	}

	// Clamp refresh attempts to 1-10
	if a.RefreshMaxTries < 1 {
		a.RefreshMaxTries = 1
	}
	if a.RefreshMaxTries > 10 {
		a.RefreshMaxTries = 10
	}
}

// Validate checks the base URL is absolute.
func (a *APIConfig) Validate() error {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid %sAPI_BASE_URL: %w", Prefix, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %sAPI_BASE_URL %q: scheme must be http or https", Prefix, a.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %sAPI_BASE_URL %q: missing host", Prefix, a.BaseURL)
	}
	return nil
}

// Client returns the HTTP client configuration for the active profile. The
// disk cache lives in a per profile subdirectory of CacheDir.
func (c Config) Client() client.Config {
	cc := c.API.Client()
	if cc.CacheDir != "" {
		cc.CacheDir = filepath.Join(cc.CacheDir, c.Profile)
	}
	return cc
}

// Client returns the HTTP client configuration.
func (a APIConfig) Client() client.Config {
	cfg := client.DefaultConfig()
	cfg.BaseURL = a.BaseURL
	cfg.Timeout = a.Timeout
	cfg.Cache = a.Cache
	cfg.CacheDir = a.CacheDir
	cfg.RefreshMaxTries = a.RefreshMaxTries
	cfg.RefreshTimeout = a.RefreshTimeout
	return cfg
}

// Sanitize normalises the backend name.
func (s *StoreConfig) Sanitize() {
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	if s.Kind == "" {
		s.Kind = StoreFile
	}
	if s.RedisTTL < 0 {
		s.RedisTTL = 0
	}
}

// Validate checks the backend is known.
func (s *StoreConfig) Validate() error {
	switch s.Kind {
	case StoreFile, StoreMemory:
		return nil
	case StoreRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("%sREDIS_ADDR is required for the redis store", Prefix)
		}
		return nil
	default:
		return fmt.Errorf("unknown %sSTORE %q: must be one of file, redis, memory", Prefix, s.Kind)
	}
}
