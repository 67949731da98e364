// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/oshimpathan/sharesathi/cache"
)

// Config holds all application configuration
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	// OriginURL is the single-page application being fronted.
	OriginURL string `env:"ORIGIN_URL" envDefault:"http://localhost:5173"`
	// UpstreamTimeout bounds every request to the origin, including live
	// revalidation fetches.
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	Cache CacheConfig
	Queue QueueConfig
}

// CacheConfig holds the offline cache settings
type CacheConfig struct {
	Version   string   `env:"CACHE_VERSION" envDefault:"sharesathi-v1"`
	Assets    []string `env:"CACHE_STATIC_ASSETS" envDefault:"/,/logo.png,/manifest.json" envSeparator:","`
	APIPrefix string   `env:"CACHE_API_PREFIX" envDefault:"/api"`
	// DataBackend marks data-backend paths anywhere in the URL path.
	DataBackend string `env:"CACHE_DATA_BACKEND" envDefault:"insforge"`
	Driver      string `env:"CACHE_DRIVER" envDefault:"file"`
	// DSN is driver specific: a directory, a sqlite file, a redis address or
	// a postgres URL. Empty selects the driver default where there is one.
	DSN string `env:"CACHE_DSN"`
}

// QueueConfig holds the deploy queue settings
type QueueConfig struct {
	RedisAddr   string `env:"REDIS_ADDR"`
	Name        string `env:"DEPLOY_QUEUE" envDefault:"deploys"`
	Concurrency int    `env:"DEPLOY_CONCURRENCY" envDefault:"1"`
	MaxRetry    int    `env:"DEPLOY_MAX_RETRY" envDefault:"5"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Cache.Assets = trimAssets(cfg.Cache.Assets)
	return cfg, nil
}

// HasQueue returns true if deploys go through the asynq queue
func (c *Config) HasQueue() bool {
	return c.Queue.RedisAddr != ""
}

// Origin returns the parsed origin URL.
func (c *Config) Origin() (*url.URL, error) {
	u, err := url.Parse(c.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ORIGIN_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ORIGIN_URL must be http or https, got %q", c.OriginURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("ORIGIN_URL has no host: %q", c.OriginURL)
	}
	return u, nil
}

// Level returns the zerolog level named by LOG_LEVEL.
func (c *Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Validate checks the configuration for values Load cannot reject on its own
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Origin(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := cache.ValidateName(c.Cache.Version); err != nil {
		errs = append(errs, fmt.Errorf("invalid CACHE_VERSION: %w", err))
	}
	if len(c.Cache.Assets) == 0 {
		errs = append(errs, errors.New("CACHE_STATIC_ASSETS must list at least one asset"))
	}
	for _, a := range c.Cache.Assets {
		if !strings.HasPrefix(a, "/") {
			errs = append(errs, fmt.Errorf("static asset %q must be an absolute path", a))
		}
	}
	if c.UpstreamTimeout < 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must not be negative"))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("DEPLOY_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency))
	}
	return errors.Join(errs...)
}

func trimAssets(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
