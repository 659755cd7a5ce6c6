package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct shared by the client engine and
// the reference backend.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	DevServe DevServeConfig `yaml:"dev_server"`
}

// BackendConfig names the remote collaborators.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// Transport selects the HTTP client adapter: nethttp (default) or
	// fasthttp.
	Transport string `yaml:"transport"`
	APIKey    string `yaml:"api_key"`
}

// EngineConfig holds the timeline engine tunables.
type EngineConfig struct {
	ChatID   string `yaml:"chat_id"`
	UserID   string `yaml:"user_id"`
	PageSize int    `yaml:"page_size"`
	// SubscribeWatchdog bounds the Connecting->Subscribed transition.
	SubscribeWatchdog Duration `yaml:"subscribe_watchdog"`
	// ReconnectBackoff is the fixed delay before one reconnect attempt.
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
	// HydrateRPS / HydrateBurst bound fetch-by-id traffic caused by the
	// change feed.
	HydrateRPS   float64 `yaml:"hydrate_rps"`
	HydrateBurst int     `yaml:"hydrate_burst"`
}

// CacheConfig controls the local pebble record cache.
type CacheConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Path      string    `yaml:"path"`
	MaxBytes  SizeBytes `yaml:"max_bytes"`
	Retention string    `yaml:"retention"` // e.g. "720h"
	Cron      string    `yaml:"cron"`      // sweep schedule, default daily @03:00
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DevServeConfig holds the reference backend listen settings.
type DevServeConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Addr returns the dev server listen address in host:port form.
func (c *Config) Addr() string {
	host := c.DevServe.Address
	port := c.DevServe.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// SizeBytes is a byte count unmarshaled from human-friendly strings like
// "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration wraps time.Duration with YAML parsing from strings like
// "100ms" or plain numbers interpreted as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
