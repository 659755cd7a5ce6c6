package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults used when a knob is absent from both file and environment:
// 25-message pages, a 5s subscribe watchdog and a 2s reconnect backoff.
const (
	DefaultPageSize          = 25
	DefaultSubscribeWatchdog = 5 * time.Second
	DefaultReconnectBackoff  = 2 * time.Second
	DefaultHydrateRPS        = 20.0
	DefaultHydrateBurst      = 40
	DefaultRetention         = "720h"
	DefaultSweepCron         = "0 3 * * *"
)

// Load reads the yaml config at path (if non-empty), overlays CHATSYNC_*
// environment variables and fills defaults. A missing file is an error; an
// empty path yields env + defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Env wins over file,
// flags win over env (flag handling lives in the cmds).
func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATSYNC_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_BACKEND_TRANSPORT"); v != "" {
		cfg.Backend.Transport = v
	}
	if v := os.Getenv("CHATSYNC_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("CHATSYNC_CHAT_ID"); v != "" {
		cfg.Engine.ChatID = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		cfg.Engine.UserID = v
	}
	if v := os.Getenv("CHATSYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.PageSize = n
		}
	}
	if v := os.Getenv("CHATSYNC_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
		cfg.Cache.Enabled = true
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATSYNC_DEV_ADDR"); v != "" {
		cfg.DevServe.Address = v
	}
	if v := os.Getenv("CHATSYNC_DEV_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DevServe.Port = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.PageSize <= 0 {
		cfg.Engine.PageSize = DefaultPageSize
	}
	if cfg.Engine.SubscribeWatchdog.Duration() <= 0 {
		cfg.Engine.SubscribeWatchdog = Duration(DefaultSubscribeWatchdog)
	}
	if cfg.Engine.ReconnectBackoff.Duration() <= 0 {
		cfg.Engine.ReconnectBackoff = Duration(DefaultReconnectBackoff)
	}
	if cfg.Engine.HydrateRPS <= 0 {
		cfg.Engine.HydrateRPS = DefaultHydrateRPS
	}
	if cfg.Engine.HydrateBurst <= 0 {
		cfg.Engine.HydrateBurst = DefaultHydrateBurst
	}
	if cfg.Cache.Retention == "" {
		cfg.Cache.Retention = DefaultRetention
	}
	if cfg.Cache.Cron == "" {
		cfg.Cache.Cron = DefaultSweepCron
	}
	if cfg.Backend.Transport == "" {
		cfg.Backend.Transport = "nethttp"
	}
}
