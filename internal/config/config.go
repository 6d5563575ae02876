package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Feed     FeedConfig    `mapstructure:"feed"`
	API      APIConfig     `mapstructure:"api"`
	Sync     SyncConfig    `mapstructure:"sync"`
	Status   StatusConfig  `mapstructure:"status"`
	State    StateConfig   `mapstructure:"state"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Channels []string      `mapstructure:"channels"`
}

type FeedConfig struct {
	URL             string `mapstructure:"url"`
	APIKey          string `mapstructure:"api_key"`
	DialTimeoutSec  int    `mapstructure:"dial_timeout_sec"`
	ReconnectMinSec int    `mapstructure:"reconnect_min_sec"`
	ReconnectMaxSec int    `mapstructure:"reconnect_max_sec"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec"`
}

// SyncConfig exposes the wait timeouts of the sequencing core. The
// reorder wait must stay below the gap wait.
type SyncConfig struct {
	ReorderWaitMS      int `mapstructure:"reorder_wait_ms"`
	GapWaitMS          int `mapstructure:"gap_wait_ms"`
	ShortPollIdleSec   int `mapstructure:"short_poll_idle_sec"`
	ShortPollWaitSec   int `mapstructure:"short_poll_wait_sec"`
	MaxForcedFlushes   int `mapstructure:"max_forced_flushes"`
	PersistIntervalSec int `mapstructure:"persist_interval_sec"`
}

type StatusConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Port           string `mapstructure:"port"`
	SSEIntervalSec int    `mapstructure:"sse_interval_sec"`
}

type StateConfig struct {
	Directory string `mapstructure:"directory"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("feed.dial_timeout_sec", 10)
	v.SetDefault("feed.reconnect_min_sec", 1)
	v.SetDefault("feed.reconnect_max_sec", 30)
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.rate_per_second", 2)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay_sec", 2)
	v.SetDefault("sync.reorder_wait_ms", 5)
	v.SetDefault("sync.gap_wait_ms", 500)
	v.SetDefault("sync.short_poll_idle_sec", 30)
	v.SetDefault("sync.short_poll_wait_sec", 3)
	v.SetDefault("sync.max_forced_flushes", 2)
	v.SetDefault("sync.persist_interval_sec", 60)
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.port", "8080")
	v.SetDefault("status.sse_interval_sec", 2)
	v.SetDefault("state.directory", "state")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("FEEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("feed.api_key", "FEEDSYNC_API_KEY")
	_ = v.BindEnv("feed.url", "FEEDSYNC_FEED_URL")
	_ = v.BindEnv("api.base_url", "FEEDSYNC_API_BASE_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("feedsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/feedsync")
		// Config file is optional when everything comes from env
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
