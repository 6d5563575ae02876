package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `
feed:
  url: wss://feed.example.com/v1/stream
  api_key: test-key
api:
  base_url: https://api.example.com
channels:
  - news
  - market_data
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.URL != "wss://feed.example.com/v1/stream" {
		t.Errorf("feed.url = %q", cfg.Feed.URL)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[1] != "market_data" {
		t.Errorf("channels = %v", cfg.Channels)
	}

	// Defaults fill in everything unspecified.
	if cfg.Sync.ReorderWaitMS != 5 {
		t.Errorf("sync.reorder_wait_ms = %d, want default 5", cfg.Sync.ReorderWaitMS)
	}
	if cfg.Sync.GapWaitMS != 500 {
		t.Errorf("sync.gap_wait_ms = %d, want default 500", cfg.Sync.GapWaitMS)
	}
	if cfg.Status.Port != "8080" {
		t.Errorf("status.port = %q, want default 8080", cfg.Status.Port)
	}
	if !cfg.Logging.Enabled {
		t.Error("logging should be enabled by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	t.Setenv("FEEDSYNC_API_KEY", "env-key")
	t.Setenv("FEEDSYNC_SYNC_GAP_WAIT_MS", "750")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.APIKey != "env-key" {
		t.Errorf("feed.api_key = %q, want env-key", cfg.Feed.APIKey)
	}
	if cfg.Sync.GapWaitMS != 750 {
		t.Errorf("sync.gap_wait_ms = %d, want 750", cfg.Sync.GapWaitMS)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeConfigFile(t, "channels:\n  - news\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.MissingFields) != 3 {
		t.Errorf("missing fields = %v, want feed.url, feed.api_key, api.base_url", verrs.MissingFields)
	}
}

func TestLoadRejectsInvalidChannelName(t *testing.T) {
	path := writeConfigFile(t, strings.Replace(validConfig, "market_data", "Bad Channel!", 1))

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.InvalidChannels) != 1 || verrs.InvalidChannels[0] != "Bad Channel!" {
		t.Errorf("invalid channels = %v", verrs.InvalidChannels)
	}
}

func TestLoadRejectsInvertedTimeouts(t *testing.T) {
	path := writeConfigFile(t, validConfig+`
sync:
  reorder_wait_ms: 600
  gap_wait_ms: 500
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.InvalidTimeouts) == 0 {
		t.Error("expected a timeout ordering error")
	}
	if !strings.Contains(err.Error(), "gap_wait_ms") {
		t.Errorf("message should name gap_wait_ms: %s", err.Error())
	}
}

func TestValidationErrorsMessageListsAllProblems(t *testing.T) {
	errs := &ValidationErrors{
		MissingFields:   []string{"feed.url"},
		InvalidChannels: []string{"UPPER"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "feed.url") || !strings.Contains(msg, "UPPER") {
		t.Errorf("message should mention every problem: %s", msg)
	}
}
