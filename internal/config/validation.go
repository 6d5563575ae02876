package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Channel names double as snapshot file names and URL path segments.
var channelNameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	MissingFields   []string
	InvalidChannels []string
	InvalidTimeouts []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.MissingFields) > 0 || len(e.InvalidChannels) > 0 || len(e.InvalidTimeouts) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.MissingFields) > 0 {
		sb.WriteString("\nMissing required settings:\n")
		for _, f := range e.MissingFields {
			sb.WriteString(fmt.Sprintf("  - %s\n", f))
		}
	}

	if len(e.InvalidChannels) > 0 {
		sb.WriteString("\nInvalid channel names (allowed: lowercase letters, digits, '_', '-'):\n")
		for _, c := range e.InvalidChannels {
			sb.WriteString(fmt.Sprintf("  - %s\n", c))
		}
	}

	if len(e.InvalidTimeouts) > 0 {
		sb.WriteString("\nInvalid timeouts:\n")
		for _, t := range e.InvalidTimeouts {
			sb.WriteString(fmt.Sprintf("  - %s\n", t))
		}
	}

	return sb.String()
}

// Validate checks required settings and cross-field constraints.
func Validate(cfg *Config) error {
	errs := &ValidationErrors{}

	if cfg.Feed.URL == "" {
		errs.MissingFields = append(errs.MissingFields, "feed.url (or FEEDSYNC_FEED_URL)")
	}
	if cfg.Feed.APIKey == "" {
		errs.MissingFields = append(errs.MissingFields, "feed.api_key (or FEEDSYNC_API_KEY)")
	}
	if cfg.API.BaseURL == "" {
		errs.MissingFields = append(errs.MissingFields, "api.base_url (or FEEDSYNC_API_BASE_URL)")
	}
	if len(cfg.Channels) == 0 {
		errs.MissingFields = append(errs.MissingFields, "channels")
	}

	for _, channel := range cfg.Channels {
		if !channelNameRe.MatchString(channel) {
			errs.InvalidChannels = append(errs.InvalidChannels, channel)
		}
	}

	if cfg.Sync.ReorderWaitMS <= 0 {
		errs.InvalidTimeouts = append(errs.InvalidTimeouts, "sync.reorder_wait_ms must be positive")
	}
	if cfg.Sync.GapWaitMS <= 0 {
		errs.InvalidTimeouts = append(errs.InvalidTimeouts, "sync.gap_wait_ms must be positive")
	}
	if cfg.Sync.ReorderWaitMS >= cfg.Sync.GapWaitMS {
		errs.InvalidTimeouts = append(errs.InvalidTimeouts,
			fmt.Sprintf("sync.reorder_wait_ms (%d) must be below sync.gap_wait_ms (%d)",
				cfg.Sync.ReorderWaitMS, cfg.Sync.GapWaitMS))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
