// Package notify sends operator alerts when a channel falls out of
// sync or a resync attempt fails.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending sync alerts.
type Notifier interface {
	SendDesync(ctx context.Context, channel string, pts int64, forcedFlushes int) error
	SendResyncFailed(ctx context.Context, channel string, cause error) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// Compile-time interface verification
var _ Notifier = (*Client)(nil)

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendDesync alerts that a channel needed a forced resync.
func (c *Client) SendDesync(ctx context.Context, channel string, pts int64, forcedFlushes int) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Channel Desynced: %s", channel)
	message := FormatDesyncMessage(channel, pts, forcedFlushes)
	tags := c.config.Tags + ",warning"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendResyncFailed alerts that the catch-up fetch itself failed.
func (c *Client) SendResyncFailed(ctx context.Context, channel string, cause error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Resync Failed: %s", channel)
	message := FormatResyncFailedMessage(channel, cause)
	tags := c.config.Tags + ",x"
	priority := "high" // Override to high priority for failures

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notification rejected: %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}
