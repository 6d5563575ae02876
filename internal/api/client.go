// Package api implements the catch-up side of the protocol: when the
// push stream develops a gap that will not close, the session fetches
// the authoritative difference (or a full snapshot) over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

// Difference is an ordered tail of updates from a known position up to
// the server's current one.
type Difference struct {
	State   string      `json:"state"` // "ok" or "too_old"
	Pts     int64       `json:"pts"`
	Updates delta.Batch `json:"updates"`
}

// Snapshot is a channel's full authoritative state.
type Snapshot struct {
	Pts     int64                      `json:"pts"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// Client interface for testability.
type Client interface {
	GetDifference(ctx context.Context, channel string, fromPts int64) (*Difference, error)
	GetSnapshot(ctx context.Context, channel string) (*Snapshot, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Compile-time interface verification
var _ Client = (*HTTPClient)(nil)

func NewClient(baseURL, apiKey string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// GetDifference fetches the ordered update tail for channel starting
// after fromPts. Returns ErrTooOld when the server no longer holds the
// requested window.
func (c *HTTPClient) GetDifference(ctx context.Context, channel string, fromPts int64) (*Difference, error) {
	url := fmt.Sprintf("%s/v1/diff/%s?from=%d", c.baseURL, channel, fromPts)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var diff Difference
	if err := json.Unmarshal(body, &diff); err != nil {
		return nil, fmt.Errorf("decoding difference: %w", err)
	}
	if diff.State == "too_old" {
		return nil, ErrTooOld
	}
	if err := diff.Updates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid difference payload: %w", err)
	}
	return &diff, nil
}

// GetSnapshot fetches a channel's full state.
func (c *HTTPClient) GetSnapshot(ctx context.Context, channel string) (*Snapshot, error) {
	url := fmt.Sprintf("%s/v1/snapshot/%s", c.baseURL, channel)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.logger.Debug("requesting", zap.String("url", url))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
