// Package ws implements the push transport: a websocket connection to
// the feed server that delivers sequenced delta frames.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the server.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the server.
	maxMessageSize = 512 * 1024 // 512KB
)

// Supported subprotocols, preferred first. The compressed variant
// carries zstd-compressed JSON in binary messages.
var subprotocols = []string{
	"zstd-json.feedsync.v1",
	"json.feedsync.v1",
}

// FrameHandler receives every parsed frame; the session manager
// implements it.
type FrameHandler interface {
	HandleFrame(f *Frame)
}

// Config holds connection settings for the feed client.
type Config struct {
	URL          string
	APIKey       string
	Channels     []string
	DialTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client maintains the websocket connection, reconnecting with backoff
// when it drops, and routes parsed frames to the handler.
type Client struct {
	cfg     Config
	handler FrameHandler
	codec   *Codec
	logger  *zap.Logger
}

// NewClient creates a feed client. Frames flow to handler from the
// client's read loop goroutine.
func NewClient(cfg Config, handler FrameHandler, logger *zap.Logger) (*Client, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Client{cfg: cfg, handler: handler, codec: codec, logger: logger}, nil
}

// Run dials and serves the connection until ctx is cancelled,
// reconnecting with exponential backoff after failures.
func (c *Client) Run(ctx context.Context) {
	backoff := c.cfg.ReconnectMin

	for {
		start := time.Now()
		err := c.runConn(ctx)
		if ctx.Err() != nil {
			c.logger.Info("feed client stopping")
			return
		}

		// A connection that lived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = c.cfg.ReconnectMin
		}

		c.logger.Warn("feed connection lost",
			zap.Error(err),
			zap.Duration("reconnect_in", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) runConn(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		Subprotocols:     subprotocols,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	connID := uuid.New().String()
	c.logger.Info("feed connected",
		zap.String("connID", connID),
		zap.String("subprotocol", conn.Subprotocol()),
		zap.Strings("channels", c.cfg.Channels),
	)

	// Close the connection when ctx ends so the read loop unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, buildSubscribe(c.cfg.Channels)); err != nil {
		return err
	}

	go c.pingLoop(conn, stop)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", connID),
					zap.Error(err),
				)
			}
			return err
		}

		if msgType == websocket.BinaryMessage {
			data, err = c.codec.Decode(data)
			if err != nil {
				c.logger.Warn("dropping undecodable binary frame",
					zap.String("connID", connID),
					zap.Error(err),
				)
				continue
			}
		}

		frame, err := ParseFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame",
				zap.String("connID", connID),
				zap.Error(err),
			)
			continue
		}

		c.handler.HandleFrame(frame)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
