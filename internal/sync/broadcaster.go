// Package sync broadcasts channel sync positions to SSE subscribers so
// operators can watch replicas advance in real time.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedsync/internal/session"
)

// StatusSource provides the positions to broadcast; the session manager
// implements it.
type StatusSource interface {
	Status(ctx context.Context) ([]session.ChannelStatus, error)
}

// Broadcaster pushes position updates to connected SSE clients.
type Broadcaster struct {
	broadcasterID string
	source        StatusSource
	logger        *zap.Logger

	mu       gosync.RWMutex
	sequence uint64
	clients  map[*sseClient]bool

	interval time.Duration
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	dataCh  chan []byte
	doneCh  chan struct{}
	flusher http.Flusher
	writer  http.ResponseWriter
}

// NewBroadcaster creates a broadcaster polling source every interval.
func NewBroadcaster(source StatusSource, interval time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		broadcasterID: uuid.New().String(),
		source:        source,
		logger:        logger,
		clients:       make(map[*sseClient]bool),
		interval:      interval,
	}
}

// Run starts the periodic broadcast loop.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("sync broadcaster starting",
		zap.String("broadcaster_id", b.broadcasterID),
		zap.Duration("interval", b.interval),
	)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("sync broadcaster stopping")
			return
		case <-ticker.C:
			b.broadcastToAll(ctx)
		}
	}
}

// HandleSSE handles the SSE endpoint for subscribers.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &sseClient{
		dataCh:  make(chan []byte, 10),
		doneCh:  make(chan struct{}),
		flusher: flusher,
		writer:  w,
	}

	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("sync client connected", zap.String("remote_addr", r.RemoteAddr))

	snapshot, err := b.buildSnapshot(r.Context())
	if err != nil {
		b.logger.Error("failed to build snapshot", zap.Error(err))
		return
	}
	if err := b.sendEvent(client, "snapshot", snapshot); err != nil {
		b.logger.Error("failed to send snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("sync client disconnected")
			return
		case <-client.doneCh:
			return
		case eventData := <-client.dataCh:
			if _, err := client.writer.Write(eventData); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			client.flusher.Flush()
		}
	}
}

func (b *Broadcaster) addClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
}

func (b *Broadcaster) removeClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.doneCh)
	}
}

func (b *Broadcaster) buildSnapshot(ctx context.Context) (*SyncSnapshot, error) {
	channels, err := b.source.Status(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sequence++
	seq := b.sequence
	b.mu.Unlock()

	return &SyncSnapshot{
		BroadcasterID: b.broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
		Sequence:      seq,
		Channels:      channels,
	}, nil
}

func (b *Broadcaster) buildBatch(ctx context.Context) (*SyncBatch, error) {
	channels, err := b.source.Status(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sequence++
	seq := b.sequence
	b.mu.Unlock()

	return &SyncBatch{
		BroadcasterID: b.broadcasterID,
		Timestamp:     time.Now().UnixMilli(),
		Sequence:      seq,
		Channels:      channels,
	}, nil
}

func (b *Broadcaster) broadcastToAll(ctx context.Context) {
	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	batch, err := b.buildBatch(ctx)
	if err != nil {
		b.logger.Debug("failed to build batch", zap.Error(err))
		return
	}
	eventData, err := b.formatEvent("batch", batch)
	if err != nil {
		return
	}

	for _, client := range clients {
		select {
		case client.dataCh <- eventData:
		default:
			// Channel full, client is slow
			b.logger.Debug("client channel full, dropping batch")
		}
	}
}

func (b *Broadcaster) sendEvent(client *sseClient, eventType string, data interface{}) error {
	eventData, err := b.formatEvent(eventType, data)
	if err != nil {
		return err
	}

	if _, err := client.writer.Write(eventData); err != nil {
		return err
	}
	client.flusher.Flush()
	return nil
}

func (b *Broadcaster) formatEvent(eventType string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	seq := b.sequence
	b.mu.RUnlock()

	event := fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)
	return []byte(event), nil
}
