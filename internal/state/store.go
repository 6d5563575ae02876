// Package state holds the local replica of channel state. The store
// applies deltas unconditionally; ordering is the sync core's job.
package state

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

// ChannelSnapshot is a copy of one channel's replica.
type ChannelSnapshot struct {
	Channel string                     `json:"channel"`
	Pts     int64                      `json:"pts"`
	Entries map[string]json.RawMessage `json:"entries"`
}

type channelState struct {
	pts     int64
	entries map[string]json.RawMessage
}

// Store is an in-memory keyed replica per channel. Safe for concurrent
// use: the session loop writes, HTTP handlers read.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*channelState
	logger   *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		channels: make(map[string]*channelState),
		logger:   logger,
	}
}

func (s *Store) channel(name string) *channelState {
	cs, ok := s.channels[name]
	if !ok {
		cs = &channelState{entries: make(map[string]json.RawMessage)}
		s.channels[name] = cs
	}
	return cs
}

// Apply applies a single update to a channel.
func (s *Store) Apply(channel string, u delta.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(s.channel(channel), u)
}

// ApplyBatch applies an ordered batch of updates to a channel.
func (s *Store) ApplyBatch(channel string, b delta.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.channel(channel)
	for _, u := range b {
		s.applyLocked(cs, u)
	}
}

func (s *Store) applyLocked(cs *channelState, u delta.Update) {
	switch u.Op {
	case delta.OpPut:
		cs.entries[u.Key] = u.Value
	case delta.OpDelete:
		delete(cs.entries, u.Key)
	default:
		s.logger.Warn("ignoring update with unknown op", zap.String("op", string(u.Op)))
	}
}

// SetPts records the applied position watermark for a channel.
func (s *Store) SetPts(channel string, pts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel(channel).pts = pts
}

// Pts returns the stored watermark for a channel, zero if unknown.
func (s *Store) Pts(channel string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cs, ok := s.channels[channel]; ok {
		return cs.pts
	}
	return 0
}

// ReplaceSnapshot swaps a channel's whole replica, used after a full
// resync returns authoritative state.
func (s *Store) ReplaceSnapshot(channel string, pts int64, entries map[string]json.RawMessage) {
	if entries == nil {
		entries = make(map[string]json.RawMessage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = &channelState{pts: pts, entries: entries}
}

// Get returns one entry's value.
func (s *Store) Get(channel, key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.channels[channel]
	if !ok {
		return nil, false
	}
	v, ok := cs.entries[key]
	return v, ok
}

// Snapshot copies a channel's replica.
func (s *Store) Snapshot(channel string) (ChannelSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.channels[channel]
	if !ok {
		return ChannelSnapshot{}, false
	}
	entries := make(map[string]json.RawMessage, len(cs.entries))
	for k, v := range cs.entries {
		entries[k] = v
	}
	return ChannelSnapshot{Channel: channel, Pts: cs.pts, Entries: entries}, true
}

// Channels lists known channel names, sorted.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries in a channel.
func (s *Store) Len(channel string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cs, ok := s.channels[channel]; ok {
		return len(cs.entries)
	}
	return 0
}
