package sync

import "github.com/dgnsrekt/feedsync/internal/session"

// SyncSnapshot is the initial event sent to a new SSE subscriber.
type SyncSnapshot struct {
	BroadcasterID string                  `json:"broadcaster_id"`
	Timestamp     int64                   `json:"timestamp"`
	Sequence      uint64                  `json:"sequence"`
	Channels      []session.ChannelStatus `json:"channels"`
}

// SyncBatch is the periodic event with every channel's position.
type SyncBatch struct {
	BroadcasterID string                  `json:"broadcaster_id"`
	Timestamp     int64                   `json:"timestamp"`
	Sequence      uint64                  `json:"sequence"`
	Channels      []session.ChannelStatus `json:"channels"`
}
