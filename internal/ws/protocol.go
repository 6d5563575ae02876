package ws

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/feedsync/internal/delta"
)

// Frame types the feed server pushes.
const (
	FrameConnected = "connected"
	FrameUpdate    = "update"
	FrameUpdates   = "updates"
	FrameProbe     = "probe"
)

// Frame is the JSON envelope around every pushed delta. Pts and Count
// are the sequencing fields the sync core consumes; the payload shape
// depends on Type.
type Frame struct {
	Type    string        `json:"type"`
	Channel string        `json:"channel,omitempty"`
	Session string        `json:"session,omitempty"`
	Pts     int64         `json:"pts,omitempty"`
	Count   int64         `json:"count,omitempty"`
	Update  *delta.Update `json:"update,omitempty"`
	Updates delta.Batch   `json:"updates,omitempty"`
}

// subscribeRequest is the one upstream message the client sends.
type subscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

func buildSubscribe(channels []string) []byte {
	data, _ := json.Marshal(subscribeRequest{Type: "subscribe", Channels: channels})
	return data
}

// ParseFrame decodes and validates a pushed frame. Negative counts and
// malformed payloads are rejected here, before anything reaches the
// sync core.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}

	if f.Count < 0 {
		return nil, fmt.Errorf("frame has negative count %d", f.Count)
	}

	switch f.Type {
	case FrameConnected:
		if f.Session == "" {
			return nil, fmt.Errorf("connected frame has no session")
		}
	case FrameUpdate:
		if f.Channel == "" {
			return nil, fmt.Errorf("update frame has no channel")
		}
		if f.Update == nil {
			return nil, fmt.Errorf("update frame has no payload")
		}
		if err := f.Update.Validate(); err != nil {
			return nil, fmt.Errorf("update frame: %w", err)
		}
	case FrameUpdates:
		if f.Channel == "" {
			return nil, fmt.Errorf("updates frame has no channel")
		}
		if len(f.Updates) == 0 {
			return nil, fmt.Errorf("updates frame has no payload")
		}
		if err := f.Updates.Validate(); err != nil {
			return nil, fmt.Errorf("updates frame: %w", err)
		}
	case FrameProbe:
		if f.Channel == "" {
			return nil, fmt.Errorf("probe frame has no channel")
		}
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}

	return &f, nil
}
