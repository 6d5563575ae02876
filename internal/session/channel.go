package session

import (
	"time"

	"github.com/dgnsrekt/feedsync/internal/delta"
	"github.com/dgnsrekt/feedsync/internal/sequence"
	"github.com/dgnsrekt/feedsync/internal/state"
)

// ChannelStatus is a point-in-time view of one channel's sync state.
type ChannelStatus struct {
	Channel             string `json:"channel"`
	Pts                 int64  `json:"pts"`
	Last                int64  `json:"last"`
	Pending             int    `json:"pending"`
	WaitingForGap       bool   `json:"waiting_for_gap"`
	WaitingForShortPoll bool   `json:"waiting_for_short_poll"`
	Requesting          bool   `json:"requesting"`
	ForcedFlushes       int    `json:"forced_flushes"`
	Resyncs             int    `json:"resyncs"`
	Entries             int    `json:"entries"`
}

// channelSync binds one channel's resolver to its store view and
// escalation counters. Only the manager loop touches it.
type channelSync struct {
	name          string
	resolver      *sequence.Resolver
	timer         *loopTimer
	forcedFlushes int
	resyncs       int
	lastFrame     time.Time
}

func (cs *channelSync) status(store *state.Store) ChannelStatus {
	return ChannelStatus{
		Channel:             cs.name,
		Pts:                 cs.resolver.Current(),
		Last:                cs.resolver.Last(),
		Pending:             cs.resolver.PendingLen(),
		WaitingForGap:       cs.resolver.WaitingForGap(),
		WaitingForShortPoll: cs.resolver.WaitingForShortPoll(),
		Requesting:          cs.resolver.Requesting(),
		ForcedFlushes:       cs.forcedFlushes,
		Resyncs:             cs.resyncs,
		Entries:             store.Len(cs.name),
	}
}

// loopTimer schedules the resolver's single abstract timer by posting
// expiry events back into the manager loop, keeping every resolver call
// on that one goroutine.
type loopTimer struct {
	m       *Manager
	channel string
	timer   *time.Timer
}

func (t *loopTimer) Arm(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	channel := t.channel
	t.timer = time.AfterFunc(d, func() {
		t.m.enqueue(event{kind: evTimer, channel: channel})
	})
}

func (t *loopTimer) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// storeApplier adapts the store to the resolver's Applier contract for
// one channel.
type storeApplier struct {
	store   *state.Store
	channel string
}

func (a *storeApplier) ApplyUpdate(u delta.Update) { a.store.Apply(a.channel, u) }
func (a *storeApplier) ApplyUpdates(b delta.Batch) { a.store.ApplyBatch(a.channel, b) }
