// Package session owns the per-channel sync machinery: one event loop
// routes pushed frames into each channel's resolver, schedules its
// timers, and escalates persistent gaps to a full difference fetch.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/feedsync/internal/api"
	"github.com/dgnsrekt/feedsync/internal/notify"
	"github.com/dgnsrekt/feedsync/internal/sequence"
	"github.com/dgnsrekt/feedsync/internal/state"
	"github.com/dgnsrekt/feedsync/internal/ws"
)

// Config holds session-level tuning.
type Config struct {
	Sequence sequence.Config

	// ShortPollIdle is how long a channel may stay silent before a
	// courtesy difference check; ShortPollWait is the window armed
	// before that check fires.
	ShortPollIdle time.Duration
	ShortPollWait time.Duration

	// MaxForcedFlushes is how many timeout-forced flushes a channel
	// tolerates before escalating to a difference fetch.
	MaxForcedFlushes int

	// PersistInterval is how often snapshots are written to StateDir.
	// Zero disables persistence.
	PersistInterval time.Duration
	StateDir        string

	ResyncTimeout time.Duration
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		Sequence:         sequence.DefaultConfig(),
		ShortPollIdle:    30 * time.Second,
		ShortPollWait:    3 * time.Second,
		MaxForcedFlushes: 2,
		PersistInterval:  time.Minute,
		ResyncTimeout:    30 * time.Second,
	}
}

type eventKind int

const (
	evFrame eventKind = iota
	evTimer
	evResyncDone
	evStatus
)

type resyncResult struct {
	channel string
	diff    *api.Difference
	snap    *api.Snapshot
	err     error
}

type event struct {
	kind    eventKind
	channel string
	frame   *ws.Frame
	resync  *resyncResult
	reply   chan []ChannelStatus
}

// Manager is the resolver owner. All resolver state is touched only by
// the Run loop; other goroutines talk to it through the event channel.
type Manager struct {
	cfg      Config
	store    *state.Store
	client   api.Client
	notifier notify.Notifier
	logger   *zap.Logger

	events   chan event
	done     chan struct{}
	channels map[string]*channelSync
}

// NewManager creates a session manager for the given channels. Channels
// with a persisted watermark resume from it.
func NewManager(cfg Config, channels []string, store *state.Store, client api.Client, notifier notify.Notifier, logger *zap.Logger) *Manager {
	if cfg.ShortPollIdle <= 0 {
		cfg.ShortPollIdle = DefaultConfig().ShortPollIdle
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = DefaultConfig().ResyncTimeout
	}
	m := &Manager{
		cfg:      cfg,
		store:    store,
		client:   client,
		notifier: notifier,
		logger:   logger,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		channels: make(map[string]*channelSync),
	}
	for _, name := range channels {
		cs := m.channel(name)
		if pts := store.Pts(name); pts > 0 {
			cs.resolver.SyncTo(pts)
			logger.Info("resuming channel",
				zap.String("channel", name),
				zap.Int64("pts", pts),
			)
		}
	}
	return m
}

func (m *Manager) channel(name string) *channelSync {
	cs, ok := m.channels[name]
	if !ok {
		timer := &loopTimer{m: m, channel: name}
		applier := &storeApplier{store: m.store, channel: name}
		cs = &channelSync{
			name:     name,
			resolver: sequence.NewResolver(m.cfg.Sequence, applier, timer),
			timer:    timer,
		}
		m.channels[name] = cs
	}
	return cs
}

// HandleFrame implements ws.FrameHandler; called from the transport's
// read loop.
func (m *Manager) HandleFrame(f *ws.Frame) {
	m.enqueue(event{kind: evFrame, channel: f.Channel, frame: f})
}

// Wait blocks until the event loop has persisted and exited.
func (m *Manager) Wait() {
	<-m.done
}

func (m *Manager) enqueue(e event) {
	select {
	case m.events <- e:
	case <-m.done:
	}
}

// Run processes events until ctx is cancelled, then persists and exits.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("session manager starting", zap.Int("channels", len(m.channels)))

	var persistC <-chan time.Time
	if m.cfg.PersistInterval > 0 && m.cfg.StateDir != "" {
		persist := time.NewTicker(m.cfg.PersistInterval)
		defer persist.Stop()
		persistC = persist.C
	}

	idle := time.NewTicker(m.cfg.ShortPollIdle / 2)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			m.persist()
			close(m.done)
			m.logger.Info("session manager stopping")
			return

		case e := <-m.events:
			m.handle(e)

		case <-persistC:
			m.persist()

		case <-idle.C:
			m.checkIdle()
		}
	}
}

func (m *Manager) handle(e event) {
	switch e.kind {
	case evFrame:
		m.handleFrame(e.frame)
	case evTimer:
		m.handleTimer(e.channel)
	case evResyncDone:
		m.handleResyncDone(e.resync)
	case evStatus:
		statuses := make([]ChannelStatus, 0, len(m.channels))
		for _, cs := range m.channels {
			statuses = append(statuses, cs.status(m.store))
		}
		sort.Slice(statuses, func(i, j int) bool { return statuses[i].Channel < statuses[j].Channel })
		e.reply <- statuses
	}
}

func (m *Manager) handleFrame(f *ws.Frame) {
	if f.Type == ws.FrameConnected {
		m.logger.Info("feed session established", zap.String("session", f.Session))
		// The stream may have moved on while we were disconnected;
		// catch up every channel that has a position.
		for _, cs := range m.channels {
			if cs.resolver.Initialized() {
				m.startResync(cs, "reconnect")
			}
		}
		return
	}

	cs := m.channel(f.Channel)
	cs.lastFrame = time.Now()

	var outcome sequence.Outcome
	switch f.Type {
	case ws.FrameUpdate:
		outcome = cs.resolver.ApplyUpdate(f.Pts, f.Count, *f.Update)
	case ws.FrameUpdates:
		outcome = cs.resolver.ApplyUpdates(f.Pts, f.Count, f.Updates)
	case ws.FrameProbe:
		outcome = cs.resolver.Advance(f.Pts, f.Count)
	default:
		m.logger.Warn("unroutable frame", zap.String("type", f.Type))
		return
	}

	switch outcome {
	case sequence.Applied:
		m.store.SetPts(cs.name, cs.resolver.Current())
		cs.forcedFlushes = 0
	case sequence.Buffered:
		m.logger.Debug("buffered out-of-order delta",
			zap.String("channel", cs.name),
			zap.Int64("pts", f.Pts),
			zap.Int64("good", cs.resolver.Current()),
			zap.Int("pending", cs.resolver.PendingLen()),
		)
	case sequence.Dropped:
		m.logger.Debug("dropped stale delta",
			zap.String("channel", cs.name),
			zap.Int64("pts", f.Pts),
			zap.Int64("good", cs.resolver.Current()),
		)
	}
}

func (m *Manager) handleTimer(channel string) {
	cs, ok := m.channels[channel]
	if !ok {
		return
	}

	// One timer backs both waits, and arming either replaces the
	// deadline. Expiry must service every armed flag: a flag left
	// behind would have no timer left to fire for it.
	if cs.resolver.WaitingForGap() {
		pending := cs.resolver.PendingLen()
		cs.resolver.FlushPending()
		cs.forcedFlushes++
		m.store.SetPts(cs.name, cs.resolver.Current())
		m.logger.Warn("gap wait expired, forced flush",
			zap.String("channel", cs.name),
			zap.Int("applied", pending),
			zap.Int("forced_flushes", cs.forcedFlushes),
		)
		if cs.forcedFlushes >= m.cfg.MaxForcedFlushes {
			m.notifyDesync(cs)
			m.startResync(cs, "persistent gap")
		}
	}

	if cs.resolver.WaitingForShortPoll() {
		cs.resolver.SetWaitingForShortPoll(sequence.Disarm)
		m.startResync(cs, "short poll")
	}
}

// startResync kicks off a difference fetch for the channel. The fetch
// runs off-loop; its result comes back as an event. While it is in
// flight the resolver treats every delta as pre-ordered.
func (m *Manager) startResync(cs *channelSync, reason string) {
	if cs.resolver.Requesting() {
		return
	}
	cs.resolver.SetRequesting(true)

	name := cs.name
	from := cs.resolver.Current()
	initialized := cs.resolver.Initialized()

	m.logger.Info("starting resync",
		zap.String("channel", name),
		zap.Int64("from", from),
		zap.String("reason", reason),
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ResyncTimeout)
		defer cancel()

		result := &resyncResult{channel: name}
		if initialized {
			diff, err := m.client.GetDifference(ctx, name, from)
			if err == nil {
				result.diff = diff
				m.enqueue(event{kind: evResyncDone, channel: name, resync: result})
				return
			}
			if !errors.Is(err, api.ErrTooOld) {
				result.err = err
				m.enqueue(event{kind: evResyncDone, channel: name, resync: result})
				return
			}
			// Fall through to a full snapshot.
		}

		snap, err := m.client.GetSnapshot(ctx, name)
		result.snap = snap
		result.err = err
		m.enqueue(event{kind: evResyncDone, channel: name, resync: result})
	}()
}

func (m *Manager) handleResyncDone(r *resyncResult) {
	cs, ok := m.channels[r.channel]
	if !ok {
		return
	}

	if r.err != nil {
		cs.resolver.SetRequesting(false)
		m.logger.Error("resync failed",
			zap.String("channel", cs.name),
			zap.Error(r.err),
		)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = m.notifier.SendResyncFailed(ctx, cs.name, r.err)
		}()
		// The idle checker retries via short poll.
		return
	}

	var pts int64
	switch {
	case r.diff != nil:
		m.store.ApplyBatch(cs.name, r.diff.Updates)
		pts = r.diff.Pts
	case r.snap != nil:
		m.store.ReplaceSnapshot(cs.name, r.snap.Pts, r.snap.Entries)
		pts = r.snap.Pts
	}

	cs.resolver.SyncTo(pts)
	m.store.SetPts(cs.name, pts)
	cs.forcedFlushes = 0
	cs.resyncs++
	cs.lastFrame = time.Now()

	m.logger.Info("resync complete",
		zap.String("channel", cs.name),
		zap.Int64("pts", pts),
		zap.Int("resyncs", cs.resyncs),
	)
}

// checkIdle arms the short-poll wait on channels that have gone silent.
func (m *Manager) checkIdle() {
	for _, cs := range m.channels {
		if !cs.resolver.Initialized() || cs.resolver.Requesting() {
			continue
		}
		if cs.resolver.WaitingForGap() || cs.resolver.WaitingForShortPoll() {
			continue
		}
		if cs.lastFrame.IsZero() || time.Since(cs.lastFrame) < m.cfg.ShortPollIdle {
			continue
		}
		m.logger.Debug("channel idle, arming short poll",
			zap.String("channel", cs.name),
		)
		cs.resolver.SetWaitingForShortPoll(m.cfg.ShortPollWait)
	}
}

func (m *Manager) notifyDesync(cs *channelSync) {
	channel := cs.name
	pts := cs.resolver.Current()
	flushes := cs.forcedFlushes
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = m.notifier.SendDesync(ctx, channel, pts, flushes)
	}()
}

func (m *Manager) persist() {
	if m.cfg.StateDir == "" {
		return
	}
	if err := m.store.Save(m.cfg.StateDir); err != nil {
		m.logger.Error("persisting snapshots failed", zap.Error(err))
	}
}

// Status returns every channel's sync state, serviced by the Run loop
// so resolver state is read consistently.
func (m *Manager) Status(ctx context.Context) ([]ChannelStatus, error) {
	reply := make(chan []ChannelStatus, 1)
	select {
	case m.events <- event{kind: evStatus, reply: reply}:
	case <-m.done:
		return nil, errors.New("session manager stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case statuses := <-reply:
		return statuses, nil
	case <-m.done:
		return nil, errors.New("session manager stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
