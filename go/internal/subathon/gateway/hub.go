package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/metrics"
	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
)

// SnapshotProvider loads the state a new subscriber starts from
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, streamerID uuid.UUID, verify bool) (*models.Snapshot, error)
}

// HubConfig holds configuration for the fan-out hub
type HubConfig struct {
	// SubscriberBuffer is how many envelopes a subscriber may fall behind
	// before it is disconnected
	SubscriberBuffer int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{SubscriberBuffer: 256}
}

// Hub fans committed envelopes out to per-streamer subscribers. Broadcast
// never blocks: a subscriber that cannot keep up is dropped and has to
// subscribe again to get a fresh snapshot.
type Hub struct {
	subscribers map[uuid.UUID]map[*Subscription]struct{}
	mu          sync.RWMutex

	snapshots SnapshotProvider
	config    HubConfig
	metrics   metrics.MetricsCollector
}

func NewHub(snapshots SnapshotProvider, config HubConfig, collector metrics.MetricsCollector) *Hub {
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultHubConfig().SubscriberBuffer
	}
	if collector == nil {
		collector = metrics.NoopCollector{}
	}
	return &Hub{
		subscribers: make(map[uuid.UUID]map[*Subscription]struct{}),
		snapshots:   snapshots,
		config:      config,
		metrics:     collector,
	}
}

// Subscribe registers for a streamer's changes and returns the snapshot the
// subscription starts from. The subscriber is registered before the snapshot
// is read, and only envelopes newer than the snapshot are delivered, so
// nothing committed after the snapshot is missed or repeated.
func (h *Hub) Subscribe(ctx context.Context, streamerID uuid.UUID) (*Subscription, error) {
	sub := &Subscription{
		ID:         uuid.New().String(),
		StreamerID: streamerID,
		hub:        h,
		ch:         make(chan events.Envelope, h.config.SubscriberBuffer),
		seen:       make(map[uuid.UUID]struct{}),
	}
	h.register(sub)

	snap, err := h.snapshots.GetSnapshot(ctx, streamerID, false)
	if err != nil {
		h.unregister(sub)
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if !sub.activate(snap) {
		h.drop(sub)
	}
	return sub, nil
}

// Broadcast delivers envelopes to the subscribers of their streamers
func (h *Hub) Broadcast(envs []events.Envelope) {
	for _, env := range envs {
		h.mu.RLock()
		targets := make([]*Subscription, 0, len(h.subscribers[env.StreamerID]))
		for sub := range h.subscribers[env.StreamerID] {
			targets = append(targets, sub)
		}
		h.mu.RUnlock()

		for _, sub := range targets {
			if !sub.deliver(env) {
				h.drop(sub)
			}
		}

		log.Debug().
			Str("streamer_id", env.StreamerID.String()).
			Str("type", string(env.Type)).
			Int64("version", env.Version).
			Int("subscribers", len(targets)).
			Msg("envelope broadcast")
	}
}

// Stats returns subscriber counts per streamer
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := make(map[string]int, len(h.subscribers))
	for streamerID, subs := range h.subscribers {
		stats[streamerID.String()] = len(subs)
	}
	return stats
}

func (h *Hub) register(sub *Subscription) {
	h.mu.Lock()
	if h.subscribers[sub.StreamerID] == nil {
		h.subscribers[sub.StreamerID] = make(map[*Subscription]struct{})
	}
	h.subscribers[sub.StreamerID][sub] = struct{}{}
	total := h.countLocked()
	h.mu.Unlock()

	h.metrics.SetSubscribers(total)
	log.Debug().
		Str("subscription_id", sub.ID).
		Str("streamer_id", sub.StreamerID.String()).
		Msg("subscriber registered")
}

func (h *Hub) unregister(sub *Subscription) {
	h.mu.Lock()
	subs, ok := h.subscribers[sub.StreamerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subscribers, sub.StreamerID)
	}
	total := h.countLocked()
	h.mu.Unlock()

	h.metrics.SetSubscribers(total)
	log.Debug().
		Str("subscription_id", sub.ID).
		Str("streamer_id", sub.StreamerID.String()).
		Msg("subscriber unregistered")
}

func (h *Hub) drop(sub *Subscription) {
	sub.markDropped()
	sub.Close()
	h.metrics.RecordSubscriberDropped()
	log.Warn().
		Str("subscription_id", sub.ID).
		Str("streamer_id", sub.StreamerID.String()).
		Msg("subscriber fell behind, disconnecting")
}

func (h *Hub) countLocked() int {
	total := 0
	for _, subs := range h.subscribers {
		total += len(subs)
	}
	return total
}

// Subscription is one observer's ordered view of a streamer's changes
type Subscription struct {
	ID         string
	StreamerID uuid.UUID
	Snapshot   *models.Snapshot

	hub *Hub
	ch  chan events.Envelope

	mu      sync.Mutex
	ready   bool
	pending []events.Envelope
	floor   int64
	last    int64
	seen    map[uuid.UUID]struct{}
	closed  bool
	dropped bool
}

// Events yields envelopes newer than Snapshot. It is closed when the
// subscription is closed or dropped.
func (s *Subscription) Events() <-chan events.Envelope {
	return s.ch
}

// Dropped reports whether the hub disconnected this subscriber for falling behind
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.hub.unregister(s)
}

func (s *Subscription) markDropped() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}

// activate records the snapshot and flushes envelopes that arrived while it
// was loading
func (s *Subscription) activate(snap *models.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Snapshot = snap
	s.floor = snap.Version
	s.last = snap.Version
	s.ready = true

	pending := s.pending
	s.pending = nil
	for _, env := range pending {
		if !s.offerLocked(env) {
			return false
		}
	}
	return true
}

func (s *Subscription) deliver(env events.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	if !s.ready {
		s.pending = append(s.pending, env)
		return len(s.pending) <= cap(s.ch)
	}
	return s.offerLocked(env)
}

// offerLocked queues env unless the snapshot already covers it, it is older
// than something already delivered, or it was delivered before
func (s *Subscription) offerLocked(env events.Envelope) bool {
	if env.Version <= s.floor || env.Version < s.last {
		return true
	}
	if env.Version > s.last {
		s.seen = make(map[uuid.UUID]struct{})
	}
	if _, dup := s.seen[env.ID]; dup {
		return true
	}

	select {
	case s.ch <- env:
		s.last = env.Version
		s.seen[env.ID] = struct{}{}
		return true
	default:
		return false
	}
}
