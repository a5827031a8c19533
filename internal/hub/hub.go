// SafeHorizon - Tourist Safety Platform Backend
// Copyright 2026 SafeHorizon Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/safehorizon/safehorizon

// Package hub is the in-process pub/sub fabric. Publishers fan frames
// out to channel subscribers (WebSocket sessions, the broker bridge)
// without blocking: every subscriber has a bounded queue and the oldest
// envelope is dropped when it overflows. A slow dashboard never stalls
// telemetry ingest.
package hub

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/safehorizon/safehorizon/internal/logging"
	"github.com/safehorizon/safehorizon/internal/metrics"
	"github.com/safehorizon/safehorizon/internal/models"
)

// Well-known channels. Per-entity channels are built with the helper
// functions below.
const (
	ChannelAuthorityAlerts = "alerts.authority"
	ChannelBroadcastsAll   = "broadcasts.all"
	ChannelAdminSystem     = "admin.system"
)

// TouristAlerts names the private alert channel of one tourist.
func TouristAlerts(touristID string) string {
	return "alerts.tourist." + touristID
}

// ZoneBroadcasts names the broadcast channel of one zone.
func ZoneBroadcasts(zoneID string) string {
	return "broadcasts.zone." + zoneID
}

// subscriberQueueSize bounds each subscriber's backlog. Sized for a
// burst of alerts during a mass incident without holding minutes of
// stale frames for a wedged client.
const subscriberQueueSize = 256

// echoTTL bounds how long publish ids are remembered for broker echo
// suppression.
const echoTTL = 60 * time.Second

// Envelope is one published frame plus routing metadata. Data is the
// marshaled models.Frame; the gateway writes it to sockets verbatim.
type Envelope struct {
	Channel   string          `json:"channel"`
	EventType models.EventType `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	PublishID string          `json:"publish_id"`
	Origin    string          `json:"origin"`
	Data      json.RawMessage `json:"data"`
}

// Subscription is one subscriber's attachment to a set of channels.
type Subscription struct {
	ch       chan Envelope
	channels []string
	cancel   func()
	once     sync.Once
	dropped  atomic.Uint64
}

// C is the envelope stream. Closed after Cancel.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Cancel detaches the subscription and closes C. Idempotent.
func (s *Subscription) Cancel() { s.once.Do(s.cancel) }

// Dropped reports envelopes discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Hub routes envelopes from publishers to channel subscribers and, via
// the forwarder, to peer instances.
type Hub struct {
	origin string

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	// forward, when set, pushes locally published envelopes to the
	// cross-instance broker.
	forward atomic.Pointer[func(Envelope)]

	seen seenCache

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New builds a hub. origin identifies this instance in envelopes so
// broker deliveries of our own publishes are suppressed.
func New(origin string) *Hub {
	if origin == "" {
		origin = uuid.New().String()
	}
	return &Hub{
		origin: origin,
		subs:   make(map[string]map[*Subscription]struct{}),
		seen:   seenCache{entries: make(map[string]time.Time)},
	}
}

// Origin returns this instance's envelope origin id.
func (h *Hub) Origin() string { return h.origin }

// SetForwarder installs the broker bridge's publish hook. Passing nil
// reverts to local-only delivery.
func (h *Hub) SetForwarder(fn func(Envelope)) {
	if fn == nil {
		h.forward.Store(nil)
		return
	}
	h.forward.Store(&fn)
}

// Publish marshals the frame and delivers it to local subscribers and
// the forwarder. Returns only marshaling errors; delivery never blocks
// and never fails the publisher.
func (h *Hub) Publish(ctx context.Context, channel string, frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	env := Envelope{
		Channel:   channel,
		EventType: frame.EventType,
		Timestamp: frame.Timestamp,
		PublishID: uuid.New().String(),
		Origin:    h.origin,
		Data:      data,
	}
	h.seen.remember(env.PublishID)
	h.deliver(env)

	if fn := h.forward.Load(); fn != nil {
		(*fn)(env)
	}
	return nil
}

// Inject delivers an envelope received from the broker. Envelopes this
// instance published (matching origin or a remembered publish id) are
// dropped so frames do not echo back to local subscribers.
func (h *Hub) Inject(env Envelope) {
	if env.Origin == h.origin || h.seen.contains(env.PublishID) {
		return
	}
	h.seen.remember(env.PublishID)
	h.deliver(env)
}

// Subscribe attaches a new subscription to the channels. Cancel must be
// called when the subscriber goes away.
func (h *Hub) Subscribe(channels ...string) *Subscription {
	sub := &Subscription{
		ch:       make(chan Envelope, subscriberQueueSize),
		channels: channels,
	}
	sub.cancel = func() {
		h.mu.Lock()
		for _, c := range sub.channels {
			if set, ok := h.subs[c]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, c)
				}
			}
		}
		h.mu.Unlock()
		close(sub.ch)
		metrics.HubSubscribers.Dec()
	}

	h.mu.Lock()
	for _, c := range channels {
		set, ok := h.subs[c]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[c] = set
		}
		set[sub] = struct{}{}
	}
	h.mu.Unlock()
	metrics.HubSubscribers.Inc()
	return sub
}

// deliver fans the envelope out to every subscriber of its channel.
// Full queues drop their oldest envelope to make room; alert and
// broadcast consumers recover via since= replay on reconnect.
func (h *Hub) deliver(env Envelope) {
	h.published.Add(1)
	metrics.HubPublished.WithLabelValues(channelNamespace(env.Channel)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[env.Channel] {
		select {
		case sub.ch <- env:
			continue
		default:
		}
		// Queue full: evict the oldest envelope, then try once more. A
		// concurrent reader may have drained in between; if the retry
		// still fails the new envelope is the one dropped.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			h.dropped.Add(1)
			metrics.HubDropped.Inc()
		default:
		}
		select {
		case sub.ch <- env:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
			metrics.HubDropped.Inc()
		}
	}
}

// Stats snapshots hub activity for the admin system view.
func (h *Hub) Stats() models.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make(map[string]int, len(h.subs))
	total := 0
	counted := make(map[*Subscription]struct{})
	for name, set := range h.subs {
		channels[name] = len(set)
		for sub := range set {
			if _, ok := counted[sub]; !ok {
				counted[sub] = struct{}{}
				total++
			}
		}
	}
	return models.HubStats{
		Channels:    channels,
		Subscribers: total,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// channelNamespace truncates per-entity channels to their family for
// metric labels, keeping cardinality bounded.
func channelNamespace(channel string) string {
	if i := strings.Index(channel, "."); i > 0 {
		return channel[:i]
	}
	return channel
}

// seenCache remembers recent publish ids. Swept inline on writes; at
// gateway publish rates the map stays small.
type seenCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	swept   time.Time
}

func (c *seenCache) remember(id string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = now
	if now.Sub(c.swept) > echoTTL {
		for k, at := range c.entries {
			if now.Sub(at) > echoTTL {
				delete(c.entries, k)
			}
		}
		c.swept = now
		if len(c.entries) > 100_000 {
			logging.Warn().
				Str("component", "hub").
				Int("entries", len(c.entries)).
				Msg("echo suppression cache unusually large")
		}
	}
}

func (c *seenCache) contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[id]
	return ok && time.Since(at) <= echoTTL
}
