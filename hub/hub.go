// Package hub implements the in-process publish/subscribe broker that joins
// platform connectors to viewer sessions. It carries three independent
// channels (chat, moderation, platform status) with per-channel publish
// ordering and at-most-once delivery to currently registered subscribers.
//
// Delivery is message passing, not callback invocation: each subscriber owns a
// buffered Go channel drained by its own consumer. A subscriber that stops
// draining loses events (counted and logged) instead of blocking the
// publisher or its siblings. The hub holds no queue beyond those buffers; a
// subscriber registered after an event was published never sees it, with one
// exception: the last known status per platform is replayed to new status
// subscribers as an immediate synthetic event.
package hub

import (
	"log/slog"
	"sync"

	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/telemetry"
)

// Channel names one of the hub's three event streams.
type Channel string

const (
	ChannelChat       Channel = "chat"
	ChannelModeration Channel = "moderation"
	ChannelStatus     Channel = "status"
)

// subscriberBuffer is the per-subscriber channel capacity. Sized for bursty
// chat; a viewer that falls this far behind is dropping frames anyway.
const subscriberBuffer = 64

type subscriber struct {
	ch     chan any
	closed bool
}

// Hub is safe for concurrent use by every connector and viewer task.
type Hub struct {
	mu         sync.Mutex
	subs       map[Channel]map[int]*subscriber
	nextID     int
	lastStatus map[events.Platform]events.StatusEvent
}

func New() *Hub {
	return &Hub{
		subs:       make(map[Channel]map[int]*subscriber),
		lastStatus: make(map[events.Platform]events.StatusEvent),
	}
}

// Publish delivers ev to every current subscriber of ch. It never blocks on a
// subscriber: a full buffer means the event is dropped for that subscriber
// only. Status events additionally update the last-known snapshot.
func (h *Hub) Publish(ch Channel, ev any) {
	h.mu.Lock()
	if ch == ChannelStatus {
		if st, ok := ev.(events.StatusEvent); ok {
			h.lastStatus[st.Platform] = st
		}
	}
	var dropped int
	for _, s := range h.subs[ch] {
		select {
		case s.ch <- ev:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if telemetry.EventsPublished != nil {
		telemetry.EventsPublished.WithLabelValues(string(ch)).Inc()
	}
	if dropped > 0 {
		if telemetry.EventsDropped != nil {
			telemetry.EventsDropped.WithLabelValues(string(ch)).Add(float64(dropped))
		}
		slog.Warn("hub dropped event for slow subscribers", slog.String("channel", string(ch)), slog.Int("dropped", dropped))
	}
}

// Subscribe registers a receiver on ch and returns its event stream plus an
// unsubscribe capability. Unsubscribing closes the stream; it is idempotent
// and safe to call after the hub already removed the subscriber. A new status
// subscriber immediately receives the cached last status of every platform
// that has reported, as if freshly published.
func (h *Hub) Subscribe(ch Channel) (<-chan any, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	s := &subscriber{ch: make(chan any, subscriberBuffer)}
	if h.subs[ch] == nil {
		h.subs[ch] = make(map[int]*subscriber)
	}
	h.subs[ch][id] = s
	if ch == ChannelStatus {
		for _, st := range h.lastStatus {
			s.ch <- st
		}
	}
	n := len(h.subs[ch])
	h.mu.Unlock()

	if telemetry.SubscriberGauge != nil {
		telemetry.SubscriberGauge.WithLabelValues(string(ch)).Set(float64(n))
	}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur, ok := h.subs[ch][id]
		if !ok || cur.closed {
			return
		}
		cur.closed = true
		delete(h.subs[ch], id)
		close(cur.ch)
		if telemetry.SubscriberGauge != nil {
			telemetry.SubscriberGauge.WithLabelValues(string(ch)).Set(float64(len(h.subs[ch])))
		}
	}
	return s.ch, cancel
}

// SubscriberCount reports current subscribers on ch (for /status).
func (h *Hub) SubscriberCount(ch Channel) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ch])
}

// LastStatus returns the cached status for a platform, if any.
func (h *Hub) LastStatus(p events.Platform) (events.StatusEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.lastStatus[p]
	return st, ok
}
