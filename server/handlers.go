package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/connector"
	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/moderation"
	"github.com/onnwee/chathub/backend/sendqueue"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// LiveChecker is the synchronous liveness surface of the YouTube polling
// connector, exposed to request handlers.
type LiveChecker interface {
	IsLive(ctx context.Context) (bool, error)
	CheckLiveNow(ctx context.Context) (events.StatusEvent, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db         *sql.DB
	ctx        context.Context
	cfg        *config.Config
	hub        *hub.Hub
	dispatcher *moderation.Dispatcher
	queue      *sendqueue.Queue
	youtube    LiveChecker
	states     func() map[events.Platform]connector.State

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// states reports each connector's current lifecycle phase for /status; youtube
// may be nil when the connector is disabled.
func NewHandlers(ctx context.Context, dbx *sql.DB, cfg *config.Config, h *hub.Hub,
	disp *moderation.Dispatcher, q *sendqueue.Queue, yt LiveChecker,
	states func() map[events.Platform]connector.State) *Handlers {
	return &Handlers{
		db:         dbx,
		ctx:        ctx,
		cfg:        cfg,
		hub:        h,
		dispatcher: disp,
		queue:      q,
		youtube:    yt,
		states:     states,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"schema", func() error {
			var n int
			return h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM active_timeouts WHERE 1=0").Scan(&n)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports connector states, hub subscriber counts, queue depths,
// and the number of active timeouts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	type platformStatus struct {
		Connector  string              `json:"connector"`
		Live       *events.StatusEvent `json:"last_status,omitempty"`
		QueueDepth int                 `json:"queue_depth"`
	}
	out := struct {
		Platforms      map[string]platformStatus `json:"platforms"`
		Subscribers    map[string]int            `json:"subscribers"`
		ActiveTimeouts int                       `json:"active_timeouts"`
	}{
		Platforms: make(map[string]platformStatus),
		Subscribers: map[string]int{
			string(hub.ChannelChat):       h.hub.SubscriberCount(hub.ChannelChat),
			string(hub.ChannelModeration): h.hub.SubscriberCount(hub.ChannelModeration),
			string(hub.ChannelStatus):     h.hub.SubscriberCount(hub.ChannelStatus),
		},
	}

	states := map[events.Platform]connector.State{}
	if h.states != nil {
		states = h.states()
	}
	for _, p := range events.All() {
		ps := platformStatus{Connector: states[p].String(), QueueDepth: h.queue.Depth(p)}
		if ev, ok := h.hub.LastStatus(p); ok {
			ps.Live = &ev
		}
		out.Platforms[string(p)] = ps
	}

	if n, err := db.CountActiveTimeouts(r.Context(), h.db); err == nil {
		out.ActiveTimeouts = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
