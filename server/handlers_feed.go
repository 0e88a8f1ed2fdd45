package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/telemetry"
)

// HandleFeed streams hub events to one viewer over Server-Sent Events: a hello
// event on connect, the last known status per platform, then chat, moderation,
// and status events as they arrive, with periodic pings to detect dead
// connections and keep proxies from closing the stream. Subscriptions and the
// ping timer are torn down exactly once on any exit path.
func (h *Handlers) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	chatCh, cancelChat := h.hub.Subscribe(hub.ChannelChat)
	modCh, cancelMod := h.hub.Subscribe(hub.ChannelModeration)
	statusCh, cancelStatus := h.hub.Subscribe(hub.ChannelStatus)
	defer func() {
		cancelChat()
		cancelMod()
		cancelStatus()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log := telemetry.LoggerWithCorr(r.Context())
	log.Info("feed client connected", slog.String("remote", r.RemoteAddr), slog.String("component", "feed"))

	if !writeSSE(w, flusher, "hello", map[string]any{"at": time.Now().UTC()}) {
		return
	}

	interval := h.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info("feed client disconnected", slog.String("remote", r.RemoteAddr), slog.String("component", "feed"))
			return
		case <-ping.C:
			if !writeSSE(w, flusher, "ping", map[string]any{"at": time.Now().UTC()}) {
				return
			}
		case ev, ok := <-chatCh:
			if !ok || !writeSSE(w, flusher, "chat", ev) {
				return
			}
		case ev, ok := <-modCh:
			if !ok || !writeSSE(w, flusher, "moderation", ev) {
				return
			}
		case ev, ok := <-statusCh:
			if !ok || !writeSSE(w, flusher, "status", ev) {
				return
			}
		}
	}
}

// writeSSE frames one event onto the stream and reports whether the connection
// is still usable. A write failure is the signal to tear the session down.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("failed to marshal SSE payload", slog.String("event", event), slog.Any("err", err))
		return true
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
