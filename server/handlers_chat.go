package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/telemetry"
)

// HandleChatSend enqueues a moderator-authored message for delivery on one
// platform. The response carries the worker's actual delivery verdict.
func (h *Handlers) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Platform string `json:"platform"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	platform, err := events.ParsePlatform(body.Platform)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}

	if err := h.queue.Enqueue(r.Context(), platform, body.Text); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("chat send failed", "platform", body.Platform, "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"sent": false, "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"sent": true})
}

// HandleYouTubeLiveCheck performs one fresh liveness lookup, bypassing the
// connector's cache, and publishes the result on the status channel.
func (h *Handlers) HandleYouTubeLiveCheck(w http.ResponseWriter, r *http.Request) {
	if h.youtube == nil {
		http.Error(w, "youtube connector disabled", http.StatusServiceUnavailable)
		return
	}
	ev, err := h.youtube.CheckLiveNow(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("youtube live check failed", "err", err)
		http.Error(w, "live check failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ev)
}
