package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/moderation"
	"github.com/onnwee/chathub/backend/telemetry"
)

// moderationRequest is the JSON body shared by the moderation endpoints.
type moderationRequest struct {
	ActorID         int64  `json:"actor_id"`
	Platform        string `json:"platform"`
	TargetUserID    string `json:"target_platform_user_id"`
	TargetUsername  string `json:"target_username,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func (h *Handlers) HandleModerationTimeout(w http.ResponseWriter, r *http.Request) {
	h.handleModeration(w, r, h.dispatcher.ApplyTimeout)
}

func (h *Handlers) HandleModerationBan(w http.ResponseWriter, r *http.Request) {
	h.handleModeration(w, r, h.dispatcher.ApplyBan)
}

func (h *Handlers) HandleModerationUnban(w http.ResponseWriter, r *http.Request) {
	h.handleModeration(w, r, h.dispatcher.ApplyUnban)
}

func (h *Handlers) handleModeration(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, moderation.Request) (*moderation.Result, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body moderationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	platform, err := events.ParsePlatform(body.Platform)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := apply(r.Context(), moderation.Request{
		Platform:             platform,
		TargetPlatformUserID: body.TargetUserID,
		TargetUsername:       body.TargetUsername,
		DurationSeconds:      body.DurationSeconds,
		Reason:               body.Reason,
		ActorID:              body.ActorID,
	})
	if err != nil {
		writeModerationError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// All platforms failing is a gateway problem, not a client one.
	if !res.Success {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(res)
}

// roleRequest is the JSON body for role promotion/demotion.
type roleRequest struct {
	ActorID      int64  `json:"actor_id"`
	TargetUserID int64  `json:"target_user_id"`
	Platform     string `json:"platform"`
	Role         string `json:"role"`
}

// HandleModerationRole grants or revokes the moderator role on a target's
// platform link. Admin and owner are allow-list managed and rejected here.
func (h *Handlers) HandleModerationRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body roleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	platform, err := events.ParsePlatform(body.Platform)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role, err := moderation.ParseRole(body.Role)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.SetRole(r.Context(), body.ActorID, body.TargetUserID, platform, role); err != nil {
		writeModerationError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "role": role.String()})
}

// writeModerationError maps dispatcher sentinels to HTTP status codes.
// Unexpected errors become a generic 500 so internals never leak to clients.
func writeModerationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, moderation.ErrUnauthorized), errors.Is(err, moderation.ErrProtectedTarget):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, moderation.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, moderation.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		telemetry.LoggerWithCorr(r.Context()).Error("moderation dispatch error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
