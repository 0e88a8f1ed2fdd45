package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
)

// EventSub header names as delivered by Twitch.
const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"
)

const (
	messageTypeVerification = "webhook_callback_verification"
	messageTypeRevocation   = "revocation"
	messageTypeNotification = "notification"
)

// maxWebhookBody bounds the request body read; EventSub payloads are small.
const maxWebhookBody = 1 << 20

// HandleEventSubWebhook accepts signed EventSub deliveries. The signature is
// HMAC-SHA256 over (message id + timestamp + raw body), hex-encoded with a
// "sha256=" prefix, compared in constant time; mismatches get 403 before any
// payload parsing.
func (h *Handlers) HandleEventSubWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !verifyEventSubSignature(r, body, h.cfg.EventSubSecret) {
		slog.Warn("eventsub signature rejected",
			slog.String("message_id", r.Header.Get(headerMessageID)),
			slog.String("component", "webhook"))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var payload struct {
		Challenge    string `json:"challenge"`
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event struct {
			ID                   string `json:"id"`
			BroadcasterUserLogin string `json:"broadcaster_user_login"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		// Echo the challenge as plain text so the subscription activates.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(payload.Challenge))
	case messageTypeRevocation:
		slog.Warn("eventsub subscription revoked",
			slog.String("type", payload.Subscription.Type),
			slog.String("component", "webhook"))
		w.WriteHeader(http.StatusOK)
	case messageTypeNotification:
		h.dispatchEventSubNotification(payload.Subscription.Type, payload.Event.ID, payload.Event.BroadcasterUserLogin)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "unknown message type", http.StatusBadRequest)
	}
}

// dispatchEventSubNotification translates a notification into a status event.
// Stream lifecycle notifications feed the same status channel the connectors
// publish on, so viewers converge regardless of which signal lands first.
func (h *Handlers) dispatchEventSubNotification(subType, streamID, login string) {
	switch subType {
	case "stream.online":
		h.hub.Publish(hub.ChannelStatus, events.StatusEvent{
			Platform: events.PlatformTwitch,
			Live:     true,
			StreamID: streamID,
			At:       time.Now().UTC(),
		})
	case "stream.offline":
		h.hub.Publish(hub.ChannelStatus, events.StatusEvent{
			Platform: events.PlatformTwitch,
			Live:     false,
			At:       time.Now().UTC(),
		})
	default:
		slog.Debug("unhandled eventsub notification",
			slog.String("type", subType),
			slog.String("broadcaster", login),
			slog.String("component", "webhook"))
	}
}

// verifyEventSubSignature recomputes the expected signature and compares in
// constant time.
func verifyEventSubSignature(r *http.Request, body []byte, secret string) bool {
	if secret == "" {
		slog.Warn("EVENTSUB_SECRET not configured; rejecting webhook", slog.String("component", "webhook"))
		return false
	}
	id := r.Header.Get(headerMessageID)
	ts := r.Header.Get(headerMessageTimestamp)
	provided := r.Header.Get(headerMessageSignature)
	if id == "" || ts == "" || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	mac.Write([]byte(ts))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
