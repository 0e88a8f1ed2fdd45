package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
)

const testEventSubSecret = "s3cr3t"

func webhookHandlers(t *testing.T) (*Handlers, *hub.Hub) {
	t.Helper()
	broker := hub.New()
	cfg := &config.Config{EventSubSecret: testEventSubSecret}
	h := NewHandlers(context.Background(), nil, cfg, broker, nil, nil, nil, nil)
	return h, broker
}

func signEventSub(secret, msgID, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte(ts))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func eventSubRequest(secret, msgType string, body []byte) *http.Request {
	msgID := "msg-1"
	ts := time.Now().UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodPost, "/webhook/eventsub", bytes.NewReader(body))
	req.Header.Set(headerMessageID, msgID)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set(headerMessageType, msgType)
	req.Header.Set(headerMessageSignature, signEventSub(secret, msgID, ts, body))
	return req
}

func TestWebhookChallengeEcho(t *testing.T) {
	h, _ := webhookHandlers(t)
	body := []byte(`{"challenge":"pong-123","subscription":{"type":"stream.online"}}`)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, eventSubRequest(testEventSubSecret, messageTypeVerification, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "pong-123" {
		t.Fatalf("challenge echo = %q, want the raw challenge", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	h, _ := webhookHandlers(t)
	signed := []byte(`{"subscription":{"type":"stream.online"}}`)
	tampered := []byte(`{"subscription":{"type":"stream.offline"}}`)
	msgID, ts := "msg-1", time.Now().UTC().Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodPost, "/webhook/eventsub", bytes.NewReader(tampered))
	req.Header.Set(headerMessageID, msgID)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set(headerMessageType, messageTypeNotification)
	req.Header.Set(headerMessageSignature, signEventSub(testEventSubSecret, msgID, ts, signed))

	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	h, _ := webhookHandlers(t)
	body := []byte(`{"subscription":{"type":"stream.online"}}`)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, eventSubRequest("wrong-secret", messageTypeNotification, body))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookRejectsMissingSignatureHeaders(t *testing.T) {
	h, _ := webhookHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/webhook/eventsub", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookRejectsWhenSecretUnconfigured(t *testing.T) {
	broker := hub.New()
	h := NewHandlers(context.Background(), nil, &config.Config{}, broker, nil, nil, nil, nil)
	body := []byte(`{}`)
	rec := httptest.NewRecorder()
	// Even a correctly signed request fails closed without a configured secret.
	h.HandleEventSubWebhook(rec, eventSubRequest(testEventSubSecret, messageTypeNotification, body))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookStreamOnlinePublishesStatus(t *testing.T) {
	h, broker := webhookHandlers(t)
	statusCh, cancel := broker.Subscribe(hub.ChannelStatus)
	defer cancel()

	body := []byte(`{"subscription":{"type":"stream.online"},"event":{"id":"stream-42","broadcaster_user_login":"streamer"}}`)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, eventSubRequest(testEventSubSecret, messageTypeNotification, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	select {
	case ev := <-statusCh:
		st, ok := ev.(events.StatusEvent)
		if !ok {
			t.Fatalf("event type %T", ev)
		}
		if st.Platform != events.PlatformTwitch || !st.Live || st.StreamID != "stream-42" {
			t.Fatalf("status event = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event published")
	}
}

func TestWebhookStreamOfflinePublishesStatus(t *testing.T) {
	h, broker := webhookHandlers(t)
	statusCh, cancel := broker.Subscribe(hub.ChannelStatus)
	defer cancel()

	body := []byte(`{"subscription":{"type":"stream.offline"},"event":{"broadcaster_user_login":"streamer"}}`)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, eventSubRequest(testEventSubSecret, messageTypeNotification, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	select {
	case ev := <-statusCh:
		if st := ev.(events.StatusEvent); st.Live {
			t.Fatalf("status event = %+v, want offline", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event published")
	}
}

func TestWebhookRevocationAcknowledged(t *testing.T) {
	h, _ := webhookHandlers(t)
	body := []byte(`{"subscription":{"type":"stream.online"}}`)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, eventSubRequest(testEventSubSecret, messageTypeRevocation, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookUnknownMessageType(t *testing.T) {
	h, _ := webhookHandlers(t)
	body := []byte(`{}`)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, eventSubRequest(testEventSubSecret, "garbage", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h, _ := webhookHandlers(t)
	rec := httptest.NewRecorder()
	h.HandleEventSubWebhook(rec, httptest.NewRequest(http.MethodGet, "/webhook/eventsub", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
