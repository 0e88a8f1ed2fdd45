package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
)

// readSSEEvent reads one "event:"/"data:" frame from the stream.
func readSSEEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" {
				return event, data
			}
		}
	}
}

func TestFeedStreamsHelloAndEvents(t *testing.T) {
	broker := hub.New()
	cfg := &config.Config{HeartbeatInterval: time.Hour} // keep pings out of the way
	h := NewHandlers(context.Background(), nil, cfg, broker, nil, nil, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleFeed))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET feed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if event, _ := readSSEEvent(t, reader); event != "hello" {
		t.Fatalf("first event = %q, want hello", event)
	}

	// The hello frame is written after subscribing, so these publishes land.
	broker.Publish(hub.ChannelChat, events.ChatMessage{Platform: events.PlatformTwitch, Username: "viewer", Text: "hi"})
	event, data := readSSEEvent(t, reader)
	if event != "chat" {
		t.Fatalf("event = %q, want chat", event)
	}
	if !strings.Contains(data, `"hi"`) {
		t.Fatalf("chat payload = %s", data)
	}

	broker.Publish(hub.ChannelModeration, events.ModerationEvent{Action: events.ActionBan, Platform: events.PlatformKick})
	if event, _ = readSSEEvent(t, reader); event != "moderation" {
		t.Fatalf("event = %q, want moderation", event)
	}

	broker.Publish(hub.ChannelStatus, events.StatusEvent{Platform: events.PlatformYouTube, Live: true})
	if event, _ = readSSEEvent(t, reader); event != "status" {
		t.Fatalf("event = %q, want status", event)
	}
}

func TestFeedSendsPings(t *testing.T) {
	broker := hub.New()
	cfg := &config.Config{HeartbeatInterval: 50 * time.Millisecond}
	h := NewHandlers(context.Background(), nil, cfg, broker, nil, nil, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleFeed))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET feed: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if event, _ := readSSEEvent(t, reader); event != "hello" {
		t.Fatalf("first event = %q, want hello", event)
	}
	if event, _ := readSSEEvent(t, reader); event != "ping" {
		t.Fatalf("second event = %q, want ping", event)
	}
}

func TestFeedCleansUpSubscriptionsOnDisconnect(t *testing.T) {
	broker := hub.New()
	cfg := &config.Config{HeartbeatInterval: time.Hour}
	h := NewHandlers(context.Background(), nil, cfg, broker, nil, nil, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleFeed))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET feed: %v", err)
	}
	reader := bufio.NewReader(resp.Body)
	if event, _ := readSSEEvent(t, reader); event != "hello" {
		t.Fatalf("first event = %q, want hello", event)
	}
	if n := broker.SubscriberCount(hub.ChannelChat); n != 1 {
		t.Fatalf("chat subscribers = %d, want 1", n)
	}

	resp.Body.Close()

	deadline := time.After(2 * time.Second)
	for broker.SubscriberCount(hub.ChannelChat) != 0 {
		select {
		case <-deadline:
			t.Fatal("subscription not torn down after client disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestFeedRejectsNonGET(t *testing.T) {
	broker := hub.New()
	h := NewHandlers(context.Background(), nil, &config.Config{}, broker, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.HandleFeed(rec, httptest.NewRequest(http.MethodPost, "/feed", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
