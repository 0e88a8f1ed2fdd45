package youtubechat

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/connector"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
)

func TestStartFailsClosedWithoutCredentials(t *testing.T) {
	c := New(&config.Config{}, hub.New(), nil)
	c.Start(context.Background())
	if got := c.State(); got != connector.StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
}

func TestCachedStatusWithinTTL(t *testing.T) {
	c := New(&config.Config{LivenessTTL: time.Minute}, hub.New(), nil)

	if _, ok := c.cachedStatus(); ok {
		t.Fatal("empty cache should miss")
	}

	c.mu.Lock()
	c.cached = &liveStatus{Live: true, ChatID: "chat-1", VideoID: "vid-1", FetchedAt: time.Now()}
	c.mu.Unlock()

	st, ok := c.cachedStatus()
	if !ok || !st.Live || st.ChatID != "chat-1" {
		t.Fatalf("cached = %+v ok=%v", st, ok)
	}

	// Cached liveness queries never hit the API; a nil service would panic.
	live, err := c.IsLive(context.Background())
	if err != nil || !live {
		t.Fatalf("IsLive = %v, %v", live, err)
	}
	chatID, err := c.ActiveChatID(context.Background())
	if err != nil || chatID != "chat-1" {
		t.Fatalf("ActiveChatID = %q, %v", chatID, err)
	}
}

func TestCachedStatusExpires(t *testing.T) {
	c := New(&config.Config{LivenessTTL: 10 * time.Millisecond}, hub.New(), nil)
	c.mu.Lock()
	c.cached = &liveStatus{Live: true, FetchedAt: time.Now().Add(-time.Second)}
	c.mu.Unlock()

	if _, ok := c.cachedStatus(); ok {
		t.Fatal("expired cache entry should miss")
	}
}

func TestAnnounceOfflinePublishesOncePerStretch(t *testing.T) {
	h := hub.New()
	c := New(&config.Config{}, h, nil)
	ch, cancel := h.Subscribe(hub.ChannelStatus)
	defer cancel()

	c.announceOffline()
	c.announceOffline()

	select {
	case raw := <-ch:
		ev, ok := raw.(events.StatusEvent)
		if !ok {
			t.Fatalf("event type %T", raw)
		}
		if ev.Platform != events.PlatformYouTube || ev.Live {
			t.Fatalf("event = %+v, want youtube offline", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no offline status published")
	}
	select {
	case raw := <-ch:
		t.Fatalf("duplicate offline status published: %+v", raw)
	case <-time.After(50 * time.Millisecond):
	}

	// A live session resets the stretch; the next offline publishes again.
	c.offlineAnnounced = false
	c.announceOffline()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("offline status after live session not published")
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	c := New(&config.Config{}, hub.New(), nil)
	if c.ttl != 30*time.Second {
		t.Fatalf("ttl = %v, want 30s default", c.ttl)
	}
}
