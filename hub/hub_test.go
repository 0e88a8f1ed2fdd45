package hub

import (
	"testing"
	"time"

	"github.com/onnwee/chathub/backend/events"
)

func recv(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	h := New()
	ch, cancel := h.Subscribe(ChannelChat)
	defer cancel()

	want := []string{"one", "two", "three", "four"}
	for _, text := range want {
		h.Publish(ChannelChat, events.ChatMessage{Platform: events.PlatformTwitch, Text: text})
	}
	for i, text := range want {
		msg, ok := recv(t, ch).(events.ChatMessage)
		if !ok {
			t.Fatalf("event %d: wrong type", i)
		}
		if msg.Text != text {
			t.Fatalf("event %d: got %q want %q", i, msg.Text, text)
		}
	}
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	h := New()
	h.Publish(ChannelChat, events.ChatMessage{Text: "early"})

	ch, cancel := h.Subscribe(ChannelChat)
	defer cancel()

	select {
	case ev := <-ch:
		t.Fatalf("late subscriber received %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	h.Publish(ChannelChat, events.ChatMessage{Text: "later"})
	msg := recv(t, ch).(events.ChatMessage)
	if msg.Text != "later" {
		t.Fatalf("got %q want %q", msg.Text, "later")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := New()
	ch, cancel := h.Subscribe(ChannelChat)
	cancel()
	cancel() // must not panic or error

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if n := h.SubscriberCount(ChannelChat); n != 0 {
		t.Fatalf("subscriber count = %d, want 0", n)
	}

	// The hub must tolerate publishing with no subscribers left.
	h.Publish(ChannelChat, events.ChatMessage{Text: "noop"})
}

func TestUnsubscribedReceiverGetsNothingFurther(t *testing.T) {
	h := New()
	ch, cancel := h.Subscribe(ChannelChat)
	h.Publish(ChannelChat, events.ChatMessage{Text: "before"})
	if msg := recv(t, ch).(events.ChatMessage); msg.Text != "before" {
		t.Fatalf("got %q want %q", msg.Text, "before")
	}
	cancel()
	h.Publish(ChannelChat, events.ChatMessage{Text: "after"})
	if ev, open := <-ch; open {
		t.Fatalf("received %v after unsubscribe", ev)
	}
}

func TestStatusReplayToNewSubscriber(t *testing.T) {
	h := New()
	h.Publish(ChannelStatus, events.StatusEvent{Platform: events.PlatformTwitch, Live: true, StreamID: "s1"})

	ch, cancel := h.Subscribe(ChannelStatus)
	defer cancel()

	st := recv(t, ch).(events.StatusEvent)
	if !st.Live || st.StreamID != "s1" {
		t.Fatalf("replayed status = %+v", st)
	}

	// Subsequent events still flow normally.
	h.Publish(ChannelStatus, events.StatusEvent{Platform: events.PlatformTwitch, Live: false})
	st = recv(t, ch).(events.StatusEvent)
	if st.Live {
		t.Fatal("expected the follow-up offline event")
	}
}

func TestStatusCachePerPlatform(t *testing.T) {
	h := New()
	h.Publish(ChannelStatus, events.StatusEvent{Platform: events.PlatformTwitch, Live: true})
	h.Publish(ChannelStatus, events.StatusEvent{Platform: events.PlatformKick, Live: false})

	if st, ok := h.LastStatus(events.PlatformTwitch); !ok || !st.Live {
		t.Fatalf("twitch status = %+v ok=%v", st, ok)
	}
	if st, ok := h.LastStatus(events.PlatformKick); !ok || st.Live {
		t.Fatalf("kick status = %+v ok=%v", st, ok)
	}
	if _, ok := h.LastStatus(events.PlatformYouTube); ok {
		t.Fatal("youtube should have no cached status")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New()
	// slow never drains; its buffer fills and overflow is dropped.
	_, cancelSlow := h.Subscribe(ChannelChat)
	defer cancelSlow()
	fast, cancelFast := h.Subscribe(ChannelChat)
	defer cancelFast()

	total := subscriberBuffer * 3
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			h.Publish(ChannelChat, events.ChatMessage{Text: "x"})
		}
		close(done)
	}()

	for i := 0; i < total; i++ {
		recv(t, fast)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	h := New()
	chat, cancelChat := h.Subscribe(ChannelChat)
	defer cancelChat()
	mod, cancelMod := h.Subscribe(ChannelModeration)
	defer cancelMod()

	h.Publish(ChannelModeration, events.ModerationEvent{Action: events.ActionBan})

	select {
	case ev := <-chat:
		t.Fatalf("chat subscriber received moderation event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := recv(t, mod).(events.ModerationEvent); !ok {
		t.Fatal("moderation subscriber missed its event")
	}
}
