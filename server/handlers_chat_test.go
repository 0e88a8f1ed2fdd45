package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/sendqueue"
)

func chatHandlers(t *testing.T, sender sendqueue.Sender) *Handlers {
	t.Helper()
	q := sendqueue.New()
	q.RegisterSender(events.PlatformTwitch, func(ctx context.Context, text string) error {
		if sender != nil {
			return sender(ctx, text)
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	return NewHandlers(ctx, nil, &config.Config{}, hub.New(), nil, q, nil, nil)
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h(rec, req)
	return rec
}

func TestChatSendDelivers(t *testing.T) {
	h := chatHandlers(t, nil)
	rec := postJSON(t, h.HandleChatSend, "/api/chat/send", `{"platform":"twitch","text":"hello chat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["sent"] != true {
		t.Fatalf("response = %v", out)
	}
}

func TestChatSendReportsWorkerFailure(t *testing.T) {
	h := chatHandlers(t, func(ctx context.Context, text string) error {
		return errors.New("irc not connected")
	})
	rec := postJSON(t, h.HandleChatSend, "/api/chat/send", `{"platform":"twitch","text":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["sent"] != false || out["error"] == "" {
		t.Fatalf("response = %v", out)
	}
}

func TestChatSendUnregisteredPlatform(t *testing.T) {
	h := chatHandlers(t, nil)
	// kick has no registered sender in this setup
	rec := postJSON(t, h.HandleChatSend, "/api/chat/send", `{"platform":"kick","text":"hello"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestChatSendValidation(t *testing.T) {
	h := chatHandlers(t, nil)
	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown platform", `{"platform":"discord","text":"x"}`},
		{"empty text", `{"platform":"twitch","text":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, h.HandleChatSend, "/api/chat/send", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestYouTubeLiveCheckDisabled(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{}, hub.New(), nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.HandleYouTubeLiveCheck(rec, httptest.NewRequest(http.MethodGet, "/api/youtube/live", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

type stubLiveChecker struct {
	ev  events.StatusEvent
	err error
}

func (s *stubLiveChecker) IsLive(ctx context.Context) (bool, error) { return s.ev.Live, s.err }
func (s *stubLiveChecker) CheckLiveNow(ctx context.Context) (events.StatusEvent, error) {
	return s.ev, s.err
}

func TestYouTubeLiveCheck(t *testing.T) {
	yt := &stubLiveChecker{ev: events.StatusEvent{Platform: events.PlatformYouTube, Live: true, StreamID: "vid-1"}}
	h := NewHandlers(context.Background(), nil, &config.Config{}, hub.New(), nil, nil, yt, nil)
	rec := httptest.NewRecorder()
	h.HandleYouTubeLiveCheck(rec, httptest.NewRequest(http.MethodGet, "/api/youtube/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var ev events.StatusEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ev.Live || ev.StreamID != "vid-1" {
		t.Fatalf("event = %+v", ev)
	}

	yt.err = errors.New("quota exceeded")
	rec = httptest.NewRecorder()
	h.HandleYouTubeLiveCheck(rec, httptest.NewRequest(http.MethodGet, "/api/youtube/live", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
