// Package youtubechat polls the YouTube live chat API and publishes
// normalized messages and liveness transitions to the hub. Unlike the socket
// connectors it also serves synchronous liveness queries for request handlers,
// backed by a short TTL cache to bound API call volume.
package youtubechat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/connector"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/telemetry"
	"github.com/onnwee/chathub/backend/youtubeapi"
)

// liveStatus is one cached liveness lookup. The cache is an explicit struct
// with a timestamp so the forced-refresh path shares the same fetch.
type liveStatus struct {
	Live      bool
	ChatID    string
	VideoID   string
	FetchedAt time.Time
}

type Connector struct {
	cfg *config.Config
	hub *hub.Hub
	yt  *youtubeapi.Service
	ttl time.Duration

	state atomic.Int32

	mu     sync.Mutex
	cached *liveStatus

	// offlineAnnounced suppresses duplicate offline publishes across poll
	// cycles; only the run loop touches it.
	offlineAnnounced bool
}

func New(cfg *config.Config, h *hub.Hub, yt *youtubeapi.Service) *Connector {
	ttl := cfg.LivenessTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Connector{cfg: cfg, hub: h, yt: yt, ttl: ttl}
}

func (c *Connector) State() connector.State {
	return connector.State(c.state.Load())
}

func (c *Connector) setState(s connector.State) {
	c.state.Store(int32(s))
	if telemetry.ConnectorState != nil {
		telemetry.ConnectorState.WithLabelValues(string(events.PlatformYouTube)).Set(float64(s))
	}
}

// Start begins the unattended poll loop. Missing OAuth client configuration
// fails closed: one log line, STOPPED, no publishes.
func (c *Connector) Start(ctx context.Context) {
	if err := c.cfg.ValidateYouTubeReady(); err != nil {
		slog.Info("youtube connector disabled", slog.Any("err", err), slog.String("component", "youtube_connector"))
		c.setState(connector.StateStopped)
		return
	}
	go c.run(ctx)
}

func (c *Connector) run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			c.setState(connector.StateStopped)
			return
		}
		c.setState(connector.StateConnecting)
		hadSession, err := c.pollSession(ctx)
		if ctx.Err() != nil {
			c.setState(connector.StateStopped)
			return
		}
		if hadSession {
			attempt = 0
		}
		// A known-offline channel gets one status publish so the hub's
		// cache answers late subscribers; fetch errors stay silent.
		if hadSession || err == nil {
			c.announceOffline()
		}
		c.setState(connector.StateReconnecting)
		delay := connector.Backoff(attempt)
		if err != nil {
			slog.Warn("youtube chat poll ended; retrying", slog.Any("err", err), slog.Duration("backoff", delay))
		}
		select {
		case <-ctx.Done():
			c.setState(connector.StateStopped)
			return
		case <-time.After(delay):
		}
	}
}

// pollSession waits for a live broadcast, then drains its chat until the
// stream ends or an error occurs. Returns whether a live session was seen.
func (c *Connector) pollSession(ctx context.Context) (bool, error) {
	st, err := c.fetchStatus(ctx)
	if err != nil {
		return false, err
	}
	if !st.Live {
		return false, nil
	}
	c.setState(connector.StateConnected)
	c.offlineAnnounced = false
	c.hub.Publish(hub.ChannelStatus, events.StatusEvent{
		Platform: events.PlatformYouTube,
		Live:     true,
		StreamID: st.VideoID,
		At:       time.Now().UTC(),
	})
	slog.Info("youtube live chat polling started", slog.String("video_id", st.VideoID))

	svc, err := c.yt.Client(ctx)
	if err != nil {
		return true, err
	}
	pageToken := ""
	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		page, err := youtubeapi.ListLiveChat(ctx, svc, st.ChatID, pageToken)
		if err != nil {
			return true, err
		}
		// Skip the backlog returned on the first page; the hub carries live
		// traffic, not history.
		if pageToken != "" {
			for _, m := range page.Messages {
				ev, ok := normalize(m)
				if !ok {
					continue
				}
				c.hub.Publish(hub.ChannelChat, ev)
				if telemetry.MessagesNormalized != nil {
					telemetry.MessagesNormalized.WithLabelValues(string(events.PlatformYouTube)).Inc()
				}
			}
		}
		pageToken = page.NextPageToken
		wait := page.PollAfter
		if wait < time.Second {
			wait = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// announceOffline publishes one offline status per offline stretch. The first
// successful fetch of an offline channel publishes; repeats are suppressed
// until a live session resets the flag.
func (c *Connector) announceOffline() {
	if c.offlineAnnounced {
		return
	}
	c.offlineAnnounced = true
	c.hub.Publish(hub.ChannelStatus, events.StatusEvent{
		Platform: events.PlatformYouTube,
		Live:     false,
		At:       time.Now().UTC(),
	})
}

// fetchStatus performs one fresh liveness lookup and updates the cache.
func (c *Connector) fetchStatus(ctx context.Context) (liveStatus, error) {
	svc, err := c.yt.Client(ctx)
	if err != nil {
		return liveStatus{}, err
	}
	chatID, videoID, err := youtubeapi.ActiveLiveChatID(ctx, svc)
	if err != nil {
		return liveStatus{}, err
	}
	st := liveStatus{Live: chatID != "", ChatID: chatID, VideoID: videoID, FetchedAt: time.Now()}
	c.mu.Lock()
	c.cached = &st
	c.mu.Unlock()
	return st, nil
}

// cachedStatus returns the cached lookup if it is still within TTL.
func (c *Connector) cachedStatus() (liveStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || time.Since(c.cached.FetchedAt) > c.ttl {
		return liveStatus{}, false
	}
	return *c.cached, true
}

// IsLive answers a synchronous liveness query, serving from cache within TTL.
func (c *Connector) IsLive(ctx context.Context) (bool, error) {
	if st, ok := c.cachedStatus(); ok {
		return st.Live, nil
	}
	st, err := c.fetchStatus(ctx)
	if err != nil {
		return false, err
	}
	return st.Live, nil
}

// ActiveChatID answers a synchronous chat-id query, serving from cache within TTL.
func (c *Connector) ActiveChatID(ctx context.Context) (string, error) {
	if st, ok := c.cachedStatus(); ok {
		return st.ChatID, nil
	}
	st, err := c.fetchStatus(ctx)
	if err != nil {
		return "", err
	}
	return st.ChatID, nil
}

// CheckLiveNow bypasses the cache, performs one fresh lookup, and publishes
// the result on the status channel so every subscriber converges without
// polling themselves.
func (c *Connector) CheckLiveNow(ctx context.Context) (events.StatusEvent, error) {
	st, err := c.fetchStatus(ctx)
	if err != nil {
		return events.StatusEvent{}, fmt.Errorf("youtube live check: %w", err)
	}
	ev := events.StatusEvent{
		Platform: events.PlatformYouTube,
		Live:     st.Live,
		StreamID: st.VideoID,
		At:       time.Now().UTC(),
	}
	c.hub.Publish(hub.ChannelStatus, ev)
	return ev, nil
}

// Send posts an outbound message into the current live chat. Used as the
// send-queue worker for YouTube.
func (c *Connector) Send(ctx context.Context, text string) error {
	chatID, err := c.ActiveChatID(ctx)
	if err != nil {
		return err
	}
	if chatID == "" {
		return fmt.Errorf("youtube channel is not live")
	}
	svc, err := c.yt.Client(ctx)
	if err != nil {
		return err
	}
	return youtubeapi.InsertMessage(ctx, svc, chatID, text)
}
