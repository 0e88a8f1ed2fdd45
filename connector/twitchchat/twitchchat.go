// Package twitchchat bridges Twitch IRC to the hub. It maintains the chat
// connection with backoff reconnects, normalizes messages onto the chat
// channel, and polls Helix for stream liveness onto the status channel.
package twitchchat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/connector"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/telemetry"
	"github.com/onnwee/chathub/backend/twitchapi"
)

// Connector is the Twitch platform connector. Start launches the background
// loops; Send delivers an outbound chat line on the live IRC connection.
type Connector struct {
	cfg   *config.Config
	hub   *hub.Hub
	helix *twitchapi.HelixClient

	state atomic.Int32

	mu     sync.Mutex
	client *twitch.Client
}

func New(cfg *config.Config, h *hub.Hub) *Connector {
	c := &Connector{cfg: cfg, hub: h}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		c.helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	}
	return c
}

// State reports the connector lifecycle phase.
func (c *Connector) State() connector.State {
	return connector.State(c.state.Load())
}

func (c *Connector) setState(s connector.State) {
	c.state.Store(int32(s))
	if telemetry.ConnectorState != nil {
		telemetry.ConnectorState.WithLabelValues(string(events.PlatformTwitch)).Set(float64(s))
	}
}

// Start begins the unattended IRC loop and the liveness poller. It returns
// immediately; a connector with missing credentials fails closed (one log
// line, terminal STOPPED state, no publishes).
func (c *Connector) Start(ctx context.Context) {
	if err := c.cfg.ValidateTwitchChatReady(); err != nil {
		slog.Info("twitch connector disabled", slog.Any("err", err), slog.String("component", "twitch_connector"))
		c.setState(connector.StateStopped)
		return
	}
	go c.run(ctx)
	if c.helix != nil {
		go c.pollLiveness(ctx)
	} else {
		slog.Info("twitch liveness poll disabled (missing client id/secret)", slog.String("component", "twitch_connector"))
	}
}

func (c *Connector) run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			c.setState(connector.StateStopped)
			return
		}
		c.setState(connector.StateConnecting)

		client := twitch.NewClient(c.cfg.TwitchBotUsername, c.cfg.TwitchOAuthToken)
		var connected atomic.Bool
		client.OnConnect(func() {
			connected.Store(true)
			c.setState(connector.StateConnected)
			slog.Info("twitch irc connected", slog.String("channel", c.cfg.TwitchChannel))
		})
		client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
			c.hub.Publish(hub.ChannelChat, normalize(msg))
			if telemetry.MessagesNormalized != nil {
				telemetry.MessagesNormalized.WithLabelValues(string(events.PlatformTwitch)).Inc()
			}
		})
		client.Join(c.cfg.TwitchChannel)

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()

		// Close the IRC connection when the context ends so Connect returns.
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				client.Disconnect()
			case <-stop:
			}
		}()

		err := client.Connect()
		close(stop)

		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(connector.StateStopped)
			return
		}
		if connected.Load() {
			// Had a session; start the backoff ladder over.
			attempt = 0
		}
		c.hub.Publish(hub.ChannelStatus, events.StatusEvent{
			Platform: events.PlatformTwitch,
			Live:     false,
			At:       time.Now().UTC(),
		})
		c.setState(connector.StateReconnecting)
		delay := connector.Backoff(attempt)
		slog.Warn("twitch irc disconnected; reconnecting", slog.Any("err", err), slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			c.setState(connector.StateStopped)
			return
		case <-time.After(delay):
		}
	}
}

// pollLiveness publishes stream liveness transitions on the status channel.
func (c *Connector) pollLiveness(ctx context.Context) {
	interval := 45 * time.Second
	if v := os.Getenv("TWITCH_LIVE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastLive bool
	var lastID string
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		streams, err := c.helix.GetStreams(ctx, c.cfg.TwitchChannel)
		if err != nil {
			slog.Debug("twitch liveness poll failed", slog.Any("err", err))
			continue
		}
		live := len(streams) > 0
		id := ""
		if live {
			id = streams[0].ID
		}
		if first || live != lastLive || id != lastID {
			c.hub.Publish(hub.ChannelStatus, events.StatusEvent{
				Platform: events.PlatformTwitch,
				Live:     live,
				StreamID: id,
				At:       time.Now().UTC(),
			})
		}
		lastLive, lastID, first = live, id, false
	}
}

// Send writes one chat line onto the live IRC session. Used as the send-queue
// worker for Twitch; a disconnected session is a send failure, not a panic.
func (c *Connector) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || c.State() != connector.StateConnected {
		return fmt.Errorf("twitch irc not connected")
	}
	client.Say(c.cfg.TwitchChannel, text)
	return nil
}

// normalize converts a Twitch IRC message into the shared event model.
func normalize(msg twitch.PrivateMessage) events.ChatMessage {
	return events.ChatMessage{
		Platform: events.PlatformTwitch,
		UserID:   msg.User.ID,
		Username: msg.User.DisplayName,
		Text:     msg.Message,
		Badges:   formatBadges(msg.User.Badges),
		SentAt:   time.Now().UTC(),
	}
}

// formatBadges flattens the badge map to a stable comma-separated list.
func formatBadges(badges map[string]int) string {
	if len(badges) == 0 {
		return ""
	}
	parts := make([]string, 0, len(badges))
	for badge := range badges {
		parts = append(parts, badge)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
