// Package kickchat bridges Kick's websocket chat to the hub. The chatroom id
// is resolved once via the Kick REST API (or taken from configuration when
// the API is CloudFlare-blocked), then the websocket session is maintained
// with backoff reconnects.
package kickchat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/connector"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/kickapi"
	"github.com/onnwee/chathub/backend/telemetry"
)

type Connector struct {
	cfg  *config.Config
	hub  *hub.Hub
	api  *kickapi.Client
	slug string

	chatroomID atomic.Int64
	state      atomic.Int32
}

func New(cfg *config.Config, h *hub.Hub, api *kickapi.Client) *Connector {
	c := &Connector{cfg: cfg, hub: h, api: api, slug: cfg.KickChannel}
	c.chatroomID.Store(int64(cfg.KickChatroomID))
	return c
}

func (c *Connector) State() connector.State {
	return connector.State(c.state.Load())
}

func (c *Connector) setState(s connector.State) {
	c.state.Store(int32(s))
	if telemetry.ConnectorState != nil {
		telemetry.ConnectorState.WithLabelValues(string(events.PlatformKick)).Set(float64(s))
	}
}

// Start begins the unattended websocket loop. Missing configuration fails
// closed: one log line, STOPPED, no publishes, no retry loop.
func (c *Connector) Start(ctx context.Context) {
	if err := c.cfg.ValidateKickReady(); err != nil {
		slog.Info("kick connector disabled", slog.Any("err", err), slog.String("component", "kick_connector"))
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
		hadSession, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			c.setState(connector.StateStopped)
			return
		}
		if hadSession {
			attempt = 0
		}
		c.hub.Publish(hub.ChannelStatus, events.StatusEvent{
			Platform: events.PlatformKick,
			Live:     false,
			At:       time.Now().UTC(),
		})
		c.setState(connector.StateReconnecting)
		delay := connector.Backoff(attempt)
		slog.Warn("kick chat disconnected; reconnecting", slog.Any("err", err), slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			c.setState(connector.StateStopped)
			return
		case <-time.After(delay):
		}
	}
}

// connectOnce runs one websocket session to completion. It reports whether a
// session was established so the caller can reset the backoff ladder.
func (c *Connector) connectOnce(ctx context.Context) (bool, error) {
	id, err := c.resolveChatroomID(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve chatroom: %w", err)
	}
	client, err := kickchat.NewClient()
	if err != nil {
		return false, fmt.Errorf("kick client: %w", err)
	}
	defer client.Close()
	if err := client.JoinChannelByID(id); err != nil {
		return false, fmt.Errorf("join chatroom %d: %w", id, err)
	}
	c.setState(connector.StateConnected)
	slog.Info("kick chat connected", slog.String("channel", c.slug), slog.Int("chatroom_id", id))

	messages := client.ListenForMessages()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return true, fmt.Errorf("kick message stream closed")
			}
			c.hub.Publish(hub.ChannelChat, normalize(msg))
			if telemetry.MessagesNormalized != nil {
				telemetry.MessagesNormalized.WithLabelValues(string(events.PlatformKick)).Inc()
			}
		}
	}
}

// resolveChatroomID prefers the configured id and otherwise asks the Kick API,
// remembering the answer for subsequent reconnects.
func (c *Connector) resolveChatroomID(ctx context.Context) (int, error) {
	if id := c.chatroomID.Load(); id > 0 {
		return int(id), nil
	}
	ch, err := c.api.ResolveChannel(ctx, c.slug)
	if err != nil {
		return 0, err
	}
	if ch.Chatroom.ID == 0 {
		return 0, fmt.Errorf("channel %q has no chatroom", c.slug)
	}
	c.chatroomID.Store(int64(ch.Chatroom.ID))
	return ch.Chatroom.ID, nil
}

// ChatroomID exposes the resolved chatroom id for the outbound sender.
func (c *Connector) ChatroomID() int {
	return int(c.chatroomID.Load())
}

// normalize converts a Kick websocket message into the shared event model.
func normalize(msg kickchat.ChatMessage) events.ChatMessage {
	return events.ChatMessage{
		Platform: events.PlatformKick,
		UserID:   strconv.Itoa(msg.Sender.ID),
		Username: msg.Sender.Username,
		Text:     msg.Content,
		Badges:   formatBadges(msg.Sender.Identity.Badges),
		SentAt:   msg.CreatedAt.UTC(),
	}
}

func formatBadges(badges []kickchat.Badge) string {
	if len(badges) == 0 {
		return ""
	}
	parts := make([]string, 0, len(badges))
	for _, b := range badges {
		if b.Text != "" {
			parts = append(parts, b.Type+":"+b.Text)
		} else {
			parts = append(parts, b.Type)
		}
	}
	return strings.Join(parts, ",")
}
