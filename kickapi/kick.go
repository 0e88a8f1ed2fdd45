// Package kickapi wraps the Kick REST endpoints the hub needs: channel and
// chatroom resolution, outbound chat sends, and moderation (ban, timeout,
// unban). Kick sits behind CloudFlare, so requests carry browser-like headers.
package kickapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://kick.com"

// Client talks to the Kick v2 API.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string // override for tests; defaults to kick.com
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

// Channel is the subset of the channel resource the hub uses.
type Channel struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return nil, err
	}
	// Browser headers keep CloudFlare from rejecting the request.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("kick request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kick api returned %s: %s", resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ResolveChannel fetches channel metadata (including the chatroom id) for a slug.
func (c *Client) ResolveChannel(ctx context.Context, slug string) (*Channel, error) {
	if slug == "" {
		return nil, fmt.Errorf("slug empty")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v2/channels/"+slug, "", nil)
	if err != nil {
		return nil, err
	}
	var ch Channel
	if err := c.do(req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// SendMessage posts a chat message into a chatroom on behalf of the token's user.
func (c *Client) SendMessage(ctx context.Context, token string, chatroomID int, text string) error {
	if text == "" {
		return fmt.Errorf("message empty")
	}
	payload, _ := json.Marshal(map[string]any{"content": text, "type": "message"})
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v2/messages/send/%d", chatroomID), token, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// BanUser bans (duration zero) or times out (duration > 0, minutes resolution)
// a username in the channel.
func (c *Client) BanUser(ctx context.Context, token, channelSlug, targetUsername string, duration time.Duration, reason string) error {
	if channelSlug == "" || targetUsername == "" {
		return fmt.Errorf("missing channel or target")
	}
	body := map[string]any{
		"banned_username": targetUsername,
		"permanent":       duration <= 0,
	}
	if reason != "" {
		body["reason"] = reason
	}
	if duration > 0 {
		mins := int(duration.Minutes())
		if mins < 1 {
			mins = 1
		}
		body["duration"] = mins
	}
	payload, _ := json.Marshal(body)
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v2/channels/"+channelSlug+"/bans", token, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// UnbanUser lifts a ban or timeout on a username.
func (c *Client) UnbanUser(ctx context.Context, token, channelSlug, targetUsername string) error {
	if channelSlug == "" || targetUsername == "" {
		return fmt.Errorf("missing channel or target")
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v2/channels/"+channelSlug+"/bans/"+targetUsername, token, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}
