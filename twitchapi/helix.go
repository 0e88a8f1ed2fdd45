// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs:
// user id resolution and live-stream lookup with an app access token, and
// moderation calls (ban, timeout, unban) with a user token.
package twitchapi

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

const defaultHelixBase = "https://api.twitch.tv"

// HelixClient provides the Helix methods the hub needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // override for tests; defaults to api.twitch.tv
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixBase
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/helix/users", nil)
	q := req.URL.Query()
	q.Set("login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// Stream is a live stream as reported by /helix/streams.
type Stream struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// GetStreams returns live streams for a channel login (empty slice when offline).
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/helix/streams", nil)
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("helix streams request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// BanUser bans (duration zero) or times out (duration > 0) a user in the
// broadcaster's channel. The acting moderator's user token and id determine
// whose identity the action appears under on Twitch.
func (hc *HelixClient) BanUser(ctx context.Context, userToken, broadcasterID, moderatorID, targetID string, duration time.Duration, reason string) error {
	if broadcasterID == "" || moderatorID == "" || targetID == "" {
		return fmt.Errorf("missing broadcaster/moderator/target id")
	}
	data := map[string]any{"user_id": targetID}
	if duration > 0 {
		data["duration"] = int(duration.Seconds())
	}
	if reason != "" {
		data["reason"] = reason
	}
	payload, _ := json.Marshal(map[string]any{"data": data})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, hc.base()+"/helix/moderation/bans", bytes.NewReader(payload))
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix ban request failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// UnbanUser lifts a ban or timeout.
func (hc *HelixClient) UnbanUser(ctx context.Context, userToken, broadcasterID, moderatorID, targetID string) error {
	if broadcasterID == "" || moderatorID == "" || targetID == "" {
		return fmt.Errorf("missing broadcaster/moderator/target id")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, hc.base()+"/helix/moderation/bans", nil)
	q := req.URL.Query()
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("user_id", targetID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix unban request failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
