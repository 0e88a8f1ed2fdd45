package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/kickapi"
	"github.com/onnwee/chathub/backend/twitchapi"
	"github.com/onnwee/chathub/backend/youtubeapi"
)

// Credential is the acting identity for one platform call: the moderator's own
// linked token when present, otherwise the channel owner's.
type Credential struct {
	PlatformUserID string
	AccessToken    string
}

// Target identifies who the action lands on. Username is required for
// platforms whose moderation API is name-based (Kick).
type Target struct {
	PlatformUserID string
	Username       string
}

// PlatformModerator executes moderation calls against one platform's API.
// Timeout and ban return an optional provider-side reference (e.g. YouTube's
// ban resource id) that the matching unban needs.
type PlatformModerator interface {
	TimeoutUser(ctx context.Context, cred Credential, target Target, duration time.Duration, reason string) (ref string, err error)
	BanUser(ctx context.Context, cred Credential, target Target, reason string) (ref string, err error)
	UnbanUser(ctx context.Context, cred Credential, target Target, ref string) error
}

// TwitchModerator drives Helix moderation endpoints. The broadcaster id is
// resolved once from the configured channel login when not set explicitly.
type TwitchModerator struct {
	Helix *twitchapi.HelixClient
	Cfg   *config.Config

	mu            sync.Mutex
	broadcasterID string
}

func (m *TwitchModerator) resolveBroadcasterID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broadcasterID != "" {
		return m.broadcasterID, nil
	}
	if m.Cfg.TwitchBroadcasterID != "" {
		m.broadcasterID = m.Cfg.TwitchBroadcasterID
		return m.broadcasterID, nil
	}
	id, err := m.Helix.GetUserID(ctx, m.Cfg.TwitchChannel)
	if err != nil {
		return "", fmt.Errorf("resolve broadcaster id: %w", err)
	}
	m.broadcasterID = id
	return id, nil
}

func (m *TwitchModerator) TimeoutUser(ctx context.Context, cred Credential, target Target, duration time.Duration, reason string) (string, error) {
	bid, err := m.resolveBroadcasterID(ctx)
	if err != nil {
		return "", err
	}
	return "", m.Helix.BanUser(ctx, cred.AccessToken, bid, cred.PlatformUserID, target.PlatformUserID, duration, reason)
}

func (m *TwitchModerator) BanUser(ctx context.Context, cred Credential, target Target, reason string) (string, error) {
	bid, err := m.resolveBroadcasterID(ctx)
	if err != nil {
		return "", err
	}
	return "", m.Helix.BanUser(ctx, cred.AccessToken, bid, cred.PlatformUserID, target.PlatformUserID, 0, reason)
}

func (m *TwitchModerator) UnbanUser(ctx context.Context, cred Credential, target Target, _ string) error {
	bid, err := m.resolveBroadcasterID(ctx)
	if err != nil {
		return err
	}
	return m.Helix.UnbanUser(ctx, cred.AccessToken, bid, cred.PlatformUserID, target.PlatformUserID)
}

// KickModerator drives the Kick channel ban endpoints, which are name-based.
type KickModerator struct {
	API *kickapi.Client
	Cfg *config.Config
}

func (m *KickModerator) targetName(target Target) (string, error) {
	if target.Username != "" {
		return target.Username, nil
	}
	return "", fmt.Errorf("kick moderation requires the target username")
}

func (m *KickModerator) TimeoutUser(ctx context.Context, cred Credential, target Target, duration time.Duration, reason string) (string, error) {
	name, err := m.targetName(target)
	if err != nil {
		return "", err
	}
	return "", m.API.BanUser(ctx, cred.AccessToken, m.Cfg.KickChannel, name, duration, reason)
}

func (m *KickModerator) BanUser(ctx context.Context, cred Credential, target Target, reason string) (string, error) {
	name, err := m.targetName(target)
	if err != nil {
		return "", err
	}
	return "", m.API.BanUser(ctx, cred.AccessToken, m.Cfg.KickChannel, name, 0, reason)
}

func (m *KickModerator) UnbanUser(ctx context.Context, cred Credential, target Target, _ string) error {
	name, err := m.targetName(target)
	if err != nil {
		return err
	}
	return m.API.UnbanUser(ctx, cred.AccessToken, m.Cfg.KickChannel, name)
}

// YouTubeModerator drives liveChatBans using the stored service credential.
// The chat id comes from the polling connector's cached lookup; without an
// active broadcast there is nothing to moderate.
type YouTubeModerator struct {
	Service *youtubeapi.Service
	ChatID  func(ctx context.Context) (string, error)
}

func (m *YouTubeModerator) chatID(ctx context.Context) (string, error) {
	id, err := m.ChatID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("youtube channel is not live")
	}
	return id, nil
}

func (m *YouTubeModerator) TimeoutUser(ctx context.Context, _ Credential, target Target, duration time.Duration, _ string) (string, error) {
	chatID, err := m.chatID(ctx)
	if err != nil {
		return "", err
	}
	svc, err := m.Service.Client(ctx)
	if err != nil {
		return "", err
	}
	return youtubeapi.InsertBan(ctx, svc, chatID, target.PlatformUserID, duration)
}

func (m *YouTubeModerator) BanUser(ctx context.Context, _ Credential, target Target, _ string) (string, error) {
	chatID, err := m.chatID(ctx)
	if err != nil {
		return "", err
	}
	svc, err := m.Service.Client(ctx)
	if err != nil {
		return "", err
	}
	return youtubeapi.InsertBan(ctx, svc, chatID, target.PlatformUserID, 0)
}

func (m *YouTubeModerator) UnbanUser(ctx context.Context, _ Credential, _ Target, ref string) error {
	if ref == "" {
		return fmt.Errorf("no stored youtube ban reference for target")
	}
	svc, err := m.Service.Client(ctx)
	if err != nil {
		return err
	}
	return youtubeapi.DeleteBan(ctx, svc, ref)
}
