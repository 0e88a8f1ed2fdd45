// Package events defines the normalized event model shared by every platform
// connector, the hub, and the moderation dispatcher. Connectors translate
// platform-native payloads into these types; nothing downstream ever sees a
// platform SDK struct.
package events

import (
	"fmt"
	"time"
)

// Platform identifies one of the supported chat platforms.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
)

// All returns the closed set of supported platforms.
func All() []Platform {
	return []Platform{PlatformTwitch, PlatformKick, PlatformYouTube}
}

// ParsePlatform validates a platform string from an external request.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformTwitch, PlatformKick, PlatformYouTube:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	_, err := ParsePlatform(string(p))
	return err == nil
}

// ChatMessage is a platform-agnostic chat message. It is immutable once
// produced; the connector that created it owns it until published.
type ChatMessage struct {
	Platform Platform  `json:"platform"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Text     string    `json:"message"`
	Badges   string    `json:"badges,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// ActionType is the kind of moderation action dispatched against a target.
type ActionType string

const (
	ActionTimeout ActionType = "timeout"
	ActionBan     ActionType = "ban"
	ActionUnban   ActionType = "unban"
)

// ParseActionType validates an action string from an external request.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionTimeout, ActionBan, ActionUnban:
		return ActionType(s), nil
	}
	return "", fmt.Errorf("unknown moderation action %q", s)
}

// ModerationEvent is published on the hub's moderation channel after a
// dispatch succeeds on at least one platform, so connected viewers see the
// action immediately regardless of whether the chat connector also reports it.
type ModerationEvent struct {
	Action          ActionType `json:"action"`
	Platform        Platform   `json:"platform"`
	TargetUserID    string     `json:"target_user_id"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	ActorID         int64      `json:"actor_id"`
	At              time.Time  `json:"at"`
}

// StatusEvent reports platform liveness. The hub caches the last value per
// platform so late subscribers converge on current state without polling.
type StatusEvent struct {
	Platform Platform  `json:"platform"`
	Live     bool      `json:"live"`
	StreamID string    `json:"stream_id,omitempty"`
	At       time.Time `json:"at"`
}
