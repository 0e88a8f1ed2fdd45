package events

import "testing"

func TestParsePlatform(t *testing.T) {
	for _, p := range All() {
		got, err := ParsePlatform(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePlatform(%q) = %v, %v", p, got, err)
		}
	}
	for _, bad := range []string{"", "discord", "Twitch", "TWITCH", "twitch "} {
		if _, err := ParsePlatform(bad); err == nil {
			t.Errorf("ParsePlatform(%q) should fail", bad)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	if !PlatformKick.Valid() {
		t.Error("kick should be valid")
	}
	if Platform("discord").Valid() {
		t.Error("discord should be invalid")
	}
}

func TestParseActionType(t *testing.T) {
	for _, a := range []ActionType{ActionTimeout, ActionBan, ActionUnban} {
		got, err := ParseActionType(string(a))
		if err != nil || got != a {
			t.Errorf("ParseActionType(%q) = %v, %v", a, got, err)
		}
	}
	if _, err := ParseActionType("mute"); err == nil {
		t.Error("unknown action should fail")
	}
}
