package moderation

import (
	"testing"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/db"
)

func TestParseRole(t *testing.T) {
	cases := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"owner", RoleOwner, false},
		{"broadcaster", RoleOwner, false},
		{"admin", RoleAdmin, false},
		{"Moderator", RoleModerator, false},
		{"mod", RoleModerator, false},
		{"member", RoleMember, false},
		{"", RoleMember, false},
		{"  owner  ", RoleOwner, false},
		{"vip", RoleMember, true},
	}
	for _, tc := range cases {
		got, err := ParseRole(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseRole(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRoleOrdering(t *testing.T) {
	if !(RoleMember < RoleModerator && RoleModerator < RoleAdmin && RoleAdmin < RoleOwner) {
		t.Fatal("role ordering broken")
	}
	if !HasPermission(RoleOwner, RoleModerator) {
		t.Error("owner should satisfy moderator requirement")
	}
	if !HasPermission(RoleModerator, RoleModerator) {
		t.Error("role should satisfy its own level")
	}
	if HasPermission(RoleMember, RoleModerator) {
		t.Error("member should not satisfy moderator requirement")
	}
	if HasPermission(RoleAdmin, RoleOwner) {
		t.Error("admin should not satisfy owner requirement")
	}
}

func TestResolveRole(t *testing.T) {
	owners := []config.PlatformUser{{Platform: "twitch", Username: "streamer"}}
	admins := []config.PlatformUser{{Platform: "kick", Username: "helper"}}

	cases := []struct {
		name     string
		accounts []db.LinkedAccount
		want     Role
	}{
		{"no accounts", nil, RoleMember},
		{"plain member", []db.LinkedAccount{{Platform: "twitch", Username: "viewer"}}, RoleMember},
		{"moderator flag", []db.LinkedAccount{{Platform: "twitch", Username: "viewer", IsModerator: true}}, RoleModerator},
		{"admin allow-list", []db.LinkedAccount{{Platform: "kick", Username: "helper"}}, RoleAdmin},
		{"owner allow-list", []db.LinkedAccount{{Platform: "twitch", Username: "streamer"}}, RoleOwner},
		{"owner match is case-insensitive", []db.LinkedAccount{{Platform: "Twitch", Username: "Streamer"}}, RoleOwner},
		{"owner wins over moderator flag", []db.LinkedAccount{
			{Platform: "kick", Username: "other", IsModerator: true},
			{Platform: "twitch", Username: "streamer"},
		}, RoleOwner},
		{"admin wins over moderator flag", []db.LinkedAccount{
			{Platform: "twitch", Username: "viewer", IsModerator: true},
			{Platform: "kick", Username: "helper"},
		}, RoleAdmin},
		{"same name on wrong platform does not match", []db.LinkedAccount{{Platform: "youtube", Username: "streamer"}}, RoleMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveRole(tc.accounts, owners, admins); got != tc.want {
				t.Fatalf("ResolveRole = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	for role, want := range map[Role]string{
		RoleOwner:     "owner",
		RoleAdmin:     "admin",
		RoleModerator: "moderator",
		RoleMember:    "member",
	} {
		if got := role.String(); got != want {
			t.Errorf("Role(%d).String() = %q, want %q", role, got, want)
		}
	}
}
