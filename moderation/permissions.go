package moderation

import (
	"fmt"
	"strings"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/db"
)

// Role is the total-ordered permission level. The owner role is equivalent to
// "broadcaster" on platforms that use that term.
type Role int

const (
	RoleMember Role = iota
	RoleModerator
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleModerator:
		return "moderator"
	}
	return "member"
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner", "broadcaster":
		return RoleOwner, nil
	case "admin":
		return RoleAdmin, nil
	case "moderator", "mod":
		return RoleModerator, nil
	case "member", "":
		return RoleMember, nil
	}
	return RoleMember, fmt.Errorf("unknown role %q", s)
}

// ResolveRole computes a user's role from their live linked accounts and the
// static owner/admin allow-lists. Pure and deterministic; it is the basis of
// every authorization decision in the dispatcher.
func ResolveRole(accounts []db.LinkedAccount, owners, admins []config.PlatformUser) Role {
	if matchesAllowList(accounts, owners) {
		return RoleOwner
	}
	if matchesAllowList(accounts, admins) {
		return RoleAdmin
	}
	for _, a := range accounts {
		if a.IsModerator {
			return RoleModerator
		}
	}
	return RoleMember
}

// HasPermission reports whether role meets the required minimum.
func HasPermission(role, required Role) bool {
	return role >= required
}

func matchesAllowList(accounts []db.LinkedAccount, list []config.PlatformUser) bool {
	for _, a := range accounts {
		for _, e := range list {
			if strings.EqualFold(a.Platform, e.Platform) && strings.EqualFold(a.Username, e.Username) {
				return true
			}
		}
	}
	return false
}
