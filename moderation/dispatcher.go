// Package moderation authorizes and executes moderation actions. The
// dispatcher resolves the acting credential, enforces role and protected-
// target rules, fans the call out across the target's linked platforms, and
// records the durable action trail. The reaper re-asserts active timeouts on
// platforms that do not persist them.
package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/telemetry"
)

// Request describes one moderation dispatch. TargetUsername is optional and
// only needed for anonymous targets on name-based platforms (Kick).
type Request struct {
	Platform             events.Platform
	TargetPlatformUserID string
	TargetUsername       string
	DurationSeconds      int
	Reason               string
	ActorID              int64
}

// PlatformResult is the outcome of one platform call within a dispatch.
type PlatformResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Result is the structured dispatch outcome. Success means at least one
// platform call succeeded; per-platform failures are never collapsed away.
type Result struct {
	Action      string                             `json:"action"`
	Success     bool                               `json:"success"`
	PerPlatform map[events.Platform]PlatformResult `json:"platforms"`
	ActionID    int64                              `json:"action_id,omitempty"`
}

// Dispatcher owns moderation dispatch and the timeout reaper. Moderators is
// the capability table built once at startup; platforms absent from it are
// reported as failures, not panics.
type Dispatcher struct {
	DB         *sql.DB
	Hub        *hub.Hub
	Cfg        *config.Config
	Moderators map[events.Platform]PlatformModerator
}

func NewDispatcher(dbx *sql.DB, h *hub.Hub, cfg *config.Config, mods map[events.Platform]PlatformModerator) *Dispatcher {
	return &Dispatcher{DB: dbx, Hub: h, Cfg: cfg, Moderators: mods}
}

// ApplyTimeout mutes a target for durationSeconds across every platform the
// target is linked on (or just the request platform for anonymous targets).
func (d *Dispatcher) ApplyTimeout(ctx context.Context, req Request) (*Result, error) {
	if req.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: timeout duration must be positive", ErrValidation)
	}
	return d.dispatch(ctx, events.ActionTimeout, req)
}

// ApplyBan permanently bans a target.
func (d *Dispatcher) ApplyBan(ctx context.Context, req Request) (*Result, error) {
	return d.dispatch(ctx, events.ActionBan, req)
}

// ApplyUnban lifts a ban or timeout.
func (d *Dispatcher) ApplyUnban(ctx context.Context, req Request) (*Result, error) {
	return d.dispatch(ctx, events.ActionUnban, req)
}

func (d *Dispatcher) dispatch(ctx context.Context, action events.ActionType, req Request) (res *Result, err error) {
	defer func(start time.Time) {
		if telemetry.DispatchDuration != nil {
			telemetry.DispatchDuration.Observe(time.Since(start).Seconds())
		}
		outcome := "failed"
		if err == nil && res != nil && res.Success {
			outcome = "ok"
			for _, pr := range res.PerPlatform {
				if !pr.OK {
					outcome = "partial"
					break
				}
			}
		}
		if telemetry.ModerationDispatches != nil {
			telemetry.ModerationDispatches.WithLabelValues(string(action), outcome).Inc()
		}
	}(time.Now())

	if !req.Platform.Valid() {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrValidation, req.Platform)
	}
	if req.TargetPlatformUserID == "" && req.TargetUsername == "" {
		return nil, fmt.Errorf("%w: target identity required", ErrValidation)
	}

	actorAccounts, err := db.GetLinkedAccounts(ctx, d.DB, req.ActorID)
	if err != nil {
		return nil, fmt.Errorf("load actor accounts: %w", err)
	}
	role := ResolveRole(actorAccounts, d.Cfg.OwnerAccounts, d.Cfg.AdminAccounts)
	if req.ActorID == d.Cfg.OwnerUserID {
		role = RoleOwner
	}
	if !HasPermission(role, RoleModerator) {
		return nil, fmt.Errorf("%w: %s role cannot %s", ErrUnauthorized, role, action)
	}

	targets, targetUserID, err := d.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	res = &Result{Action: string(action), PerPlatform: make(map[events.Platform]PlatformResult, len(targets))}
	refs := make(map[string]string)
	var succeeded []string
	for platform, target := range targets {
		ref, callErr := d.callPlatform(ctx, action, platform, target, actorAccounts, req)
		if callErr != nil {
			res.PerPlatform[platform] = PlatformResult{Error: callErr.Error()}
			slog.Warn("moderation platform call failed",
				slog.String("action", string(action)),
				slog.String("platform", string(platform)),
				slog.String("target", target.PlatformUserID),
				slog.Any("err", callErr))
			continue
		}
		res.PerPlatform[platform] = PlatformResult{OK: true}
		succeeded = append(succeeded, string(platform))
		if ref != "" {
			refs[string(platform)] = ref
		}
	}
	res.Success = len(succeeded) > 0
	if !res.Success {
		return res, nil
	}

	now := time.Now().UTC()
	actionID, err := db.InsertModerationAction(ctx, d.DB, db.ModerationAction{
		Action:               string(action),
		TargetUserID:         targetUserID,
		TargetPlatformUserID: req.TargetPlatformUserID,
		ActorID:              req.ActorID,
		DurationSeconds:      req.DurationSeconds,
		Reason:               req.Reason,
		Platforms:            succeeded,
		PlatformRefs:         refs,
	})
	if err != nil {
		return res, fmt.Errorf("record moderation action: %w", err)
	}
	res.ActionID = actionID

	if action == events.ActionTimeout {
		expires := now.Add(time.Duration(req.DurationSeconds) * time.Second)
		for _, platform := range succeeded {
			target := targets[events.Platform(platform)]
			if _, err := db.InsertActiveTimeout(ctx, d.DB, actionID, platform, target.PlatformUserID, target.Username, expires, now); err != nil {
				return res, fmt.Errorf("record active timeout: %w", err)
			}
		}
	}

	for _, platform := range succeeded {
		d.Hub.Publish(hub.ChannelModeration, events.ModerationEvent{
			Action:          action,
			Platform:        events.Platform(platform),
			TargetUserID:    targets[events.Platform(platform)].PlatformUserID,
			DurationSeconds: req.DurationSeconds,
			Reason:          req.Reason,
			ActorID:         req.ActorID,
			At:              now,
		})
	}
	return res, nil
}

// resolveTargets maps the requested identity to the set of (platform, target)
// pairs the dispatch acts on. A target linked in the system fans out across
// all of that user's live platforms; an anonymous platform user acts on the
// request platform only. The protected check runs fresh on every call and only
// when a linked record exists to check against.
func (d *Dispatcher) resolveTargets(ctx context.Context, req Request) (map[events.Platform]Target, *int64, error) {
	targets := map[events.Platform]Target{
		req.Platform: {PlatformUserID: req.TargetPlatformUserID, Username: req.TargetUsername},
	}
	linked, err := db.FindAccountsByPlatformUser(ctx, d.DB, string(req.Platform), req.TargetPlatformUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve target: %w", err)
	}
	if len(linked) == 0 {
		return targets, nil, nil
	}

	userID := linked[0].UserID
	all, err := db.GetLinkedAccounts(ctx, d.DB, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load target accounts: %w", err)
	}
	if userID == d.Cfg.OwnerUserID {
		return nil, nil, ErrProtectedTarget
	}
	targetRole := ResolveRole(all, d.Cfg.OwnerAccounts, d.Cfg.AdminAccounts)
	if HasPermission(targetRole, RoleAdmin) {
		return nil, nil, ErrProtectedTarget
	}
	for _, a := range all {
		targets[events.Platform(a.Platform)] = Target{PlatformUserID: a.PlatformUserID, Username: a.Username}
	}
	return targets, &userID, nil
}

// callPlatform resolves the acting credential and executes one platform call.
func (d *Dispatcher) callPlatform(ctx context.Context, action events.ActionType, platform events.Platform, target Target, actorAccounts []db.LinkedAccount, req Request) (string, error) {
	mod, ok := d.Moderators[platform]
	if !ok {
		return "", fmt.Errorf("platform %s has no moderation backend configured", platform)
	}
	cred, err := d.resolveCredential(ctx, actorAccounts, platform)
	if err != nil {
		return "", err
	}
	switch action {
	case events.ActionTimeout:
		return mod.TimeoutUser(ctx, cred, target, time.Duration(req.DurationSeconds)*time.Second, req.Reason)
	case events.ActionBan:
		return mod.BanUser(ctx, cred, target, req.Reason)
	case events.ActionUnban:
		ref, err := db.LastBanRef(ctx, d.DB, string(platform), target.PlatformUserID)
		if err != nil {
			return "", fmt.Errorf("look up ban reference: %w", err)
		}
		return "", mod.UnbanUser(ctx, cred, target, ref)
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, action)
}

// resolveCredential prefers the actor's own linked token for the platform and
// falls back to the channel owner's. This determines whose identity the action
// appears under on the platform.
func (d *Dispatcher) resolveCredential(ctx context.Context, actorAccounts []db.LinkedAccount, platform events.Platform) (Credential, error) {
	for _, a := range actorAccounts {
		if events.Platform(a.Platform) == platform && a.AccessToken != "" {
			return Credential{PlatformUserID: a.PlatformUserID, AccessToken: a.AccessToken}, nil
		}
	}
	owner, err := db.GetLinkedAccount(ctx, d.DB, d.Cfg.OwnerUserID, string(platform))
	if err != nil {
		return Credential{}, fmt.Errorf("load owner credential: %w", err)
	}
	if owner == nil || owner.AccessToken == "" {
		return Credential{}, fmt.Errorf("no credential available for platform %s", platform)
	}
	return Credential{PlatformUserID: owner.PlatformUserID, AccessToken: owner.AccessToken}, nil
}

// SetRole grants or revokes the moderator flag on a target's platform link.
// Admin and owner come from the static allow-lists and cannot be granted here;
// asking for them is a validation error, and demoting a protected account is
// refused outright.
func (d *Dispatcher) SetRole(ctx context.Context, actorID, targetUserID int64, platform events.Platform, role Role) error {
	if role != RoleMember && role != RoleModerator {
		return fmt.Errorf("%w: role %s is allow-list managed", ErrValidation, role)
	}
	if !platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrValidation, platform)
	}
	actorAccounts, err := db.GetLinkedAccounts(ctx, d.DB, actorID)
	if err != nil {
		return fmt.Errorf("load actor accounts: %w", err)
	}
	actorRole := ResolveRole(actorAccounts, d.Cfg.OwnerAccounts, d.Cfg.AdminAccounts)
	if actorID == d.Cfg.OwnerUserID {
		actorRole = RoleOwner
	}
	if !HasPermission(actorRole, RoleAdmin) {
		return fmt.Errorf("%w: %s role cannot manage roles", ErrUnauthorized, actorRole)
	}

	targetAccounts, err := db.GetLinkedAccounts(ctx, d.DB, targetUserID)
	if err != nil {
		return fmt.Errorf("load target accounts: %w", err)
	}
	if len(targetAccounts) == 0 {
		return fmt.Errorf("%w: user %d has no linked accounts", ErrNotFound, targetUserID)
	}
	if targetUserID == d.Cfg.OwnerUserID ||
		HasPermission(ResolveRole(targetAccounts, d.Cfg.OwnerAccounts, d.Cfg.AdminAccounts), RoleAdmin) {
		return ErrProtectedTarget
	}

	if err := db.SetModeratorFlag(ctx, d.DB, targetUserID, string(platform), role == RoleModerator); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: user %d has no %s link", ErrNotFound, targetUserID, platform)
		}
		return fmt.Errorf("set moderator flag: %w", err)
	}
	slog.Info("role updated",
		slog.Int64("actor_id", actorID),
		slog.Int64("target_id", targetUserID),
		slog.String("platform", string(platform)),
		slog.String("role", role.String()))
	return nil
}
