package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// ModerationAction is the durable, append-only record of a dispatched action.
type ModerationAction struct {
	ID                   int64
	Action               string
	TargetUserID         *int64
	TargetPlatformUserID string
	ActorID              int64
	DurationSeconds      int
	Reason               string
	Platforms            []string          // platforms the dispatch touched
	PlatformRefs         map[string]string // platform -> provider-side reference (e.g. YouTube ban id)
	CreatedAt            time.Time
}

// ActiveTimeout tracks an in-effect timeout until it expires. Status moves
// active -> completed only; rows are never deleted (audit trail).
type ActiveTimeout struct {
	ID             int64
	ActionID       int64
	Platform       string
	PlatformUserID string
	Username       string
	ExpiresAt      time.Time
	LastAppliedAt  time.Time
	Status         string
}

const (
	TimeoutStatusActive    = "active"
	TimeoutStatusCompleted = "completed"
)

// InsertModerationAction appends an action record and returns its id.
func InsertModerationAction(ctx context.Context, dbx *sql.DB, a ModerationAction) (int64, error) {
	platforms, _ := json.Marshal(a.Platforms)
	refs, _ := json.Marshal(a.PlatformRefs)
	var id int64
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO moderation_actions (action, target_user_id, target_platform_user_id, actor_id, duration_seconds, reason, platforms, platform_refs)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		a.Action, a.TargetUserID, a.TargetPlatformUserID, a.ActorID, a.DurationSeconds, a.Reason, string(platforms), string(refs)).Scan(&id)
	return id, err
}

// LastBanRef returns the most recent provider-side ban reference recorded for
// a (platform, target) pair, or empty string. Needed for platforms whose unban
// API takes the ban resource id rather than the user id.
func LastBanRef(ctx context.Context, dbx *sql.DB, platform, platformUserID string) (string, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT COALESCE(platform_refs,'{}') FROM moderation_actions
		 WHERE target_platform_user_id=$1 AND action IN ('ban','timeout')
		 ORDER BY created_at DESC LIMIT 10`, platformUserID)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "", err
		}
		var refs map[string]string
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			continue
		}
		if ref, ok := refs[platform]; ok && ref != "" {
			return ref, nil
		}
	}
	return "", rows.Err()
}

// InsertActiveTimeout records a newly applied timeout with status active. The
// username rides along for platforms whose moderation API is name-based.
func InsertActiveTimeout(ctx context.Context, dbx *sql.DB, actionID int64, platform, platformUserID, username string, expiresAt, appliedAt time.Time) (int64, error) {
	var id int64
	err := dbx.QueryRowContext(ctx,
		`INSERT INTO active_timeouts (action_id, platform, platform_user_id, username, expires_at, last_applied_at, status)
		 VALUES ($1,$2,$3,$4,$5,$6,'active') RETURNING id`,
		actionID, platform, platformUserID, username, expiresAt, appliedAt).Scan(&id)
	return id, err
}

// SelectStaleActiveTimeouts returns active rows whose last application is
// older than the staleness cutoff. The filter is what makes concurrent sweeps
// and fresh inserts safe to interleave.
func SelectStaleActiveTimeouts(ctx context.Context, dbx *sql.DB, staleBefore time.Time) ([]ActiveTimeout, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, action_id, platform, platform_user_id, COALESCE(username,''), expires_at, last_applied_at, status
		 FROM active_timeouts WHERE status='active' AND last_applied_at < $1 ORDER BY id`, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActiveTimeout
	for rows.Next() {
		var t ActiveTimeout
		if err := rows.Scan(&t.ID, &t.ActionID, &t.Platform, &t.PlatformUserID, &t.Username, &t.ExpiresAt, &t.LastAppliedAt, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteTimeout transitions a row to completed. The status guard keeps the
// transition one-way and makes re-running an interrupted sweep a no-op.
func CompleteTimeout(ctx context.Context, dbx *sql.DB, id int64) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE active_timeouts SET status='completed' WHERE id=$1 AND status='active'`, id)
	return err
}

// BumpTimeoutApplied records a successful reapplication.
func BumpTimeoutApplied(ctx context.Context, dbx *sql.DB, id int64, appliedAt time.Time) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE active_timeouts SET last_applied_at=$1 WHERE id=$2 AND status='active'`, appliedAt, id)
	return err
}

// CountActiveTimeouts is used by /status.
func CountActiveTimeouts(ctx context.Context, dbx *sql.DB) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_timeouts WHERE status='active'`).Scan(&n)
	return n, err
}
