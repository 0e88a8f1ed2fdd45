package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LinkedAccount is one (user, platform) credential record. Unlinking is a soft
// delete: the row is stamped with unlinked_at and held in quarantine until the
// cleanup cron purges it.
type LinkedAccount struct {
	ID             int64
	UserID         int64
	Platform       string
	PlatformUserID string
	Username       string
	AccessToken    string
	RefreshToken   string
	Scope          string
	IsModerator    bool
	LinkedAt       time.Time
	UnlinkedAt     *time.Time
}

const linkedCols = `id, user_id, platform, platform_user_id, username,
	COALESCE(access_token,''), COALESCE(refresh_token,''), COALESCE(scope,''),
	is_moderator, COALESCE(encryption_version,0), linked_at, unlinked_at`

func scanLinkedAccount(sc interface{ Scan(...any) error }) (LinkedAccount, error) {
	var a LinkedAccount
	var encVersion int
	if err := sc.Scan(&a.ID, &a.UserID, &a.Platform, &a.PlatformUserID, &a.Username,
		&a.AccessToken, &a.RefreshToken, &a.Scope, &a.IsModerator, &encVersion, &a.LinkedAt, &a.UnlinkedAt); err != nil {
		return LinkedAccount{}, err
	}
	var err error
	if a.AccessToken, err = decryptToken(a.AccessToken, encVersion); err != nil {
		return LinkedAccount{}, fmt.Errorf("decrypt access token: %w", err)
	}
	if a.RefreshToken, err = decryptToken(a.RefreshToken, encVersion); err != nil {
		return LinkedAccount{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return a, nil
}

// UpsertLinkedAccount creates or replaces the live link for (user, platform).
// Tokens are encrypted at rest when ENCRYPTION_KEY is configured.
func UpsertLinkedAccount(ctx context.Context, dbx *sql.DB, a LinkedAccount) error {
	accessStored, ver, err := encryptToken(a.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshStored, _, err := encryptToken(a.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	keyID := ""
	if ver == 1 {
		keyID = "default"
	}
	q := `INSERT INTO linked_accounts (user_id, platform, platform_user_id, username, access_token, refresh_token, scope, is_moderator, encryption_version, encryption_key_id, linked_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		  ON CONFLICT (user_id, platform) WHERE unlinked_at IS NULL DO UPDATE SET
		    platform_user_id=EXCLUDED.platform_user_id,
		    username=EXCLUDED.username,
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    scope=EXCLUDED.scope,
		    is_moderator=EXCLUDED.is_moderator,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, a.UserID, strings.ToLower(a.Platform), a.PlatformUserID, a.Username,
		accessStored, refreshStored, a.Scope, a.IsModerator, ver, keyID)
	return err
}

// GetLinkedAccounts returns a user's live (not unlinked) accounts.
func GetLinkedAccounts(ctx context.Context, dbx *sql.DB, userID int64) ([]LinkedAccount, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT `+linkedCols+` FROM linked_accounts WHERE user_id=$1 AND unlinked_at IS NULL ORDER BY platform`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LinkedAccount
	for rows.Next() {
		a, err := scanLinkedAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetLinkedAccount returns a user's live account on one platform, or nil.
func GetLinkedAccount(ctx context.Context, dbx *sql.DB, userID int64, platform string) (*LinkedAccount, error) {
	row := dbx.QueryRowContext(ctx,
		`SELECT `+linkedCols+` FROM linked_accounts WHERE user_id=$1 AND platform=$2 AND unlinked_at IS NULL`, userID, strings.ToLower(platform))
	a, err := scanLinkedAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAccountsByPlatformUser resolves a platform-native identity to any live
// linked accounts. Anonymous platform users return an empty slice.
func FindAccountsByPlatformUser(ctx context.Context, dbx *sql.DB, platform, platformUserID string) ([]LinkedAccount, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT `+linkedCols+` FROM linked_accounts WHERE platform=$1 AND platform_user_id=$2 AND unlinked_at IS NULL`,
		strings.ToLower(platform), platformUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LinkedAccount
	for rows.Next() {
		a, err := scanLinkedAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UnlinkAccount soft-deletes a link; the row stays quarantined for audit until purged.
func UnlinkAccount(ctx context.Context, dbx *sql.DB, userID int64, platform string) error {
	res, err := dbx.ExecContext(ctx,
		`UPDATE linked_accounts SET unlinked_at=NOW(), updated_at=NOW() WHERE user_id=$1 AND platform=$2 AND unlinked_at IS NULL`,
		userID, strings.ToLower(platform))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetModeratorFlag flips the moderator flag on a user's live platform link.
func SetModeratorFlag(ctx context.Context, dbx *sql.DB, userID int64, platform string, isMod bool) error {
	res, err := dbx.ExecContext(ctx,
		`UPDATE linked_accounts SET is_moderator=$1, updated_at=NOW() WHERE user_id=$2 AND platform=$3 AND unlinked_at IS NULL`,
		isMod, userID, strings.ToLower(platform))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PurgeQuarantinedAccounts hard-deletes links unlinked before the cutoff and
// returns the number purged. Called from the cleanup cron endpoint.
func PurgeQuarantinedAccounts(ctx context.Context, dbx *sql.DB, olderThan time.Duration) (int64, error) {
	res, err := dbx.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE unlinked_at IS NOT NULL AND unlinked_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
