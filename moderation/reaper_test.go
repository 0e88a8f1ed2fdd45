package moderation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/testutil"
)

func insertTimeoutRow(t *testing.T, dbx *sql.DB, platform, platformUserID, username string, expiresAt, appliedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	actionID, err := db.InsertModerationAction(ctx, dbx, db.ModerationAction{
		Action:               "timeout",
		TargetPlatformUserID: platformUserID,
		ActorID:              ownerID,
		DurationSeconds:      int(time.Until(expiresAt).Seconds()),
		Platforms:            []string{platform},
	})
	if err != nil {
		t.Fatalf("insert action: %v", err)
	}
	id, err := db.InsertActiveTimeout(ctx, dbx, actionID, platform, platformUserID, username, expiresAt, appliedAt)
	if err != nil {
		t.Fatalf("insert timeout: %v", err)
	}
	return id
}

func timeoutStatus(t *testing.T, dbx *sql.DB, id int64) string {
	t.Helper()
	var status string
	if err := dbx.QueryRow("SELECT status FROM active_timeouts WHERE id=$1", id).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	return status
}

func TestSweepCompletesExpiredTimeout(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	now := time.Now().UTC()
	id := insertTimeoutRow(t, dbx, "twitch", "troll-123", "troll", now.Add(-time.Minute), now.Add(-10*time.Minute))

	fake := &fakeModerator{}
	d := NewDispatcher(dbx, hub.New(), testConfig(), map[events.Platform]PlatformModerator{
		events.PlatformTwitch: fake,
	})
	n, err := d.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
	if got := timeoutStatus(t, dbx, id); got != db.TimeoutStatusCompleted {
		t.Fatalf("status = %q, want completed", got)
	}
	// Expired rows must never be re-asserted on the platform.
	if fake.callCount() != 0 {
		t.Fatalf("platform called %d times for an expired timeout", fake.callCount())
	}
}

func TestSweepReappliesStaleTimeout(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()
	linkAccount(t, dbx, ownerID, "twitch", "owner-twitch", "streamer", "owner-token", false)
	now := time.Now().UTC()
	id := insertTimeoutRow(t, dbx, "twitch", "troll-123", "troll", now.Add(10*time.Minute), now.Add(-10*time.Minute))

	fake := &fakeModerator{}
	d := NewDispatcher(dbx, hub.New(), testConfig(), map[events.Platform]PlatformModerator{
		events.PlatformTwitch: fake,
	})
	n, err := d.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}

	call := fake.lastCall(t)
	if call.Action != "timeout" || call.Target.PlatformUserID != "troll-123" || call.Target.Username != "troll" {
		t.Fatalf("reapply call = %+v", call)
	}
	if call.Duration > 10*time.Minute || call.Duration < 9*time.Minute {
		t.Fatalf("reapplied duration = %v, want the remaining time", call.Duration)
	}
	if got := timeoutStatus(t, dbx, id); got != db.TimeoutStatusActive {
		t.Fatalf("status = %q, want active", got)
	}

	// last_applied_at was bumped, so an immediate second sweep sees nothing.
	n, err = d.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("second SweepOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep processed = %d, want 0", n)
	}
}

func TestSweepSkipsFreshRows(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	now := time.Now().UTC()
	insertTimeoutRow(t, dbx, "twitch", "troll-123", "troll", now.Add(10*time.Minute), now)

	fake := &fakeModerator{}
	d := NewDispatcher(dbx, hub.New(), testConfig(), map[events.Platform]PlatformModerator{
		events.PlatformTwitch: fake,
	})
	n, err := d.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 0 || fake.callCount() != 0 {
		t.Fatalf("fresh row touched: processed=%d calls=%d", n, fake.callCount())
	}
}

func TestSweepWithoutCredentialLeavesRowActive(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	now := time.Now().UTC()
	// No owner account linked, so the reaper cannot act on this platform.
	id := insertTimeoutRow(t, dbx, "kick", "troll-kick", "troll", now.Add(10*time.Minute), now.Add(-10*time.Minute))

	d := NewDispatcher(dbx, hub.New(), testConfig(), map[events.Platform]PlatformModerator{
		events.PlatformKick: &fakeModerator{},
	})
	n, err := d.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("processed = %d, want 0", n)
	}
	if got := timeoutStatus(t, dbx, id); got != db.TimeoutStatusActive {
		t.Fatalf("status = %q, want active (retried next sweep)", got)
	}
}
