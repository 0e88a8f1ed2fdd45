package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/testutil"
)

func TestRefresherRefreshesExpiringToken(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Token expires inside the refresh window, so the first check refreshes it.
	if err := db.UpsertOAuthToken(ctx, dbx, "twitch", "old-access", "old-refresh", time.Now().Add(time.Minute), "chat:read"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	StartRefresher(ctx, dbx, "twitch", 50*time.Millisecond, time.Hour,
		func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			if refreshToken != "old-refresh" {
				t.Errorf("refresh token = %q", refreshToken)
			}
			return "new-access", "new-refresh", time.Now().Add(time.Hour), "", nil
		})

	// The loop sleeps with jitter before each check (up to ~5s pre-refresh).
	deadline := time.After(10 * time.Second)
	for {
		access, refresh, _, scope, err := db.GetOAuthToken(ctx, dbx, "twitch")
		if err != nil {
			t.Fatalf("get token: %v", err)
		}
		if access == "new-access" {
			if refresh != "new-refresh" {
				t.Fatalf("refresh = %q", refresh)
			}
			// Empty scope from the provider keeps the stored one.
			if scope != "chat:read" {
				t.Fatalf("scope = %q, want preserved", scope)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("token was not refreshed in time")
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func TestRefresherSkipsFreshToken(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.UpsertOAuthToken(ctx, dbx, "youtube", "acc", "ref", time.Now().Add(24*time.Hour), ""); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	called := make(chan struct{}, 1)
	StartRefresher(ctx, dbx, "youtube", 20*time.Millisecond, time.Minute,
		func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			select {
			case called <- struct{}{}:
			default:
			}
			return "", "", time.Time{}, "", nil
		})

	select {
	case <-called:
		t.Fatal("token outside the window must not be refreshed")
	case <-time.After(300 * time.Millisecond):
	}
}
