package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/telemetry"
)

// StartTimeoutReaper runs the fixed-interval sweep until ctx ends. Some
// platforms drop a timeout when the chat session cycles, so still-active
// timeouts are periodically re-asserted; expired ones move to completed.
func (d *Dispatcher) StartTimeoutReaper(ctx context.Context) {
	interval := d.Cfg.ReaperInterval
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	slog.Info("timeout reaper started", slog.Duration("interval", interval), slog.String("component", "reaper"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("timeout reaper stopped", slog.String("component", "reaper"))
			return
		case <-ticker.C:
			n, err := d.SweepOnce(ctx)
			if err != nil {
				slog.Error("reaper sweep failed", slog.Any("err", err), slog.String("component", "reaper"))
				continue
			}
			if n > 0 {
				slog.Info("reaper sweep processed timeouts", slog.Int("count", n), slog.String("component", "reaper"))
			}
		}
	}
}

// SweepOnce processes one sweep and returns the number of rows it acted on.
// Also invoked synchronously by the cron endpoint. Each row's transition is
// independently idempotent, so an interrupted sweep can simply run again.
func (d *Dispatcher) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	if telemetry.ReaperSweeps != nil {
		telemetry.ReaperSweeps.Inc()
	}
	defer func() {
		if telemetry.SweepDuration != nil {
			telemetry.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}()

	stale := d.Cfg.ReaperStale
	if stale <= 0 {
		stale = d.Cfg.ReaperInterval
	}
	rows, err := db.SelectStaleActiveTimeouts(ctx, d.DB, time.Now().Add(-stale))
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if d.sweepRow(ctx, row) {
			processed++
		}
	}
	return processed, nil
}

// sweepRow handles one active timeout: complete it when expired, otherwise
// reapply for the remaining duration. The expiry check happens before any
// platform call so an expired timeout is never re-asserted.
func (d *Dispatcher) sweepRow(ctx context.Context, row db.ActiveTimeout) bool {
	now := time.Now().UTC()
	remaining := time.Until(row.ExpiresAt)
	if remaining <= 0 {
		if err := db.CompleteTimeout(ctx, d.DB, row.ID); err != nil {
			slog.Error("complete timeout failed", slog.Int64("id", row.ID), slog.Any("err", err), slog.String("component", "reaper"))
			return false
		}
		if telemetry.ReaperCompleted != nil {
			telemetry.ReaperCompleted.Inc()
		}
		return true
	}

	platform := events.Platform(row.Platform)
	mod, ok := d.Moderators[platform]
	if !ok {
		slog.Warn("no moderation backend for stale timeout", slog.String("platform", row.Platform), slog.Int64("id", row.ID), slog.String("component", "reaper"))
		return false
	}
	// The reaper acts on its own behalf; the owner credential is the only
	// identity it can assume.
	cred, err := d.resolveCredential(ctx, nil, platform)
	if err != nil {
		slog.Warn("reaper has no credential", slog.String("platform", row.Platform), slog.Any("err", err), slog.String("component", "reaper"))
		return false
	}
	if _, err := mod.TimeoutUser(ctx, cred, Target{PlatformUserID: row.PlatformUserID, Username: row.Username}, remaining, "timeout reapplied"); err != nil {
		slog.Warn("timeout reapply failed",
			slog.String("platform", row.Platform),
			slog.String("target", row.PlatformUserID),
			slog.Any("err", err),
			slog.String("component", "reaper"))
		return false
	}
	if err := db.BumpTimeoutApplied(ctx, d.DB, row.ID, now); err != nil {
		slog.Error("bump timeout applied failed", slog.Int64("id", row.ID), slog.Any("err", err), slog.String("component", "reaper"))
		return false
	}
	if telemetry.ReaperReapplied != nil {
		telemetry.ReaperReapplied.Inc()
	}
	return true
}
