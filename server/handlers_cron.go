package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/telemetry"
)

// quarantineRetention is how long unlinked accounts are kept before the
// cleanup cron may purge them.
const quarantineRetention = 30 * 24 * time.Hour

// HandleCronReapplyTimeouts runs one reaper sweep on demand and reports how
// many rows it acted on. Gated by the cron shared secret.
func (h *Handlers) HandleCronReapplyTimeouts(w http.ResponseWriter, r *http.Request) {
	if !checkCronSecret(r, h.cfg.CronSecret) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	n, err := h.dispatcher.SweepOnce(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("cron sweep failed", "err", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"processed": n})
}

// HandleCronCleanupQuarantine purges soft-unlinked accounts past the retention
// window and reports the purge count. Gated by the cron shared secret.
func (h *Handlers) HandleCronCleanupQuarantine(w http.ResponseWriter, r *http.Request) {
	if !checkCronSecret(r, h.cfg.CronSecret) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	n, err := db.PurgeQuarantinedAccounts(r.Context(), h.db, quarantineRetention)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("quarantine cleanup failed", "err", err)
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"purged": n})
}
