package server

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"keyportal/internal/database"
	"keyportal/internal/jobs/runtime"
)

func getUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := deps.Stats.CachedUsage(r.Context())
	if err != nil {
		// The dashboard polls this endpoint; degrade to an empty block so
		// the page keeps rendering while the upstream is away.
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error(), "usage": map[string]any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": usage})
}

func getUsageHistory(w http.ResponseWriter, r *http.Request) {
	// Refresh the persisted history first so the answer includes today.
	if _, err := runtime.SyncUsage(r.Context(), deps.Upstream, deps.Keys.Registry()); err != nil {
		log.Warn("Usage sync before history query failed", "error", err)
	}

	aggregates, err := database.GetUsageAggregated()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if usage, err := deps.Stats.CachedUsage(r.Context()); err == nil {
		aggregates.TokensByHour = usage.TokensByHour
		aggregates.RequestsByHour = usage.RequestsByHour
	}

	writeJSON(w, http.StatusOK, aggregates)
}

func triggerUsageSync(w http.ResponseWriter, r *http.Request) {
	stats, err := runtime.SyncUsage(r.Context(), deps.Upstream, deps.Keys.Registry())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// A manual sync should also refresh the live view.
	deps.Stats.Invalidate()

	if err := runtime.WriteUsageCSV(runtime.UsageCSVPath()); err != nil {
		log.Warn("Failed to refresh usage CSV", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func getRestartEvents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := database.RecentRestartEvents(limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	state := deps.Monitor.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"events":        events,
		"restart_count": state.RestartCount,
	})
}
