package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rickgao/livedata/internal/subscription"
)

// coordinatorView is what the debug endpoints read from the manager.
type coordinatorView interface {
	Query(s subscription.State) map[string]subscription.Status
	QuerySubscriptionState(substr string) map[string]subscription.Status
	RetryAllFailed() int
	Stats() subscription.Stats
	IsRunning() bool
}

// newDebugMux serves health and subscription inspection endpoints.
func newDebugMux(mgr coordinatorView, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		stats := mgr.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if !mgr.IsRunning() {
			health.Status = "unhealthy"
		}
		health.Components["provider"] = map[string]any{
			"bound": stats.Bound,
			"dirty": stats.Dirty,
		}
		health.Components["subscriptions"] = map[string]int{
			"pending": stats.Pending,
			"active":  stats.Active,
			"failed":  stats.Failed,
			"removed": stats.Removed,
		}
		if health.Status == "healthy" && !stats.Bound {
			health.Status = "degraded"
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health, logger)
	})

	mux.HandleFunc("GET /debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("state")
		if name == "" {
			name = "active"
		}
		state, ok := parseState(name)
		if !ok {
			http.Error(w, "state must be one of pending, active, failed, removed", http.StatusBadRequest)
			return
		}

		subs := mgr.Query(state)
		writeJSON(w, http.StatusOK, map[string]any{
			"state":         state,
			"count":         len(subs),
			"subscriptions": subs,
		}, logger)
	})

	mux.HandleFunc("GET /debug/subscriptions/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		subs := mgr.QuerySubscriptionState(q)
		writeJSON(w, http.StatusOK, map[string]any{
			"query":         q,
			"count":         len(subs),
			"subscriptions": subs,
		}, logger)
	})

	mux.HandleFunc("POST /debug/subscriptions/retry-failed", func(w http.ResponseWriter, r *http.Request) {
		n := mgr.RetryAllFailed()
		logger.Info("retried failed subscriptions via debug endpoint", "count", n)
		writeJSON(w, http.StatusOK, map[string]int{"retried": n}, logger)
	})

	return mux
}

func parseState(name string) (subscription.State, bool) {
	switch strings.ToLower(name) {
	case "pending":
		return subscription.StatePending, true
	case "active":
		return subscription.StateActive, true
	case "failed":
		return subscription.StateFailed, true
	case "removed":
		return subscription.StateRemoved, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", "error", err)
	}
}
