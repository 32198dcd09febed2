package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// jsonError writes a JSON error response: {"error": "<msg>"}.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// jsonErrorDetails writes {"error": ..., "details": ...}.
func jsonErrorDetails(w http.ResponseWriter, msg, details string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "details": details})
}

// warnOnErr logs a failed best-effort store write. Secondary writes (usage
// stats, attachment links, payment records) must be visible in logs but
// never fail the request.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// recordRequest updates the Prometheus request counters for one chat call.
func recordRequest(d Dependencies, model, provider string, latencyMs float64, success bool) {
	if d.Metrics == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	d.Metrics.RequestsTotal.WithLabelValues(model, provider, status).Inc()
	if success {
		d.Metrics.RequestLatency.WithLabelValues(model, provider).Observe(latencyMs)
	}
}
