package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/TungTran2095/studio-sub004/internal/core"
	"github.com/TungTran2095/studio-sub004/internal/metrics"
)

// healthService is the gRPC service name reported alongside the overall "".
const healthService = "tradecore"

// system is the part of *core.System the servers use.
type system interface {
	GetSystemStatus() core.SystemStatus
	Healthy() bool
	ForceClockSync()
	SetFallbackEnabled(enabled bool)
}

// newHandler creates the HTTP handler for health, status, metrics and
// admin endpoints.
func newHandler(sys system, gatherer prometheus.Gatherer, metricsPath string, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		st := sys.GetSystemStatus()

		resp := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status: "healthy",
			Components: map[string]any{
				"stream":           st.Stream.State,
				"fallback_enabled": st.MarketData.FallbackEnabled,
				"clock_synced":     st.Clock.Synced,
				"running":          st.Running,
			},
		}

		code := http.StatusOK
		switch {
		case !st.Running:
			resp.Status = "starting"
			code = http.StatusServiceUnavailable
		case !st.Healthy:
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		case st.Stream.State != "connected" || !st.Clock.Synced:
			resp.Status = "degraded"
		}
		writeJSON(w, code, resp)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sys.GetSystemStatus())
	})

	mux.Handle("GET "+metricsPath, metrics.Handler(gatherer))

	mux.HandleFunc("POST /admin/clock/sync", func(w http.ResponseWriter, r *http.Request) {
		sys.ForceClockSync()
		logger.Info().Str("remote", r.RemoteAddr).Msg("clock resync requested")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync requested"})
	})

	mux.HandleFunc("POST /admin/fallback", func(w http.ResponseWriter, r *http.Request) {
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled must be true or false"})
			return
		}
		sys.SetFallbackEnabled(enabled)
		logger.Info().Bool("enabled", enabled).Str("remote", r.RemoteAddr).Msg("fallback toggled")
		writeJSON(w, http.StatusOK, map[string]bool{"fallback_enabled": enabled})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// watchHealth mirrors sys.Healthy into the gRPC health server until ctx is
// done.
func watchHealth(ctx context.Context, sys system, hs *health.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	update := func() {
		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if sys.Healthy() {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}

	update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
