package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/actuallyakshat/realtime-todos/internal/connection"
)

// healthSource reports what /health exposes.
type healthSource interface {
	Status() connection.Status
	Pending() int
}

type healthResponse struct {
	Status     string `json:"status"`
	State      string `json:"state"`
	RoomID     int64  `json:"room_id,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Pending    int    `json:"pending_writes"`
	Connection uint64 `json:"conn_id,omitempty"`
}

// newServer returns the router for the metrics and health endpoints.
func newServer(metricsPath string, gatherer prometheus.Gatherer, health healthSource, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		st := health.Status()
		resp := healthResponse{
			Status:     healthStatus(st.State),
			State:      string(st.State),
			RoomID:     st.RoomID,
			Identity:   st.Identity,
			Attempts:   st.Attempts,
			LastError:  st.LastError,
			Pending:    health.Pending(),
			Connection: st.ConnID,
		}

		code := http.StatusOK
		if resp.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})

	return r
}

// healthStatus maps the connection state onto a health verdict.
func healthStatus(s connection.State) string {
	switch s {
	case connection.StateOpen:
		return "healthy"
	case connection.StateConnecting, connection.StateReconnecting:
		return "degraded"
	case connection.StateClosed:
		return "unhealthy"
	default:
		return "idle"
	}
}
