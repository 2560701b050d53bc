package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-relay/inbound"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status    string `json:"status"`
	Relay     string `json:"relay"`
	Timestamp string `json:"timestamp"`
}

// newRouter mounts the health and metrics endpoints next to the gateway
// ingest route.
func newRouter(receiver *inbound.Receiver, gatherer prometheus.Gatherer, maxBodyBytes int64, clock func() time.Time) http.Handler {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:    "ok",
			Relay:     "ready",
			Timestamp: clock().UTC().Format(time.RFC3339Nano),
		})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if receiver != nil {
		r.Method(http.MethodPost, "/events", receiver.Handler(maxBodyBytes))
	}
	return r
}
