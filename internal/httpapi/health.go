// Copyright 2025 Certen Protocol
//
package httpapi

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsMux serves the default Prometheus registry on /metrics.
//
// Grounded on shared/prometheus/service.go's NewPrometheusService: a
// dedicated mux bound to its own address rather than sharing the main API
// listener.
func NewMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// NewHealthMux serves liveness on /health, calling check against the
// binary's primary dependency (its SQLite store). A non-nil error from
// check reports 503 with the error text, mirroring the status-map shape of
// shared/prometheus/service.go's healthzHandler.
func NewHealthMux(logger *log.Logger, check func(context.Context) error) *http.ServeMux {
	if logger == nil {
		logger = log.New(log.Writer(), "[Health] ", log.LstdFlags)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}
