// Package server exposes the read-only status API and the Prometheus
// scrape endpoint of the monitoring daemon.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/internal/history"
	"github.com/bitranox/check-zpools-sub001/pkg/alerts"
	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// StatusSource is the daemon's view exposed over HTTP.
type StatusSource interface {
	// LastResult returns the most recent completed cycle, if any.
	LastResult() (monitor.CheckResult, bool)
	// ActiveAlerts returns the unresolved alert records by signature.
	ActiveAlerts() map[string]alerts.Record
}

// Options wires the router's dependencies. History may be nil when the
// event log is disabled.
type Options struct {
	Version string
	Source  StatusSource
	History *history.Log
	Metrics *Metrics
}

func NewRouter(logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(&logger))

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "version": opts.Version})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		res, ok := opts.Source.LastResult()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "no cycle completed yet")
			return
		}
		writeJSON(w, map[string]any{
			"host":   monitor.CollectHost(),
			"result": res,
		})
	})

	r.Get("/api/alerts", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, opts.Source.ActiveAlerts())
	})

	r.Get("/api/events", func(w http.ResponseWriter, req *http.Request) {
		if opts.History == nil {
			writeError(w, http.StatusNotFound, "history disabled")
			return
		}
		events, err := opts.History.RecentEvents(queryLimit(req))
		if err != nil {
			logger.Error().Err(err).Msg("history query failed")
			writeError(w, http.StatusInternalServerError, "history query failed")
			return
		}
		writeJSON(w, events)
	})

	r.Get("/api/cycles", func(w http.ResponseWriter, req *http.Request) {
		if opts.History == nil {
			writeError(w, http.StatusNotFound, "history disabled")
			return
		}
		cycles, err := opts.History.RecentCycles(queryLimit(req))
		if err != nil {
			logger.Error().Err(err).Msg("history query failed")
			writeError(w, http.StatusInternalServerError, "history query failed")
			return
		}
		writeJSON(w, cycles)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return r
}

func queryLimit(req *http.Request) int {
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 100
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
