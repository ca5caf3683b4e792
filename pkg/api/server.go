// Package api exposes the scheduler over HTTP: JSON in, JSON out, on a
// local loopback address per §4.8.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/metrics"
	"github.com/AndPuQing/gflow/pkg/ratelimit"
	"github.com/AndPuQing/gflow/pkg/scheduler"
	"github.com/AndPuQing/gflow/pkg/tracing"
)

// Handler wires the scheduler to a gorilla/mux router.
type Handler struct {
	sched    *scheduler.Scheduler
	log      *logging.Logger
	limiter  *ratelimit.Limiter
	metrics  *metrics.Collector
	tracing  *tracing.Provider
	shutdown func()
}

// NewHandler constructs the API handler. shutdown is invoked by
// POST /shutdown after state is saved.
func NewHandler(sched *scheduler.Scheduler, log *logging.Logger, limiter *ratelimit.Limiter, m *metrics.Collector, tp *tracing.Provider, shutdown func()) *Handler {
	return &Handler{sched: sched, log: log, limiter: limiter, metrics: m, tracing: tp, shutdown: shutdown}
}

// RegisterRoutes mounts every endpoint from §4.8. Specific routes are
// registered before parameterized ones so e.g. /jobs/batch never gets
// swallowed by /jobs/{id}.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(tracing.HTTPMiddleware(h.tracing, "gflow-api"))

	r.HandleFunc("/jobs/batch", h.rateLimited(h.handleSubmitBatch)).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.rateLimited(h.handleSubmit)).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/cancel", h.rateLimited(h.handleCancel)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/hold", h.rateLimited(h.handleHold)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/release", h.rateLimited(h.handleRelease)).Methods(http.MethodPost)

	r.HandleFunc("/gpus", h.handleGPUs).Methods(http.MethodGet)
	r.HandleFunc("/gpus/allowed", h.rateLimited(h.handleSetAllowedGPUs)).Methods(http.MethodPost)

	r.HandleFunc("/groups/{gid}/limit", h.rateLimited(h.handleSetGroupLimit)).Methods(http.MethodPost)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/shutdown", h.rateLimited(h.handleShutdown)).Methods(http.MethodPost)

	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
}

func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return h.limiter.Middleware(ratelimit.IPKeyFunc)(next).ServeHTTP
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
