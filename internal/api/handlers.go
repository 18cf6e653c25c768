package api

import (
	"net/http"

	"mediaharvest/internal/breaker"
	"mediaharvest/internal/classifier"
	"mediaharvest/internal/harvest"
	"mediaharvest/internal/keypool"
	"mediaharvest/internal/observability/metrics"
	"mediaharvest/internal/runner"
	"mediaharvest/internal/scheduler"
	"mediaharvest/internal/storage"
)

// Handler bundles the dependencies the control surface exposes.
type Handler struct {
	Store       *storage.Gateway
	Registry    *harvest.Registry
	Scheduler   *scheduler.Scheduler
	Runner      *runner.Runner
	Coordinator *runner.Coordinator
	Breaker     *breaker.Breaker
	Keys        *keypool.Pool
	Classifier  *classifier.Dispatcher
	Metrics     *metrics.Recorder
}

// NewHandler wires a Handler; Metrics falls back to the default recorder.
func NewHandler(h Handler) *Handler {
	if h.Metrics == nil {
		h.Metrics = metrics.Default()
	}
	return &h
}

// Routes registers every endpoint on mux. /healthz and /metrics sit outside
// the /api prefix so the server can exempt them from auth.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", h.Metrics.Handler())
	mux.HandleFunc("/api/scheduler", h.SchedulerStatus)
	mux.HandleFunc("/api/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("/api/scheduler/stop", h.SchedulerStop)
	mux.HandleFunc("/api/scheduler/jobs/", h.SchedulerJobs)
	mux.HandleFunc("/api/harvest", h.Harvest)
	mux.HandleFunc("/api/reset", h.Reset)
	mux.HandleFunc("/api/sources", h.Sources)
	mux.HandleFunc("/api/content/search", h.SearchContent)
	mux.HandleFunc("/api/content", h.ContentBySource)
	mux.HandleFunc("/api/stats/content", h.ContentStats)
}

// Health reports component status without requiring auth.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	components, status, code := h.componentHealth(r.Context())
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, errMethod(r.Method))
}
