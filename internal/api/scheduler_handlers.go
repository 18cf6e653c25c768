package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mediaharvest/internal/harvest"
	"mediaharvest/internal/scheduler"
)

// jobConfigPayload is the wire form of scheduler.JobConfig. Durations travel
// as whole seconds.
type jobConfigPayload struct {
	Sources             []string      `json:"sources"`
	Query               harvest.Query `json:"query"`
	IntervalSeconds     int           `json:"intervalSeconds"`
	MaxInstances        int           `json:"maxInstances,omitempty"`
	Coalesce            bool          `json:"coalesce,omitempty"`
	MisfireGraceSeconds int           `json:"misfireGraceSeconds,omitempty"`
	JitterSeconds       int           `json:"jitterSeconds,omitempty"`
	StartDelaySeconds   int           `json:"startDelaySeconds,omitempty"`
}

func (p jobConfigPayload) toJobConfig() scheduler.JobConfig {
	return scheduler.JobConfig{
		Sources:      p.Sources,
		Query:        p.Query,
		Interval:     time.Duration(p.IntervalSeconds) * time.Second,
		MaxInstances: p.MaxInstances,
		Coalesce:     p.Coalesce,
		MisfireGrace: time.Duration(p.MisfireGraceSeconds) * time.Second,
		Jitter:       time.Duration(p.JitterSeconds) * time.Second,
		StartDelay:   time.Duration(p.StartDelaySeconds) * time.Second,
	}
}

func jobConfigView(cfg scheduler.JobConfig) jobConfigPayload {
	return jobConfigPayload{
		Sources:             cfg.Sources,
		Query:               cfg.Query,
		IntervalSeconds:     int(cfg.Interval / time.Second),
		MaxInstances:        cfg.MaxInstances,
		Coalesce:            cfg.Coalesce,
		MisfireGraceSeconds: int(cfg.MisfireGrace / time.Second),
		JitterSeconds:       int(cfg.Jitter / time.Second),
		StartDelaySeconds:   int(cfg.StartDelay / time.Second),
	}
}

type jobView struct {
	Config jobConfigPayload   `json:"config"`
	Stats  scheduler.JobStats `json:"stats"`
}

func (h *Handler) schedulerView() map[string]interface{} {
	jobs := make(map[string]jobView, 2)
	stats := h.Scheduler.Stats()
	for _, name := range []string{scheduler.JobArticles, scheduler.JobVideos} {
		cfg, err := h.Scheduler.Config(name)
		if err != nil {
			continue
		}
		jobs[name] = jobView{Config: jobConfigView(cfg), Stats: stats[name]}
	}
	view := map[string]interface{}{
		"running": h.Scheduler.Running(),
		"jobs":    jobs,
	}
	if h.Breaker != nil {
		view["breakers"] = h.Breaker.Snapshot()
	}
	if h.Keys != nil {
		view["keyPool"] = h.Keys.Status()
	}
	return view
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, h.schedulerView())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	h.Scheduler.Start()
	writeJSON(w, http.StatusOK, h.schedulerView())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := h.Scheduler.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.schedulerView())
}

// SchedulerJobs serves PUT /api/scheduler/jobs/{job} and
// POST /api/scheduler/jobs/{job}/trigger.
func (h *Handler) SchedulerJobs(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("job name is required"))
		return
	}
	job := parts[0]

	switch {
	case len(parts) == 1:
		h.reconfigureJob(w, r, job)
	case len(parts) == 2 && parts[1] == "trigger":
		h.triggerJob(w, r, job)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("invalid scheduler path"))
	}
}

func (h *Handler) reconfigureJob(w http.ResponseWriter, r *http.Request, job string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req jobConfigPayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.Scheduler.Reconfigure(job, req.toJobConfig())
	if errors.Is(err, scheduler.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := h.Scheduler.Config(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobConfigView(cfg))
}

func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request, job string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	summary, err := h.Scheduler.TriggerNow(r.Context(), job)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if errors.Is(err, scheduler.ErrJobBusy) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
