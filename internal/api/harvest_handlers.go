package api

import (
	"fmt"
	"net/http"

	"mediaharvest/internal/harvest"
)

type harvestRequest struct {
	Sources []string      `json:"sources"`
	Query   harvest.Query `json:"query"`
	Persist *bool         `json:"persist,omitempty"`
}

// Harvest runs an on-demand acquisition. With "persist": false it runs a
// single source in preview mode and returns the normalized items without
// writing them.
func (h *Handler) Harvest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req harvestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at least one source is required"))
		return
	}

	persist := req.Persist == nil || *req.Persist
	if !persist {
		if len(req.Sources) != 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("preview supports exactly one source"))
			return
		}
		report, items := h.Runner.Preview(r.Context(), req.Sources[0], req.Query)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"report": report,
			"items":  items,
		})
		return
	}

	summary := h.Coordinator.RunBatch(r.Context(), req.Sources, req.Query)
	writeJSON(w, http.StatusOK, summary)
}

type resetRequest struct {
	Scope     string `json:"scope"`
	Source    string `json:"source,omitempty"`
	KeyDigest string `json:"keyDigest,omitempty"`
}

// Reset clears breaker and key-pool state. Scope "global" resets everything,
// "source" one breaker entry, "key" one benched credential.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch req.Scope {
	case "global":
		if h.Breaker != nil {
			h.Breaker.ResetAll()
		}
		if h.Keys != nil {
			h.Keys.Reset()
		}
	case "source":
		if req.Source == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("source is required for scope source"))
			return
		}
		if h.Breaker != nil {
			h.Breaker.Reset(req.Source)
		}
	case "key":
		if req.KeyDigest == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("keyDigest is required for scope key"))
			return
		}
		if h.Keys == nil || !h.Keys.ResetKey(req.KeyDigest) {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown key digest"))
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("scope must be global, source, or key"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "scope": req.Scope})
}

// Sources lists registered adapters with breaker and key-pool state.
func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	payload := map[string]interface{}{
		"sources": h.Registry.Descriptors(),
	}
	if h.Breaker != nil {
		payload["breakers"] = h.Breaker.Snapshot()
	}
	if h.Keys != nil {
		payload["keyPool"] = h.Keys.Status()
	}
	writeJSON(w, http.StatusOK, payload)
}
