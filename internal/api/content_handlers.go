package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediaharvest/internal/models"
)

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return limit, nil
}

func parseKind(r *http.Request) (models.ContentKind, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("kind"))
	switch raw {
	case "":
		return "", nil
	case string(models.KindArticle), string(models.KindVideo):
		return models.ContentKind(raw), nil
	default:
		return "", fmt.Errorf("kind must be %q or %q", models.KindArticle, models.KindVideo)
	}
}

// SearchContent serves GET /api/content/search?q=&kind=&limit=.
func (h *Handler) SearchContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter q is required"))
		return
	}
	kind, err := parseKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := h.Store.SearchContent(r.Context(), query, kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
	})
}

// ContentBySource serves GET /api/content?source=&limit=.
func (h *Handler) ContentBySource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("query parameter source is required"))
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := h.Store.ContentBySource(r.Context(), source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"results": results,
	})
}

// ContentStats serves GET /api/stats/content: platform counts, a 24h
// ingest-activity histogram, and the language distribution.
func (h *Handler) ContentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx := r.Context()

	platforms, err := h.Store.CountsByPlatform(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	activity, err := h.Store.RecentActivity(ctx, 24*time.Hour, 24)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	languages, err := h.Store.LanguageDistribution(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": platforms,
		"activity":  activity,
		"languages": languages,
	})
}
