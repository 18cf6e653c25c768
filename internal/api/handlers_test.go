package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaharvest/internal/breaker"
	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
	"mediaharvest/internal/keypool"
	"mediaharvest/internal/models"
	"mediaharvest/internal/observability/metrics"
	"mediaharvest/internal/runner"
	"mediaharvest/internal/scheduler"
	"mediaharvest/internal/storage"
)

type harvesterFunc func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error)

func (f harvesterFunc) Harvest(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
	return f(ctx, query)
}

type fixture struct {
	handler *Handler
	mux     *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := harvest.NewRegistry()
	err := registry.Register(harvest.Descriptor{
		Name:     "demo",
		Kind:     models.KindArticle,
		Platform: "demo",
		New: func() harvest.Harvester {
			return harvesterFunc(func(ctx context.Context, query harvest.Query) ([]harvest.RawItem, error) {
				if query.Page > 1 {
					return nil, nil
				}
				return []harvest.RawItem{harvest.ArticleItem(harvest.RawArticle{
					URL:   "https://example.com/breaking-story",
					Title: "Breaking Story",
				})}, nil
			})
		},
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	gateway := storage.NewGateway(store, nil)

	clk := clock.NewManual(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	brk := breaker.New(breaker.Config{Clock: clk})
	keys := keypool.New([]string{"key-one", "key-two"}, clk)

	r := runner.New(runner.Config{
		Registry:         registry,
		Store:            gateway,
		Breaker:          brk,
		Clock:            clk,
		Metrics:          metrics.New(),
		TimeoutPerSource: time.Minute,
		MaxRetries:       1,
	})
	coordinator := runner.NewCoordinator(r, 2, nil)

	jobCfg := scheduler.JobConfig{Sources: []string{"demo"}, Interval: time.Hour, Query: harvest.Query{Limit: 1}}
	sched, err := scheduler.New(scheduler.Config{
		Coordinator: coordinator,
		Clock:       clk,
		Metrics:     metrics.New(),
		Articles:    jobCfg,
		Videos:      scheduler.JobConfig{Sources: []string{"demo"}, Interval: 2 * time.Hour},
	})
	if err != nil {
		t.Fatalf("scheduler.New returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	handler := NewHandler(Handler{
		Store:       gateway,
		Registry:    registry,
		Scheduler:   sched,
		Runner:      r,
		Coordinator: coordinator,
		Breaker:     brk,
		Keys:        keys,
		Metrics:     metrics.New(),
	})
	mux := http.NewServeMux()
	handler.Routes(mux)
	return &fixture{handler: handler, mux: mux}
}

func (fx *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func TestHealthTracksSchedulerState(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while scheduler stopped, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"degraded"`) {
		t.Fatalf("expected degraded status, got %s", rec.Body.String())
	}

	fx.handler.Scheduler.Start()
	rec = fx.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after start, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected ok status, got %s", rec.Body.String())
	}
}

func TestHealthRejectsNonGet(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodPost, "/healthz", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodGet {
		t.Fatalf("expected Allow GET, got %q", got)
	}
}

func TestHarvestPersistsByDefault(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/harvest", `{"sources":["demo"],"query":{"limit":1}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary runner.Summary
	decodeBody(t, rec, &summary)
	if summary.Succeeded != 1 || summary.TotalInserted != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = fx.do(t, http.MethodGet, "/api/content/search?q=breaking", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search returned %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Breaking Story") {
		t.Fatalf("expected stored article in search results, got %s", rec.Body.String())
	}
}

func TestHarvestPreviewDoesNotPersist(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/harvest", `{"sources":["demo"],"query":{"limit":1},"persist":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Breaking Story") {
		t.Fatalf("expected previewed item in response, got %s", rec.Body.String())
	}

	results, err := fx.handler.Store.SearchContent(context.Background(), "breaking", "", 0)
	if err != nil {
		t.Fatalf("SearchContent returned error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("preview must not persist, found %d results", len(results))
	}
}

func TestHarvestValidation(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/harvest", `{"sources":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty sources, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodPost, "/api/harvest", `{"sources":["a","b"],"persist":false}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for multi-source preview, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodPost, "/api/harvest", `{"sources":["demo"],"unknown":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestSchedulerStatusAndReconfigure(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/scheduler", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"articles"`) || !strings.Contains(body, `"videos"`) {
		t.Fatalf("expected both jobs in status, got %s", body)
	}
	if !strings.Contains(body, `"breakers"`) || !strings.Contains(body, `"keyPool"`) {
		t.Fatalf("expected breaker and key pool state in status, got %s", body)
	}

	rec = fx.do(t, http.MethodPut, "/api/scheduler/jobs/articles",
		`{"sources":["demo"],"intervalSeconds":120,"coalesce":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view jobConfigPayload
	decodeBody(t, rec, &view)
	if view.IntervalSeconds != 120 || !view.Coalesce {
		t.Fatalf("unexpected config view %+v", view)
	}

	rec = fx.do(t, http.MethodPut, "/api/scheduler/jobs/nightly", `{"sources":["demo"],"intervalSeconds":60}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodPut, "/api/scheduler/jobs/articles", `{"sources":["demo"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero interval, got %d", rec.Code)
	}
}

func TestSchedulerTrigger(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/scheduler/jobs/articles/trigger", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary runner.Summary
	decodeBody(t, rec, &summary)
	if summary.Processed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = fx.do(t, http.MethodPost, "/api/scheduler/jobs/nightly/trigger", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodGet, "/api/scheduler/jobs/articles/trigger", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET trigger, got %d", rec.Code)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/scheduler/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !fx.handler.Scheduler.Running() {
		t.Fatalf("expected scheduler running after start")
	}

	rec = fx.do(t, http.MethodPost, "/api/scheduler/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if fx.handler.Scheduler.Running() {
		t.Fatalf("expected scheduler stopped after stop")
	}
}

func TestResetScopes(t *testing.T) {
	fx := newFixture(t)

	fx.handler.Breaker.RecordFailure("demo")
	rec := fx.do(t, http.MethodPost, "/api/reset", `{"scope":"source","source":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := fx.handler.Breaker.FailureCount("demo"); got != 0 {
		t.Fatalf("expected breaker reset, failures=%d", got)
	}

	key, err := fx.handler.Keys.Acquire()
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	fx.handler.Keys.MarkExhausted(key)
	rec = fx.do(t, http.MethodPost, "/api/reset", `{"scope":"key","keyDigest":"`+key.Digest()+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := fx.handler.Keys.Status().Exhausted; got != 0 {
		t.Fatalf("expected key revived, exhausted=%d", got)
	}

	rec = fx.do(t, http.MethodPost, "/api/reset", `{"scope":"key","keyDigest":"nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown digest, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodPost, "/api/reset", `{"scope":"everything"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid scope, got %d", rec.Code)
	}

	fx.handler.Breaker.RecordFailure("demo")
	rec = fx.do(t, http.MethodPost, "/api/reset", `{"scope":"global"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := fx.handler.Breaker.FailureCount("demo"); got != 0 {
		t.Fatalf("expected global reset to clear breaker, failures=%d", got)
	}
}

func TestSourcesListsRegistry(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodGet, "/api/sources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"demo"`) || !strings.Contains(body, `"keyPool"`) {
		t.Fatalf("expected source list with key pool, got %s", body)
	}
}

func TestSearchValidation(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/content/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodGet, "/api/content/search?q=x&kind=podcast", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid kind, got %d", rec.Code)
	}
	rec = fx.do(t, http.MethodGet, "/api/content/search?q=x&limit=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestContentBySourceEndpoint(t *testing.T) {
	fx := newFixture(t)
	fx.do(t, http.MethodPost, "/api/harvest", `{"sources":["demo"],"query":{"limit":1}}`)

	rec := fx.do(t, http.MethodGet, "/api/content?source=demo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Breaking Story") {
		t.Fatalf("expected harvested item, got %s", rec.Body.String())
	}

	rec = fx.do(t, http.MethodGet, "/api/content", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without source, got %d", rec.Code)
	}
}

func TestContentStatsEndpoint(t *testing.T) {
	fx := newFixture(t)
	fx.do(t, http.MethodPost, "/api/harvest", `{"sources":["demo"],"query":{"limit":1}}`)

	rec := fx.do(t, http.MethodGet, "/api/stats/content", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, field := range []string{`"platforms"`, `"activity"`, `"languages"`} {
		if !strings.Contains(body, field) {
			t.Fatalf("expected %s in stats payload, got %s", field, body)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mediaharvest_") {
		t.Fatalf("expected mediaharvest metrics, got %s", rec.Body.String())
	}
}
