// Package feedstub serves paginated JSON feeds for end-to-end runner tests.
package feedstub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// Server pages a fixed item list through the generic feed wire shape.
// Failures can be scripted ahead of the next successful response.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	items    []map[string]any
	failures []failure
	requests int
	apiKeys  []string
}

type failure struct {
	status int
	body   string
}

// New starts a stub feed endpoint. Callers must Close it.
func New() *Server {
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetArticles replaces the feed content with article items.
func (s *Server) SetArticles(urls ...string) {
	items := make([]map[string]any, len(urls))
	for i, u := range urls {
		items[i] = map[string]any{"url": u, "title": "Article " + strconv.Itoa(i)}
	}
	s.SetItems(items)
}

// SetVideos replaces the feed content with video items of the given
// durations, keyed video-0, video-1, ….
func (s *Server) SetVideos(durations ...int) {
	items := make([]map[string]any, len(durations))
	for i, d := range durations {
		items[i] = map[string]any{
			"videoId":         "video-" + strconv.Itoa(i),
			"title":           "Video " + strconv.Itoa(i),
			"durationSeconds": d,
		}
	}
	s.SetItems(items)
}

// SetItems replaces the feed content with raw wire items.
func (s *Server) SetItems(items []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// FailNext scripts HTTP failures for the next len(statuses) requests.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, status := range statuses {
		s.failures = append(s.failures, failure{status: status, body: http.StatusText(status)})
	}
}

// FailNextWithBody scripts one failure with a specific response body, used
// to simulate quota denials.
func (s *Server) FailNextWithBody(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, body: body})
}

// Requests returns how many requests the stub has served, failures included.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// APIKeys returns the X-Api-Key header of each request.
func (s *Server) APIKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.apiKeys...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	s.apiKeys = append(s.apiKeys, r.Header.Get("X-Api-Key"))
	if len(s.failures) > 0 {
		next := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		http.Error(w, next.body, next.status)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	end := start + size
	var pageItems []map[string]any
	if start < len(s.items) {
		if end > len(s.items) {
			end = len(s.items)
		}
		pageItems = s.items[start:end]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"items": pageItems})
}
