// Package classifierstub provides an in-process classifier endpoint for
// dispatcher and runner tests.
package classifierstub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Response scripts one reply from the stub. Status 200 responses include the
// TotalClassified count in the body.
type Response struct {
	Status          int
	TotalClassified int
}

// Server records every batch the dispatcher sends and replays scripted
// responses in order, defaulting to 202 Accepted once the script runs out.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	batches   [][]string
	responses []Response
	auth      []string
}

// New starts a stub classifier endpoint. Callers must Close it.
func New() *Server {
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Enqueue scripts the next response.
func (s *Server) Enqueue(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
}

// Batches returns the content-ID batches received so far.
func (s *Server) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	for i, batch := range s.batches {
		out[i] = append([]string(nil), batch...)
	}
	return out
}

// Authorizations returns the Authorization header of each request.
func (s *Server) Authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}
	var payload struct {
		ContentIDs []string `json:"contentIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.batches = append(s.batches, payload.ContentIDs)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	next := Response{Status: http.StatusAccepted}
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.Status)
	if next.Status == http.StatusOK {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results":          []any{},
			"total_classified": next.TotalClassified,
		})
	}
}
