// Package spinnakertest provides an in-memory orchestrator API for tests.
package spinnakertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

// Server stores pipeline configs in memory and records every call.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	pipelines    map[string]map[string]json.RawMessage
	applications []map[string]any
	calls        []string
	deleteFail   map[string]int
	createStatus int
	createBody   string
}

// NewServer starts a server. Close it when done.
func NewServer() *Server {
	s := &Server{
		pipelines:  map[string]map[string]json.RawMessage{},
		deleteFail: map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /applications", s.listApplications)
	mux.HandleFunc("GET /applications/{app}/pipelineConfigs", s.listPipelines)
	mux.HandleFunc("GET /applications/{app}/pipelineConfigs/{name}", s.getPipeline)
	mux.HandleFunc("DELETE /pipelines/{app}/{name}", s.deletePipeline)
	mux.HandleFunc("POST /pipelines", s.createPipeline)
	s.Server = httptest.NewServer(mux)
	return s
}

// Seed stores a pipeline as if it had been created earlier.
func (s *Server) Seed(app, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(app, name, json.RawMessage(fmt.Sprintf(`{"name":%q,"application":%q,"stages":[]}`, name, app)))
}

// AddApplication registers an application record for GET /applications.
func (s *Server) AddApplication(app map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications = append(s.applications, app)
}

// FailDelete makes deletes of name answer with status.
func (s *Server) FailDelete(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFail[name] = status
}

// RejectCreate makes every create answer with status and body.
func (s *Server) RejectCreate(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createStatus = status
	s.createBody = body
}

// Names returns the stored pipeline names of app, sorted.
func (s *Server) Names(app string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.pipelines[app] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Pipeline returns the stored body of a pipeline.
func (s *Server) Pipeline(app, name string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.pipelines[app][name]
	return body, ok
}

// Calls returns "METHOD name" entries in arrival order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) store(app, name string, body json.RawMessage) {
	if s.pipelines[app] == nil {
		s.pipelines[app] = map[string]json.RawMessage{}
	}
	s.pipelines[app][name] = body
}

func (s *Server) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GET applications")
	apps := s.applications
	if apps == nil {
		apps = []map[string]any{}
	}
	writeJSON(w, apps)
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app := r.PathValue("app")
	s.record("LIST " + app)
	out := []map[string]string{}
	var names []string
	for name := range s.pipelines[app] {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, map[string]string{"name": name, "application": app})
	}
	writeJSON(w, out)
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.pipelines[r.PathValue("app")][r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, name := r.PathValue("app"), r.PathValue("name")
	s.record("DELETE " + name)
	if status, ok := s.deleteFail[name]; ok {
		http.Error(w, "delete refused", status)
		return
	}
	delete(s.pipelines[app], name)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var head struct {
		Name        string `json:"name"`
		Application string `json:"application"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || strings.TrimSpace(head.Name) == "" {
		http.Error(w, `{"message":"invalid pipeline"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CREATE " + head.Name)
	if s.createStatus != 0 {
		w.WriteHeader(s.createStatus)
		_, _ = w.Write([]byte(s.createBody))
		return
	}
	s.store(head.Application, head.Name, json.RawMessage(raw))
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
