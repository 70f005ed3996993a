// Package mockdinsight implements a minimal in-process D'insight backend for
// integration tests and local harness runs.
package mockdinsight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Call records a request made to the mock backend.
type Call struct {
	Method string
	Path   string
}

// Batch records one monitor batch received by the mock backend.
type Batch struct {
	BaselineID int64
	Filename   string
	Data       []byte
	// Points is the number of data rows in the received table.
	Points int
}

// Server is a mock of the backend API surface the replay engine consumes.
type Server struct {
	mu sync.Mutex

	calls   []Call
	batches []Batch
	configs map[int64]json.RawMessage

	nextID   int64
	datasets map[int64]*dataset

	// monitorPoints accumulates ingested point counts per baseline.
	monitorPoints map[int64]int

	// readyAfterPolls is how many dinsight polls return empty coordinates
	// before a processed upload becomes ready.
	readyAfterPolls int

	// monitorFailures drains one injected failure per monitor upload.
	monitorFailures []failure

	failStreamingConfig bool
}

type failure struct {
	status int
	body   string
}

type dataset struct {
	polls int
	x, y  []float64
}

// New constructs an empty mock backend.
func New() *Server {
	return &Server{
		nextID:        1,
		datasets:      make(map[int64]*dataset),
		monitorPoints: make(map[int64]int),
		configs:       make(map[int64]json.RawMessage),
	}
}

// Handler returns the HTTP handler serving the mock API under /api/v1.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/dinsight/{id}", s.handleDinsight)
		r.Put("/streaming/{id}/config", s.handleStreamingConfig)
		r.Post("/monitor/{id}", s.handleMonitor)
		r.Get("/monitor/{id}/coordinates", s.handleMonitorCoordinates)
	})
	return s.record(r)
}

// SeedBaseline registers an already-processed baseline with the given
// derived coordinates.
func (s *Server) SeedBaseline(id int64, x, y []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[id] = &dataset{polls: 0, x: x, y: y}
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// SetReadyAfterPolls makes newly analyzed uploads report empty coordinates
// for the first n dinsight polls.
func (s *Server) SetReadyAfterPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyAfterPolls = n
}

// InjectMonitorFailure queues one failed monitor upload; queued failures are
// consumed in order before any upload succeeds.
func (s *Server) InjectMonitorFailure(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitorFailures = append(s.monitorFailures, failure{status: status, body: body})
}

// FailStreamingConfig makes the streaming config endpoint return 500.
func (s *Server) FailStreamingConfig() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStreamingConfig = true
}

// Calls returns a snapshot of requests made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Batches returns a snapshot of monitor batches received so far.
func (s *Server) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Batch, len(s.batches))
	copy(out, s.batches)
	return out
}

// Config returns the last streaming config received for a baseline.
func (s *Server) Config(baselineID int64) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[baselineID]
	return cfg, ok
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "parse multipart form", http.StatusBadRequest)
		return
	}
	f, _, err := r.FormFile("files")
	if err != nil {
		http.Error(w, "missing files field", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	content, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	n := countDataRows(content)
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = float64(i)
		y[i] = float64(-i)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.datasets[id] = &dataset{polls: -s.readyAfterPolls, x: x, y: y}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"data": map[string]any{"id": id}})
}

func (s *Server) handleDinsight(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ds, ok := s.datasets[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "dinsight dataset not found", http.StatusNotFound)
		return
	}
	ds.polls++
	ready := ds.polls > 0
	x, y := ds.x, ds.y
	s.mu.Unlock()

	data := map[string]any{
		"dinsight_id": id,
		"dinsight_x":  []float64{},
		"dinsight_y":  []float64{},
	}
	if ready {
		data["dinsight_x"] = x
		data["dinsight_y"] = y
	}
	writeJSON(w, map[string]any{"data": data})
}

func (s *Server) handleStreamingConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fail := s.failStreamingConfig
	s.mu.Unlock()
	if fail {
		http.Error(w, "streaming config unavailable", http.StatusInternalServerError)
		return
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.configs[id] = json.RawMessage(b)
	s.mu.Unlock()

	writeJSON(w, map[string]any{"status": "updated"})
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if len(s.monitorFailures) > 0 {
		f := s.monitorFailures[0]
		s.monitorFailures = s.monitorFailures[1:]
		s.mu.Unlock()
		http.Error(w, f.body, f.status)
		return
	}
	s.mu.Unlock()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "parse multipart form", http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	content, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	points := countDataRows(content)
	s.mu.Lock()
	s.monitorPoints[id] += points
	s.batches = append(s.batches, Batch{
		BaselineID: id,
		Filename:   hdr.Filename,
		Data:       content,
		Points:     points,
	})
	s.mu.Unlock()

	writeJSON(w, map[string]any{"data": map[string]any{"received": points}})
}

func (s *Server) handleMonitorCoordinates(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	n := s.monitorPoints[id]
	s.mu.Unlock()

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	writeJSON(w, map[string]any{"dinsight_x": x})
}

func countDataRows(csv []byte) int {
	rows := 0
	for _, line := range bytes.Split(csv, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			rows++
		}
	}
	if rows > 0 {
		rows-- // header
	}
	return rows
}

// String implements fmt.Stringer for test failure messages.
func (c Call) String() string {
	return fmt.Sprintf("%s %s", c.Method, c.Path)
}
