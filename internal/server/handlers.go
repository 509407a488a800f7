package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"insightgraph/internal/cache"
	"insightgraph/internal/extract"
	"insightgraph/internal/model"
	"insightgraph/internal/ratelimit"
	"insightgraph/internal/service"
)

const maxTextBytes = 1 << 20 // request bodies past 1MB are rejected outright

type extractRequest struct {
	Text string `json:"text"`
}

// jobView is the wire shape of a job record. Input text is not echoed back.
type jobView struct {
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	Attempts    int          `json:"attempts,omitempty"`
	Result      *model.Graph `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitzero"`
}

func viewOf(job *model.Job) jobView {
	return jobView{
		JobID:       job.ID,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Attempts:    job.Attempts,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

// POST /extract — synchronous extraction, admission and cache included.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	text, ok := readText(w, r)
	if !ok {
		return
	}

	graph, origin, err := s.coord.Extract(r.Context(), clientIP(r), text)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"graph":  graph,
		"cached": origin == cache.Hit,
	})
}

// POST /jobs — asynchronous submission. Cache hits come back already
// completed with 200; fresh work is accepted with 202.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	text, ok := readText(w, r)
	if !ok {
		return
	}

	job, cached, err := s.coord.SubmitJob(r.Context(), clientIP(r), text)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	status := http.StatusAccepted
	if cached {
		status = http.StatusOK
	}
	writeJSON(w, status, viewOf(job))
}

// GET /jobs/{id}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.JobStatus(r.Context(), r.PathValue("id"))
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

// DELETE /jobs/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.coord.CancelJob(r.Context(), id)
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// GET /jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	all, err := s.coord.Jobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job listing failed")
		return
	}
	views := make([]jobView, 0, len(all))
	for _, job := range all {
		views = append(views, viewOf(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views, "count": len(views)})
}

// GET /graphs
func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusNotFound, "graph persistence disabled")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.graphs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"graphs": recs, "count": len(recs)})
}

// GET /graphs/search?q=...&limit=20 — case-insensitive substring match on
// the source text.
func (s *Server) handleSearchGraphs(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusNotFound, "graph persistence disabled")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	recs, err := s.graphs.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"graphs": recs, "count": len(recs)})
}

// GET /graphs/{job_id}
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusNotFound, "graph persistence disabled")
		return
	}
	rec, err := s.graphs.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "graph not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DELETE /graphs/{job_id}
func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	if s.graphs == nil {
		writeError(w, http.StatusNotFound, "graph persistence disabled")
		return
	}
	id := r.PathValue("job_id")
	existed, err := s.graphs.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "graph delete failed")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "graph not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.kv.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	depth, _ := s.coord.QueueDepth(r.Context())
	writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"queued_jobs": depth,
		"workers":     s.workers,
		"uptime":      time.Since(s.started).String(),
	})
}

// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := s.coord.CacheStats()
	depth, _ := s.coord.QueueDepth(r.Context())

	byStatus := map[string]int{}
	if all, err := s.coord.Jobs(r.Context()); err == nil {
		for _, job := range all {
			byStatus[string(job.Status)]++
		}
	}

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache_hits":     hits,
		"cache_misses":   misses,
		"cache_hit_rate": hitRate,
		"queued_jobs":    depth,
		"jobs_by_status": byStatus,
	})
}

// respondFailure maps coordinator errors onto status codes. Denials carry a
// Retry-After header alongside the JSON hint.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		secs := service.RetryAfterSeconds(denied.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":               "rate limit exceeded",
			"scope":               denied.Scope,
			"retry_after_seconds": secs,
		})
		return
	}
	var exErr *extract.Error
	if errors.As(err, &exErr) && exErr.Kind == extract.KindInvalid {
		writeError(w, http.StatusBadRequest, exErr.Message)
		return
	}
	log.Printf("[HTTP] request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "extraction failed")
}

func readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing text")
		return "", false
	}
	return req.Text, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
