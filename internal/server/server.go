// Package server exposes the extraction service over HTTP.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"insightgraph/internal/graphstore"
	"insightgraph/internal/kvstore"
	"insightgraph/internal/metrics"
	"insightgraph/internal/service"
)

// Options configure the HTTP server.
type Options struct {
	Addr     string
	APIKey   string  // empty disables auth (development)
	BurstRPS float64 // per-instance request flood guard
	Burst    int
}

// Server routes HTTP traffic to the coordinator.
type Server struct {
	coord   *service.Coordinator
	graphs  *graphstore.Store // may be nil
	kv      kvstore.Store
	mx      *metrics.Collector
	opts    Options
	workers int
	started time.Time
}

// New builds the server. graphs may be nil when persistence is disabled.
func New(coord *service.Coordinator, graphs *graphstore.Store, kv kvstore.Store,
	mx *metrics.Collector, workers int, opts Options) *Server {
	return &Server{
		coord: coord, graphs: graphs, kv: kv, mx: mx,
		workers: workers, opts: opts, started: time.Now(),
	}
}

// Handler assembles the route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /extract", s.auth(s.handleExtract))
	mux.HandleFunc("POST /jobs", s.auth(s.handleSubmit))
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobStatus)
	mux.HandleFunc("DELETE /jobs/{id}", s.auth(s.handleDeleteJob))

	mux.HandleFunc("GET /graphs", s.handleListGraphs)
	mux.HandleFunc("GET /graphs/search", s.handleSearchGraphs)
	mux.HandleFunc("GET /graphs/{job_id}", s.handleGetGraph)
	mux.HandleFunc("DELETE /graphs/{job_id}", s.auth(s.handleDeleteGraph))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.mx.Handler())

	return s.cors(s.floodGuard(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 HTTP server listening on %s", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("🛑 HTTP server shutting down...")
	shutCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	log.Printf("✅ HTTP server stopped")
	return nil
}
