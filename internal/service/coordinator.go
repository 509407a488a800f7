// Package service glues admission, caching and queueing into the request
// flows the HTTP layer exposes. Handlers never touch the stores directly.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"insightgraph/internal/cache"
	"insightgraph/internal/extract"
	"insightgraph/internal/jobs"
	"insightgraph/internal/metrics"
	"insightgraph/internal/model"
	"insightgraph/internal/ratelimit"
)

// ErrJobNotFound is returned for unknown or expired job IDs.
var ErrJobNotFound = errors.New("job not found")

// Coordinator runs every request through the same gate order: admission
// first, cache second, real work last.
type Coordinator struct {
	limiter   *ratelimit.Limiter
	cache     *cache.Cache
	store     *jobs.Store
	queue     *jobs.Queue
	extractor extract.Extractor
	mx        *metrics.Collector

	// Collapses concurrent synchronous extractions of identical text into
	// one upstream call; the rest wait for the shared result.
	group singleflight.Group
}

// NewCoordinator wires the admission and execution layers together.
func NewCoordinator(limiter *ratelimit.Limiter, c *cache.Cache, store *jobs.Store,
	queue *jobs.Queue, extractor extract.Extractor, mx *metrics.Collector) *Coordinator {
	return &Coordinator{
		limiter: limiter, cache: c, store: store,
		queue: queue, extractor: extractor, mx: mx,
	}
}

// SubmitJob admits, then consults the cache, then enqueues. A cache hit
// returns an already-completed job without ever touching the queue. The
// returned bool reports whether the result came from cache.
func (s *Coordinator) SubmitJob(ctx context.Context, identity, text string) (*model.Job, bool, error) {
	if err := s.admit(ctx, identity); err != nil {
		return nil, false, err
	}

	if g, ok := s.cache.Lookup(ctx, text); ok {
		s.mx.CacheHits.Inc()
		job, err := s.store.CreateCompleted(ctx, text, g)
		if err != nil {
			return nil, false, fmt.Errorf("record cached result: %w", err)
		}
		log.Printf("[Coordinator] cache hit for job %s, skipping queue", job.ID)
		return job, true, nil
	}
	s.mx.CacheMisses.Inc()

	job, err := s.store.Create(ctx, text)
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Push(ctx, job.ID); err != nil {
		// Roll the record back so no job sits pending forever with no queue
		// entry behind it.
		if delErr := s.store.Delete(ctx, job.ID); delErr != nil {
			log.Printf("[Coordinator] orphaned job record %s: %v", job.ID, delErr)
		}
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}

	s.mx.JobsEnqueued.Inc()
	if depth, err := s.queue.Len(ctx); err == nil {
		s.mx.QueueDepth.Set(float64(depth))
	}
	return job, false, nil
}

// Extract admits, then serves from cache or computes inline. Concurrent
// callers with identical text share a single extraction.
func (s *Coordinator) Extract(ctx context.Context, identity, text string) (*model.Graph, cache.Origin, error) {
	if err := s.admit(ctx, identity); err != nil {
		return nil, cache.Miss, err
	}

	type outcome struct {
		graph  *model.Graph
		origin cache.Origin
	}
	v, err, _ := s.group.Do(cache.Fingerprint(text), func() (interface{}, error) {
		g, origin, err := s.cache.GetOrCompute(ctx, text, func(ctx context.Context) (*model.Graph, error) {
			return s.extractor.Extract(ctx, text)
		})
		if err != nil {
			return nil, err
		}
		return outcome{g, origin}, nil
	})
	if err != nil {
		return nil, cache.Miss, err
	}
	out := v.(outcome)
	if out.origin == cache.Hit {
		s.mx.CacheHits.Inc()
	} else {
		s.mx.CacheMisses.Inc()
	}
	return out.graph, out.origin, nil
}

// JobStatus returns the current job record.
func (s *Coordinator) JobStatus(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// CancelJob deletes a job record. The queue entry, if any, stays behind;
// workers drop entries whose records are gone.
func (s *Coordinator) CancelJob(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	return s.store.Delete(ctx, id)
}

// Jobs lists every live job record.
func (s *Coordinator) Jobs(ctx context.Context) ([]*model.Job, error) {
	return s.store.List(ctx)
}

// QueueDepth reports the number of queued-but-unpopped jobs.
func (s *Coordinator) QueueDepth(ctx context.Context) (int64, error) {
	return s.queue.Len(ctx)
}

// CacheStats reports cumulative cache hit/miss counters.
func (s *Coordinator) CacheStats() (hits, misses uint64) {
	return s.cache.Stats()
}

func (s *Coordinator) admit(ctx context.Context, identity string) error {
	dec := s.limiter.Admit(ctx, identity)
	if dec.Allowed {
		return nil
	}
	s.mx.AdmissionsDenied.WithLabelValues(dec.Scope).Inc()
	return &ratelimit.DeniedError{RetryAfter: dec.RetryAfter, Scope: dec.Scope}
}

// RetryAfterSeconds converts a denial hint into the value for a Retry-After
// header, rounding up so clients never retry early.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
