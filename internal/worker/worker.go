// Package worker drains the job queue with bounded concurrency: pop, re-check
// the shared quota, run the extraction with classified retries, write through
// the result cache, and record the terminal state. Shutdown is graceful: no
// new pops after the signal, in-flight executions get a grace period, pending
// queue entries survive for the next instance.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"insightgraph/internal/cache"
	"insightgraph/internal/extract"
	"insightgraph/internal/jobs"
	"insightgraph/internal/metrics"
	"insightgraph/internal/model"
	"insightgraph/internal/ratelimit"
)

// GraphSink receives completed graphs for durable persistence. Failures are
// logged, never fatal: the job record already carries the result.
type GraphSink interface {
	Save(ctx context.Context, jobID, text string, g *model.Graph) error
}

// Options configure a Pool.
type Options struct {
	Count       int           // concurrent workers
	PopTimeout  time.Duration // queue poll timeout while idle
	BackoffBase time.Duration // first retry delay; doubles per attempt
	Grace       time.Duration // shutdown grace for in-flight executions

	// LimiterPatience bounds how long a worker waits on the global window
	// before treating the wait as a failed (retryable) attempt.
	LimiterPatience time.Duration

	ReapInterval time.Duration // 0 disables the reaper
	StaleAfter   time.Duration // processing jobs older than this get requeued
}

// Pool is a fixed-size set of worker goroutines sharing one queue.
type Pool struct {
	store     *jobs.Store
	queue     *jobs.Queue
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	extractor extract.Extractor
	graphs    GraphSink // may be nil
	mx        *metrics.Collector
	opts      Options
}

// New builds a worker pool. graphs may be nil when persistence is disabled.
func New(store *jobs.Store, queue *jobs.Queue, c *cache.Cache, limiter *ratelimit.Limiter,
	extractor extract.Extractor, graphs GraphSink, mx *metrics.Collector, opts Options) *Pool {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 5 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.LimiterPatience <= 0 {
		opts.LimiterPatience = 90 * time.Second
	}
	return &Pool{
		store: store, queue: queue, cache: c, limiter: limiter,
		extractor: extractor, graphs: graphs, mx: mx, opts: opts,
	}
}

// Run starts the workers and the reaper and blocks until ctx is cancelled
// and every in-flight execution has finished or the grace period expired.
func (p *Pool) Run(ctx context.Context) error {
	// Executions keep running past the shutdown signal, up to the grace
	// deadline; only popping stops immediately.
	execCtx, execCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer execCancel()

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, execCtx, id)
		}(i)
	}
	if p.opts.ReapInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.reapLoop(ctx)
		}()
	}
	log.Printf("🚀 Worker pool started: %d workers, extractor=%s", p.opts.Count, p.extractor.Name())

	<-ctx.Done()
	log.Printf("🛑 Worker pool draining (grace %s)...", p.opts.Grace)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if p.opts.Grace > 0 {
		select {
		case <-done:
		case <-time.After(p.opts.Grace):
			log.Printf("[Worker] grace period expired with executions still in flight")
			execCancel()
			<-done
		}
	} else {
		<-done
	}
	log.Printf("✅ Worker pool stopped")
	return nil
}

func (p *Pool) loop(popCtx, execCtx context.Context, id int) {
	for {
		if popCtx.Err() != nil {
			return
		}
		jobID, err := p.queue.Pop(popCtx, p.opts.PopTimeout)
		if errors.Is(err, jobs.ErrEmpty) {
			continue
		}
		if err != nil {
			if popCtx.Err() != nil {
				return
			}
			log.Printf("[Worker %d] pop failed: %v", id, err)
			// Brief pause so a down store does not turn into a hot loop.
			if !sleep(popCtx, time.Second) {
				return
			}
			continue
		}
		p.process(execCtx, id, jobID)
	}
}

// process runs one job to a terminal state, or leaves it in processing for
// the reaper when the store goes away or shutdown interrupts a retry wait.
func (p *Pool) process(ctx context.Context, workerID int, jobID string) {
	started := time.Now()
	p.mx.ActiveJobs.Inc()
	defer p.mx.ActiveJobs.Dec()

	job, err := p.store.Transition(ctx, jobID, model.StatusProcessing, nil)
	if errors.Is(err, jobs.ErrNotFound) {
		log.Printf("[Worker %d] job %s expired before processing", workerID, jobID)
		return
	}
	if errors.Is(err, jobs.ErrIllegalTransition) {
		// Another worker won the record, or a stale requeue raced completion.
		log.Printf("[Worker %d] skipping job %s: %v", workerID, jobID, err)
		return
	}
	if err != nil {
		log.Printf("[Worker %d] cannot start job %s: %v", workerID, jobID, err)
		return
	}
	log.Printf("[Worker %d] processing job %s", workerID, job.ID)

	// An identical text may have completed while this job sat in the queue;
	// checking the cache here skips the paid call entirely.
	result, hit := p.cache.Lookup(ctx, job.Text)
	attempts := job.Attempts
	if hit {
		p.mx.CacheHits.Inc()
		log.Printf("[Worker %d] job %s served from cache", workerID, job.ID)
	} else {
		var execErr error
		result, attempts, execErr = p.execute(ctx, workerID, job)
		if ctx.Err() != nil && execErr != nil {
			// Shutdown cut the retry loop short; the record stays processing
			// and the reaper (or the next instance) picks it up.
			log.Printf("[Worker %d] abandoning job %s mid-retry on shutdown", workerID, job.ID)
			return
		}

		if execErr != nil {
			msg := truncate(execErr.Error(), 500)
			if _, err := p.store.Transition(ctx, job.ID, model.StatusFailed, func(j *model.Job) {
				j.Error = msg
				j.Attempts = attempts
			}); err != nil {
				log.Printf("[Worker %d] job %s failed but could not be recorded: %v", workerID, job.ID, err)
				return
			}
			p.mx.JobsFailed.Inc()
			p.mx.JobDuration.Observe(time.Since(started).Seconds())
			log.Printf("[Worker %d] job %s failed after %d attempt(s): %s", workerID, job.ID, attempts, msg)
			return
		}

		// Write through the cache first so identical requests hit it instead
		// of re-queuing. Best effort by contract.
		if err := p.cache.Store(ctx, job.Text, result); err != nil {
			log.Printf("[Worker %d] cache write-through failed for job %s: %v", workerID, job.ID, err)
		}
	}

	if _, err := p.store.Transition(ctx, job.ID, model.StatusCompleted, func(j *model.Job) {
		j.Result = result
		j.Attempts = attempts
		j.Error = ""
	}); err != nil {
		log.Printf("[Worker %d] job %s completed but could not be recorded: %v", workerID, job.ID, err)
		return
	}

	if p.graphs != nil {
		if err := p.graphs.Save(ctx, job.ID, job.Text, result); err != nil {
			log.Printf("[Worker %d] graph persistence failed for job %s: %v", workerID, job.ID, err)
		}
	}

	p.mx.JobsCompleted.Inc()
	p.mx.JobDuration.Observe(time.Since(started).Seconds())
	log.Printf("[Worker %d] job %s completed (%d node(s), %d edge(s))",
		workerID, job.ID, len(result.Nodes), len(result.Edges))
}

// execute runs the attempt loop: quota re-check, extraction call, classified
// backoff. Returns the result or the error that exhausted the policy, plus
// the cumulative number of attempts spent. The counter resumes from the
// persisted record so a requeued job cannot restart its budget.
func (p *Pool) execute(ctx context.Context, workerID int, job *model.Job) (*model.Graph, int, error) {
	attempt := job.Attempts
	for {
		attempt++
		if err := p.store.Touch(ctx, job.ID, func(j *model.Job) { j.Attempts = attempt }); err != nil {
			log.Printf("[Worker %d] cannot record attempt %d for job %s: %v", workerID, attempt, job.ID, err)
		}

		err := p.awaitQuota(ctx, workerID, job.ID)
		if err == nil {
			var result *model.Graph
			result, err = p.extractor.Extract(ctx, job.Text)
			if err == nil {
				return result, attempt, nil
			}
		}

		if !extract.Retryable(err) || attempt >= job.MaxAttempts {
			return nil, attempt, err
		}

		delay := p.opts.BackoffBase << (attempt - 1)
		if hint := extract.RetryAfterHint(err); hint > delay {
			delay = hint
		}
		p.mx.JobsRetried.Inc()
		log.Printf("[Worker %d] job %s attempt %d/%d failed (%v), retrying in %s",
			workerID, job.ID, attempt, job.MaxAttempts, err, delay)
		if !sleep(ctx, delay) {
			return nil, attempt, err
		}
	}
}

// awaitQuota re-checks the global window before the external call; the
// original admit decision may be minutes old by the time a queued job runs.
// Waits are bounded by LimiterPatience, after which the wait itself counts
// as a retryable rate-limit failure.
func (p *Pool) awaitQuota(ctx context.Context, workerID int, jobID string) error {
	deadline := time.Now().Add(p.opts.LimiterPatience)
	for {
		dec := p.limiter.AdmitGlobal(ctx)
		if dec.Allowed {
			return nil
		}
		wait := dec.RetryAfter
		if wait > p.opts.PopTimeout {
			wait = p.opts.PopTimeout
		}
		if time.Now().Add(wait).After(deadline) {
			return &extract.Error{Kind: extract.KindRateLimited, Message: "global quota window saturated", RetryAfter: dec.RetryAfter}
		}
		log.Printf("[Worker %d] job %s waiting %s for global quota", workerID, jobID, wait)
		if !sleep(ctx, wait) {
			return &extract.Error{Kind: extract.KindRateLimited, Message: "shutdown while waiting for quota"}
		}
	}
}

// sleep waits d or until ctx is done; reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
