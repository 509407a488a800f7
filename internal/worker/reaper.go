package worker

import (
	"context"
	"log"
	"time"

	"insightgraph/internal/model"
)

// reapLoop periodically requeues processing jobs whose records have not been
// touched within StaleAfter. Covers workers that died between popping a queue
// entry and reaching a terminal state: the queue delivered the entry exactly
// once, so nobody else will retry the job otherwise.
func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce(ctx)
		}
	}
}

func (p *Pool) reapOnce(ctx context.Context) {
	all, err := p.store.List(ctx)
	if err != nil {
		log.Printf("[Reaper] listing jobs failed: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, job := range all {
		if job.Status != model.StatusProcessing || now.Sub(job.UpdatedAt) < p.opts.StaleAfter {
			continue
		}
		if job.Attempts >= job.MaxAttempts {
			if _, err := p.store.Transition(ctx, job.ID, model.StatusFailed, func(j *model.Job) {
				j.Error = "abandoned in processing with no attempts left"
			}); err != nil {
				log.Printf("[Reaper] cannot fail stale job %s: %v", job.ID, err)
			} else {
				p.mx.JobsFailed.Inc()
				log.Printf("[Reaper] job %s stale with attempts exhausted, marked failed", job.ID)
			}
			continue
		}
		if _, err := p.store.Transition(ctx, job.ID, model.StatusPending, nil); err != nil {
			// Lost the race against a live worker finishing it. Fine.
			log.Printf("[Reaper] skipping job %s: %v", job.ID, err)
			continue
		}
		if err := p.queue.Push(ctx, job.ID); err != nil {
			log.Printf("[Reaper] requeue of job %s failed: %v", job.ID, err)
			continue
		}
		p.mx.JobsReaped.Inc()
		log.Printf("[Reaper] requeued stale job %s (attempt %d/%d)", job.ID, job.Attempts, job.MaxAttempts)
	}
	if depth, err := p.queue.Len(ctx); err == nil {
		p.mx.QueueDepth.Set(float64(depth))
	}
}
