// Package jobs holds the durable job lifecycle records and the FIFO handoff
// between the admission path and the workers. All state lives in the shared
// store with explicit TTLs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"insightgraph/internal/kvstore"
	"insightgraph/internal/model"
)

var (
	// ErrNotFound is returned when a job does not exist or has expired.
	ErrNotFound = errors.New("jobs: job not found")
	// ErrIllegalTransition is a programming-error class failure: the caller
	// asked for a status change the lifecycle does not allow.
	ErrIllegalTransition = errors.New("jobs: illegal status transition")
)

// legal is the transition table. pending→processing→{completed,failed} is
// the normal path; failed→pending is the bounded retry re-entry; and
// processing→pending is reserved for the reaper requeueing stalled jobs.
var legal = map[model.JobStatus][]model.JobStatus{
	model.StatusPending:    {model.StatusProcessing},
	model.StatusProcessing: {model.StatusCompleted, model.StatusFailed, model.StatusPending},
	model.StatusFailed:     {model.StatusPending},
}

func legalTransition(from, to model.JobStatus) bool {
	for _, t := range legal[from] {
		if t == to {
			return true
		}
	}
	return false
}

func jobKey(id string) string { return "job:" + id }

// KeyPrefix is the shared-store prefix of job records, exported for the
// reaper's sweep.
const KeyPrefix = "job:"

// Store reads and writes job records.
type Store struct {
	store       kvstore.Store
	ttl         time.Duration
	maxAttempts int

	now func() time.Time
}

// NewStore builds a job store. ttl bounds how long finished and abandoned
// records linger; maxAttempts is stamped on every new job.
func NewStore(store kvstore.Store, ttl time.Duration, maxAttempts int) *Store {
	return &Store{store: store, ttl: ttl, maxAttempts: maxAttempts, now: time.Now}
}

// Create allocates a fresh job in pending state and persists it with TTL.
func (s *Store) Create(ctx context.Context, text string) (*model.Job, error) {
	now := s.now().UTC()
	job := &model.Job{
		ID:          uuid.NewString(),
		Text:        text,
		Status:      model.StatusPending,
		Progress:    model.StatusPending.Progress(),
		MaxAttempts: s.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, jobKey(job.ID), raw, s.ttl); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// CreateCompleted persists a job that is born finished: a cache hit on the
// admission path gets a real job record without ever visiting the queue.
func (s *Store) CreateCompleted(ctx context.Context, text string, result *model.Graph) (*model.Job, error) {
	now := s.now().UTC()
	job := &model.Job{
		ID:          uuid.NewString(),
		Text:        text,
		Status:      model.StatusCompleted,
		Progress:    model.StatusCompleted.Progress(),
		Result:      result,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: now,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, jobKey(job.ID), raw, s.ttl); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get returns the job with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	raw, err := s.store.Get(ctx, jobKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Transition moves a job to next, enforcing the legal-transition table, and
// applies mutate (may be nil) to set result, error or attempt fields. The
// whole read-check-write runs atomically against the shared store, so a
// concurrent illegal transition is rejected rather than merged. Returns the
// updated job.
func (s *Store) Transition(ctx context.Context, id string, next model.JobStatus, mutate func(*model.Job)) (*model.Job, error) {
	var updated model.Job
	err := s.store.Update(ctx, jobKey(id), s.ttl, func(cur []byte) ([]byte, error) {
		var job model.Job
		if err := json.Unmarshal(cur, &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		if !legalTransition(job.Status, next) {
			return nil, fmt.Errorf("%w: %s -> %s (job %s)", ErrIllegalTransition, job.Status, next, id)
		}
		now := s.now().UTC()
		job.Status = next
		job.Progress = next.Progress()
		job.UpdatedAt = now
		switch {
		case next == model.StatusProcessing && job.StartedAt.IsZero():
			job.StartedAt = now
		case next.Terminal():
			job.CompletedAt = now
		}
		if mutate != nil {
			mutate(&job)
		}
		updated = job
		return json.Marshal(job)
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Touch refreshes a processing job's record without changing status: attempt
// counters between retries, and the updated_at heartbeat that keeps the
// reaper off a slow but live job.
func (s *Store) Touch(ctx context.Context, id string, mutate func(*model.Job)) error {
	err := s.store.Update(ctx, jobKey(id), s.ttl, func(cur []byte) ([]byte, error) {
		var job model.Job
		if err := json.Unmarshal(cur, &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		job.UpdatedAt = s.now().UTC()
		if mutate != nil {
			mutate(&job)
		}
		return json.Marshal(job)
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Delete removes a job record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, jobKey(id))
}

// List returns all live job records. Sweep use only.
func (s *Store) List(ctx context.Context) ([]*model.Job, error) {
	keys, err := s.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}
		var job model.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			continue
		}
		out = append(out, &job)
	}
	return out, nil
}
