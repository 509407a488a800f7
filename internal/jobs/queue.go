package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insightgraph/internal/kvstore"
)

// ErrEmpty is returned by Pop when no job arrived within the timeout.
var ErrEmpty = errors.New("jobs: queue empty")

// queueItem is the wire envelope for queue entries.
type queueItem struct {
	JobID string `json:"job_id"`
}

// Queue is the FIFO handoff of pending job ids from the admission path to
// the workers. Pops are atomic: a job id is delivered to exactly one popper.
type Queue struct {
	store kvstore.Store
	name  string
}

// NewQueue builds a queue on the shared store under the given name.
func NewQueue(store kvstore.Store, name string) *Queue {
	return &Queue{store: store, name: name}
}

// Push appends a job id to the tail.
func (q *Queue) Push(ctx context.Context, jobID string) error {
	raw, err := json.Marshal(queueItem{JobID: jobID})
	if err != nil {
		return err
	}
	if err := q.store.Push(ctx, q.name, raw); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next job id, returning ErrEmpty on
// timeout so idle workers poll instead of spin.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	raw, err := q.store.Pop(ctx, q.name, timeout)
	if errors.Is(err, kvstore.ErrEmpty) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	var item queueItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", fmt.Errorf("queue pop: %w", err)
	}
	return item.JobID, nil
}

// Len returns the number of jobs waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.store.Len(ctx, q.name)
}
