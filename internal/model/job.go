package model

import "time"

// JobStatus represents the current state of an extraction job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress maps a status to the coarse progress indicator reported to
// callers: queued 0, started 50, finished 100.
func (s JobStatus) Progress() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 50
	default:
		return 100
	}
}

// Job holds everything about a single extraction request: the input text,
// lifecycle state, retry bookkeeping and, once finished, the result or the
// error that killed it.
type Job struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Status      JobStatus `json:"status"`
	Result      *Graph    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	Progress    int       `json:"progress"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}
