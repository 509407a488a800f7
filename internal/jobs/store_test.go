package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightgraph/internal/kvstore"
	"insightgraph/internal/model"
)

func newTestStore() *Store {
	return NewStore(kvstore.NewMemory(), time.Hour, 3)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	job, err := s.Create(ctx, "some text")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.StatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "some text", got.Text)
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCompleted(t *testing.T) {
	s := newTestStore()
	g := &model.Graph{Nodes: []model.Node{{ID: "go"}}}

	job, err := s.CreateCompleted(context.Background(), "text", g)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.Result)
	assert.False(t, job.CompletedAt.IsZero())
}

func TestLifecyclePath(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	job, err := s.Create(ctx, "text")
	require.NoError(t, err)

	job, err = s.Transition(ctx, job.ID, model.StatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress)
	assert.False(t, job.StartedAt.IsZero())

	g := &model.Graph{Nodes: []model.Node{{ID: "redis"}}}
	job, err = s.Transition(ctx, job.ID, model.StatusCompleted, func(j *model.Job) {
		j.Result = g
		j.Attempts = 1
	})
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, job.CompletedAt.IsZero())
	require.NotNil(t, job.Result)
	assert.Equal(t, "redis", job.Result.Nodes[0].ID)
}

func TestIllegalTransitionsRejected(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	cases := []struct {
		path []model.JobStatus
		next model.JobStatus
	}{
		{nil, model.StatusCompleted},                           // pending -> completed
		{nil, model.StatusFailed},                              // pending -> failed
		{[]model.JobStatus{model.StatusProcessing, model.StatusCompleted}, model.StatusProcessing}, // completed is terminal
		{[]model.JobStatus{model.StatusProcessing, model.StatusCompleted}, model.StatusPending},
		{[]model.JobStatus{model.StatusProcessing, model.StatusFailed}, model.StatusCompleted},
	}

	for _, tc := range cases {
		job, err := s.Create(ctx, "text")
		require.NoError(t, err)
		for _, step := range tc.path {
			_, err = s.Transition(ctx, job.ID, step, nil)
			require.NoError(t, err)
		}

		before, err := s.Get(ctx, job.ID)
		require.NoError(t, err)

		_, err = s.Transition(ctx, job.ID, tc.next, nil)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", before.Status, tc.next)

		// The record is untouched after a rejected transition.
		after, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
	}
}

func TestFailedToPendingRetry(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	job, err := s.Create(ctx, "text")
	require.NoError(t, err)
	_, err = s.Transition(ctx, job.ID, model.StatusProcessing, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, job.ID, model.StatusFailed, func(j *model.Job) { j.Error = "boom" })
	require.NoError(t, err)

	job, err = s.Transition(ctx, job.ID, model.StatusPending, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
}

func TestTransitionUnknownJob(t *testing.T) {
	s := newTestStore()
	_, err := s.Transition(context.Background(), "nope", model.StatusProcessing, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchUpdatesWithoutStatusChange(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	job, err := s.Create(ctx, "text")
	require.NoError(t, err)
	_, err = s.Transition(ctx, job.ID, model.StatusProcessing, nil)
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, job.ID, func(j *model.Job) { j.Attempts = 2 }))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestDelete(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	job, err := s.Create(ctx, "text")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, job.ID))

	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	a, _ := s.Create(ctx, "a")
	b, _ := s.Create(ctx, "b")

	all, err := s.List(ctx)
	require.NoError(t, err)
	ids := []string{all[0].ID, all[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestRecordsExpire(t *testing.T) {
	s := NewStore(kvstore.NewMemory(), 20*time.Millisecond, 3)
	ctx := context.Background()

	job, err := s.Create(ctx, "text")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
