package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightgraph/internal/kvstore"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(kvstore.NewMemory(), "extraction_jobs")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "job-1"))
	require.NoError(t, q.Push(ctx, "job-2"))
	require.NoError(t, q.Push(ctx, "job-3"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"job-1", "job-2", "job-3"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue(kvstore.NewMemory(), "extraction_jobs")

	_, err := q.Pop(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueueEntryDeliveredOnce(t *testing.T) {
	q := NewQueue(kvstore.NewMemory(), "extraction_jobs")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "job-1"))

	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)

	_, err = q.Pop(ctx, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}
