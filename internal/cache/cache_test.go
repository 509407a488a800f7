package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightgraph/internal/kvstore"
	"insightgraph/internal/model"
)

func sampleGraph() *model.Graph {
	return &model.Graph{
		Nodes: []model.Node{{ID: "go", Label: "Go", Type: "language", Confidence: 0.9}},
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Python is great")
	assert.Len(t, a, 16)

	// Whitespace layout does not change the key.
	assert.Equal(t, a, Fingerprint("  Python   is\n\tgreat "))

	// Case and content do.
	assert.NotEqual(t, a, Fingerprint("python is great"))
	assert.NotEqual(t, a, Fingerprint("Python is great."))
}

func TestLookupMissThenHit(t *testing.T) {
	c := New(kvstore.NewMemory(), time.Hour, 0, 0)
	ctx := context.Background()

	_, ok := c.Lookup(ctx, "some text")
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, "some text", sampleGraph()))

	g, ok := c.Lookup(ctx, "some   text") // same fingerprint
	require.True(t, ok)
	assert.Equal(t, "go", g.Nodes[0].ID)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestLookupExpired(t *testing.T) {
	c := New(kvstore.NewMemory(), 20*time.Millisecond, 0, 0)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "text", sampleGraph()))
	time.Sleep(40 * time.Millisecond)

	_, ok := c.Lookup(ctx, "text")
	assert.False(t, ok)
}

func TestLookupDropsCorruptEntry(t *testing.T) {
	kv := kvstore.NewMemory()
	c := New(kv, time.Hour, 0, 0)
	ctx := context.Background()

	key := "cache:extraction:" + Fingerprint("text")
	require.NoError(t, kv.Set(ctx, key, []byte("{not json"), 0))

	_, ok := c.Lookup(ctx, "text")
	assert.False(t, ok)

	// The bad entry is gone, not returned forever.
	_, err := kv.Get(ctx, key)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestGetOrComputeComputesOncePerTTL(t *testing.T) {
	c := New(kvstore.NewMemory(), time.Hour, 0, 0)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) (*model.Graph, error) {
		calls++
		return sampleGraph(), nil
	}

	g, origin, err := c.GetOrCompute(ctx, "text", fn)
	require.NoError(t, err)
	assert.Equal(t, Miss, origin)
	assert.NotNil(t, g)

	g, origin, err = c.GetOrCompute(ctx, "text", fn)
	require.NoError(t, err)
	assert.Equal(t, Hit, origin)
	assert.NotNil(t, g)

	assert.Equal(t, 1, calls)
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	c := New(kvstore.NewMemory(), time.Hour, 0, 0)

	boom := errors.New("upstream down")
	_, _, err := c.GetOrCompute(context.Background(), "text", func(context.Context) (*model.Graph, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// Failures are never cached.
	_, ok := c.Lookup(context.Background(), "text")
	assert.False(t, ok)
}

type failingSetStore struct {
	kvstore.Store
}

func (f failingSetStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("write refused")
}

func TestGetOrComputeSurvivesStoreFailure(t *testing.T) {
	c := New(failingSetStore{kvstore.NewMemory()}, time.Hour, 0, 0)

	g, origin, err := c.GetOrCompute(context.Background(), "text", func(context.Context) (*model.Graph, error) {
		return sampleGraph(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, Miss, origin)
	assert.NotNil(t, g)
}

func TestLocalLayerServesHotKeys(t *testing.T) {
	kv := kvstore.NewMemory()
	c := New(kv, time.Hour, 8, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "text", sampleGraph()))

	// Remove from the shared store; the in-process layer still has it.
	require.NoError(t, kv.Delete(ctx, "cache:extraction:"+Fingerprint("text")))

	_, ok := c.Lookup(ctx, "text")
	assert.True(t, ok)
}
