package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightgraph/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testGraph() *model.Graph {
	return &model.Graph{
		Nodes: []model.Node{
			{ID: "python", Label: "Python", Type: "Tech", Confidence: 0.6},
			{ID: "data-science", Label: "Data Science", Type: "Concept", Confidence: 0.6},
		},
		Edges: []model.Edge{
			{Source: "python", Target: "data-science", Relation: "used_for"},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "job-1", "Python is used for data science", testGraph()))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, "Python is used for data science", rec.Text)
	assert.Equal(t, 2, rec.NodeCount)
	assert.Equal(t, 1, rec.EdgeCount)
	require.Len(t, rec.Graph.Edges, 1)
	assert.Equal(t, "used_for", rec.Graph.Edges[0].Relation)
}

func TestGetUnknownReturnsNil(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "job-1", "Python is used for data science", testGraph()))
	require.NoError(t, s.Save(ctx, "job-1", "Go", &model.Graph{Nodes: []model.Node{{ID: "go"}}}))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.NodeCount)
	assert.Equal(t, "go", rec.Graph.Nodes[0].ID)
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "job-1", "Python is used for data science", testGraph()))
	require.NoError(t, s.Save(ctx, "job-2", "Go is good for servers", testGraph()))

	recs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "job-1", "Python is used for data science", testGraph()))
	require.NoError(t, s.Save(ctx, "job-2", "Go is good for servers", testGraph()))

	recs, err := s.Search(ctx, "PYTHON", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "job-1", recs[0].JobID)

	// Substring match, not whole-word.
	recs, err = s.Search(ctx, "o is", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "job-2", recs[0].JobID)

	recs, err = s.Search(ctx, "rust", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFileBackedOpenUsesWAL(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "graphs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var mode string
	require.NoError(t, s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "job-1", "Python is used for data science", testGraph()))

	existed, err := s.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, existed)

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
