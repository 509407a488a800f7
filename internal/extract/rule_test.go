package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleBasedFindsKnownTerms(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "Python and Redis power the backend")
	require.NoError(t, err)

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"python", "redis"}, ids)
	for _, n := range g.Nodes {
		assert.Equal(t, "Tech", n.Type)
		assert.Equal(t, 0.6, n.Confidence)
	}
}

func TestRuleBasedMultiWordTerm(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "I enjoy data science a lot")
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "data-science", g.Nodes[0].ID)
	assert.Equal(t, "Data Science", g.Nodes[0].Label)
	assert.Equal(t, "Concept", g.Nodes[0].Type)
}

func TestRuleBasedRepeatedTermBoostsConfidence(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "Redis here, redis there, redis everywhere")
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, 0.9, g.Nodes[0].Confidence)
}

func TestRuleBasedWordBoundaries(t *testing.T) {
	// "go" must not fire inside "good" or "golang-adjacent" words.
	g, err := NewRuleBased().Extract(context.Background(), "a good ago algorithm")
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)

	g, err = NewRuleBased().Extract(context.Background(), "written in Go.")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "go", g.Nodes[0].ID)
}

func TestRuleBasedUsedForEdge(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "Python is used for data science")
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	e := g.Edges[0]
	assert.Equal(t, "python", e.Source)
	assert.Equal(t, "data-science", e.Target)
	assert.Equal(t, "used_for", e.Relation)
}

func TestRuleBasedGoodForEdge(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "Redis is good for RAG")
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, "redis", g.Edges[0].Source)
	assert.Equal(t, "rag", g.Edges[0].Target)
	assert.Equal(t, "good_for", g.Edges[0].Relation)
}

func TestRuleBasedNoEdgesWithSingleNode(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "Python is used for everything")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}

func TestRuleBasedUnknownTextYieldsEmptyGraph(t *testing.T) {
	g, err := NewRuleBased().Extract(context.Background(), "nothing recognizable here")
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
}

func TestRuleBasedEmptyInput(t *testing.T) {
	_, err := NewRuleBased().Extract(context.Background(), "   \n\t ")
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, KindInvalid, ee.Kind)
}
