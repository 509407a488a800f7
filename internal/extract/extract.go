// Package extract defines the extraction collaborator: a pluggable, possibly
// slow, possibly failing function from text to a graph. It owns no retry
// logic; classification of its failures drives the worker's retry policy.
package extract

import (
	"context"

	"insightgraph/internal/model"
)

// Extractor turns raw text into entities and relationships.
type Extractor interface {
	Extract(ctx context.Context, text string) (*model.Graph, error)
	// Name identifies the implementation in logs and health output.
	Name() string
}
