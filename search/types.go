// Package search implements the hybrid lexical/vector relevance index over
// a catalog snapshot: BM25 lexical scoring with per-field boosts, cosine
// vector similarity, score normalization, and weighted-score/RRF fusion.
package search

import (
	"context"
	"fmt"

	"github.com/discoveryhq/toolmesh/descriptor"
)

// Mode selects which retrieval strategy a search answers with.
type Mode string

const (
	ModeLexical Mode = "lexical"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

// FusionMode selects how hybrid mode combines per-mode result sets.
type FusionMode string

const (
	FusionWeightedScore  FusionMode = "weighted-score"
	FusionReciprocalRank FusionMode = "reciprocal-rank"
)

// Result is a single scored hit returned by Search.
type Result struct {
	ToolID     string
	Descriptor descriptor.Descriptor
	Score      float64
	Origin     Mode
}

// Options configures a single Search call, overriding the index's
// construction-time defaults where set.
type Options struct {
	Limit      int
	Threshold  float64
	Categories []string
	Mode       Mode
}

// Embedder turns text into fixed-dimension vectors. Concrete adapters live
// under search/embedder/*.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// EmbeddingCache maps a descriptor id to its previously computed embedding.
// Lifetime is decoupled from the index and may outlive a Reindex; callers
// own invalidation when a descriptor's embedding text changes.
type EmbeddingCache interface {
	Get(id string) ([]float32, bool)
	Set(id string, vector []float32)
	Invalidate(id string)
	Clear()
}

// VectorStore is the minimal contract the vector mode needs from a backing
// vector database. Concrete adapters live under search/vectorstore/*.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Query(ctx context.Context, vector []float32, topK int) ([]ScoredID, error)
	Delete(ctx context.Context, id string) error
}

// ScoredID is a raw (pre-normalization) hit returned by a VectorStore.
type ScoredID struct {
	ID    string
	Score float64
}

// IndexNotReadyError is returned by Search when called before any Index.
type IndexNotReadyError struct{}

func (e *IndexNotReadyError) Error() string { return "search index not built: call Index first" }

// IndexingFailedError wraps a failure during Index/Reindex. The prior index
// (if any) is left intact.
type IndexingFailedError struct {
	Err error
}

func (e *IndexingFailedError) Error() string { return fmt.Sprintf("indexing failed: %v", e.Err) }
func (e *IndexingFailedError) Unwrap() error { return e.Err }

// InvalidSearchModeError is returned when a per-call Mode override names an
// unsupported mode, names vector/hybrid without a configured embedder and
// vector store, or names lexical/hybrid when no lexical index was built.
type InvalidSearchModeError struct {
	Mode Mode
}

func (e *InvalidSearchModeError) Error() string {
	return fmt.Sprintf("invalid search mode: %q", e.Mode)
}
