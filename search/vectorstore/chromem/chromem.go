// Package chromem adapts github.com/philippgille/chromem-go, an embedded
// in-process vector store, to search.VectorStore. This is the default
// store for tests and examples since it needs no external service.
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/discoveryhq/toolmesh/search"
)

const collectionName = "tools"

// Store is an embedded, in-memory vector store. Vectors are pre-computed by
// the caller; the identity embedding function below rejects any attempt
// by chromem-go to embed text itself.
type Store struct {
	db *chromemgo.DB

	mu         sync.Mutex
	collection *chromemgo.Collection
}

// New creates an in-memory chromem-backed store.
func New() *Store {
	return &Store{db: chromemgo.NewDB()}
}

func (s *Store) getCollection() (*chromemgo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection != nil {
		return s.collection, nil
	}

	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem store: embedding function invoked but vectors must be pre-computed")
	}
	col, err := s.db.GetOrCreateCollection(collectionName, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("get/create collection: %w", err)
	}
	s.collection = col
	return col, nil
}

func (s *Store) Upsert(ctx context.Context, id string, vector []float32) error {
	col, err := s.getCollection()
	if err != nil {
		return err
	}
	doc := chromemgo.Document{ID: id, Embedding: vector}
	if err := col.AddDocuments(ctx, []chromemgo.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]search.ScoredID, error) {
	col, err := s.getCollection()
	if err != nil {
		return nil, err
	}
	if n := col.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out := make([]search.ScoredID, 0, len(results))
	for _, r := range results {
		out = append(out, search.ScoredID{ID: r.ID, Score: float64(r.Similarity)})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	col, err := s.getCollection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

var _ search.VectorStore = (*Store)(nil)
