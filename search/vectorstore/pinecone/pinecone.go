// Package pinecone adapts github.com/pinecone-io/go-pinecone, a managed
// cloud vector database client, to search.VectorStore.
package pinecone

import (
	"context"
	"fmt"

	pineconeclient "github.com/pinecone-io/go-pinecone/pinecone"

	"github.com/discoveryhq/toolmesh/search"
)

// Config configures the connection to a Pinecone index.
type Config struct {
	APIKey    string
	Host      string
	IndexName string
}

// Store is a Pinecone-backed search.VectorStore. Every descriptor vector
// lives in a single index (cfg.IndexName, default "toolmesh-index").
type Store struct {
	client    *pineconeclient.Client
	indexName string
}

// New creates a Pinecone-backed store. cfg.APIKey is required.
func New(cfg Config) (*Store, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone store: API key is required")
	}

	params := pineconeclient.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}

	client, err := pineconeclient.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("create pinecone client: %w", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "toolmesh-index"
	}

	return &Store{client: client, indexName: indexName}, nil
}

func (s *Store) indexConn(ctx context.Context) (*pineconeclient.IndexConnection, error) {
	index, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return nil, fmt.Errorf("describe index %s: %w", s.indexName, err)
	}
	conn, err := s.client.Index(pineconeclient.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("connect to index %s: %w", s.indexName, err)
	}
	return conn, nil
}

func (s *Store) Upsert(ctx context.Context, id string, vector []float32) error {
	conn, err := s.indexConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.UpsertVectors(ctx, []*pineconeclient.Vector{{Id: id, Values: vector}})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]search.ScoredID, error) {
	conn, err := s.indexConn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.QueryByVectorValues(ctx, &pineconeclient.QueryByVectorValuesRequest{
		Vector: vector,
		TopK:   uint32(topK),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out := make([]search.ScoredID, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		out = append(out, search.ScoredID{ID: m.Vector.Id, Score: float64(m.Score)})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.indexConn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

var _ search.VectorStore = (*Store)(nil)
