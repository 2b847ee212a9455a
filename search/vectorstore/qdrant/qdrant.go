// Package qdrant adapts github.com/qdrant/go-client (gRPC) to
// search.VectorStore. It uses a single fixed collection ("tools") sized
// lazily from the first upserted vector's dimension, since the core has no
// notion of multiple collections.
package qdrant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	qdrantclient "github.com/qdrant/go-client/qdrant"

	"github.com/discoveryhq/toolmesh/search"
)

const collectionName = "tools"

// Config configures the connection to a Qdrant instance.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Store is a Qdrant-backed search.VectorStore.
type Store struct {
	client *qdrantclient.Client

	mu      sync.Mutex
	created bool
}

// New dials a Qdrant instance at cfg.Host:cfg.Port (default localhost:6334).
func New(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrantclient.NewClient(&qdrantclient.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Store{client: client}, nil
}

func (s *Store) ensureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrantclient.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrantclient.NewVectorsConfig(&qdrantclient.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrantclient.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	s.created = true
	return nil
}

func (s *Store) Upsert(ctx context.Context, id string, vector []float32) error {
	if err := s.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	point := &qdrantclient.PointStruct{
		Id:      qdrantclient.NewID(id),
		Vectors: qdrantclient.NewVectors(vector...),
		Payload: map[string]*qdrantclient.Value{"descriptor_id": {Kind: &qdrantclient.Value_StringValue{StringValue: id}}},
	}
	_, err := s.client.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: collectionName,
		Points:         []*qdrantclient.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]search.ScoredID, error) {
	points := s.client.GetPointsClient()
	resp, err := points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrantclient.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	out := make([]search.ScoredID, 0, len(resp.Result))
	for _, p := range resp.Result {
		id := ""
		if v, ok := p.Payload["descriptor_id"]; ok {
			id = v.GetStringValue()
		}
		out = append(out, search.ScoredID{ID: id, Score: float64(p.Score)})
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: collectionName,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Points{
				Points: &qdrantclient.PointsIdsList{Ids: []*qdrantclient.PointId{qdrantclient.NewID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

var _ search.VectorStore = (*Store)(nil)
