package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/discoveryhq/toolmesh/descriptor"
	"github.com/discoveryhq/toolmesh/internal/observability"
)

// Config configures an Index at construction. Mode is fixed for the life of
// the index; it may be overridden per-call via Options.Mode.
type Config struct {
	Mode Mode

	FieldBoosts FieldBoosts

	Embedder       Embedder
	VectorStore    VectorStore
	EmbeddingCache EmbeddingCache

	// VectorDim, if non-zero, is validated against the embedder's reported
	// dimension at construction.
	VectorDim int

	Fusion    FusionMode
	WeightLex float64
	WeightVec float64
	RRFK      float64

	DefaultLimit     int
	DefaultThreshold float64
}

func (c *Config) setDefaults() {
	if c.FieldBoosts == (FieldBoosts{}) {
		c.FieldBoosts = DefaultFieldBoosts()
	}
	if c.Fusion == "" {
		c.Fusion = FusionWeightedScore
	}
	if c.WeightLex == 0 && c.WeightVec == 0 {
		c.WeightLex, c.WeightVec = 0.5, 0.5
	}
	if c.RRFK == 0 {
		c.RRFK = 60
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 5
	}
	if c.EmbeddingCache == nil {
		c.EmbeddingCache = NewMemoryEmbeddingCache()
	}
}

// Index is the Search Index component: it consumes a catalog snapshot and
// answers relevance queries with normalized, reproducibly ordered results.
type Index struct {
	cfg Config

	mu          sync.RWMutex
	ready       bool
	descriptors []descriptor.Descriptor
	byID        map[string]descriptor.Descriptor
	lexical     *lexicalIndex
	vectorFloor float64
}

// New creates an empty, not-yet-built Index.
func New(cfg Config) (*Index, error) {
	cfg.setDefaults()
	if cfg.Mode == ModeVector || cfg.Mode == ModeHybrid {
		if cfg.Embedder == nil || cfg.VectorStore == nil {
			return nil, fmt.Errorf("search: mode %q requires both an Embedder and a VectorStore", cfg.Mode)
		}
	}
	if cfg.VectorDim != 0 && cfg.Embedder != nil && cfg.Embedder.Dimension() != cfg.VectorDim {
		return nil, fmt.Errorf("search: configured vector dimension %d does not match embedder dimension %d",
			cfg.VectorDim, cfg.Embedder.Dimension())
	}
	return &Index{cfg: cfg, byID: make(map[string]descriptor.Descriptor), vectorFloor: 0.3}, nil
}

// Count returns the number of descriptors in the last built index.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.descriptors)
}

// Index replaces any prior index with one built over descriptors. On
// failure the prior index (if any) remains intact.
func (x *Index) Index(ctx context.Context, descriptors []descriptor.Descriptor) error {
	tracer := observability.GetTracer("toolmesh.search")
	ctx, span := tracer.Start(ctx, observability.SpanIndexBuild, trace.WithAttributes(attribute.Int("search.descriptor_count", len(descriptors))))
	defer span.End()

	snapshot := make([]descriptor.Descriptor, len(descriptors))
	for i, d := range descriptors {
		snapshot[i] = d.Clone()
	}

	var lex *lexicalIndex
	if x.cfg.Mode == ModeLexical || x.cfg.Mode == ModeHybrid {
		lex = newLexicalIndex(x.cfg.FieldBoosts)
		lex.build(snapshot)
	}

	if x.cfg.Mode == ModeVector || x.cfg.Mode == ModeHybrid {
		if err := x.buildVector(ctx, snapshot); err != nil {
			wrapped := &IndexingFailedError{Err: err}
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
			return wrapped
		}
	}

	byID := make(map[string]descriptor.Descriptor, len(snapshot))
	for _, d := range snapshot {
		byID[d.ID] = d
	}

	x.mu.Lock()
	x.descriptors = snapshot
	x.byID = byID
	x.lexical = lex
	x.ready = true
	x.mu.Unlock()
	return nil
}

// Reindex re-runs indexing over the last provided descriptor list.
func (x *Index) Reindex(ctx context.Context) error {
	x.mu.RLock()
	if !x.ready {
		x.mu.RUnlock()
		return &IndexNotReadyError{}
	}
	snapshot := make([]descriptor.Descriptor, len(x.descriptors))
	copy(snapshot, x.descriptors)
	x.mu.RUnlock()
	return x.Index(ctx, snapshot)
}

// buildVector computes the embedding text for each descriptor, consults the
// cache, batches only the misses through the embedder, writes new
// embeddings back to the cache, and upserts everything into the vector
// store keyed by descriptor id.
func (x *Index) buildVector(ctx context.Context, descriptors []descriptor.Descriptor) error {
	var missIDs []string
	var missTexts []string
	vectors := make(map[string][]float32, len(descriptors))

	for _, d := range descriptors {
		if v, ok := x.cfg.EmbeddingCache.Get(d.ID); ok {
			vectors[d.ID] = v
			continue
		}
		missIDs = append(missIDs, d.ID)
		missTexts = append(missTexts, embeddingText(d))
	}

	if len(missTexts) > 0 {
		computed, err := x.cfg.Embedder.EmbedDocuments(ctx, missTexts)
		if err != nil {
			return fmt.Errorf("embed documents: %w", err)
		}
		if len(computed) != len(missIDs) {
			return fmt.Errorf("embedder returned %d vectors for %d documents", len(computed), len(missIDs))
		}
		for i, id := range missIDs {
			x.cfg.EmbeddingCache.Set(id, computed[i])
			vectors[id] = computed[i]
		}
	}

	for _, d := range descriptors {
		if err := x.cfg.VectorStore.Upsert(ctx, d.ID, vectors[d.ID]); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
	}
	return nil
}

func embeddingText(d descriptor.Descriptor) string {
	parts := []string{d.Name, d.Description}
	parts = append(parts, d.Keywords...)
	parts = append(parts, d.Categories...)
	return strings.Join(parts, " ")
}

// Search answers a natural-language query against the built index.
func (x *Index) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	x.mu.RLock()
	ready := x.ready
	byID := x.byID
	lex := x.lexical
	descriptorCount := len(x.descriptors)
	x.mu.RUnlock()

	if !ready {
		return nil, &IndexNotReadyError{}
	}

	mode := x.cfg.Mode
	if opts.Mode != "" {
		mode = opts.Mode
	}
	switch mode {
	case ModeLexical, ModeVector, ModeHybrid:
	default:
		return nil, &InvalidSearchModeError{Mode: mode}
	}
	if (mode == ModeVector || mode == ModeHybrid) && (x.cfg.Embedder == nil || x.cfg.VectorStore == nil) {
		return nil, &InvalidSearchModeError{Mode: mode}
	}
	// A lexical override is only answerable if the lexical index was built.
	if (mode == ModeLexical || mode == ModeHybrid) && lex == nil {
		return nil, &InvalidSearchModeError{Mode: mode}
	}

	limit := opts.Limit
	if limit == 0 {
		limit = x.cfg.DefaultLimit
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = x.cfg.DefaultThreshold
	}

	tracer := observability.GetTracer("toolmesh.search")
	ctx, span := tracer.Start(ctx, observability.SpanIndexSearch,
		trace.WithAttributes(
			attribute.String(observability.AttrSearchQuery, query),
			attribute.String(observability.AttrSearchMode, string(mode)),
		))
	defer span.End()

	if descriptorCount == 0 {
		span.SetAttributes(attribute.Int(observability.AttrSearchHitCount, 0))
		return []Result{}, nil
	}

	var normalized map[string]float64
	var origin Mode

	switch mode {
	case ModeLexical:
		normalized = minMaxNormalize(lex.score(query))
		origin = ModeLexical
	case ModeVector:
		raw, err := x.vectorSearch(ctx, query, 2*limit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		normalized = raw
		origin = ModeVector
	case ModeHybrid:
		// Both retrievals run concurrently, each bounded to 2*limit results.
		var lexTop, vecTop map[string]float64
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			lexTop = topN(lex.score(query), 2*limit)
			return nil
		})
		g.Go(func() error {
			var err error
			vecTop, err = x.vectorSearch(gctx, query, 2*limit)
			return err
		})
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		lexNorm := minMaxNormalize(lexTop)
		if x.cfg.Fusion == FusionReciprocalRank {
			normalized = fuseReciprocalRank(lexNorm, vecTop, x.cfg.RRFK)
		} else {
			normalized = fuseWeighted(lexNorm, vecTop, x.cfg.WeightLex, x.cfg.WeightVec)
		}
		origin = ModeHybrid
	}

	results := make([]Result, 0, len(normalized))
	for id, score := range normalized {
		d, ok := byID[id]
		if !ok {
			continue
		}
		if len(opts.Categories) > 0 && !intersects(d.Categories, opts.Categories) {
			continue
		}
		if score < threshold {
			continue
		}
		results = append(results, Result{ToolID: id, Descriptor: d.Clone(), Score: score, Origin: origin})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ToolID < results[j].ToolID
	})

	if len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(attribute.Int(observability.AttrSearchHitCount, len(results)))
	return results, nil
}

// vectorSearch embeds the query once, performs nearest-neighbor lookup with
// the internal similarity floor, and returns normalized scores.
func (x *Index) vectorSearch(ctx context.Context, query string, topK int) (map[string]float64, error) {
	qv, err := x.cfg.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := x.cfg.VectorStore.Query(ctx, qv, topK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		if h.Score < x.vectorFloor {
			continue
		}
		out[h.ID] = normalizeVectorScore(h.Score)
	}
	return out, nil
}

func topN(scores map[string]float64, n int) map[string]float64 {
	if len(scores) <= n {
		return scores
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	out := make(map[string]float64, n)
	for _, id := range ids[:n] {
		out[id] = scores[id]
	}
	return out
}

func intersects(a, b []string) bool {
	if len(a) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
