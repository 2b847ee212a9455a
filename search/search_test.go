package search

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoveryhq/toolmesh/descriptor"
)

// fakeEmbedder is a deterministic bag-of-words hashing embedder: same text
// always yields the same vector, and texts sharing more terms yield vectors
// with higher cosine similarity. Good enough to exercise vector/hybrid mode
// without a real provider or network egress.
type fakeEmbedder struct{ dim int }

func newFakeEmbedder() *fakeEmbedder { return &fakeEmbedder{dim: 64} }

func (e *fakeEmbedder) Dimension() int { return e.dim }

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *fakeEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		v[hashToBucket(tok, e.dim)] += 1
	}
	normalize(v)
	return v
}

func hashToBucket(s string, dim int) int {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h) % dim
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// fakeVectorStore holds vectors in memory and answers Query via cosine
// similarity, matching the contract real backends provide.
type fakeVectorStore struct {
	vectors map[string][]float32
}

func newFakeVectorStore() *fakeVectorStore { return &fakeVectorStore{vectors: make(map[string][]float32)} }

func (s *fakeVectorStore) Upsert(ctx context.Context, id string, vector []float32) error {
	s.vectors[id] = vector
	return nil
}

func (s *fakeVectorStore) Delete(ctx context.Context, id string) error {
	delete(s.vectors, id)
	return nil
}

func (s *fakeVectorStore) Query(ctx context.Context, vector []float32, topK int) ([]ScoredID, error) {
	type scored struct {
		id    string
		score float64
	}
	all := make([]scored, 0, len(s.vectors))
	for id, v := range s.vectors {
		all = append(all, scored{id: id, score: cosine(v, vector)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	if topK < len(all) {
		all = all[:topK]
	}
	out := make([]ScoredID, len(all))
	for i, s := range all {
		out[i] = ScoredID{ID: s.id, Score: s.score}
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func haystack(n int) []descriptor.Descriptor {
	out := make([]descriptor.Descriptor, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, descriptor.Descriptor{
			ID:          "local:filler_" + itoa(i),
			Name:        "filler_" + itoa(i),
			Description: "an unrelated utility tool for padding the catalog",
		})
	}
	out = append(out, descriptor.Descriptor{
		ID:          "local:github_create_pr",
		Name:        "github_create_pr",
		Description: "Create a pull request on GitHub",
		Keywords:    []string{"PR", "pull request", "merge"},
	})
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func lexicalIdx(t *testing.T) *Index {
	idx, err := New(Config{Mode: ModeLexical})
	require.NoError(t, err)
	require.NoError(t, idx.Index(t.Context(), haystack(99)))
	return idx
}

func hybridIdx(t *testing.T) *Index {
	idx, err := New(Config{Mode: ModeHybrid, Embedder: newFakeEmbedder(), VectorStore: newFakeVectorStore()})
	require.NoError(t, err)
	require.NoError(t, idx.Index(t.Context(), haystack(99)))
	return idx
}

// TestNeedleInHaystack: the one relevant descriptor among a hundred ranks
// first for a query matching its name and keywords.
func TestNeedleInHaystack(t *testing.T) {
	idx := lexicalIdx(t)
	results, err := idx.Search(t.Context(), "create a pull request", Options{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "local:github_create_pr", results[0].ToolID)
}

// TestHybridOutranksLexicalOnParaphrase: the hybrid index surfaces the
// needle for a paraphrased query whose only literal overlap with the
// descriptor text is the keyword "merge", while that is not asserted for
// pure lexical.
func TestHybridOutranksLexicalOnParaphrase(t *testing.T) {
	hybrid := hybridIdx(t)
	results, err := hybrid.Search(t.Context(), "help me merge code changes", Options{Limit: 5, Mode: ModeHybrid})
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.ToolID == "local:github_create_pr" {
			found = true
		}
	}
	assert.True(t, found, "hybrid mode should surface the paraphrased needle in the top 5")
}

func TestSearchDeterminism(t *testing.T) {
	idx := lexicalIdx(t)
	a, err := idx.Search(t.Context(), "create a pull request", Options{Limit: 5})
	require.NoError(t, err)
	b, err := idx.Search(t.Context(), "create a pull request", Options{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScoreBounds(t *testing.T) {
	idx := lexicalIdx(t)
	results, err := idx.Search(t.Context(), "create a pull request", Options{Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	empty, err := idx.Search(t.Context(), "zzznonexistenttermzzz", Options{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCategoryFilter(t *testing.T) {
	idx, err := New(Config{Mode: ModeLexical})
	require.NoError(t, err)
	require.NoError(t, idx.Index(t.Context(), []descriptor.Descriptor{
		{ID: "a:x", Name: "deploy service", Description: "deploy a service", Categories: []string{"ops"}},
		{ID: "a:y", Name: "deploy config", Description: "deploy a config change", Categories: []string{"config"}},
	}))

	results, err := idx.Search(t.Context(), "deploy", Options{Limit: 10, Categories: []string{"ops"}})
	require.NoError(t, err)
	for _, r := range results {
		assert.Contains(t, r.Descriptor.Categories, "ops")
	}
}

func TestThreshold(t *testing.T) {
	idx := lexicalIdx(t)
	results, err := idx.Search(t.Context(), "create a pull request", Options{Limit: 10, Threshold: 0.9})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.9)
	}
}

func TestLimit(t *testing.T) {
	idx := lexicalIdx(t)
	results, err := idx.Search(t.Context(), "filler", Options{Limit: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
}

func TestSearch_BeforeIndex_IndexNotReady(t *testing.T) {
	idx, err := New(Config{Mode: ModeLexical})
	require.NoError(t, err)
	_, err = idx.Search(t.Context(), "anything", Options{})
	var notReady *IndexNotReadyError
	require.ErrorAs(t, err, &notReady)
}

func TestNew_VectorDimMismatchRejected(t *testing.T) {
	_, err := New(Config{
		Mode:        ModeVector,
		Embedder:    newFakeEmbedder(), // dimension 64
		VectorStore: newFakeVectorStore(),
		VectorDim:   128,
	})
	require.Error(t, err)
}

func TestMemoryEmbeddingCache(t *testing.T) {
	c := NewMemoryEmbeddingCache()
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Set("a", []float32{1, 2})
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	c.Invalidate("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.Set("b", []float32{3})
	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestSearch_InvalidModeOverride(t *testing.T) {
	idx := lexicalIdx(t)
	_, err := idx.Search(t.Context(), "q", Options{Mode: "nonsense"})
	var invalid *InvalidSearchModeError
	require.ErrorAs(t, err, &invalid)

	// Overriding toward a mode whose index was never built is rejected, not
	// a panic: lexical-only index asked for vector, vector-only asked for
	// lexical.
	_, err = idx.Search(t.Context(), "q", Options{Mode: ModeVector})
	require.ErrorAs(t, err, &invalid)

	vec, err := New(Config{Mode: ModeVector, Embedder: newFakeEmbedder(), VectorStore: newFakeVectorStore()})
	require.NoError(t, err)
	require.NoError(t, vec.Index(t.Context(), haystack(3)))
	_, err = vec.Search(t.Context(), "q", Options{Mode: ModeLexical})
	require.ErrorAs(t, err, &invalid)
}

func TestIndex_CountRoundTrip(t *testing.T) {
	idx := lexicalIdx(t)
	assert.Equal(t, 100, idx.Count())
}

func TestMinMaxNormalize(t *testing.T) {
	assert.Empty(t, minMaxNormalize(nil))

	single := minMaxNormalize(map[string]float64{"a": 5})
	assert.Equal(t, 1.0, single["a"])

	allEqual := minMaxNormalize(map[string]float64{"a": 3, "b": 3})
	assert.Equal(t, 1.0, allEqual["a"])
	assert.Equal(t, 1.0, allEqual["b"])

	spread := minMaxNormalize(map[string]float64{"a": 0, "b": 10})
	assert.Equal(t, 0.0, spread["a"])
	assert.Equal(t, 1.0, spread["b"])
}

func TestNormalizeVectorScore(t *testing.T) {
	// Already in [0,1]: passed through unchanged.
	assert.Equal(t, 0.5, normalizeVectorScore(0.5))
	assert.Equal(t, 0.0, normalizeVectorScore(0.0))
	assert.Equal(t, 1.0, normalizeVectorScore(1.0))
	// Cosine in [-1,1]: mapped via (x+1)/2, clamped first.
	assert.InDelta(t, 0.25, normalizeVectorScore(-0.5), 1e-9)
	assert.InDelta(t, 0.0, normalizeVectorScore(-1.0), 1e-9)
	assert.InDelta(t, 0.0, normalizeVectorScore(-1.5), 1e-9)
}

func TestFuseWeighted_PresentInOneModeNotPenalized(t *testing.T) {
	lex := map[string]float64{"a": 1.0}
	vec := map[string]float64{}
	fused := fuseWeighted(lex, vec, 0.5, 0.5)
	assert.Equal(t, 1.0, fused["a"])
}

func TestFuseWeighted_TieBreak(t *testing.T) {
	lex := map[string]float64{"z": 0.8, "a": 0.8}
	fused := fuseWeighted(lex, nil, 1.0, 0.0)
	assert.Equal(t, fused["z"], fused["a"])
}

func TestTokenize(t *testing.T) {
	// tokenize ignores punctuation and casing.
	assert.Equal(t, []string{"create", "a", "pr"}, tokenize("Create, a PR!"))
}
