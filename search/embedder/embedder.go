// Package embedder collects concrete search.Embedder adapters behind the
// core's injected two-method contract: batch documents, single query.
package embedder

// Config is the shared shape every provider adapter accepts. Only the
// fields a given provider needs are read; unused fields are ignored.
type Config struct {
	APIKey     string
	Model      string
	Host       string
	Dimension  int
	Timeout    int // seconds
	BatchSize  int
	MaxRetries int
}
