// Package vectorstore collects concrete search.VectorStore adapters,
// narrowed to the three operations the search index actually needs:
// Upsert, Query, Delete, all keyed directly by descriptor id.
package vectorstore
