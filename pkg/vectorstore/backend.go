// Package vectorstore adapts a vector database backend to the
// operations the retrieval engine needs (spec §4.7), wrapping every
// call in retry then a circuit breaker and caching one backend handle
// per project as a lazily-initialized singleton.
package vectorstore

import "context"

// Match is one scored candidate from a vector query. Values carries
// the matched chunk's own embedding back to the caller so downstream
// diversity re-ranking (MMR) can compute real candidate-to-candidate
// similarity instead of operating blind.
type Match struct {
	ChunkID string
	Score   float64
	Values  []float32
}

// Vector is a chunk's embedding plus the metadata needed to filter on
// it at query time.
type Vector struct {
	ChunkID  string
	DocID    string
	Values   []float32
	Metadata map[string]interface{}
}

// Filter restricts query_by_vector to candidates matching all of its
// key/value equality constraints.
type Filter map[string]string

// Backend is the minimal vector database contract the retrieval
// engine depends on (spec §4.7).
type Backend interface {
	CreateCollection(ctx context.Context, name string, dimension int) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, vectors []Vector) error
	QueryByVector(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Match, error)
	DeleteByDoc(ctx context.Context, collection string, docID string) error
	Size(ctx context.Context, collection string) (int, error)
}
