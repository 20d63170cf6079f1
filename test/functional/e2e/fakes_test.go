package e2e_test

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/knowledgebeast/knowledgebeast/pkg/vectorstore"
)

// fakeVectorBackend is an in-memory vectorstore.Backend standing in
// for Qdrant, with a down switch so scenarios can simulate the vector
// backend becoming unreachable without a live server.
type fakeVectorBackend struct {
	mu          sync.Mutex
	down        bool
	collections map[string]map[string]vectorstore.Vector // collection -> chunk_id -> vector
}

func newFakeVectorBackend() *fakeVectorBackend {
	return &fakeVectorBackend{collections: map[string]map[string]vectorstore.Vector{}}
}

func (b *fakeVectorBackend) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeVectorBackend) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return fmt.Errorf("vector backend unreachable")
	}
	return nil
}

func (b *fakeVectorBackend) CreateCollection(ctx context.Context, name string, dimension int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; !ok {
		b.collections[name] = map[string]vectorstore.Vector{}
	}
	return nil
}

func (b *fakeVectorBackend) DeleteCollection(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.collections, name)
	return nil
}

func (b *fakeVectorBackend) Upsert(ctx context.Context, collection string, vectors []vectorstore.Vector) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return kberrors.New(kberrors.KindBackendUnavailable, "vector backend unreachable")
	}
	coll, ok := b.collections[collection]
	if !ok {
		coll = map[string]vectorstore.Vector{}
		b.collections[collection] = coll
	}
	for _, v := range vectors {
		coll[v.ChunkID] = v
	}
	return nil
}

func (b *fakeVectorBackend) QueryByVector(ctx context.Context, collection string, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, kberrors.New(kberrors.KindBackendUnavailable, "vector backend unreachable")
	}
	coll := b.collections[collection]
	matches := make([]vectorstore.Match, 0, len(coll))
	for _, v := range coll {
		if !matchesFilter(v.Metadata, filter) {
			continue
		}
		matches = append(matches, vectorstore.Match{ChunkID: v.ChunkID, Score: cosine(vector, v.Values)})
	}
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (b *fakeVectorBackend) DeleteByDoc(ctx context.Context, collection string, docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	coll := b.collections[collection]
	for chunkID, v := range coll {
		if v.DocID == docID {
			delete(coll, chunkID)
		}
	}
	return nil
}

func (b *fakeVectorBackend) Size(ctx context.Context, collection string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.collections[collection]), nil
}

func matchesFilter(metadata map[string]interface{}, filter vectorstore.Filter) bool {
	for k, v := range filter {
		if fmt.Sprintf("%v", metadata[k]) != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fakeContentResolver treats an ingest Item's Source field as the raw
// document text itself, so scenarios can ingest inline text without a
// filesystem or S3 dependency.
type fakeContentResolver struct{}

func (fakeContentResolver) Resolve(ctx context.Context, source, contentType string) (string, error) {
	return source, nil
}

// alwaysHealthy is a trivial serving.HealthProbe for the persistent
// store side of the health check, standing in for a live Postgres
// ping.
type alwaysHealthy struct{}

func (alwaysHealthy) Ping(ctx context.Context) error { return nil }

// memChunkTextStore is an in-memory ingest.ChunkTextWriter and
// retrieval.TextLookup, standing in for the Postgres-backed
// ChunkTextRepository so scenarios can recover a result's source text
// by chunk_id without a cross-encoder reranker in the loop.
type memChunkTextStore struct {
	mu    sync.Mutex
	texts map[string]string // chunk_id -> text
}

func newMemChunkTextStore() *memChunkTextStore {
	return &memChunkTextStore{texts: map[string]string{}}
}

func (s *memChunkTextStore) UpsertChunks(ctx context.Context, projectID string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.texts[c.ChunkID] = c.Text
	}
	return nil
}

func (s *memChunkTextStore) DeleteChunks(ctx context.Context, projectID string, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.texts {
		if len(id) > len(docID) && id[:len(docID)+1] == docID+"#" {
			delete(s.texts, id)
		}
	}
	return nil
}

func (s *memChunkTextStore) LookupText(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(chunkIDs))
	for _, id := range chunkIDs {
		if t, ok := s.texts[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}
