package retrieval

import (
	"context"
	"testing"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/keyword"
	"github.com/knowledgebeast/knowledgebeast/pkg/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, modelID, text string) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

type fakeVectorSource struct {
	matches []vectorstore.Match
	err     error
}

func (f *fakeVectorSource) QueryByVector(ctx context.Context, projectID string, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	return f.matches, f.err
}

type fakeKeywordSource struct {
	results []keyword.Result
}

func (f *fakeKeywordSource) Search(ctx context.Context, query string, k int) []keyword.Result {
	return f.results
}

func TestEngine_EmptyQueryReturnsEmptyResults(t *testing.T) {
	e := NewEngine(&fakeVectorSource{}, &fakeKeywordSource{}, &fakeEmbedder{}, nil, 0)
	out, _, err := e.Query(context.Background(), Options{QueryText: "   ", Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEngine_UnknownModeReturnsInvalidArgument(t *testing.T) {
	e := NewEngine(&fakeVectorSource{}, &fakeKeywordSource{}, &fakeEmbedder{}, nil, 0)
	_, _, err := e.Query(context.Background(), Options{QueryText: "hello", Mode: "bogus"})
	require.Error(t, err)
	assert.Equal(t, kberrors.KindInvalidArgument, kberrors.KindOf(err))
}

func TestEngine_KeywordModeNeverEmbeds(t *testing.T) {
	embedder := &fakeEmbedder{}
	keywordSrc := &fakeKeywordSource{results: []keyword.Result{{ChunkID: "c1", Score: 2}}}
	e := NewEngine(&fakeVectorSource{}, keywordSrc, embedder, nil, 0)

	out, _, err := e.Query(context.Background(), Options{QueryText: "hello", Mode: ModeKeyword, TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, embedder.calls)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ChunkID)
}

func TestEngine_VectorModeOnlyUsesVectorStream(t *testing.T) {
	vectorSrc := &fakeVectorSource{matches: []vectorstore.Match{{ChunkID: "v1", Score: 0.9}}}
	e := NewEngine(vectorSrc, &fakeKeywordSource{}, &fakeEmbedder{vector: []float32{1, 0}}, nil, 0)

	out, _, err := e.Query(context.Background(), Options{QueryText: "hello", Mode: ModeVector, TopK: 5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "v1", out[0].ChunkID)
}

func TestEngine_HybridFusesBothStreamsWithAlphaWeight(t *testing.T) {
	vectorSrc := &fakeVectorSource{matches: []vectorstore.Match{
		{ChunkID: "shared", Score: 1.0},
		{ChunkID: "vector_only", Score: 0.5},
	}}
	keywordSrc := &fakeKeywordSource{results: []keyword.Result{
		{ChunkID: "shared", Score: 1.0},
		{ChunkID: "keyword_only", Score: 0.5},
	}}
	e := NewEngine(vectorSrc, keywordSrc, &fakeEmbedder{vector: []float32{1, 0}}, nil, 0.7)

	out, _, err := e.Query(context.Background(), Options{QueryText: "hello", Mode: ModeHybrid, TopK: 10, MMRLambda: 1})
	require.NoError(t, err)

	var shared *Candidate
	for i := range out {
		if out[i].ChunkID == "shared" {
			shared = &out[i]
		}
	}
	require.NotNil(t, shared)
	// shared appears in both streams at the top of each (normalized to 1),
	// so it should fuse to exactly 1.0 regardless of alpha.
	assert.InDelta(t, 1.0, shared.Score, 1e-9)
}

func TestEngine_ResultsAreTruncatedToTopK(t *testing.T) {
	vectorSrc := &fakeVectorSource{matches: []vectorstore.Match{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.8},
		{ChunkID: "c", Score: 0.7},
	}}
	e := NewEngine(vectorSrc, &fakeKeywordSource{}, &fakeEmbedder{vector: []float32{1, 0}}, nil, 0)

	out, _, err := e.Query(context.Background(), Options{QueryText: "hello", Mode: ModeVector, TopK: 2, MMRLambda: 1})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
