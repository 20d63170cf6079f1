package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRerankProvider struct {
	scoreFor func(doc string) float64
	err      error
	calls    int
}

func (f *fakeRerankProvider) Rerank(ctx context.Context, query string, documents []string, model string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	scores := make([]float64, len(documents))
	for i, d := range documents {
		scores[i] = f.scoreFor(d)
	}
	return scores, nil
}

type fakeTextLookup struct {
	texts map[string]string
}

func (f *fakeTextLookup) LookupText(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	return f.texts, nil
}

type failingTextLookup struct{}

func (f *failingTextLookup) LookupText(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	return nil, errors.New("lookup store unavailable")
}

func TestCrossEncoderReranker_ReordersBySimulatedRelevance(t *testing.T) {
	texts := map[string]string{"a": "low", "b": "high"}
	provider := &fakeRerankProvider{scoreFor: func(doc string) float64 {
		if doc == "high" {
			return 0.9
		}
		return 0.1
	}}
	r := NewCrossEncoderReranker(provider, &fakeTextLookup{texts: texts}, CrossEncoderConfig{}, nil, nil)

	out, reranked, err := r.Rerank(context.Background(), "q", []Candidate{
		{ChunkID: "a", Score: 0.5},
		{ChunkID: "b", Score: 0.4},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, reranked)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
}

func TestCrossEncoderReranker_EmptyCandidatesNoOp(t *testing.T) {
	r := NewCrossEncoderReranker(&fakeRerankProvider{}, &fakeTextLookup{}, CrossEncoderConfig{}, nil, nil)
	out, reranked, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, reranked)
}

func TestCrossEncoderReranker_FailedBatchKeepsOriginalScores(t *testing.T) {
	provider := &fakeRerankProvider{err: errors.New("provider down")}
	r := NewCrossEncoderReranker(provider, &fakeTextLookup{texts: map[string]string{"a": "x", "b": "y"}}, CrossEncoderConfig{}, nil, nil)

	out, reranked, err := r.Rerank(context.Background(), "q", []Candidate{
		{ChunkID: "a", Score: 0.3},
		{ChunkID: "b", Score: 0.7},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.False(t, reranked)
	// Original scores preserved, so "b" (0.7) still sorts ahead of "a" (0.3).
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
}

func TestCrossEncoderReranker_LookupFailureFallsBackGracefully(t *testing.T) {
	provider := &fakeRerankProvider{scoreFor: func(string) float64 { return 1 }}
	r := NewCrossEncoderReranker(provider, &failingTextLookup{}, CrossEncoderConfig{}, nil, nil)

	out, reranked, err := r.Rerank(context.Background(), "q", []Candidate{
		{ChunkID: "a", Score: 0.3},
		{ChunkID: "b", Score: 0.7},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.False(t, reranked)
	assert.Equal(t, 0, provider.calls)
	// Original scores preserved since the cross-encoder was never reached.
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
}
