package chunking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbed maps sentences containing "A" to one cluster and "B" to a
// dissimilar cluster, so the similarity-drop boundary is exercised
// deterministically without a real embedding model.
func fakeEmbed(ctx context.Context, text string) ([]float32, error) {
	if contains(text, "TOPIC_A") {
		return []float32{1, 0, 0}, nil
	}
	return []float32{0, 1, 0}, nil
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestSemanticSplitter_EmptyInputYieldsNoChunks(t *testing.T) {
	s := NewSemanticSplitter(fakeEmbed, SemanticConfig{})
	chunks, err := s.Chunk(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSemanticSplitter_NonEmptyInputYieldsAtLeastOneChunk(t *testing.T) {
	s := NewSemanticSplitter(fakeEmbed, SemanticConfig{MinChunkSize: 1})
	chunks, err := s.Chunk(context.Background(), "TOPIC_A one. TOPIC_A two.", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 1)
}

func TestSemanticSplitter_SplitsOnSimilarityDrop(t *testing.T) {
	s := NewSemanticSplitter(fakeEmbed, SemanticConfig{MinChunkSize: 1, SimilarityThreshold: 0.9})
	text := "TOPIC_A sentence one. TOPIC_A sentence two. TOPIC_B sentence three. TOPIC_B sentence four."
	chunks, err := s.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Text, "TOPIC_A")
	assert.Contains(t, chunks[1].Text, "TOPIC_B")
}

func TestSemanticSplitter_RequiresEmbedFunc(t *testing.T) {
	s := NewSemanticSplitter(nil, SemanticConfig{})
	_, err := s.Chunk(context.Background(), "some text.", nil)
	require.Error(t, err)
}
