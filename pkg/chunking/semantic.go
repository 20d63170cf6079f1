package chunking

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
)

// EmbedFunc computes an embedding vector for a sentence. The semantic
// chunker calls it once per sentence, so callers typically wrap an
// embedding cache rather than a raw provider.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

func splitSentences(text string) []string {
	var sentences []string
	last := 0
	matches := sentenceBoundary.FindAllStringIndex(text, -1)
	for _, m := range matches {
		sentences = append(sentences, strings.TrimSpace(text[last:m[1]]))
		last = m[1]
	}
	if last < len(text) {
		if tail := strings.TrimSpace(text[last:]); tail != "" {
			sentences = append(sentences, tail)
		}
	}
	return sentences
}

// SemanticConfig configures a SemanticSplitter.
type SemanticConfig struct {
	MinChunkSize        int
	MaxChunkSize         int
	SimilarityThreshold  float32
	LengthFunction       LengthFunc
}

// SemanticSplitter starts a new chunk when a sentence's embedding
// drops below SimilarityThreshold cosine similarity to the running
// mean of the current chunk's sentence embeddings, subject to a soft
// minimum and hard maximum chunk size (spec §4.5).
type SemanticSplitter struct {
	embed          EmbedFunc
	minChunkSize   int
	maxChunkSize   int
	threshold      float32
	lengthFunction LengthFunc
}

// NewSemanticSplitter builds a SemanticSplitter. embed must not be nil.
func NewSemanticSplitter(embed EmbedFunc, config SemanticConfig) *SemanticSplitter {
	if config.MinChunkSize <= 0 {
		config.MinChunkSize = 100
	}
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = 1024
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.5
	}
	if config.LengthFunction == nil {
		config.LengthFunction = defaultLengthFunc
	}
	return &SemanticSplitter{
		embed:          embed,
		minChunkSize:   config.MinChunkSize,
		maxChunkSize:   config.MaxChunkSize,
		threshold:      config.SimilarityThreshold,
		lengthFunction: config.LengthFunction,
	}
}

// Chunk implements Strategy.
func (s *SemanticSplitter) Chunk(ctx context.Context, text string, metadata map[string]interface{}) ([]Chunk, error) {
	if text == "" {
		return []Chunk{}, nil
	}
	if s.embed == nil {
		return nil, kberrors.New(kberrors.KindInternal, "semantic chunker requires an embed function")
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return []Chunk{{Ordinal: 0, Text: text, TokenCount: s.lengthFunction(text), EndChar: len(text), Metadata: copyMetadata(metadata)}}, nil
	}

	var chunks []Chunk
	var currentSentences []string
	var runningMean []float32
	currentTokens := 0
	currentChar := 0
	startChar := 0

	flush := func() {
		if len(currentSentences) == 0 {
			return
		}
		text := strings.Join(currentSentences, " ")
		chunks = append(chunks, Chunk{
			Ordinal:    len(chunks),
			Text:       text,
			TokenCount: s.lengthFunction(text),
			StartChar:  startChar,
			EndChar:    currentChar,
			Metadata:   copyMetadata(metadata),
		})
		currentSentences = nil
		runningMean = nil
		currentTokens = 0
		startChar = currentChar
	}

	for _, sentence := range sentences {
		vec, err := s.embed(ctx, sentence)
		if err != nil {
			return nil, kberrors.Wrap(kberrors.KindInternal, "embedding sentence for semantic chunking", err)
		}
		sentTokens := s.lengthFunction(sentence)
		currentChar += len(sentence) + 1

		if len(currentSentences) > 0 {
			sim := cosineSimilarity(runningMean, vec)
			exceedsMax := currentTokens+sentTokens > s.maxChunkSize
			belowThreshold := sim < s.threshold && currentTokens >= s.minChunkSize
			if exceedsMax || belowThreshold {
				flush()
			}
		}

		currentSentences = append(currentSentences, sentence)
		currentTokens += sentTokens
		runningMean = updateRunningMean(runningMean, vec, len(currentSentences))
	}
	flush()

	if len(chunks) == 0 {
		chunks = []Chunk{{Ordinal: 0, Text: text, TokenCount: s.lengthFunction(text), EndChar: len(text), Metadata: copyMetadata(metadata)}}
	}
	return chunks, nil
}

func updateRunningMean(mean []float32, vec []float32, n int) []float32 {
	if mean == nil {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	for i := range mean {
		mean[i] += (vec[i] - mean[i]) / float32(n)
	}
	return mean
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}
