// Package retrieval implements the hybrid query engine (spec §4.8):
// embed, retrieve from one or both candidate streams, normalize,
// fuse, optionally re-rank, optionally diversify with MMR, and
// tie-break deterministically.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/keyword"
	"github.com/knowledgebeast/knowledgebeast/pkg/vectorstore"
)

// Mode selects which candidate stream(s) to query.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// Embedder produces a query embedding via the embedding cache.
type Embedder interface {
	Embed(ctx context.Context, modelID, text string) ([]float32, error)
}

// VectorSource is the vector half of retrieval, satisfied by
// *vectorstore.Adapter.
type VectorSource interface {
	QueryByVector(ctx context.Context, projectID string, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error)
}

// KeywordSource is the keyword half of retrieval, satisfied by
// *keyword.Index.
type KeywordSource interface {
	Search(ctx context.Context, query string, k int) []keyword.Result
}

// Reranker replaces candidate scores with cross-encoder relevance
// scores for the top R candidates (spec §4.8 step 5). The bool result
// reports whether reranking actually took effect; false means the
// pre-rerank ordering was kept (spec §7's reranked=false on failure).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, bool, error)
}

// Options configures one Query call.
type Options struct {
	ProjectID  string
	QueryText  string
	TopK       int
	Mode       Mode
	ModelID    string
	Rerank     bool
	RerankTopR int
	MMRLambda  float64
	Filter     vectorstore.Filter
	OverFetch  int
}

func (o *Options) applyDefaults() {
	// TopK == 0 is the explicit "return no results" request (spec
	// boundary behavior); only a negative value means "unspecified".
	if o.TopK < 0 {
		o.TopK = 10
	}
	if o.OverFetch <= 0 {
		o.OverFetch = 3
	}
	if o.MMRLambda <= 0 {
		o.MMRLambda = 0.7
	}
	if o.RerankTopR <= 0 {
		o.RerankTopR = o.TopK * 2
	}
}

// Engine runs the hybrid query pipeline.
type Engine struct {
	vector   VectorSource
	keyword  KeywordSource
	embedder Embedder
	reranker Reranker
	alpha    float64 // vector/keyword fusion weight, default 0.7
}

// NewEngine builds an Engine. alpha is the hybrid fusion weight
// (spec §4.8 step 4); pass 0 to use the spec's default of 0.7.
func NewEngine(vector VectorSource, keyword KeywordSource, embedder Embedder, reranker Reranker, alpha float64) *Engine {
	if alpha <= 0 {
		alpha = 0.7
	}
	return &Engine{vector: vector, keyword: keyword, embedder: embedder, reranker: reranker, alpha: alpha}
}

// Query runs the full pipeline and returns at most opts.TopK results,
// plus whether the cross-encoder reranker actually took effect (spec
// §7's reranked flag: false when rerank wasn't requested, had nothing
// to rerank, or failed and fell back to the pre-rerank ordering).
func (e *Engine) Query(ctx context.Context, opts Options) ([]Candidate, bool, error) {
	opts.applyDefaults()

	if strings.TrimSpace(opts.QueryText) == "" {
		return []Candidate{}, false, nil
	}

	K := opts.TopK * opts.OverFetch
	if K < opts.TopK+20 {
		K = opts.TopK + 20
	}

	if opts.Mode != ModeVector && opts.Mode != ModeKeyword && opts.Mode != ModeHybrid {
		return nil, false, kberrors.New(kberrors.KindInvalidArgument, "unknown query mode: "+string(opts.Mode))
	}

	var vectorCandidates, keywordCandidates []Candidate
	var queryVector []float32

	if opts.Mode == ModeVector || opts.Mode == ModeHybrid {
		embedded, err := e.embedder.Embed(ctx, opts.ModelID, opts.QueryText)
		if err != nil {
			return nil, false, kberrors.Wrap(kberrors.KindInternal, "embedding query", err)
		}
		queryVector = embedded

		matches, err := e.vector.QueryByVector(ctx, opts.ProjectID, queryVector, K, opts.Filter)
		if err != nil {
			return nil, false, err
		}
		for _, m := range matches {
			vectorCandidates = append(vectorCandidates, Candidate{ChunkID: m.ChunkID, Score: m.Score, Vector: m.Values})
		}
	}

	if opts.Mode == ModeKeyword || opts.Mode == ModeHybrid {
		results := e.keyword.Search(ctx, opts.QueryText, K)
		for _, r := range results {
			keywordCandidates = append(keywordCandidates, Candidate{ChunkID: r.ChunkID, Score: r.Score})
		}
	}

	var fused []Candidate
	switch opts.Mode {
	case ModeVector:
		fused = normalize(vectorCandidates)
	case ModeKeyword:
		fused = normalize(keywordCandidates)
	case ModeHybrid:
		fused = fuse(normalize(vectorCandidates), normalize(keywordCandidates), e.alpha)
	}

	reranked := false
	if opts.Rerank && e.reranker != nil && len(fused) > 0 {
		r := opts.RerankTopR
		if r > len(fused) {
			r = len(fused)
		}
		rerankedCandidates, ok, err := e.reranker.Rerank(ctx, opts.QueryText, fused[:r])
		if err != nil {
			return nil, false, kberrors.Wrap(kberrors.KindInternal, "reranking candidates", err)
		}
		fused = append(rerankedCandidates, fused[r:]...)
		reranked = ok
	}

	// Attach vectors for MMR; candidates that came only from keyword
	// search have no vector and are handled as maximally dissimilar.
	if len(fused) > 0 {
		fused = mmrRerank(fused, queryVector, opts.MMRLambda, opts.TopK)
	}

	sortCandidates(fused)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return fused, reranked, nil
}

// normalize rescales scores to [0,1] via min-max over the batch; if
// all scores are equal, every candidate scores 1 (spec §4.8 step 3).
func normalize(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	min, max := candidates[0].Score, candidates[0].Score
	for _, c := range candidates {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	if max == min {
		for i := range out {
			out[i].Score = 1
		}
		return out
	}
	for i := range out {
		out[i].Score = (out[i].Score - min) / (max - min)
	}
	return out
}

// fuse combines two normalized streams: score = alpha*vector +
// (1-alpha)*keyword, with candidates missing from one stream scoring
// 0 for that stream (spec §4.8 step 4).
func fuse(vectorStream, keywordStream []Candidate, alpha float64) []Candidate {
	byID := map[string]*Candidate{}
	order := []string{}

	for _, c := range vectorStream {
		cand := c
		cand.Score = alpha * c.Score
		byID[c.ChunkID] = &cand
		order = append(order, c.ChunkID)
	}
	for _, c := range keywordStream {
		if existing, ok := byID[c.ChunkID]; ok {
			existing.Score += (1 - alpha) * c.Score
			continue
		}
		cand := c
		cand.Score = (1 - alpha) * c.Score
		byID[c.ChunkID] = &cand
		order = append(order, c.ChunkID)
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// sortCandidates applies the deterministic tie-break: score
// descending, then chunk_id ascending (spec §4.8 step 7).
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
}
