package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"github.com/knowledgebeast/knowledgebeast/pkg/resilience"
	"github.com/knowledgebeast/knowledgebeast/pkg/retry"
)

// RerankProvider scores (query, document) pairs with a cross-encoder
// model, returning one score per input document in order.
type RerankProvider interface {
	Rerank(ctx context.Context, query string, documents []string, model string) ([]float64, error)
}

// TextLookup resolves chunk_ids to their text, needed by the
// cross-encoder step since candidates otherwise carry only ids and
// scores.
type TextLookup interface {
	LookupText(ctx context.Context, chunkIDs []string) (map[string]string, error)
}

// CrossEncoderConfig configures the cross-encoder reranker.
type CrossEncoderConfig struct {
	Model           string
	BatchSize       int
	TimeoutPerBatch time.Duration
}

func (c *CrossEncoderConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.TimeoutPerBatch <= 0 {
		c.TimeoutPerBatch = 5 * time.Second
	}
}

// CrossEncoderReranker reorders candidates with a cross-encoder model,
// batching requests and guarding each batch with retry and a circuit
// breaker (spec §4.8 step 5).
type CrossEncoderReranker struct {
	provider RerankProvider
	lookup   TextLookup
	config   CrossEncoderConfig
	breaker  *resilience.CircuitBreaker
	retry    *retry.Policy
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewCrossEncoderReranker builds a CrossEncoderReranker.
func NewCrossEncoderReranker(provider RerankProvider, lookup TextLookup, config CrossEncoderConfig, logger observability.Logger, metrics observability.MetricsClient) *CrossEncoderReranker {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	breaker := resilience.New("reranker:"+config.Model, resilience.Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   2,
	}, logger, metrics)
	return &CrossEncoderReranker{
		provider: provider,
		lookup:   lookup,
		config:   config,
		breaker:  breaker,
		retry: retry.New(retry.Config{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

// Rerank scores every candidate against query in batches; a batch that
// fails after retries keeps its original scores rather than failing
// the whole request (graceful degradation), and the final ordering is
// sorted by the (possibly mixed) resulting scores. The bool result
// reports whether at least one batch actually received cross-encoder
// scores; it is false when chunk text couldn't be resolved at all or
// every batch failed, so the caller can report reranked=false and
// fall back to the pre-rerank ordering (spec §7) without failing the
// query outright.
func (c *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, bool, error) {
	if len(candidates) == 0 {
		return candidates, false, nil
	}

	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	ids := make([]string, len(candidates))
	for i, cand := range candidates {
		ids[i] = cand.ChunkID
	}
	texts, err := c.lookup.LookupText(ctx, ids)
	reranked := false
	if err != nil {
		c.logger.Error("chunk text lookup failed, skipping rerank", map[string]interface{}{"error": err.Error()})
		c.metrics.IncrementCounter("rerank_lookup_failures_total", 1)
	} else {
		for i := range out {
			out[i].Text = texts[out[i].ChunkID]
		}

		succeeded := 0
		for start := 0; start < len(out); start += c.config.BatchSize {
			end := start + c.config.BatchSize
			if end > len(out) {
				end = len(out)
			}
			if err := c.rerankBatch(ctx, query, out[start:end]); err != nil {
				c.logger.Error("cross-encoder batch failed, keeping original scores", map[string]interface{}{
					"error": err.Error(),
					"batch": start,
				})
				c.metrics.IncrementCounter("rerank_batch_failures_total", 1)
				continue
			}
			succeeded++
		}
		reranked = succeeded > 0
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, reranked, nil
}

func (c *CrossEncoderReranker) rerankBatch(ctx context.Context, query string, batch []Candidate) error {
	documents := make([]string, len(batch))
	for i, cand := range batch {
		documents[i] = cand.Text
	}

	return c.retry.Execute(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			batchCtx, cancel := context.WithTimeout(ctx, c.config.TimeoutPerBatch)
			defer cancel()
			scores, err := c.provider.Rerank(batchCtx, query, documents, c.config.Model)
			if err != nil {
				return err
			}
			for i := range batch {
				if i < len(scores) {
					batch[i].Score = scores[i]
				}
			}
			return nil
		})
	})
}
