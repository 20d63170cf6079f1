package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	kbcache "github.com/knowledgebeast/knowledgebeast/pkg/cache"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"golang.org/x/sync/singleflight"
)

// CacheKey identifies a cached embedding: the model and a
// content-hash of the normalized input text (spec §4.2).
type CacheKey struct {
	ModelID  string
	TextHash string
}

// normalizeText folds whitespace and case before hashing, so
// superficially different inputs that mean the same query share a
// cache entry.
func normalizeText(text string) string {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	return strings.ToLower(strings.Join(fields, " "))
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// Cache wraps a Provider with a bounded LRU keyed by (model_id,
// sha256(normalized_text)) and single-flight de-duplication: at most
// one GenerateEmbedding call is in flight per key at a time, and
// concurrent callers for the same key share its result. A failed
// in-flight computation is returned to every waiter but never cached,
// so the next caller retries rather than being poisoned by a stale
// failure (spec §4.2).
type Cache struct {
	provider Provider
	lru      *kbcache.LRU[CacheKey, []float32]
	group    singleflight.Group
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewCache builds an embedding Cache of the given capacity.
func NewCache(provider Provider, capacity int, logger observability.Logger, metrics observability.MetricsClient) *Cache {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Cache{
		provider: provider,
		lru:      kbcache.NewLRU[CacheKey, []float32](capacity),
		logger:   logger,
		metrics:  metrics,
	}
}

// Embed returns the embedding for text under modelID, serving from
// cache on a hit and coalescing concurrent misses for the same key.
func (c *Cache) Embed(ctx context.Context, modelID, text string) ([]float32, error) {
	key := CacheKey{ModelID: modelID, TextHash: hashText(text)}

	if vec, ok := c.lru.Get(key); ok {
		c.metrics.IncrementCounterWithLabels("embedding_cache_hits_total", 1, map[string]string{"model": modelID})
		return vec, nil
	}

	flightKey := modelID + ":" + key.TextHash
	result, err, shared := c.group.Do(flightKey, func() (interface{}, error) {
		vec, err := c.provider.GenerateEmbedding(ctx, text, modelID)
		if err != nil {
			return nil, err
		}
		c.lru.Put(key, vec)
		return vec, nil
	})
	if shared {
		c.metrics.IncrementCounterWithLabels("embedding_cache_coalesced_total", 1, map[string]string{"model": modelID})
	}
	if err != nil {
		c.metrics.IncrementCounterWithLabels("embedding_cache_misses_total", 1, map[string]string{"model": modelID})
		return nil, err
	}
	return result.([]float32), nil
}

// Stats exposes the underlying LRU's cumulative counters.
func (c *Cache) Stats() kbcache.Stats {
	return c.lru.Stats()
}

// Ping implements serving.EmbeddingHealthProbe by forwarding to the
// wrapped provider when it exposes its own Ping, bypassing the cache
// and single-flight group so the check reflects the live backend.
func (c *Cache) Ping(ctx context.Context) error {
	if pinger, ok := c.provider.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
