// Package querycache implements the semantic query cache (spec §4.9):
// a cached result set is reused for a new query when an embedding
// already in the cache is similar enough, rather than requiring an
// exact text match. The result payload lives in Redis (durable,
// TTL-bounded); a small per-project in-memory index of embeddings
// backs the similarity search so a lookup never has to scan Redis.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	kbcache "github.com/knowledgebeast/knowledgebeast/pkg/cache"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"github.com/knowledgebeast/knowledgebeast/pkg/retrieval"
)

const (
	defaultHitThreshold      = 0.95
	defaultTTL               = 24 * time.Hour
	defaultCapacityPerProj   = 1000
	keyPrefix                = "kb:querycache"
)

// meta is the lightweight, in-memory record used for similarity
// search; the actual cached result set lives in Redis under Key.
type meta struct {
	Key       string
	Embedding []float32
	Mode      retrieval.Mode
	TopK      int
	ExpiresAt time.Time
}

// Entry is a cached result set returned on a hit.
type Entry struct {
	Query    string                 `json:"query"`
	Mode     retrieval.Mode         `json:"mode"`
	TopK     int                    `json:"top_k"`
	Results  []retrieval.Candidate  `json:"results"`
	Reranked bool                   `json:"reranked"`
	CachedAt time.Time              `json:"cached_at"`
}

// Config parameterizes the Cache.
type Config struct {
	HitThreshold       float64
	TTL                time.Duration
	CapacityPerProject int
}

func (c *Config) applyDefaults() {
	if c.HitThreshold <= 0 {
		c.HitThreshold = defaultHitThreshold
	}
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.CapacityPerProject <= 0 {
		c.CapacityPerProject = defaultCapacityPerProj
	}
}

// Cache is the semantic query cache, isolated per project.
type Cache struct {
	redis   *redis.Client
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient

	mu      sync.Mutex
	indexes map[string]*kbcache.LRU[string, *meta]
}

// New builds a Cache backed by redisClient.
func New(redisClient *redis.Client, config Config, logger observability.Logger, metrics observability.MetricsClient) *Cache {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Cache{
		redis:   redisClient,
		config:  config,
		logger:  logger,
		metrics: metrics,
		indexes: map[string]*kbcache.LRU[string, *meta]{},
	}
}

func (c *Cache) indexFor(projectID string) *kbcache.LRU[string, *meta] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indexes[projectID]; ok {
		return idx
	}
	idx := kbcache.NewLRU[string, *meta](c.config.CapacityPerProject)
	c.indexes[projectID] = idx
	return idx
}

// Get looks for a cached result set whose embedding is within the hit
// threshold of queryEmbedding, was cached for the same mode, covers at
// least topK results, and has not expired. On a hit, results are
// truncated to topK (spec §4.9).
func (c *Cache) Get(ctx context.Context, projectID string, queryEmbedding []float32, mode retrieval.Mode, topK int) (*Entry, bool) {
	idx := c.indexFor(projectID)

	var bestKey string
	var bestSim float64
	now := time.Now()

	for _, key := range idx.Keys() {
		m, ok := idx.Peek(key)
		if !ok {
			continue
		}
		if m.Mode != mode || m.TopK < topK {
			continue
		}
		if now.After(m.ExpiresAt) {
			continue
		}
		sim := cosineSimilarity(m.Embedding, queryEmbedding)
		if sim >= c.config.HitThreshold && sim > bestSim {
			bestSim = sim
			bestKey = m.Key
		}
	}

	if bestKey == "" {
		c.metrics.IncrementCounter("querycache_misses_total", 1)
		return nil, false
	}

	// Promote in the LRU index now that we know it's the chosen match.
	idx.Get(bestKey)

	data, err := c.redis.Get(ctx, bestKey).Bytes()
	if err != nil {
		c.logger.Warn("querycache redis get failed on index hit", map[string]interface{}{"error": err.Error()})
		c.metrics.IncrementCounter("querycache_misses_total", 1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("querycache entry unmarshal failed", map[string]interface{}{"error": err.Error()})
		c.metrics.IncrementCounter("querycache_misses_total", 1)
		return nil, false
	}

	if len(entry.Results) > topK {
		entry.Results = entry.Results[:topK]
	}
	c.metrics.IncrementCounter("querycache_hits_total", 1)
	return &entry, true
}

// Set inserts the final, post-MMR result set into the cache for
// projectID. The embedding, mode, and topK recorded are what future
// lookups are matched against.
func (c *Cache) Set(ctx context.Context, projectID, queryText string, queryEmbedding []float32, mode retrieval.Mode, topK int, results []retrieval.Candidate, reranked bool) error {
	idx := c.indexFor(projectID)
	key := cacheKey(projectID, queryText, mode)

	entry := Entry{Query: queryText, Mode: mode, TopK: topK, Results: results, Reranked: reranked, CachedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		return err
	}

	idx.Put(key, &meta{
		Key:       key,
		Embedding: queryEmbedding,
		Mode:      mode,
		TopK:      topK,
		ExpiresAt: time.Now().Add(c.config.TTL),
	})
	return nil
}

// DeleteProject purges every cache entry belonging to a project,
// including the in-memory similarity index, used when a project is
// deleted (spec §4.10).
func (c *Cache) DeleteProject(ctx context.Context, projectID string) error {
	c.mu.Lock()
	idx, ok := c.indexes[projectID]
	delete(c.indexes, projectID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	keys := idx.Keys()
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func cacheKey(projectID, queryText string, mode retrieval.Mode) string {
	sum := sha256.Sum256([]byte(queryText))
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, projectID, mode, hex.EncodeToString(sum[:]))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
