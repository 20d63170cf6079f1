// Package serving implements the serving façade (spec §4.12): the
// single entry point the HTTP layer calls into, wrapping every
// operation with auth, metrics, tracing, and error-kind translation,
// and implementing the hybrid mode graceful-degradation policy when
// the vector backend is unavailable.
package serving

import (
	"context"
	"syscall"
	"time"

	"github.com/knowledgebeast/knowledgebeast/pkg/auth"
	"github.com/knowledgebeast/knowledgebeast/pkg/ingest"
	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"github.com/knowledgebeast/knowledgebeast/pkg/project"
	"github.com/knowledgebeast/knowledgebeast/pkg/querycache"
	"github.com/knowledgebeast/knowledgebeast/pkg/retrieval"
)

// Embedder embeds a query so the facade can probe the embedding model
// and bypass the semantic cache when embedding fails.
type Embedder interface {
	Embed(ctx context.Context, modelID, text string) ([]float32, error)
}

// QueryEngine is the subset of retrieval.Engine the facade drives.
type QueryEngine interface {
	Query(ctx context.Context, opts retrieval.Options) ([]retrieval.Candidate, bool, error)
}

// HealthProbe reports whether a dependency is reachable.
type HealthProbe interface {
	Ping(ctx context.Context) error
}

// EmbeddingHealthProbe checks that the embedding model backing queries
// is reachable, independent of any particular project's model choice.
type EmbeddingHealthProbe interface {
	Ping(ctx context.Context) error
}

// DiskHeadroomConfig configures the disk headroom probe (spec §4.12):
// unhealthy once free space on Path drops below MinFreeBytes.
type DiskHeadroomConfig struct {
	Path         string
	MinFreeBytes uint64
}

func (c *DiskHeadroomConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MinFreeBytes == 0 {
		c.MinFreeBytes = 1 << 30 // 1 GiB
	}
}

// QueryRequest is a query operation's input.
type QueryRequest struct {
	ProjectID string
	QueryText string
	TopK      int
	Mode      retrieval.Mode
	ModelID   string
	Rerank    bool
	MMRLambda float64
	Filter    map[string]string
}

// QueryResponse is a query operation's output.
type QueryResponse struct {
	Results  []retrieval.Candidate
	Degraded bool
	CacheHit bool
	Reranked bool
}

// Facade is the serving façade.
type Facade struct {
	engine          QueryEngine
	embedder        Embedder
	cache           *querycache.Cache
	projects        *project.Manager
	keys            *auth.Service
	ingestPipe      *ingest.Pipeline
	vectorHealth    HealthProbe
	storeHealth     HealthProbe
	embeddingHealth EmbeddingHealthProbe
	diskHealth      DiskHeadroomConfig
	logger          observability.Logger
	metrics         observability.MetricsClient
}

// New builds a Facade.
func New(engine QueryEngine, embedder Embedder, cache *querycache.Cache, projects *project.Manager, keys *auth.Service, ingestPipe *ingest.Pipeline, vectorHealth, storeHealth HealthProbe, embeddingHealth EmbeddingHealthProbe, diskHealth DiskHeadroomConfig, logger observability.Logger, metrics observability.MetricsClient) *Facade {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	diskHealth.applyDefaults()
	return &Facade{
		engine:          engine,
		embedder:        embedder,
		cache:           cache,
		projects:        projects,
		keys:            keys,
		ingestPipe:      ingestPipe,
		vectorHealth:    vectorHealth,
		storeHealth:     storeHealth,
		embeddingHealth: embeddingHealth,
		diskHealth:      diskHealth,
		logger:          logger,
		metrics:         metrics,
	}
}

// Authenticate validates an API key against a project and enforces the
// requested scope, returning the translated error on failure.
func (f *Facade) Authenticate(ctx context.Context, projectID, rawKey string, want models.Scope) (*models.APIKey, error) {
	key, err := f.keys.Validate(ctx, projectID, rawKey)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(key, want); err != nil {
		return nil, err
	}
	return key, nil
}

// CreateProject creates a new project.
func (f *Facade) CreateProject(ctx context.Context, name, description, embeddingModelID string, quotas models.Quotas) (*models.Project, error) {
	ctx, span := observability.StartSpan(ctx, "serving.create_project")
	defer span.End()
	defer f.metrics.StartTimer("serving_create_project_duration_seconds", nil)()

	p, err := f.projects.CreateProject(ctx, name, description, embeddingModelID, quotas)
	f.recordOutcome("create_project", "", err)
	return p, err
}

// DeleteProject deletes a project (spec §4.10 idempotent cascade).
func (f *Facade) DeleteProject(ctx context.Context, projectID string) error {
	ctx, span := observability.WithProjectSpan(ctx, "serving.delete_project", projectID)
	defer span.End()
	defer f.metrics.StartTimer("serving_delete_project_duration_seconds", nil)()

	err := f.projects.DeleteProject(ctx, projectID)
	f.recordOutcome("delete_project", projectID, err)
	return err
}

// GetProject returns a project record.
func (f *Facade) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	return f.projects.GetProject(ctx, projectID)
}

// ListProjects returns every project record.
func (f *Facade) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return f.projects.ListProjects(ctx)
}

// CreateAPIKey issues a new API key scoped to a project.
func (f *Facade) CreateAPIKey(ctx context.Context, projectID string, scopes []models.Scope, expiresAt *time.Time) (*auth.IssuedKey, error) {
	issued, err := f.keys.CreateKey(ctx, projectID, scopes, expiresAt)
	f.recordOutcome("create_api_key", projectID, err)
	return issued, err
}

// ListAPIKeys returns every API key issued for a project.
func (f *Facade) ListAPIKeys(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	return f.keys.ListKeys(ctx, projectID)
}

// RevokeAPIKey revokes a single API key by id.
func (f *Facade) RevokeAPIKey(ctx context.Context, keyID string) error {
	err := f.keys.RevokeKey(ctx, keyID)
	f.recordOutcome("revoke_api_key", "", err)
	return err
}

// Ingest runs the ingest pipeline for a batch of documents, subject to
// per-project concurrency limits.
func (f *Facade) Ingest(ctx context.Context, projectID string, items []ingest.Item) ([]ingest.Result, error) {
	ctx, span := observability.WithProjectSpan(ctx, "serving.ingest", projectID)
	defer span.End()
	defer f.metrics.StartTimer("serving_ingest_duration_seconds", nil)()

	release, err := f.projects.AcquireSlot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	results := f.ingestPipe.Ingest(ctx, projectID, items)
	return results, nil
}

// Query runs a retrieval query, applying graceful degradation and the
// semantic cache (spec §4.8, §4.9, §4.12).
func (f *Facade) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	ctx, span := observability.WithProjectSpan(ctx, "serving.query", req.ProjectID)
	defer span.End()
	ctx = retrieval.WithProjectID(ctx, req.ProjectID)
	stop := f.metrics.StartTimer("serving_query_duration_seconds", map[string]string{"project_id": req.ProjectID})
	defer stop()

	allowed, err := f.projects.AllowQuery(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, kberrors.New(kberrors.KindQuotaExceeded, "query rate limit exceeded")
	}

	release, err := f.projects.AcquireSlot(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	defer release()

	mode := req.Mode
	degraded := false

	var queryEmbedding []float32
	canEmbed := mode != retrieval.ModeKeyword && req.QueryText != ""
	if canEmbed {
		queryEmbedding, err = f.embedder.Embed(ctx, req.ModelID, req.QueryText)
		if err != nil {
			// Semantic cache is bypassed: the query can't be embedded, so
			// there's nothing to key a lookup on (spec §4.12).
			canEmbed = false
		}
	}

	if canEmbed && f.cache != nil {
		if entry, ok := f.cache.Get(ctx, req.ProjectID, queryEmbedding, mode, req.TopK); ok {
			f.metrics.IncrementCounter("serving_query_cache_hits_total", 1)
			return &QueryResponse{Results: entry.Results, CacheHit: true, Reranked: entry.Reranked}, nil
		}
	}

	if mode == retrieval.ModeVector || mode == retrieval.ModeHybrid {
		if err := f.vectorHealth.Ping(ctx); err != nil {
			if mode == retrieval.ModeVector {
				return nil, kberrors.New(kberrors.KindBackendUnavailable, "vector backend unavailable")
			}
			mode = retrieval.ModeKeyword
			degraded = true
		}
	}

	results, reranked, err := f.engine.Query(ctx, retrieval.Options{
		ProjectID: req.ProjectID,
		QueryText: req.QueryText,
		TopK:      req.TopK,
		Mode:      mode,
		ModelID:   req.ModelID,
		Rerank:    req.Rerank,
		MMRLambda: req.MMRLambda,
		Filter:    req.Filter,
	})
	if err != nil && kberrors.KindOf(err) == kberrors.KindBackendUnavailable && mode == retrieval.ModeHybrid {
		// The breaker tripped mid-query despite the upfront health probe
		// passing; fall back to keyword-only rather than failing the
		// request (spec §4.12).
		mode = retrieval.ModeKeyword
		degraded = true
		results, reranked, err = f.engine.Query(ctx, retrieval.Options{
			ProjectID: req.ProjectID,
			QueryText: req.QueryText,
			TopK:      req.TopK,
			Mode:      mode,
			ModelID:   req.ModelID,
			Rerank:    req.Rerank,
			MMRLambda: req.MMRLambda,
			Filter:    req.Filter,
		})
	}
	if err != nil {
		f.recordOutcome("query", req.ProjectID, err)
		return nil, err
	}

	if canEmbed && f.cache != nil && !degraded {
		if setErr := f.cache.Set(ctx, req.ProjectID, req.QueryText, queryEmbedding, mode, req.TopK, results, reranked); setErr != nil {
			f.logger.Warn("query cache set failed", map[string]interface{}{"project_id": req.ProjectID, "error": setErr.Error()})
		}
	}

	f.recordOutcome("query", req.ProjectID, nil)
	return &QueryResponse{Results: results, Degraded: degraded, Reranked: reranked}, nil
}

// HealthStatus is the aggregated health of every probed dependency.
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health probes every dependency (spec §4.12): vector backend,
// persistent store, embedding model, disk headroom. Status is
// healthy/degraded/unhealthy, aggregated by worst component; degraded
// is reserved for the vector backend or embedding model alone being
// unreachable since keyword-only queries still work without either.
func (f *Facade) Health(ctx context.Context) HealthStatus {
	components := map[string]string{}

	vectorErr := f.vectorHealth.Ping(ctx)
	if vectorErr != nil {
		components["vector_backend"] = "unhealthy: " + vectorErr.Error()
	} else {
		components["vector_backend"] = "healthy"
	}

	storeErr := f.storeHealth.Ping(ctx)
	if storeErr != nil {
		components["persistent_store"] = "unhealthy: " + storeErr.Error()
	} else {
		components["persistent_store"] = "healthy"
	}

	var embeddingErr error
	if f.embeddingHealth != nil {
		embeddingErr = f.embeddingHealth.Ping(ctx)
		if embeddingErr != nil {
			components["embedding_model"] = "unhealthy: " + embeddingErr.Error()
		} else {
			components["embedding_model"] = "healthy"
		}
	}

	diskErr := f.checkDiskHeadroom()
	if diskErr != nil {
		components["disk_headroom"] = "unhealthy: " + diskErr.Error()
	} else {
		components["disk_headroom"] = "healthy"
	}

	status := "healthy"
	switch {
	case storeErr != nil || diskErr != nil:
		status = "unhealthy"
	case vectorErr != nil || embeddingErr != nil:
		status = "degraded"
	}

	return HealthStatus{Status: status, Components: components}
}

// checkDiskHeadroom reports an error once free space on the configured
// path drops below the configured floor (spec §4.12). There is no
// third-party disk-space library in use elsewhere in this codebase, so
// this probe goes straight to the kernel via syscall.Statfs.
func (f *Facade) checkDiskHeadroom() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(f.diskHealth.Path, &stat); err != nil {
		return err
	}
	free := uint64(stat.Bavail) * uint64(stat.Bsize)
	if free < f.diskHealth.MinFreeBytes {
		return kberrors.New(kberrors.KindBackendUnavailable, "disk headroom below floor")
	}
	return nil
}

func (f *Facade) recordOutcome(operation, projectID string, err error) {
	labels := map[string]string{"operation": operation}
	if projectID != "" {
		labels["project_id"] = projectID
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		labels["error_kind"] = string(kberrors.KindOf(err))
	}
	labels["outcome"] = outcome
	f.metrics.IncrementCounterWithLabels("serving_operations_total", 1, labels)
}
