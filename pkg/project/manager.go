// Package project implements the project manager (spec §4.10):
// project/API-key CRUD, per-project quotas and concurrency limits, and
// idempotent delete that purges every child subsystem before the
// project record itself is removed.
package project

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/keyword"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"golang.org/x/time/rate"
)

// Store persists project records and usage counters. A Postgres
// implementation backs this in production; tests use an in-memory one.
type Store interface {
	Create(ctx context.Context, p *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
	Update(ctx context.Context, p *models.Project) error
	UpdateState(ctx context.Context, id string, state models.ProjectState) error
	Delete(ctx context.Context, id string) error
	Usage(ctx context.Context, id string) (docs int64, bytes int64, err error)
	AddUsage(ctx context.Context, id string, docDelta, byteDelta int64) error
}

// VectorCollections is the subset of vectorstore.Adapter the manager
// needs for collection lifecycle.
type VectorCollections interface {
	CreateCollection(ctx context.Context, projectID string, dimension int) error
	DeleteCollection(ctx context.Context, projectID string) error
}

// CachePurger is the subset of querycache.Cache the manager needs to
// purge a deleted project's cached results.
type CachePurger interface {
	DeleteProject(ctx context.Context, projectID string) error
}

// APIKeyRevoker revokes every API key issued for a project; satisfied
// by pkg/auth's key store.
type APIKeyRevoker interface {
	RevokeAllForProject(ctx context.Context, projectID string) error
}

// Dimension is the embedding dimension new collections are created
// with. Models with a different native dimension should be rejected at
// project-creation time by the caller before reaching the manager.
const Dimension = 1536

// handle is the in-memory runtime state for one project: its keyword
// index, concurrency semaphore, and rate limiter, all lazily created
// as a double-checked-locking singleton (spec §4.10, §5).
type handle struct {
	keyword    *keyword.Index
	sema       chan struct{}
	limiter    *rate.Limiter
	docCounter uint64
	usageDocs  int64
	usageBytes int64
}

// Manager owns every project's lifecycle and runtime handle.
type Manager struct {
	store      Store
	vectors    VectorCollections
	queryCache CachePurger
	apiKeys    APIKeyRevoker
	logger     observability.Logger
	metrics    observability.MetricsClient

	mu      sync.Mutex
	handles map[string]*handle
}

// New builds a Manager. apiKeys may be nil if pkg/auth is wired
// separately; the manager then skips key revocation on delete.
func New(store Store, vectors VectorCollections, queryCache CachePurger, apiKeys APIKeyRevoker, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Manager{
		store:      store,
		vectors:    vectors,
		queryCache: queryCache,
		apiKeys:    apiKeys,
		logger:     logger,
		metrics:    metrics,
		handles:    map[string]*handle{},
	}
}

// CreateProject persists a new project record and provisions its
// vector collection and runtime handle.
func (m *Manager) CreateProject(ctx context.Context, name, description, embeddingModelID string, quotas models.Quotas) (*models.Project, error) {
	if name == "" {
		return nil, kberrors.New(kberrors.KindInvalidArgument, "project name is required")
	}
	now := time.Now()
	p := &models.Project{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      description,
		EmbeddingModelID: embeddingModelID,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         map[string]interface{}{},
		Quotas:           quotas,
		State:            models.ProjectStateActive,
	}
	if err := m.store.Create(ctx, p); err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "creating project record", err)
	}
	if err := m.vectors.CreateCollection(ctx, p.ID, Dimension); err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "creating project vector collection", err)
	}
	m.handleFor(p.ID, quotas)
	return p, nil
}

// GetProject returns a project record.
func (m *Manager) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindNotFound, "project not found", err)
	}
	return p, nil
}

// ListProjects returns every project record.
func (m *Manager) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return m.store.List(ctx)
}

// UpdateProject persists metadata changes to an existing project.
func (m *Manager) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now()
	return m.store.Update(ctx, p)
}

// DeleteProject idempotently purges a project's collection, keyword
// index, caches, and API keys before removing the persisted record.
// On partial failure it leaves the project in a `deleting` state and
// surfaces PartialDelete, so a retried call resumes rather than
// orphaning already-deleted children (spec §4.10).
func (m *Manager) DeleteProject(ctx context.Context, id string) error {
	if err := m.store.UpdateState(ctx, id, models.ProjectStateDeleting); err != nil {
		if kberrors.KindOf(err) == kberrors.KindNotFound {
			// Already deleted by an earlier call.
			return nil
		}
		return kberrors.Wrap(kberrors.KindInternal, "marking project deleting", err)
	}

	var failures []string

	if err := m.vectors.DeleteCollection(ctx, id); err != nil {
		failures = append(failures, fmt.Sprintf("vector collection: %v", err))
	}
	if m.queryCache != nil {
		if err := m.queryCache.DeleteProject(ctx, id); err != nil {
			failures = append(failures, fmt.Sprintf("query cache: %v", err))
		}
	}
	if m.apiKeys != nil {
		if err := m.apiKeys.RevokeAllForProject(ctx, id); err != nil {
			failures = append(failures, fmt.Sprintf("api keys: %v", err))
		}
	}

	if len(failures) > 0 {
		m.logger.Warn("partial project delete", map[string]interface{}{"project_id": id, "failures": failures})
		return kberrors.New(kberrors.KindPartialDelete, fmt.Sprintf("project %s delete incomplete: %v", id, failures))
	}

	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "deleting project record", err)
	}
	return nil
}

// handleFor returns (creating if necessary) the runtime handle for a
// project, holding the manager's mutex for the whole lookup-or-create so
// concurrent first-access callers never create two handles for the same
// project.
func (m *Manager) handleFor(projectID string, quotas models.Quotas) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[projectID]; ok {
		return h
	}
	h := newHandle(quotas)
	m.handles[projectID] = h
	return h
}

func newHandle(quotas models.Quotas) *handle {
	maxInflight := quotas.MaxConcurrentRequests
	if maxInflight <= 0 {
		maxInflight = 1
	}
	burst := int(quotas.MaxQueriesPerWindow)
	if burst <= 0 {
		burst = 1
	}
	var limit rate.Limit
	if quotas.QueryWindow > 0 && quotas.MaxQueriesPerWindow > 0 {
		limit = rate.Limit(float64(quotas.MaxQueriesPerWindow) / quotas.QueryWindow.Seconds())
	} else {
		limit = rate.Inf
	}
	return &handle{
		keyword: keyword.New(keyword.Config{}),
		sema:    make(chan struct{}, maxInflight),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// KeywordIndex returns a project's in-memory keyword index, creating
// its handle on first access by loading usage/quotas from the store.
func (m *Manager) KeywordIndex(ctx context.Context, projectID string) (*keyword.Index, error) {
	h, err := m.ensureHandle(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return h.keyword, nil
}

func (m *Manager) ensureHandle(ctx context.Context, projectID string) (*handle, error) {
	m.mu.Lock()
	h, ok := m.handles[projectID]
	m.mu.Unlock()
	if ok {
		return h, nil
	}

	p, err := m.store.Get(ctx, projectID)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindNotFound, "project not found", err)
	}
	docs, bytes, err := m.store.Usage(ctx, projectID)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "loading project usage", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[projectID]; ok {
		return h, nil
	}
	h = newHandle(p.Quotas)
	h.usageDocs = docs
	h.usageBytes = bytes
	m.handles[projectID] = h
	return h, nil
}

// AcquireSlot blocks until a concurrency slot for projectID is free or
// ctx is done, returning a release function that must be called
// exactly once (spec §5 per-project limits).
func (m *Manager) AcquireSlot(ctx context.Context, projectID string) (func(), error) {
	h, err := m.ensureHandle(ctx, projectID)
	if err != nil {
		return nil, err
	}
	select {
	case h.sema <- struct{}{}:
		return func() { <-h.sema }, nil
	case <-ctx.Done():
		return nil, kberrors.Wrap(kberrors.KindTimeout, "waiting for project concurrency slot", ctx.Err())
	}
}

// AllowQuery reports whether a query against projectID is within its
// queries-per-window rate limit.
func (m *Manager) AllowQuery(ctx context.Context, projectID string) (bool, error) {
	h, err := m.ensureHandle(ctx, projectID)
	if err != nil {
		return false, err
	}
	return h.limiter.Allow(), nil
}

// NextDocID returns a unique, monotonically increasing doc_id for
// projectID (spec §4.11: unique even at sub-millisecond ingest rates).
func (m *Manager) NextDocID(ctx context.Context, projectID string) (string, error) {
	h, err := m.ensureHandle(ctx, projectID)
	if err != nil {
		return "", err
	}
	n := atomic.AddUint64(&h.docCounter, 1)
	return fmt.Sprintf("%s-%d", projectID, n), nil
}

// CheckIngestQuota verifies that adding addDocs documents and
// addBytes bytes would not exceed a project's quotas, without
// recording the addition (spec §4.10, §4.11).
func (m *Manager) CheckIngestQuota(ctx context.Context, projectID string, addDocs, addBytes int64) error {
	h, err := m.ensureHandle(ctx, projectID)
	if err != nil {
		return err
	}
	p, err := m.store.Get(ctx, projectID)
	if err != nil {
		return kberrors.Wrap(kberrors.KindNotFound, "project not found", err)
	}

	docs := atomic.LoadInt64(&h.usageDocs) + addDocs
	bytes := atomic.LoadInt64(&h.usageBytes) + addBytes
	if p.Quotas.MaxDocuments > 0 && docs > p.Quotas.MaxDocuments {
		return kberrors.New(kberrors.KindQuotaExceeded, "document count quota exceeded")
	}
	if p.Quotas.MaxTotalBytes > 0 && bytes > p.Quotas.MaxTotalBytes {
		return kberrors.New(kberrors.KindQuotaExceeded, "total bytes quota exceeded")
	}
	return nil
}

// RecordIngestUsage durably records successful ingest usage and
// updates the in-memory counters used by CheckIngestQuota.
func (m *Manager) RecordIngestUsage(ctx context.Context, projectID string, addDocs, addBytes int64) error {
	h, err := m.ensureHandle(ctx, projectID)
	if err != nil {
		return err
	}
	if err := m.store.AddUsage(ctx, projectID, addDocs, addBytes); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "recording ingest usage", err)
	}
	atomic.AddInt64(&h.usageDocs, addDocs)
	atomic.AddInt64(&h.usageBytes, addBytes)
	return nil
}
