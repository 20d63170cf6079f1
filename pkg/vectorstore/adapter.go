package vectorstore

import (
	"context"
	"sync"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"github.com/knowledgebeast/knowledgebeast/pkg/resilience"
	"github.com/knowledgebeast/knowledgebeast/pkg/retry"
)

// handle is the lazily-initialized, per-project collection state: the
// collection's existence plus its own circuit breaker, so one
// project's backend failures don't trip another's.
type handle struct {
	collection string
	breaker    *resilience.CircuitBreaker
}

// Adapter wraps a Backend with retry (spec §4.4) then a circuit
// breaker (spec §4.3) around every call, and caches one handle per
// project_id, created once under the adapter's mutex, to avoid repeated
// collection handshake cost (spec §4.7).
type Adapter struct {
	backend Backend
	retry   *retry.Policy
	logger  observability.Logger
	metrics observability.MetricsClient

	mu       sync.Mutex
	handles  map[string]*handle
	breakerConfig resilience.Config
}

// NewAdapter builds an Adapter around backend. Retries never fire once
// the breaker reports Open (spec §4.4: "retries are not attempted when
// the circuit is Open") unless retryConfig.RetryOn is explicitly set.
func NewAdapter(backend Backend, retryConfig retry.Config, breakerConfig resilience.Config, logger observability.Logger, metrics observability.MetricsClient) *Adapter {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	if retryConfig.RetryOn == nil {
		retryConfig.RetryOn = func(err error) bool {
			return kberrors.KindOf(err) != kberrors.KindCircuitOpen
		}
	}
	return &Adapter{
		backend:       backend,
		retry:         retry.New(retryConfig),
		logger:        logger,
		metrics:       metrics,
		handles:       map[string]*handle{},
		breakerConfig: breakerConfig,
	}
}

func (a *Adapter) handleFor(projectID string) *handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.handles[projectID]; ok {
		return h
	}
	h := &handle{
		collection: collectionName(projectID),
		breaker:    resilience.New("vectorstore:"+projectID, a.breakerConfig, a.logger, a.metrics),
	}
	a.handles[projectID] = h
	return h
}

func collectionName(projectID string) string {
	return "kb_" + projectID
}

// CreateCollection ensures a project's collection exists, initializing
// its handle on first use.
func (a *Adapter) CreateCollection(ctx context.Context, projectID string, dimension int) error {
	h := a.handleFor(projectID)
	return a.guarded(ctx, h, func(ctx context.Context) error {
		return a.backend.CreateCollection(ctx, h.collection, dimension)
	})
}

// DeleteCollection removes a project's collection and its cached handle.
func (a *Adapter) DeleteCollection(ctx context.Context, projectID string) error {
	h := a.handleFor(projectID)
	err := a.guarded(ctx, h, func(ctx context.Context) error {
		return a.backend.DeleteCollection(ctx, h.collection)
	})
	a.mu.Lock()
	delete(a.handles, projectID)
	a.mu.Unlock()
	return err
}

// Upsert writes vectors into a project's collection.
func (a *Adapter) Upsert(ctx context.Context, projectID string, vectors []Vector) error {
	h := a.handleFor(projectID)
	return a.guarded(ctx, h, func(ctx context.Context) error {
		return a.backend.Upsert(ctx, h.collection, vectors)
	})
}

// QueryByVector runs a similarity query against a project's
// collection. If the circuit is open, the adapter surfaces a distinct
// BackendUnavailable error rather than the generic CircuitOpen kind,
// since callers of a query need to distinguish "try another route"
// from "the whole backend is down" (spec §4.7).
func (a *Adapter) QueryByVector(ctx context.Context, projectID string, vector []float32, k int, filter Filter) ([]Match, error) {
	h := a.handleFor(projectID)
	var matches []Match
	err := a.guarded(ctx, h, func(ctx context.Context) error {
		var err error
		matches, err = a.backend.QueryByVector(ctx, h.collection, vector, k, filter)
		return err
	})
	if err != nil && kberrors.KindOf(err) == kberrors.KindCircuitOpen {
		return nil, kberrors.Wrap(kberrors.KindBackendUnavailable, "vector backend unavailable", err)
	}
	return matches, err
}

// DeleteByDoc removes all vectors for a document from a project's collection.
func (a *Adapter) DeleteByDoc(ctx context.Context, projectID string, docID string) error {
	h := a.handleFor(projectID)
	return a.guarded(ctx, h, func(ctx context.Context) error {
		return a.backend.DeleteByDoc(ctx, h.collection, docID)
	})
}

// Size reports the vector count in a project's collection.
func (a *Adapter) Size(ctx context.Context, projectID string) (int, error) {
	h := a.handleFor(projectID)
	var size int
	err := a.guarded(ctx, h, func(ctx context.Context) error {
		var err error
		size, err = a.backend.Size(ctx, h.collection)
		return err
	})
	return size, err
}

// guarded wraps fn with retry outermost and the circuit breaker
// innermost, so each individual attempt (not just the first) is
// subject to the breaker's Allow/record cycle (spec §4.4: "the retry
// policy must be outside the breaker so that breaker decisions see
// individual attempts").
func (a *Adapter) guarded(ctx context.Context, h *handle, fn func(ctx context.Context) error) error {
	return a.retry.Execute(ctx, func(ctx context.Context) error {
		return h.breaker.Execute(func() error {
			return fn(ctx)
		})
	})
}
