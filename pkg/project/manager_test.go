package project

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	docs     map[string]int64
	bytes    map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		projects: map[string]*models.Project{},
		docs:     map[string]int64{},
		bytes:    map[string]int64{},
	}
}

func (s *memStore) Create(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, kberrors.New(kberrors.KindNotFound, "no such project")
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) List(ctx context.Context) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return kberrors.New(kberrors.KindNotFound, "no such project")
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) UpdateState(ctx context.Context, id string, state models.ProjectState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return kberrors.New(kberrors.KindNotFound, "no such project")
	}
	p.State = state
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	delete(s.docs, id)
	delete(s.bytes, id)
	return nil
}

func (s *memStore) Usage(ctx context.Context, id string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id], s.bytes[id], nil
}

func (s *memStore) AddUsage(ctx context.Context, id string, docDelta, byteDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] += docDelta
	s.bytes[id] += byteDelta
	return nil
}

type fakeVectors struct {
	mu      sync.Mutex
	created map[string]bool
	deleted map[string]bool
	failDel bool
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{created: map[string]bool{}, deleted: map[string]bool{}}
}

func (f *fakeVectors) CreateCollection(ctx context.Context, projectID string, dimension int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[projectID] = true
	return nil
}

func (f *fakeVectors) DeleteCollection(ctx context.Context, projectID string) error {
	if f.failDel {
		return assertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[projectID] = true
	return nil
}

var assertErr = kberrors.New(kberrors.KindInternal, "boom")

type fakeCachePurger struct {
	mu      sync.Mutex
	deleted map[string]bool
}

func (f *fakeCachePurger) DeleteProject(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted == nil {
		f.deleted = map[string]bool{}
	}
	f.deleted[projectID] = true
	return nil
}

func newManager() (*Manager, *memStore, *fakeVectors, *fakeCachePurger) {
	store := newMemStore()
	vectors := newFakeVectors()
	cache := &fakeCachePurger{}
	return New(store, vectors, cache, nil, nil, nil), store, vectors, cache
}

func TestCreateProject_ProvisionsCollectionAndHandle(t *testing.T) {
	m, _, vectors, _ := newManager()
	ctx := context.Background()

	p, err := m.CreateProject(ctx, "proj-a", "desc", "model-1", models.DefaultQuotas())
	require.NoError(t, err)
	assert.True(t, vectors.created[p.ID])
	assert.Equal(t, models.ProjectStateActive, p.State)
}

func TestCreateProject_EmptyNameRejected(t *testing.T) {
	m, _, _, _ := newManager()
	_, err := m.CreateProject(context.Background(), "", "", "model-1", models.DefaultQuotas())
	require.Error(t, err)
	assert.Equal(t, kberrors.KindInvalidArgument, kberrors.KindOf(err))
}

func TestDeleteProject_PurgesAllChildrenThenRecord(t *testing.T) {
	m, store, vectors, cache := newManager()
	ctx := context.Background()
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", models.DefaultQuotas())
	require.NoError(t, err)

	require.NoError(t, m.DeleteProject(ctx, p.ID))

	assert.True(t, vectors.deleted[p.ID])
	assert.True(t, cache.deleted[p.ID])
	_, err = store.Get(ctx, p.ID)
	assert.Equal(t, kberrors.KindNotFound, kberrors.KindOf(err))
}

func TestDeleteProject_PartialFailureLeavesDeletingState(t *testing.T) {
	m, store, vectors, _ := newManager()
	ctx := context.Background()
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", models.DefaultQuotas())
	require.NoError(t, err)

	vectors.failDel = true
	err = m.DeleteProject(ctx, p.ID)
	require.Error(t, err)
	assert.Equal(t, kberrors.KindPartialDelete, kberrors.KindOf(err))

	stored, getErr := store.Get(ctx, p.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ProjectStateDeleting, stored.State)

	vectors.failDel = false
	require.NoError(t, m.DeleteProject(ctx, p.ID))
	_, err = store.Get(ctx, p.ID)
	assert.Equal(t, kberrors.KindNotFound, kberrors.KindOf(err))
}

func TestDeleteProject_IdempotentOnRetry(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", models.DefaultQuotas())
	require.NoError(t, err)

	require.NoError(t, m.DeleteProject(ctx, p.ID))
	require.NoError(t, m.DeleteProject(ctx, p.ID))
}

func TestCheckIngestQuota_RejectsOverDocumentLimit(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()
	quotas := models.DefaultQuotas()
	quotas.MaxDocuments = 2
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", quotas)
	require.NoError(t, err)

	require.NoError(t, m.CheckIngestQuota(ctx, p.ID, 2, 10))
	require.NoError(t, m.RecordIngestUsage(ctx, p.ID, 2, 10))

	err = m.CheckIngestQuota(ctx, p.ID, 1, 1)
	require.Error(t, err)
	assert.Equal(t, kberrors.KindQuotaExceeded, kberrors.KindOf(err))
}

func TestCheckIngestQuota_RejectsOverByteLimit(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()
	quotas := models.DefaultQuotas()
	quotas.MaxTotalBytes = 100
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", quotas)
	require.NoError(t, err)

	err = m.CheckIngestQuota(ctx, p.ID, 1, 200)
	require.Error(t, err)
	assert.Equal(t, kberrors.KindQuotaExceeded, kberrors.KindOf(err))
}

func TestNextDocID_UniqueUnderRapidConcurrentIngest(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", models.DefaultQuotas())
	require.NoError(t, err)

	const n = 200
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.NextDocID(ctx, p.ID)
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "duplicate doc id %s", id)
		seen[id] = true
	}
}

func TestAcquireSlot_BlocksBeyondConcurrencyLimit(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()
	quotas := models.DefaultQuotas()
	quotas.MaxConcurrentRequests = 1
	p, err := m.CreateProject(ctx, "proj-a", "", "model-1", quotas)
	require.NoError(t, err)

	release, err := m.AcquireSlot(ctx, p.ID)
	require.NoError(t, err)

	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.AcquireSlot(blockedCtx, p.ID)
	require.Error(t, err)
	assert.Equal(t, kberrors.KindTimeout, kberrors.KindOf(err))

	release()
	release2, err := m.AcquireSlot(ctx, p.ID)
	require.NoError(t, err)
	release2()
}

func TestHandlesAreIsolatedPerProject(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()
	p1, err := m.CreateProject(ctx, "proj-a", "", "model-1", models.DefaultQuotas())
	require.NoError(t, err)
	p2, err := m.CreateProject(ctx, "proj-b", "", "model-1", models.DefaultQuotas())
	require.NoError(t, err)

	idx1, err := m.KeywordIndex(ctx, p1.ID)
	require.NoError(t, err)
	idx2, err := m.KeywordIndex(ctx, p2.ID)
	require.NoError(t, err)
	assert.NotSame(t, idx1, idx2)
}
