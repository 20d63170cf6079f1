package e2e_test

import (
	"context"
	"sync"
	"time"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

// memProjectStore is an in-memory project.Store standing in for the
// Postgres-backed ProjectRepository.
type memProjectStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	docs     map[string]int64
	bytes    map[string]int64
}

func newMemProjectStore() *memProjectStore {
	return &memProjectStore{
		projects: map[string]*models.Project{},
		docs:     map[string]int64{},
		bytes:    map[string]int64{},
	}
}

func (s *memProjectStore) Create(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, kberrors.New(kberrors.KindNotFound, "no such project")
	}
	cp := *p
	return &cp, nil
}

func (s *memProjectStore) List(ctx context.Context) ([]*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memProjectStore) Update(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return kberrors.New(kberrors.KindNotFound, "no such project")
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memProjectStore) UpdateState(ctx context.Context, id string, state models.ProjectState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return kberrors.New(kberrors.KindNotFound, "no such project")
	}
	p.State = state
	return nil
}

func (s *memProjectStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	delete(s.docs, id)
	delete(s.bytes, id)
	return nil
}

func (s *memProjectStore) Usage(ctx context.Context, id string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id], s.bytes[id], nil
}

func (s *memProjectStore) AddUsage(ctx context.Context, id string, docDelta, byteDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] += docDelta
	s.bytes[id] += byteDelta
	return nil
}

// memAPIKeyStore is an in-memory auth.Store standing in for the
// Postgres-backed APIKeyRepository.
type memAPIKeyStore struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func newMemAPIKeyStore() *memAPIKeyStore {
	return &memAPIKeyStore{keys: map[string]*models.APIKey{}}
}

func (s *memAPIKeyStore) Create(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.KeyID] = &cp
	return nil
}

func (s *memAPIKeyStore) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, kberrors.New(kberrors.KindNotFound, "no such api key")
}

func (s *memAPIKeyStore) ListByProject(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.APIKey{}
	for _, k := range s.keys {
		if k.ProjectID == projectID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memAPIKeyStore) Revoke(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[keyID]; ok {
		k.Revoked = true
	}
	return nil
}

func (s *memAPIKeyStore) RevokeAllForProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ProjectID == projectID {
			k.Revoked = true
		}
	}
	return nil
}

func (s *memAPIKeyStore) TouchLastUsed(ctx context.Context, keyID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[keyID]; ok {
		k.LastUsedAt = &when
	}
	return nil
}
