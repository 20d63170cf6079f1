// Package postgres implements the project.Store and auth.Store
// interfaces against the kb.projects / kb.api_keys tables, grounded on
// the teacher's pkg/repository/postgres query and error-wrapping
// conventions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

const defaultQueryTimeout = 10 * time.Second

// ProjectRepository persists project records in kb.projects.
type ProjectRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProjectRepository builds a ProjectRepository against an open db.
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db, timeout: defaultQueryTimeout}
}

type projectRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	EmbeddingModelID string    `db:"embedding_model_id"`
	MetadataJSON     []byte    `db:"metadata_json"`
	QuotasJSON       []byte    `db:"quotas_json"`
	State            string    `db:"state"`
	UsageDocs        int64     `db:"usage_docs"`
	UsageBytes       int64     `db:"usage_bytes"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r projectRow) toModel() (*models.Project, error) {
	p := &models.Project{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		EmbeddingModelID: r.EmbeddingModelID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		MetadataJSON:     r.MetadataJSON,
		QuotasJSON:       r.QuotasJSON,
		State:            models.ProjectState(r.State),
	}
	if len(r.MetadataJSON) > 0 {
		if err := json.Unmarshal(r.MetadataJSON, &p.Metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshaling project metadata")
		}
	}
	if len(r.QuotasJSON) > 0 {
		if err := json.Unmarshal(r.QuotasJSON, &p.Quotas); err != nil {
			return nil, errors.Wrap(err, "unmarshaling project quotas")
		}
	}
	return p, nil
}

// Create inserts a new project row. p.Metadata/p.Quotas are marshaled
// to their JSON columns; the *JSON fields on p are left untouched by
// the caller.
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "marshaling project metadata", err)
	}
	quotasJSON, err := json.Marshal(p.Quotas)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "marshaling project quotas", err)
	}

	const query = `
		INSERT INTO kb.projects
			(id, name, description, embedding_model_id, metadata_json, quotas_json, state, created_at, updated_at)
		VALUES
			(:id, :name, :description, :embedding_model_id, :metadata_json, :quotas_json, :state, :created_at, :updated_at)`

	args := map[string]interface{}{
		"id":                 p.ID,
		"name":               p.Name,
		"description":        p.Description,
		"embedding_model_id": p.EmbeddingModelID,
		"metadata_json":      metadataJSON,
		"quotas_json":        quotasJSON,
		"state":              string(p.State),
		"created_at":         p.CreatedAt,
		"updated_at":         p.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, query, args); err != nil {
		if isUniqueViolation(err) {
			return kberrors.New(kberrors.KindConflict, "project already exists")
		}
		return kberrors.Wrap(kberrors.KindInternal, "inserting project", err)
	}
	return nil
}

// Get loads a single project by id.
func (r *ProjectRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, name, description, embedding_model_id, metadata_json, quotas_json,
		       state, usage_docs, usage_bytes, created_at, updated_at
		FROM kb.projects WHERE id = $1`

	var row projectRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kberrors.New(kberrors.KindNotFound, "project not found")
		}
		return nil, kberrors.Wrap(kberrors.KindInternal, "loading project", err)
	}
	return row.toModel()
}

// List returns every project, ordered by creation time.
func (r *ProjectRepository) List(ctx context.Context) ([]*models.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, name, description, embedding_model_id, metadata_json, quotas_json,
		       state, usage_docs, usage_bytes, created_at, updated_at
		FROM kb.projects ORDER BY created_at ASC`

	var rows []projectRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "listing projects", err)
	}

	out := make([]*models.Project, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Update rewrites a project's mutable fields (name, description,
// metadata, quotas). State transitions go through UpdateState instead.
func (r *ProjectRepository) Update(ctx context.Context, p *models.Project) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "marshaling project metadata", err)
	}
	quotasJSON, err := json.Marshal(p.Quotas)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "marshaling project quotas", err)
	}

	const query = `
		UPDATE kb.projects
		SET name = :name, description = :description, metadata_json = :metadata_json,
		    quotas_json = :quotas_json, updated_at = :updated_at
		WHERE id = :id`

	args := map[string]interface{}{
		"id":            p.ID,
		"name":          p.Name,
		"description":   p.Description,
		"metadata_json": metadataJSON,
		"quotas_json":   quotasJSON,
		"updated_at":    time.Now().UTC(),
	}

	res, err := r.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "updating project", err)
	}
	return requireRowsAffected(res, "project not found")
}

// UpdateState transitions a project's lifecycle state (spec §4.10
// delete sequencing: active -> deleting -> row removed).
func (r *ProjectRepository) UpdateState(ctx context.Context, id string, state models.ProjectState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE kb.projects SET state = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, string(state), time.Now().UTC(), id)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "updating project state", err)
	}
	return requireRowsAffected(res, "project not found")
}

// Delete removes a project row. The kb.api_keys rows for it cascade
// via the foreign key's ON DELETE CASCADE.
func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `DELETE FROM kb.projects WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "deleting project", err)
	}
	return requireRowsAffected(res, "project not found")
}

// Usage reports the current document count and byte total tracked
// against a project's quotas.
func (r *ProjectRepository) Usage(ctx context.Context, id string) (docs int64, bytes int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT usage_docs, usage_bytes FROM kb.projects WHERE id = $1`
	var row struct {
		UsageDocs  int64 `db:"usage_docs"`
		UsageBytes int64 `db:"usage_bytes"`
	}
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, kberrors.New(kberrors.KindNotFound, "project not found")
		}
		return 0, 0, kberrors.Wrap(kberrors.KindInternal, "loading project usage", err)
	}
	return row.UsageDocs, row.UsageBytes, nil
}

// AddUsage atomically increments a project's usage counters. Deltas may
// be negative (e.g. a document replaced with a smaller one).
func (r *ProjectRepository) AddUsage(ctx context.Context, id string, docDelta, byteDelta int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		UPDATE kb.projects
		SET usage_docs = usage_docs + $1, usage_bytes = usage_bytes + $2, updated_at = now()
		WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, docDelta, byteDelta, id)
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "updating project usage", err)
	}
	return requireRowsAffected(res, "project not found")
}

func requireRowsAffected(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "reading rows affected", err)
	}
	if n == 0 {
		return kberrors.New(kberrors.KindNotFound, notFoundMsg)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
