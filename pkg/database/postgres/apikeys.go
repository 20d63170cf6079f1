package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

// APIKeyRepository persists API key records in kb.api_keys.
type APIKeyRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAPIKeyRepository builds an APIKeyRepository against an open db.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db, timeout: defaultQueryTimeout}
}

type apiKeyRow struct {
	KeyID      string         `db:"key_id"`
	ProjectID  string         `db:"project_id"`
	Hash       string         `db:"hash"`
	Salt       string         `db:"salt"`
	Scopes     pq.StringArray `db:"scopes"`
	ExpiresAt  *time.Time     `db:"expires_at"`
	LastUsedAt *time.Time     `db:"last_used_at"`
	Revoked    bool           `db:"revoked"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r apiKeyRow) toModel() *models.APIKey {
	scopes := make([]models.Scope, len(r.Scopes))
	for i, s := range r.Scopes {
		scopes[i] = models.Scope(s)
	}
	return &models.APIKey{
		KeyID:      r.KeyID,
		ProjectID:  r.ProjectID,
		Hash:       r.Hash,
		Salt:       r.Salt,
		Scopes:     scopes,
		ExpiresAt:  r.ExpiresAt,
		LastUsedAt: r.LastUsedAt,
		Revoked:    r.Revoked,
		CreatedAt:  r.CreatedAt,
	}
}

func scopeStrings(scopes []models.Scope) pq.StringArray {
	out := make(pq.StringArray, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

// Create inserts a new API key record.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO kb.api_keys
			(key_id, project_id, hash, salt, scopes, expires_at, revoked, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		key.KeyID, key.ProjectID, key.Hash, key.Salt, scopeStrings(key.Scopes),
		key.ExpiresAt, key.Revoked, key.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return kberrors.New(kberrors.KindConflict, "api key already exists")
		}
		return kberrors.Wrap(kberrors.KindInternal, "inserting api key", err)
	}
	return nil
}

// GetByHash loads a single key by its salted hash. Validate() in
// pkg/auth loops ListByProject instead of calling this directly (the
// salt lives on the record, so a hash lookup alone can't locate it),
// but it's kept here to satisfy auth.Store for callers that already
// know a hash, e.g. a migration backfill.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT key_id, project_id, hash, salt, scopes, expires_at, last_used_at, revoked, created_at
		FROM kb.api_keys WHERE hash = $1`

	var row apiKeyRow
	if err := r.db.GetContext(ctx, &row, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kberrors.New(kberrors.KindNotFound, "api key not found")
		}
		return nil, kberrors.Wrap(kberrors.KindInternal, "loading api key", err)
	}
	return row.toModel(), nil
}

// ListByProject returns every key issued for a project, including
// revoked ones (callers filter by validity as needed).
func (r *APIKeyRepository) ListByProject(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT key_id, project_id, hash, salt, scopes, expires_at, last_used_at, revoked, created_at
		FROM kb.api_keys WHERE project_id = $1 ORDER BY created_at ASC`

	var rows []apiKeyRow
	if err := r.db.SelectContext(ctx, &rows, query, projectID); err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "listing api keys", err)
	}

	out := make([]*models.APIKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// Revoke marks a single key revoked. Idempotent: revoking an
// already-revoked or missing key is not an error, matching the
// idempotent-delete semantics used elsewhere (spec §4.10).
func (r *APIKeyRepository) Revoke(ctx context.Context, keyID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE kb.api_keys SET revoked = TRUE WHERE key_id = $1`
	if _, err := r.db.ExecContext(ctx, query, keyID); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "revoking api key", err)
	}
	return nil
}

// RevokeAllForProject revokes every key for a project in one
// statement, used when a project is deleted.
func (r *APIKeyRepository) RevokeAllForProject(ctx context.Context, projectID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE kb.api_keys SET revoked = TRUE WHERE project_id = $1`
	if _, err := r.db.ExecContext(ctx, query, projectID); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "revoking project api keys", err)
	}
	return nil
}

// TouchLastUsed records the time a key was last successfully validated.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, keyID string, when time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `UPDATE kb.api_keys SET last_used_at = $1 WHERE key_id = $2`
	if _, err := r.db.ExecContext(ctx, query, when, keyID); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "touching api key last_used_at", err)
	}
	return nil
}
