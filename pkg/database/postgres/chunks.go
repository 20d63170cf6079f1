package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

// ChunkTextRepository persists chunk text in kb.chunks, purely so the
// cross-encoder reranker can recover original text from a chunk_id
// (spec §4.8 step 5); it plays no part in retrieval itself. Rows
// cascade-delete with their owning project.
type ChunkTextRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewChunkTextRepository builds a ChunkTextRepository against an open db.
func NewChunkTextRepository(db *sqlx.DB) *ChunkTextRepository {
	return &ChunkTextRepository{db: db, timeout: defaultQueryTimeout}
}

type chunkTextRow struct {
	ChunkID string `db:"chunk_id"`
	Text    string `db:"text"`
}

// UpsertChunks writes or replaces the text for a batch of chunks,
// implementing ingest.ChunkTextWriter.
func (r *ChunkTextRepository) UpsertChunks(ctx context.Context, projectID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO kb.chunks (chunk_id, project_id, doc_id, ordinal, text)
		VALUES (:chunk_id, :project_id, :doc_id, :ordinal, :text)
		ON CONFLICT (chunk_id) DO UPDATE SET text = EXCLUDED.text, ordinal = EXCLUDED.ordinal`

	args := make([]map[string]interface{}, len(chunks))
	for i, c := range chunks {
		args[i] = map[string]interface{}{
			"chunk_id":   c.ChunkID,
			"project_id": projectID,
			"doc_id":     c.DocID,
			"ordinal":    c.Ordinal,
			"text":       c.Text,
		}
	}

	if _, err := r.db.NamedExecContext(ctx, query, args); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "persisting chunk text", err)
	}
	return nil
}

// DeleteChunks removes every chunk text row for a document.
func (r *ChunkTextRepository) DeleteChunks(ctx context.Context, projectID string, docID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `DELETE FROM kb.chunks WHERE project_id = $1 AND doc_id = $2`
	if _, err := r.db.ExecContext(ctx, query, projectID, docID); err != nil {
		return kberrors.Wrap(kberrors.KindInternal, "deleting chunk text", err)
	}
	return nil
}

// LookupText implements retrieval.TextLookup, resolving chunk_ids to
// their stored text for the cross-encoder reranker.
func (r *ChunkTextRepository) LookupText(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	if len(chunkIDs) == 0 {
		return map[string]string{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := sqlx.In(`SELECT chunk_id, text FROM kb.chunks WHERE chunk_id IN (?)`, chunkIDs)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "building chunk text lookup query", err)
	}
	query = r.db.Rebind(query)

	var rows []chunkTextRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, kberrors.Wrap(kberrors.KindInternal, "looking up chunk text", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.ChunkID] = row.Text
	}
	return out, nil
}
