package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

func newMockChunkTextRepo(t *testing.T) (*ChunkTextRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewChunkTextRepository(sqlxDB), mock, func() { _ = db.Close() }
}

func TestChunkTextRepository_UpsertChunks(t *testing.T) {
	repo, mock, closeFn := newMockChunkTextRepo(t)
	defer closeFn()

	chunks := []models.Chunk{
		{ChunkID: "doc1#0", DocID: "doc1", Ordinal: 0, Text: "hello world"},
		{ChunkID: "doc1#1", DocID: "doc1", Ordinal: 1, Text: "goodbye world"},
	}

	mock.ExpectExec("INSERT INTO kb.chunks").WillReturnResult(sqlmock.NewResult(2, 2))

	err := repo.UpsertChunks(context.Background(), "p1", chunks)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkTextRepository_UpsertChunks_EmptyIsNoop(t *testing.T) {
	repo, mock, closeFn := newMockChunkTextRepo(t)
	defer closeFn()

	err := repo.UpsertChunks(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkTextRepository_LookupText(t *testing.T) {
	repo, mock, closeFn := newMockChunkTextRepo(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{"chunk_id", "text"}).
		AddRow("doc1#0", "hello world").
		AddRow("doc1#1", "goodbye world")
	mock.ExpectQuery("SELECT chunk_id, text FROM kb.chunks").
		WithArgs("doc1#0", "doc1#1").
		WillReturnRows(rows)

	texts, err := repo.LookupText(context.Background(), []string{"doc1#0", "doc1#1"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", texts["doc1#0"])
	assert.Equal(t, "goodbye world", texts["doc1#1"])
}

func TestChunkTextRepository_DeleteChunks(t *testing.T) {
	repo, mock, closeFn := newMockChunkTextRepo(t)
	defer closeFn()

	mock.ExpectExec("DELETE FROM kb.chunks").
		WithArgs("p1", "doc1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.DeleteChunks(context.Background(), "p1", "doc1")
	require.NoError(t, err)
}
