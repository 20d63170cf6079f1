package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3URI(t *testing.T) {
	bucket, key, ok := parseS3URI("s3://my-bucket/path/to/doc.txt")
	assert.True(t, ok)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "path/to/doc.txt", key)

	_, _, ok = parseS3URI("/local/path/doc.txt")
	assert.False(t, ok)

	_, _, ok = parseS3URI("s3://bucket-with-no-key")
	assert.False(t, ok)
}

func TestResolve_ReadsLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	r := &Resolver{cfg: Config{RequestTimeout: 0}}
	(&r.cfg).applyDefaults()

	content, err := r.Resolve(context.Background(), path, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestResolve_MissingLocalFileReturnsNotFound(t *testing.T) {
	r := &Resolver{cfg: Config{}}
	(&r.cfg).applyDefaults()

	_, err := r.Resolve(context.Background(), "/no/such/file.txt", "text/plain")
	assert.Error(t, err)
}
