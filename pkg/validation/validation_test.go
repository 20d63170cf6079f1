package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIngest_AcceptsWellFormedBody(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	body := []byte(`{"items": [{"source": "s3://bucket/doc.txt"}]}`)
	assert.NoError(t, v.ValidateIngest(body))
}

func TestValidateIngest_RejectsEmptyItems(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	body := []byte(`{"items": []}`)
	assert.Error(t, v.ValidateIngest(body))
}

func TestValidateIngest_RejectsMissingSource(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	body := []byte(`{"items": [{"content_type": "text/plain"}]}`)
	assert.Error(t, v.ValidateIngest(body))
}

func TestValidateQuery_AcceptsWellFormedBody(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	body := []byte(`{"query": "hello world", "top_k": 5, "mode": "hybrid"}`)
	assert.NoError(t, v.ValidateQuery(body))
}

func TestValidateQuery_RejectsInvalidMode(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	body := []byte(`{"query": "hello", "mode": "bogus"}`)
	assert.Error(t, v.ValidateQuery(body))
}

func TestValidateQuery_AcceptsEmptyQuery(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	body := []byte(`{"query": ""}`)
	assert.NoError(t, v.ValidateQuery(body))
}

func TestValidateQuery_RejectsMalformedJSON(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.Error(t, v.ValidateQuery([]byte(`{not json`)))
}
