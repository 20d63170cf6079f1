package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgebeast/knowledgebeast/pkg/keyword"
)

type fakeKeywordIndexResolver struct {
	indexes map[string]*keyword.Index
}

func (f *fakeKeywordIndexResolver) KeywordIndex(ctx context.Context, projectID string) (*keyword.Index, error) {
	return f.indexes[projectID], nil
}

func TestProjectKeywordSource_RoutesToProjectIndex(t *testing.T) {
	ctx := context.Background()

	indexA := keyword.New(keyword.Config{})
	indexA.Upsert(ctx, []keyword.Doc{{ChunkID: "a#0", Text: "alpha apples"}})
	indexA.Publish(ctx)

	indexB := keyword.New(keyword.Config{})
	indexB.Upsert(ctx, []keyword.Doc{{ChunkID: "b#0", Text: "beta bananas"}})
	indexB.Publish(ctx)

	resolver := &fakeKeywordIndexResolver{indexes: map[string]*keyword.Index{
		"proj-a": indexA,
		"proj-b": indexB,
	}}
	source := NewProjectKeywordSource(resolver)

	ctxA := WithProjectID(ctx, "proj-a")
	resultsA := source.Search(ctxA, "alpha", 10)
	require.Len(t, resultsA, 1)
	assert.Equal(t, "a#0", resultsA[0].ChunkID)

	ctxB := WithProjectID(ctx, "proj-b")
	resultsB := source.Search(ctxB, "bananas", 10)
	require.Len(t, resultsB, 1)
	assert.Equal(t, "b#0", resultsB[0].ChunkID)
}

func TestProjectKeywordSource_NoProjectIDReturnsEmpty(t *testing.T) {
	resolver := &fakeKeywordIndexResolver{indexes: map[string]*keyword.Index{}}
	source := NewProjectKeywordSource(resolver)

	results := source.Search(context.Background(), "anything", 10)
	assert.Nil(t, results)
}

func TestProjectIDFromContext_RoundTrips(t *testing.T) {
	ctx := WithProjectID(context.Background(), "proj-x")
	id, ok := ProjectIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "proj-x", id)

	_, ok = ProjectIDFromContext(context.Background())
	assert.False(t, ok)
}
