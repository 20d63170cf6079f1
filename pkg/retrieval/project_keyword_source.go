package retrieval

import (
	"context"

	"github.com/knowledgebeast/knowledgebeast/pkg/keyword"
)

type projectIDKeyType struct{}

var projectIDKey = projectIDKeyType{}

// WithProjectID tags ctx with the project a Query call is scoped to,
// so a shared Engine's KeywordSource can resolve the right project's
// index without threading a project id through the KeywordSource
// interface itself.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// ProjectIDFromContext retrieves a project id set by WithProjectID.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(projectIDKey).(string)
	return v, ok
}

// KeywordIndexResolver fetches a project's keyword index on demand,
// satisfied by *project.Manager.
type KeywordIndexResolver interface {
	KeywordIndex(ctx context.Context, projectID string) (*keyword.Index, error)
}

// ProjectKeywordSource adapts a KeywordIndexResolver into the single
// project-agnostic KeywordSource an Engine holds, so one Engine can
// serve every project's independent BM25 index.
type ProjectKeywordSource struct {
	resolver KeywordIndexResolver
}

// NewProjectKeywordSource builds a ProjectKeywordSource over resolver.
func NewProjectKeywordSource(resolver KeywordIndexResolver) *ProjectKeywordSource {
	return &ProjectKeywordSource{resolver: resolver}
}

// Search resolves the project id carried on ctx and delegates to that
// project's keyword index. It returns no results if ctx carries no
// project id or the project has none yet.
func (s *ProjectKeywordSource) Search(ctx context.Context, query string, k int) []keyword.Result {
	projectID, ok := ProjectIDFromContext(ctx)
	if !ok {
		return nil
	}
	index, err := s.resolver.KeywordIndex(ctx, projectID)
	if err != nil || index == nil {
		return nil
	}
	return index.Search(ctx, query, k)
}
