package embedding

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockProvider is a deterministic, call-counting Provider for tests.
type MockProvider struct {
	mu       sync.Mutex
	calls    int64
	GenFunc  func(ctx context.Context, text, modelID string) ([]float32, error)
}

// NewMockProvider returns a MockProvider whose GenerateEmbedding
// returns a fixed-length vector derived from the text length, unless
// GenFunc is set.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// CallCount reports how many times GenerateEmbedding actually ran.
func (m *MockProvider) CallCount() int64 {
	return atomic.LoadInt64(&m.calls)
}

// GenerateEmbedding implements Provider.
func (m *MockProvider) GenerateEmbedding(ctx context.Context, text, modelID string) ([]float32, error) {
	atomic.AddInt64(&m.calls, 1)
	if m.GenFunc != nil {
		return m.GenFunc(ctx, text, modelID)
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

// SupportedModels implements Provider.
func (m *MockProvider) SupportedModels() []string {
	return []string{"mock-model"}
}
