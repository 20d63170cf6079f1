// Package ingest implements the document ingest pipeline (spec §4.11):
// resolve content, chunk, embed, then write to the vector store and
// keyword index under a per-document logical transaction, with
// per-project quota enforcement and unique doc_id generation.
package ingest

import (
	"context"
	"fmt"
	"runtime"

	"github.com/knowledgebeast/knowledgebeast/pkg/chunking"
	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/keyword"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"github.com/knowledgebeast/knowledgebeast/pkg/vectorstore"
	"golang.org/x/sync/errgroup"
)

// ContentResolver turns a document's source reference into its raw
// text; contentType is passed through to the implementation.
// pkg/objectstore provides the implementation used for s3:// and local
// paths, which returns the fetched bytes as text and does not parse by
// content type.
type ContentResolver interface {
	Resolve(ctx context.Context, source, contentType string) (string, error)
}

// Embedder embeds chunk text into a fixed-dimension vector, backed by
// the process-wide embedding cache so repeated chunk text across
// documents is only embedded once.
type Embedder interface {
	Embed(ctx context.Context, modelID, text string) ([]float32, error)
}

// ProjectHandles is the subset of pkg/project.Manager the pipeline
// needs: quota checks, doc_id generation, and the per-project keyword
// index.
type ProjectHandles interface {
	CheckIngestQuota(ctx context.Context, projectID string, addDocs, addBytes int64) error
	RecordIngestUsage(ctx context.Context, projectID string, addDocs, addBytes int64) error
	NextDocID(ctx context.Context, projectID string) (string, error)
	KeywordIndex(ctx context.Context, projectID string) (*keyword.Index, error)
}

// VectorWriter is the subset of vectorstore.Adapter the pipeline needs.
type VectorWriter interface {
	Upsert(ctx context.Context, projectID string, vectors []vectorstore.Vector) error
	DeleteByDoc(ctx context.Context, projectID string, docID string) error
}

// ChunkTextWriter persists chunk text for later retrieval by the
// cross-encoder reranker, which needs the original text rather than
// just a chunk_id and score (spec §4.8 step 5). Optional: a nil
// ChunkTextWriter disables rerank-capable storage without otherwise
// affecting ingestion, for deployments that never set Rerank on a
// query.
type ChunkTextWriter interface {
	UpsertChunks(ctx context.Context, projectID string, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, projectID string, docID string) error
}

// Item is one document to ingest.
type Item struct {
	DocID       string // optional; a fresh one is generated when empty
	Source      string
	ContentType string
	Metadata    map[string]interface{}
}

// Result is the outcome of ingesting a single Item.
type Result struct {
	DocID      string
	ChunkCount int
	Err        error
}

// Config parameterizes the pipeline.
type Config struct {
	ChunkSizeTokens    int
	ChunkOverlapTokens int
	EmbeddingModelID   string
	MaxWorkers         int
}

func (c *Config) applyDefaults() {
	if c.ChunkSizeTokens <= 0 {
		c.ChunkSizeTokens = 512
	}
	if c.ChunkOverlapTokens <= 0 {
		c.ChunkOverlapTokens = 64
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
}

// Pipeline ingests batches of documents for a project.
type Pipeline struct {
	resolver  ContentResolver
	embedder  Embedder
	vectors   VectorWriter
	projects  ProjectHandles
	chunkText ChunkTextWriter
	config    Config
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// New builds a Pipeline. chunkText may be nil when rerank support is
// not needed.
func New(resolver ContentResolver, embedder Embedder, vectors VectorWriter, projects ProjectHandles, chunkText ChunkTextWriter, config Config, logger observability.Logger, metrics observability.MetricsClient) *Pipeline {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Pipeline{
		resolver:  resolver,
		embedder:  embedder,
		vectors:   vectors,
		projects:  projects,
		chunkText: chunkText,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ingest processes a batch of documents for projectID in parallel,
// bounded by config.MaxWorkers, returning one Result per Item in input
// order regardless of completion order.
func (p *Pipeline) Ingest(ctx context.Context, projectID string, items []Item) []Result {
	results := make([]Result, len(items))
	sem := make(chan struct{}, p.config.MaxWorkers)
	g, gctx := errgroup.WithContext(ctx)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				results[i] = Result{DocID: item.DocID, Err: gctx.Err()}
				return nil
			}
			defer func() { <-sem }()

			res := p.ingestOne(gctx, projectID, item)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) ingestOne(ctx context.Context, projectID string, item Item) Result {
	docID := item.DocID
	if docID == "" {
		var err error
		docID, err = p.projects.NextDocID(ctx, projectID)
		if err != nil {
			return Result{DocID: docID, Err: err}
		}
	}

	text, err := p.resolver.Resolve(ctx, item.Source, item.ContentType)
	if err != nil {
		return Result{DocID: docID, Err: kberrors.Wrap(kberrors.KindInternal, "resolving document content", err)}
	}

	if err := p.projects.CheckIngestQuota(ctx, projectID, 1, int64(len(text))); err != nil {
		return Result{DocID: docID, Err: err}
	}

	splitter := chunking.NewRecursiveSplitter(chunking.RecursiveConfig{
		ChunkSize:    p.config.ChunkSizeTokens,
		ChunkOverlap: p.config.ChunkOverlapTokens,
	})
	rawChunks, err := splitter.Chunk(ctx, text, item.Metadata)
	if err != nil {
		return Result{DocID: docID, Err: kberrors.Wrap(kberrors.KindInternal, "chunking document", err)}
	}

	chunks := make([]models.Chunk, len(rawChunks))
	vectors := make([]vectorstore.Vector, len(rawChunks))
	keywordDocs := make([]keyword.Doc, len(rawChunks))
	for i, rc := range rawChunks {
		chunkID := models.ChunkID(docID, rc.Ordinal)
		vec, err := p.embedder.Embed(ctx, p.config.EmbeddingModelID, rc.Text)
		if err != nil {
			return Result{DocID: docID, Err: kberrors.Wrap(kberrors.KindInternal, fmt.Sprintf("embedding chunk %s", chunkID), err)}
		}
		chunks[i] = models.Chunk{ChunkID: chunkID, DocID: docID, Ordinal: rc.Ordinal, Text: rc.Text, TokenCount: rc.TokenCount, Vector: vec, Metadata: rc.Metadata}
		vectors[i] = vectorstore.Vector{ChunkID: chunkID, DocID: docID, Values: vec, Metadata: rc.Metadata}
		keywordDocs[i] = keyword.Doc{ChunkID: chunkID, Text: rc.Text}
	}

	// Write discipline (spec §4.11): vectors first, keyword index only
	// after vector success; roll the vectors back if the keyword update
	// fails so the two stores never diverge.
	if err := p.vectors.Upsert(ctx, projectID, vectors); err != nil {
		return Result{DocID: docID, Err: kberrors.Wrap(kberrors.KindInternal, "upserting vectors", err)}
	}

	idx, err := p.projects.KeywordIndex(ctx, projectID)
	if err != nil {
		_ = p.vectors.DeleteByDoc(ctx, projectID, docID)
		return Result{DocID: docID, Err: err}
	}

	if err := p.upsertKeyword(ctx, idx, keywordDocs); err != nil {
		_ = p.vectors.DeleteByDoc(ctx, projectID, docID)
		return Result{DocID: docID, Err: kberrors.Wrap(kberrors.KindInternal, "updating keyword index", err)}
	}

	if p.chunkText != nil {
		if err := p.chunkText.UpsertChunks(ctx, projectID, chunks); err != nil {
			p.logger.Warn("persisting chunk text failed", map[string]interface{}{"doc_id": docID, "error": err.Error()})
		}
	}

	if err := p.projects.RecordIngestUsage(ctx, projectID, 1, int64(len(text))); err != nil {
		p.logger.Warn("recording ingest usage failed", map[string]interface{}{"doc_id": docID, "error": err.Error()})
	}

	p.metrics.IncrementCounter("ingest_documents_total", 1)
	p.metrics.IncrementCounter("ingest_chunks_total", float64(len(chunks)))
	return Result{DocID: docID, ChunkCount: len(chunks)}
}

func (p *Pipeline) upsertKeyword(ctx context.Context, idx *keyword.Index, docs []keyword.Doc) error {
	idx.Upsert(ctx, docs)
	idx.Publish(ctx)
	return nil
}
