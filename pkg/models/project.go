// Package models defines the data model shared across the core:
// Project, Document, Chunk, and APIKey (spec §3).
package models

import "time"

// ProjectState is the lifecycle state of a project record.
type ProjectState string

const (
	ProjectStateActive   ProjectState = "active"
	ProjectStateDeleting ProjectState = "deleting"
)

// Project is an isolated tenant: it owns exactly one vector collection,
// one keyword index, one query cache, and shares the process-wide
// embedding cache (keyed by model_id + content hash).
type Project struct {
	ID               string                 `db:"id" json:"id"`
	Name             string                 `db:"name" json:"name"`
	Description      string                 `db:"description" json:"description"`
	EmbeddingModelID string                 `db:"embedding_model_id" json:"embedding_model_id"`
	CreatedAt        time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time              `db:"updated_at" json:"updated_at"`
	Metadata         map[string]interface{} `db:"-" json:"metadata"`
	MetadataJSON     []byte                 `db:"metadata_json" json:"-"`
	Quotas           Quotas                 `db:"-" json:"quotas"`
	QuotasJSON       []byte                 `db:"quotas_json" json:"-"`
	State            ProjectState           `db:"state" json:"state"`
}

// Quotas bounds what a project may ingest/query, enforced by the
// project manager (spec §4.10).
type Quotas struct {
	MaxDocuments         int64         `json:"max_documents"`
	MaxTotalBytes        int64         `json:"max_total_bytes"`
	MaxQueriesPerWindow  int64         `json:"max_queries_per_window"`
	QueryWindow          time.Duration `json:"query_window"`
	MaxConcurrentRequests int          `json:"max_concurrent_requests"`
}

// DefaultQuotas returns conservative defaults applied to new projects
// unless overridden at creation time.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxDocuments:          100_000,
		MaxTotalBytes:         10 << 30, // 10 GiB
		MaxQueriesPerWindow:   10_000,
		QueryWindow:           time.Minute,
		MaxConcurrentRequests: 32,
	}
}
