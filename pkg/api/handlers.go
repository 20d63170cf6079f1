package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/knowledgebeast/knowledgebeast/pkg/ingest"
	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/knowledgebeast/knowledgebeast/pkg/retrieval"
	"github.com/knowledgebeast/knowledgebeast/pkg/serving"
)

type createProjectRequest struct {
	Name             string         `json:"name" binding:"required"`
	Description      string         `json:"description"`
	EmbeddingModelID string         `json:"embedding_model_id" binding:"required"`
	Quotas           *models.Quotas `json:"quotas"`
}

func createProjectHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		quotas := models.DefaultQuotas()
		if req.Quotas != nil {
			quotas = *req.Quotas
		}

		project, err := facade.CreateProject(c.Request.Context(), req.Name, req.Description, req.EmbeddingModelID, quotas)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, project)
	}
}

func listProjectsHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := facade.ListProjects(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

func getProjectHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		project, err := facade.GetProject(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

func deleteProjectHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := facade.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type ingestRequest struct {
	Items []ingestItem `json:"items" binding:"required"`
}

type ingestItem struct {
	DocID       string                 `json:"doc_id"`
	Source      string                 `json:"source" binding:"required"`
	ContentType string                 `json:"content_type"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type ingestResultDTO struct {
	DocID      string `json:"doc_id"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

func ingestHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		items := make([]ingest.Item, len(req.Items))
		for i, it := range req.Items {
			items[i] = ingest.Item{
				DocID:       it.DocID,
				Source:      it.Source,
				ContentType: it.ContentType,
				Metadata:    it.Metadata,
			}
		}

		results, err := facade.Ingest(c.Request.Context(), c.Param("id"), items)
		if err != nil {
			writeError(c, err)
			return
		}

		out := make([]ingestResultDTO, len(results))
		for i, r := range results {
			dto := ingestResultDTO{DocID: r.DocID, ChunkCount: r.ChunkCount}
			if r.Err != nil {
				dto.Error = r.Err.Error()
			}
			out[i] = dto
		}
		c.JSON(http.StatusOK, gin.H{"results": out})
	}
}

type queryRequestDTO struct {
	// Query is allowed to be empty: an empty query always yields an
	// empty result set rather than an error (spec boundary behavior).
	Query     string            `json:"query"`
	TopK      *int              `json:"top_k"`
	Mode      string            `json:"mode"`
	ModelID   string            `json:"model_id"`
	Rerank    bool              `json:"rerank"`
	MMRLambda float64           `json:"mmr_lambda"`
	Filter    map[string]string `json:"filter"`
}

func (r queryRequestDTO) toOptions(projectID string) serving.QueryRequest {
	mode := retrieval.Mode(r.Mode)
	if mode == "" {
		mode = retrieval.ModeHybrid
	}
	// An absent top_k defaults to 10; an explicit 0 means "return no
	// results" and must survive unchanged (spec boundary behavior).
	topK := 10
	if r.TopK != nil {
		topK = *r.TopK
	}
	return serving.QueryRequest{
		ProjectID: projectID,
		QueryText: r.Query,
		TopK:      topK,
		Mode:      mode,
		ModelID:   r.ModelID,
		Rerank:    r.Rerank,
		MMRLambda: r.MMRLambda,
		Filter:    r.Filter,
	}
}

func queryHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequestDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := facade.Query(c.Request.Context(), req.toOptions(c.Param("id")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// queryStreamHandler runs a query to completion and then writes the
// result over server-sent events: one "candidate" event per result,
// followed by a "done" event carrying the degraded and cache_hit flags.
// A failed query yields a single "error" event. The whole result set is
// computed before the first event is sent, and no "result" events are
// emitted.
func queryStreamHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequestDTO
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := facade.Query(c.Request.Context(), req.toOptions(c.Param("id")))
		if err != nil {
			c.SSEvent("error", gin.H{"error": err.Error(), "kind": string(kberrors.KindOf(err))})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			for _, candidate := range resp.Results {
				c.SSEvent("candidate", candidate)
				c.Writer.Flush()
			}
			c.SSEvent("done", gin.H{"degraded": resp.Degraded, "cache_hit": resp.CacheHit})
			c.Writer.Flush()
			return false
		})
	}
}

type createAPIKeyRequest struct {
	Scopes    []models.Scope `json:"scopes" binding:"required"`
	ExpiresAt *time.Time     `json:"expires_at"`
}

func createAPIKeyHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		issued, err := facade.CreateAPIKey(c.Request.Context(), c.Param("id"), req.Scopes, req.ExpiresAt)
		if err != nil {
			writeError(c, err)
			return
		}
		// The raw key is only ever visible in this response; only its
		// salted hash is persisted.
		c.JSON(http.StatusCreated, gin.H{"key": issued.Raw, "record": issued.Record})
	}
}

func listAPIKeysHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := facade.ListAPIKeys(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

func revokeAPIKeyHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := facade.RevokeAPIKey(c.Request.Context(), c.Param("key_id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func healthHandler(facade Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := facade.Health(c.Request.Context())
		code := http.StatusOK
		if status.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}
