package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/knowledgebeast/knowledgebeast/pkg/auth"
	"github.com/knowledgebeast/knowledgebeast/pkg/ingest"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
	"github.com/knowledgebeast/knowledgebeast/pkg/serving"
	"github.com/knowledgebeast/knowledgebeast/pkg/validation"
)

// Facade is the subset of pkg/serving.Facade the HTTP layer depends
// on, narrowed so handlers can be tested against a fake.
type Facade interface {
	Authenticate(ctx context.Context, projectID, rawKey string, want models.Scope) (*models.APIKey, error)
	CreateProject(ctx context.Context, name, description, embeddingModelID string, quotas models.Quotas) (*models.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	Ingest(ctx context.Context, projectID string, items []ingest.Item) ([]ingest.Result, error)
	Query(ctx context.Context, req serving.QueryRequest) (*serving.QueryResponse, error)
	Health(ctx context.Context) serving.HealthStatus
	CreateAPIKey(ctx context.Context, projectID string, scopes []models.Scope, expiresAt *time.Time) (*auth.IssuedKey, error)
	ListAPIKeys(ctx context.Context, projectID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

// RouterConfig controls optional route registration.
type RouterConfig struct {
	EnableSwagger bool
	// AdminJWT guards project create/list with a bearer-token check
	// when set. Left nil, those two routes register with no auth
	// middleware at all, which is only appropriate behind a separate
	// network boundary (an internal admin network, a gateway-level
	// check upstream of this router).
	AdminJWT *auth.JWTValidator
}

// NewRouter builds the v2 HTTP API router (spec §6) around facade. A
// nil validator disables body-schema validation (tests that don't care
// about it can pass nil rather than constructing a Validator).
//
// Project creation and listing sit outside the per-project API-key
// scheme, since no key can exist for a project before it's created;
// see RouterConfig.AdminJWT.
func NewRouter(facade Facade, validator *validation.Validator, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())

	router.GET("/health", healthHandler(facade))
	router.GET("/metrics", metricsHandler())

	if cfg.EnableSwagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v2 := router.Group("/api/v2")

	if cfg.AdminJWT != nil {
		v2.POST("/projects", adminAuth(cfg.AdminJWT, "projects:write"), createProjectHandler(facade))
		v2.GET("/projects", adminAuth(cfg.AdminJWT, "projects:read"), listProjectsHandler(facade))
	} else {
		v2.POST("/projects", createProjectHandler(facade))
		v2.GET("/projects", listProjectsHandler(facade))
	}

	projectScoped := v2.Group("/projects/:id")
	projectScoped.GET("", apiKeyAuth(facade, models.ScopeRead), getProjectHandler(facade))
	projectScoped.DELETE("", apiKeyAuth(facade, models.ScopeAdmin), deleteProjectHandler(facade))
	projectScoped.POST("/ingest", apiKeyAuth(facade, models.ScopeWrite), withValidation(validator, "ingest"), ingestHandler(facade))
	projectScoped.POST("/query", apiKeyAuth(facade, models.ScopeRead), withValidation(validator, "query"), queryHandler(facade))
	projectScoped.POST("/query/stream", apiKeyAuth(facade, models.ScopeRead), withValidation(validator, "query"), queryStreamHandler(facade))

	keyScoped := v2.Group("/projects/:id/api-keys")
	keyScoped.POST("", apiKeyAuth(facade, models.ScopeAdmin), createAPIKeyHandler(facade))
	keyScoped.GET("", apiKeyAuth(facade, models.ScopeAdmin), listAPIKeysHandler(facade))
	keyScoped.DELETE("/:key_id", apiKeyAuth(facade, models.ScopeAdmin), revokeAPIKeyHandler(facade))

	return router
}
