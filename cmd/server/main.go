package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/knowledgebeast/knowledgebeast/pkg/api"
	"github.com/knowledgebeast/knowledgebeast/pkg/auth"
	"github.com/knowledgebeast/knowledgebeast/pkg/config"
	"github.com/knowledgebeast/knowledgebeast/pkg/database/migration"
	"github.com/knowledgebeast/knowledgebeast/pkg/database/postgres"
	"github.com/knowledgebeast/knowledgebeast/pkg/embedding"
	"github.com/knowledgebeast/knowledgebeast/pkg/ingest"
	"github.com/knowledgebeast/knowledgebeast/pkg/objectstore"
	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
	"github.com/knowledgebeast/knowledgebeast/pkg/project"
	"github.com/knowledgebeast/knowledgebeast/pkg/querycache"
	"github.com/knowledgebeast/knowledgebeast/pkg/resilience"
	"github.com/knowledgebeast/knowledgebeast/pkg/retrieval"
	"github.com/knowledgebeast/knowledgebeast/pkg/retry"
	"github.com/knowledgebeast/knowledgebeast/pkg/serving"
	"github.com/knowledgebeast/knowledgebeast/pkg/validation"
	"github.com/knowledgebeast/knowledgebeast/pkg/vectorstore"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configDir := getenv("CONFIG_DIR", "./config")
	environment := getenv("APP_ENV", "development")

	cfg, err := config.NewLoader(configDir).Load(environment)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := observability.NewLoggerWithLevel("server", observability.LogLevel(cfg.LogLevel))
	metrics := observability.NewMetricsClient("knowledgebeast")

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connecting to postgres: %v", err)
	}
	defer db.Close()

	migrator, err := migration.NewManager(db, migration.Config{}, logger)
	if err != nil {
		log.Fatalf("building migration manager: %v", err)
	}
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("applying migrations: %v", err)
	}
	defer migrator.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	host, port, err := parseVectorBackendURL(cfg.VectorBackendURL)
	if err != nil {
		log.Fatalf("parsing vector_backend_url: %v", err)
	}
	qdrant, err := vectorstore.NewQdrantBackend(vectorstore.QdrantConfig{Host: host, Port: port})
	if err != nil {
		log.Fatalf("connecting to qdrant: %v", err)
	}
	defer qdrant.Close()

	vectors := vectorstore.NewAdapter(
		qdrant,
		retry.Config{MaxAttempts: cfg.RetryMaxAttempts},
		resilience.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Window:           cfg.BreakerWindow(),
			Cooldown:         cfg.BreakerCooldown(),
		},
		logger,
		metrics,
	)

	queryCache := querycache.New(redisClient, querycache.Config{
		HitThreshold:       cfg.SemanticCacheThreshold,
		CapacityPerProject: cfg.CacheSizeQuery,
	}, logger, metrics)

	projectStore := postgres.NewProjectRepository(db)
	apiKeyStore := postgres.NewAPIKeyRepository(db)
	chunkText := postgres.NewChunkTextRepository(db)

	apiKeys := auth.New(apiKeyStore, logger, metrics)
	projects := project.New(projectStore, vectors, queryCache, apiKeyStore, logger, metrics)

	bedrockEmbedder, err := embedding.NewBedrockProvider(ctx, awsRegion())
	if err != nil {
		log.Fatalf("building bedrock embedding provider: %v", err)
	}
	embedder := embedding.NewCache(bedrockEmbedder, cfg.CacheSizeEmbedding, logger, metrics)

	resolver, err := objectstore.New(ctx, objectstore.Config{Region: awsRegion()})
	if err != nil {
		log.Fatalf("building object store resolver: %v", err)
	}

	var reranker retrieval.Reranker
	if cfg.RerankModelID != "" {
		rerankProvider, err := retrieval.NewBedrockRerankProvider(ctx, awsRegion())
		if err != nil {
			log.Fatalf("building bedrock rerank provider: %v", err)
		}
		reranker = retrieval.NewCrossEncoderReranker(rerankProvider, chunkText, retrieval.CrossEncoderConfig{
			Model: cfg.RerankModelID,
		}, logger, metrics)
	}

	keywordSource := retrieval.NewProjectKeywordSource(projects)
	engine := retrieval.NewEngine(vectors, keywordSource, embedder, reranker, cfg.HybridAlpha)

	ingestPipe := ingest.New(resolver, embedder, vectors, projects, chunkText, ingest.Config{
		ChunkSizeTokens:    cfg.ChunkSizeTokens,
		ChunkOverlapTokens: cfg.ChunkOverlapTokens,
		EmbeddingModelID:   cfg.EmbeddingModelID,
	}, logger, metrics)

	facade := serving.New(engine, embedder, queryCache, projects, apiKeys, ingestPipe, qdrant, postgres.NewPinger(db), embedder, serving.DiskHeadroomConfig{
		Path:         cfg.DataDir,
		MinFreeBytes: uint64(cfg.DiskHeadroomMinMB) * (1 << 20),
	}, logger, metrics)

	validator, err := validation.New()
	if err != nil {
		log.Fatalf("building request validator: %v", err)
	}

	var adminJWT *auth.JWTValidator
	if cfg.AdminJWTSecret != "" {
		adminJWT = auth.NewJWTValidator([]byte(cfg.AdminJWTSecret), cfg.AdminJWTIssuer)
	}

	router := api.NewRouter(facade, validator, api.RouterConfig{
		EnableSwagger: environment != "production",
		AdminJWT:      adminJWT,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		logger.Info("starting server", map[string]interface{}{"port": cfg.HTTPPort, "environment": environment})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("server stopped gracefully", nil)
}

func validateConfig(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if cfg.VectorBackendURL == "" {
		return fmt.Errorf("vector_backend_url is required")
	}
	if cfg.HTTPPort == 0 {
		return fmt.Errorf("http_port must be nonzero")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func awsRegion() string {
	return getenv("AWS_REGION", "us-east-1")
}

// parseVectorBackendURL splits a "host:port" vector_backend_url into
// its parts, defaulting the port to Qdrant's gRPC default.
func parseVectorBackendURL(raw string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return raw, 6334, nil
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
