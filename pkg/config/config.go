// Package config loads service configuration from a layered
// config.base.yaml plus environment overrides (spec §6), grounded on
// the teacher's pkg/config.ConfigLoader: base file, optional
// environment-specific file, optional local override, with every
// documented environment variable bound explicitly so it's
// authoritative regardless of YAML presence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved service configuration (spec §6's
// environment variable table).
type Config struct {
	DataDir                string        `mapstructure:"data_dir"`
	VectorBackendURL       string        `mapstructure:"vector_backend_url"`
	EmbeddingModelID       string        `mapstructure:"embedding_model_id"`
	CacheSizeQuery         int           `mapstructure:"cache_size_query"`
	CacheSizeEmbedding     int           `mapstructure:"cache_size_embedding"`
	SemanticCacheThreshold float64       `mapstructure:"semantic_cache_threshold"`
	HybridAlpha            float64       `mapstructure:"hybrid_alpha"`
	RerankModelID          string        `mapstructure:"rerank_model_id"`
	ChunkSizeTokens        int           `mapstructure:"chunk_size_tokens"`
	ChunkOverlapTokens     int           `mapstructure:"chunk_overlap_tokens"`
	BreakerFailureThreshold int          `mapstructure:"breaker_failure_threshold"`
	BreakerWindowSeconds   int           `mapstructure:"breaker_window_seconds"`
	BreakerCooldownSeconds int           `mapstructure:"breaker_cooldown_seconds"`
	RetryMaxAttempts       int           `mapstructure:"retry_max_attempts"`
	PerProjectMaxInflight  int           `mapstructure:"per_project_max_inflight"`
	PerProjectRateLimit    int64         `mapstructure:"per_project_rate_limit"`
	LogLevel               string        `mapstructure:"log_level"`
	HTTPPort               int           `mapstructure:"http_port"`
	DatabaseURL            string        `mapstructure:"database_url"`
	RedisAddr              string        `mapstructure:"redis_addr"`
	DiskHeadroomMinMB      int64         `mapstructure:"disk_headroom_min_mb"`
	AdminJWTSecret         string        `mapstructure:"admin_jwt_secret"`
	AdminJWTIssuer         string        `mapstructure:"admin_jwt_issuer"`
}

// BreakerWindow returns BreakerWindowSeconds as a duration.
func (c Config) BreakerWindow() time.Duration {
	return time.Duration(c.BreakerWindowSeconds) * time.Second
}

// BreakerCooldown returns BreakerCooldownSeconds as a duration.
func (c Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_dir":                   "./data",
		"embedding_model_id":         "titan-embed-text-v2",
		"cache_size_query":           1000,
		"cache_size_embedding":       10000,
		"semantic_cache_threshold":   0.95,
		"hybrid_alpha":               0.7,
		"chunk_size_tokens":          512,
		"chunk_overlap_tokens":       64,
		"breaker_failure_threshold":  5,
		"breaker_window_seconds":     30,
		"breaker_cooldown_seconds":   15,
		"retry_max_attempts":         3,
		"per_project_max_inflight":   32,
		"per_project_rate_limit":     10000,
		"log_level":                  "INFO",
		"http_port":                  8080,
		"disk_headroom_min_mb":       1024,
	}
}

// envBindings is every spec §6 environment variable, bound explicitly
// so it takes precedence over YAML regardless of nesting.
var envBindings = map[string]string{
	"data_dir":                  "DATA_DIR",
	"vector_backend_url":        "VECTOR_BACKEND_URL",
	"embedding_model_id":        "EMBEDDING_MODEL_ID",
	"cache_size_query":          "CACHE_SIZE_QUERY",
	"cache_size_embedding":      "CACHE_SIZE_EMBEDDING",
	"semantic_cache_threshold":  "SEMANTIC_CACHE_THRESHOLD",
	"hybrid_alpha":              "HYBRID_ALPHA",
	"rerank_model_id":           "RERANK_MODEL_ID",
	"chunk_size_tokens":         "CHUNK_SIZE_TOKENS",
	"chunk_overlap_tokens":      "CHUNK_OVERLAP_TOKENS",
	"breaker_failure_threshold": "BREAKER_FAILURE_THRESHOLD",
	"breaker_window_seconds":    "BREAKER_WINDOW_SECONDS",
	"breaker_cooldown_seconds":  "BREAKER_COOLDOWN_SECONDS",
	"retry_max_attempts":        "RETRY_MAX_ATTEMPTS",
	"per_project_max_inflight":  "PER_PROJECT_MAX_INFLIGHT",
	"per_project_rate_limit":    "PER_PROJECT_RATE_LIMIT",
	"log_level":                 "LOG_LEVEL",
	"http_port":                 "HTTP_PORT",
	"database_url":              "DATABASE_URL",
	"redis_addr":                "REDIS_ADDR",
	"disk_headroom_min_mb":      "DISK_HEADROOM_MIN_MB",
	"admin_jwt_secret":          "ADMIN_JWT_SECRET",
	"admin_jwt_issuer":          "ADMIN_JWT_ISSUER",
}

// Loader loads and merges configuration files the way the teacher's
// ConfigLoader does: base, then environment override, then local
// override, then environment variables (which always win).
type Loader struct {
	configDir string
	v         *viper.Viper
}

// NewLoader builds a Loader rooted at configDir.
func NewLoader(configDir string) *Loader {
	return &Loader{configDir: configDir, v: viper.New()}
}

// Load resolves the configuration for the named environment
// ("development", "staging", "production", ...).
func (l *Loader) Load(environment string) (*Config, error) {
	l.v.SetConfigType("yaml")
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, val := range defaults() {
		l.v.SetDefault(key, val)
	}
	for key, env := range envBindings {
		if err := l.v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding env var %s: %w", env, err)
		}
	}

	if err := l.mergeIfExists(filepath.Join(l.configDir, "config.base.yaml")); err != nil {
		return nil, fmt.Errorf("loading base config: %w", err)
	}
	if environment != "" {
		if err := l.mergeIfExists(filepath.Join(l.configDir, fmt.Sprintf("config.%s.yaml", environment))); err != nil {
			return nil, fmt.Errorf("loading %s config: %w", environment, err)
		}
		if err := l.mergeIfExists(filepath.Join(l.configDir, fmt.Sprintf("config.%s.local.yaml", environment))); err != nil {
			return nil, fmt.Errorf("loading %s local config override: %w", environment, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) mergeIfExists(path string) error {
	l.v.SetConfigFile(path)
	if err := l.v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if isNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func isNotExist(err error) bool {
	// viper wraps the underlying os.Open error for a missing file when
	// SetConfigFile points at a path with no matching ConfigFileNotFoundError.
	return strings.Contains(err.Error(), "no such file or directory") ||
		strings.Contains(err.Error(), "cannot find the file")
}
