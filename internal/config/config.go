package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

const (
	CacheBackendPostgres = "postgres"
	CacheBackendBolt     = "bolt"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docproof"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docproof"`

	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"10485760"` // 10MB

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableAnalysisWorker bool   `envconfig:"ENABLE_ANALYSIS_WORKER" default:"true"`
	AnalysisConcurrency  int    `envconfig:"ANALYSIS_CONCURRENCY" default:"4"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Gemini
	GeminiAPIKey      string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string  `envconfig:"GEMINI_MODEL" default:"gemini-2.5-pro"`
	GeminiTemperature float32 `envconfig:"GEMINI_TEMPERATURE" default:"0.3"`

	// Pipeline
	MaxChunkChars       int     `envconfig:"MAX_CHUNK_CHARS" default:"790000"`
	FetchTimeoutSeconds int     `envconfig:"FETCH_TIMEOUT_SECONDS" default:"30"`
	PublicFetchRPS      float64 `envconfig:"PUBLIC_FETCH_RPS" default:"5"`
	TxtPageHeuristic    bool    `envconfig:"TXT_PAGE_HEURISTIC" default:"true"`

	// Google OAuth, optional. Enables token refresh for authenticated fetches.
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`

	CacheBackend  string `envconfig:"CACHE_BACKEND" default:"postgres"`
	CacheBoltPath string `envconfig:"CACHE_BOLT_PATH" default:"data/cache.db"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	// Try finding root .env (assuming 2 levels up if in apps/backend)
	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	switch c.CacheBackend {
	case "", CacheBackendPostgres:
	case CacheBackendBolt:
		if c.CacheBoltPath == "" {
			return fmt.Errorf("%w: CACHE_BOLT_PATH", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	return nil
}
