// Package svcconfig loads the docsvcd environment configuration (SPEC_FULL.md
// §6 and §6.1). It follows the same TrimSpace-getenv-then-default discipline as
// the rest of this codebase's configuration loaders.
package svcconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved runtime configuration for the docsvcd binary.
type Config struct {
	DatabaseURL string

	Embedding PlannerEmbeddingConfig
	Planner   PlannerEmbeddingConfig

	Host string
	Port int

	ToolsConfigPath   string
	ToolsConfigInline string

	MCP MCPConfig

	Batch     BatchConfig
	RateLimit RateLimitConfig

	SupportedDocTypes []string

	Log   LogConfig
	Obs   ObsConfig
	Queue QueueConfig
	Sess  SessionConfig
	Obj   ObjectStoreConfig

	Worker WorkerConfig
	Vector VectorConfig
}

// PlannerEmbeddingConfig covers both the embedding service and the ingestion
// discovery planner, which share the same shape (base URL, model, key, timeout).
type PlannerEmbeddingConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

type MCPConfig struct {
	EnableSSE              bool
	AllowedOrigins         []string
	StrictOriginValidation bool
	RequireOriginHeader    bool
	LocalhostOnly          bool
	AcceptedProtocolVersions []string
}

type BatchConfig struct {
	Size          int
	FlushInterval time.Duration
	HighWatermark int
	EnqueueBudget time.Duration
}

type RateLimitConfig struct {
	RPM int
	TPM int
}

type LogConfig struct {
	Level string
	Path  string
}

type ObsConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

type QueueConfig struct {
	Backend      string // "channel" | "kafka"
	KafkaBrokers []string
	TopicPrefix  string
}

type SessionConfig struct {
	Backend  string // "memory" | "redis"
	RedisURL string
	TTL      time.Duration
}

type ObjectStoreConfig struct {
	Backend string // "filesystem" | "s3"
	Region  string
	Bucket  string
}

type WorkerConfig struct {
	Concurrency           int
	MaxPerTargetPerMinute int
	MaxAttempts           int
	LeaseSeconds          int
}

type VectorConfig struct {
	Metric        string // "cosine" | "l2" | "ip"
	Dimensions    int
	MaxCandidates int
	IndexEnabled  bool
}

// Load reads the process environment (after applying .env overrides) into a
// Config, fills in defaults, and validates required fields.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.Embedding.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("EMBEDDING_API_KEY"))
	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBEDDING_MODEL"))
	cfg.Embedding.Dimensions = intFromEnv("EMBEDDING_DIMENSIONS", 0)
	cfg.Embedding.Timeout = time.Duration(intFromEnv("EMBEDDING_TIMEOUT_MS", 30000)) * time.Millisecond

	cfg.Planner.APIKey = strings.TrimSpace(os.Getenv("PLANNER_API_KEY"))
	cfg.Planner.Model = strings.TrimSpace(os.Getenv("PLANNER_MODEL"))
	cfg.Planner.Timeout = time.Duration(intFromEnv("PLANNER_TIMEOUT_MS", 120000)) * time.Millisecond

	cfg.Port = intFromEnv("MCP_PORT", intFromEnv("PORT", 3001))
	cfg.Host = firstNonEmpty(os.Getenv("MCP_HOST"), "0.0.0.0")

	cfg.ToolsConfigPath = strings.TrimSpace(os.Getenv("TOOLS_CONFIG_PATH"))
	cfg.ToolsConfigInline = strings.TrimSpace(os.Getenv("TOOLS_CONFIG"))

	cfg.MCP.EnableSSE = boolFromEnv("MCP_ENABLE_SSE", false)
	cfg.MCP.AllowedOrigins = parseCommaSeparatedList(os.Getenv("MCP_ALLOWED_ORIGINS"))
	cfg.MCP.StrictOriginValidation = boolFromEnv("MCP_STRICT_ORIGIN_VALIDATION", true)
	cfg.MCP.RequireOriginHeader = boolFromEnv("MCP_REQUIRE_ORIGIN_HEADER", false)
	cfg.MCP.LocalhostOnly = boolFromEnv("MCP_LOCALHOST_ONLY", true)
	// Exactly one accepted protocol version by default; an empty, extensible
	// allow-list rather than silently accepting legacy versions (open question 1).
	cfg.MCP.AcceptedProtocolVersions = []string{"2025-06-18"}
	if extra := parseCommaSeparatedList(os.Getenv("MCP_EXTRA_PROTOCOL_VERSIONS")); len(extra) > 0 {
		cfg.MCP.AcceptedProtocolVersions = append(cfg.MCP.AcceptedProtocolVersions, extra...)
	}

	cfg.Batch.Size = intFromEnv("BATCH_SIZE", 100)
	cfg.Batch.FlushInterval = time.Duration(intFromEnv("BATCH_FLUSH_INTERVAL_MS", 1000)) * time.Millisecond
	cfg.Batch.HighWatermark = intFromEnv("BATCH_HIGH_WATERMARK", 1000)
	cfg.Batch.EnqueueBudget = time.Duration(intFromEnv("BATCH_ENQUEUE_BUDGET_MS", 5000)) * time.Millisecond

	cfg.RateLimit.RPM = intFromEnv("RATE_LIMIT_RPM", 3000)
	cfg.RateLimit.TPM = intFromEnv("RATE_LIMIT_TPM", 1_000_000)

	cfg.SupportedDocTypes = parseCommaSeparatedList(os.Getenv("SUPPORTED_DOC_TYPES"))

	cfg.Log.Level = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")
	cfg.Log.Path = strings.TrimSpace(os.Getenv("LOG_PATH"))

	cfg.Obs.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "docsvcd")

	cfg.Queue.Backend = firstNonEmpty(os.Getenv("QUEUE_BACKEND"), "channel")
	cfg.Queue.KafkaBrokers = parseCommaSeparatedList(os.Getenv("KAFKA_BROKERS"))
	cfg.Queue.TopicPrefix = firstNonEmpty(os.Getenv("KAFKA_TOPIC_PREFIX"), "docsvcd")

	cfg.Sess.Backend = firstNonEmpty(os.Getenv("SESSION_BACKEND"), "memory")
	cfg.Sess.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.Sess.TTL = time.Duration(intFromEnv("MCP_SESSION_TTL_SECONDS", 1800)) * time.Second

	cfg.Obj.Backend = firstNonEmpty(os.Getenv("OBJECTSTORE_BACKEND"), "filesystem")
	cfg.Obj.Region = firstNonEmpty(os.Getenv("AWS_REGION"), "us-east-1")
	cfg.Obj.Bucket = strings.TrimSpace(os.Getenv("S3_BUCKET"))

	cfg.Worker.Concurrency = intFromEnv("WORKER_CONCURRENCY", 4)
	cfg.Worker.MaxPerTargetPerMinute = intFromEnv("MAX_PER_TARGET_PER_MINUTE", 1)
	cfg.Worker.MaxAttempts = intFromEnv("MAX_ATTEMPTS", 3)
	cfg.Worker.LeaseSeconds = intFromEnv("JOB_LEASE_SECONDS", 300)

	cfg.Vector.Metric = firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine")
	cfg.Vector.Dimensions = intFromEnv("VECTOR_DIMENSIONS", 3072)
	cfg.Vector.MaxCandidates = intFromEnv("MAX_CANDIDATES", 2000)
	cfg.Vector.IndexEnabled = boolFromEnv("VECTOR_INDEX_ENABLED", false)
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = cfg.Vector.Dimensions
	}

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-large"
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY (or EMBEDDING_API_KEY) is required to generate embeddings")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// String renders a redacted summary, safe to log at startup.
func (c Config) String() string {
	return fmt.Sprintf("docsvcd config: host=%s port=%d database=%s embedding_model=%s vector_dim=%d batch_size=%d",
		c.Host, c.Port, redactDSN(c.DatabaseURL), c.Embedding.Model, c.Vector.Dimensions, c.Batch.Size)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if idx := strings.Index(dsn, "@"); idx != -1 {
		return "***" + dsn[idx:]
	}
	return "***"
}
