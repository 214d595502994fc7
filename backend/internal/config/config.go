package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Guardrail  GuardrailConfig
	Classifier ClassifierConfig
	Embedding  EmbeddingConfig
	Vector     VectorConfig
	Seed       SeedConfig
	Provider   ProviderConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Admin      AdminConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
}

// GuardrailConfig tunes the two-layer decision pipeline
type GuardrailConfig struct {
	SimilarityThreshold float64       // strict ">" cut-off on cosine similarity
	TopK                int           // neighbours fetched per similarity search
	LayerTimeout        time.Duration // per-layer budget before the layer counts as unavailable
	MaxInputChars       int
	ExposeMatchedText   bool // include the matched example text in similarity evidence
	BreakerFailures     int
	BreakerCooldown     time.Duration
}

// ClassifierConfig selects and tunes the semantic classifier
type ClassifierConfig struct {
	Mode        string // heuristic, llm, hybrid, remote
	Threshold   float64
	PolicyPath  string
	PolicyWatch bool
	RemoteURL   string
	Model       string
}

// EmbeddingConfig selects the embedding backend
type EmbeddingConfig struct {
	Provider   string // hash, ollama, openai
	Model      string
	Dimensions int
	BaseURL    string
	APIKey     string
	CacheSize  int
	CacheTTL   time.Duration
}

// VectorConfig selects the vector store backend
type VectorConfig struct {
	Backend    string // memory, sqlite, qdrant
	Collection string
	SQLitePath string
	QdrantURL  string
	QdrantKey  string
}

// SeedConfig controls cold-start corpus seeding
type SeedConfig struct {
	OnStart bool
	File    string
}

// ProviderConfig holds the upstream LLM provider settings
type ProviderConfig struct {
	Type    string // openai, ollama
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json, text
	Output    string // stdout, file path
	AuditPath string // verdict audit log; empty disables
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// AdminConfig protects the corpus admin endpoints
type AdminConfig struct {
	JWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SEC", 30)) * time.Second,
			WriteTimeout:   time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 60)) * time.Second,
			MaxRequestSize: int64(getEnvInt("SERVER_MAX_REQUEST_SIZE", 1<<20)),
		},
		Guardrail: GuardrailConfig{
			SimilarityThreshold: getEnvFloat("GUARDRAIL_SIMILARITY_THRESHOLD", 0.7),
			TopK:                getEnvInt("GUARDRAIL_TOP_K", 5),
			LayerTimeout:        time.Duration(getEnvInt("GUARDRAIL_LAYER_TIMEOUT_MS", 3000)) * time.Millisecond,
			MaxInputChars:       getEnvInt("GUARDRAIL_MAX_INPUT_CHARS", 16384),
			ExposeMatchedText:   getEnvBool("GUARDRAIL_EXPOSE_MATCHED_TEXT", true),
			BreakerFailures:     getEnvInt("GUARDRAIL_BREAKER_FAILURES", 5),
			BreakerCooldown:     time.Duration(getEnvInt("GUARDRAIL_BREAKER_COOLDOWN_SEC", 30)) * time.Second,
		},
		Classifier: ClassifierConfig{
			Mode:        strings.ToLower(getEnv("CLASSIFIER_MODE", "heuristic")),
			Threshold:   getEnvFloat("CLASSIFIER_THRESHOLD", 0.5),
			PolicyPath:  getEnv("CLASSIFIER_POLICY_PATH", ""),
			PolicyWatch: getEnvBool("CLASSIFIER_POLICY_WATCH", false),
			RemoteURL:   getEnv("CLASSIFIER_REMOTE_URL", ""),
			Model:       getEnv("CLASSIFIER_MODEL", "llama3.1"),
		},
		Embedding: EmbeddingConfig{
			Provider:   strings.ToLower(getEnv("EMBEDDING_PROVIDER", "hash")),
			Model:      getEnv("EMBEDDING_MODEL", "all-minilm"),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 384),
			BaseURL:    getEnv("EMBEDDING_URL", ""),
			APIKey:     getEnv("EMBEDDING_KEY", ""),
			CacheSize:  getEnvInt("EMBEDDING_CACHE_SIZE", 1024),
			CacheTTL:   time.Duration(getEnvInt("EMBEDDING_CACHE_TTL_SEC", 600)) * time.Second,
		},
		Vector: VectorConfig{
			Backend:    strings.ToLower(getEnv("VECTOR_BACKEND", "memory")),
			Collection: getEnv("VECTOR_COLLECTION", "prompt_injection_examples"),
			SQLitePath: getEnv("VECTOR_SQLITE_PATH", "data/guardrail.db"),
			QdrantURL:  getEnv("QDRANT_URL", "http://localhost:6334"),
			QdrantKey:  getEnv("QDRANT_API_KEY", ""),
		},
		Seed: SeedConfig{
			OnStart: getEnvBool("SEED_ON_START", true),
			File:    getEnv("SEED_FILE", ""),
		},
		Provider: ProviderConfig{
			Type:    strings.ToLower(getEnv("PROVIDER_TYPE", "ollama")),
			BaseURL: getEnv("PROVIDER_URL", ""),
			APIKey:  providerKey(),
			Model:   getEnv("PROVIDER_MODEL", "llama3.1"),
			Timeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_SEC", 60)) * time.Second,
		},
		Logging: LoggingConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			Output:    getEnv("LOG_OUTPUT", "stdout"),
			AuditPath: getEnv("AUDIT_LOG_PATH", ""),
		},
		Metrics: MetricsConfig{
			Enabled:  getEnvBool("METRICS_ENABLED", true),
			Endpoint: getEnv("METRICS_ENDPOINT", "/metrics"),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
	}

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = defaultProviderURL(cfg.Provider.Type)
	}
	// Embeddings default to the chat provider's endpoint and key
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Provider.BaseURL
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Provider.APIKey
	}

	return cfg
}

// Validate rejects configurations the guardrail cannot run with
func (c *Config) Validate() error {
	g := c.Guardrail
	if !(g.SimilarityThreshold >= 0 && g.SimilarityThreshold <= 1) {
		return fmt.Errorf("GUARDRAIL_SIMILARITY_THRESHOLD must be within [0,1], got %v", g.SimilarityThreshold)
	}
	if g.TopK < 1 {
		return fmt.Errorf("GUARDRAIL_TOP_K must be >= 1, got %d", g.TopK)
	}
	if g.LayerTimeout <= 0 {
		return fmt.Errorf("GUARDRAIL_LAYER_TIMEOUT_MS must be positive")
	}
	if g.MaxInputChars < 1 {
		return fmt.Errorf("GUARDRAIL_MAX_INPUT_CHARS must be >= 1, got %d", g.MaxInputChars)
	}
	if g.BreakerFailures < 0 {
		return fmt.Errorf("GUARDRAIL_BREAKER_FAILURES must be non-negative")
	}

	switch c.Classifier.Mode {
	case "heuristic", "llm", "hybrid":
	case "remote":
		if c.Classifier.RemoteURL == "" {
			return fmt.Errorf("CLASSIFIER_REMOTE_URL is required when CLASSIFIER_MODE=remote")
		}
	default:
		return fmt.Errorf("unknown CLASSIFIER_MODE %q (heuristic, llm, hybrid, remote)", c.Classifier.Mode)
	}
	if !(c.Classifier.Threshold >= 0 && c.Classifier.Threshold <= 1) {
		return fmt.Errorf("CLASSIFIER_THRESHOLD must be within [0,1], got %v", c.Classifier.Threshold)
	}

	switch c.Embedding.Provider {
	case "hash", "ollama", "openai":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q (hash, ollama, openai)", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("EMBEDDING_MODEL cannot be empty")
	}

	switch c.Vector.Backend {
	case "memory", "sqlite", "qdrant":
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q (memory, sqlite, qdrant)", c.Vector.Backend)
	}
	if c.Vector.Collection == "" {
		return fmt.Errorf("VECTOR_COLLECTION cannot be empty")
	}

	switch c.Provider.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown PROVIDER_TYPE %q (openai, ollama)", c.Provider.Type)
	}

	return nil
}

// providerKey supports the legacy misspelled PROVIDE_KEY variable
func providerKey() string {
	if key := os.Getenv("PROVIDER_KEY"); key != "" {
		return key
	}
	return os.Getenv("PROVIDE_KEY")
}

func defaultProviderURL(providerType string) string {
	if providerType == "openai" {
		return "https://api.openai.com/v1"
	}
	return "http://localhost:11434"
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
