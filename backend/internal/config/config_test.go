package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 0.7, cfg.Guardrail.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Guardrail.TopK)
	assert.Equal(t, 3*time.Second, cfg.Guardrail.LayerTimeout)
	assert.Equal(t, "prompt_injection_examples", cfg.Vector.Collection)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, "heuristic", cfg.Classifier.Mode)
	assert.Equal(t, "http://localhost:11434", cfg.Provider.BaseURL)
	assert.Equal(t, cfg.Provider.BaseURL, cfg.Embedding.BaseURL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GUARDRAIL_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("GUARDRAIL_TOP_K", "10")
	t.Setenv("GUARDRAIL_LAYER_TIMEOUT_MS", "250")
	t.Setenv("VECTOR_BACKEND", "SQLite")
	t.Setenv("PROVIDER_TYPE", "openai")
	t.Setenv("PROVIDE_KEY", "legacy-key")

	cfg := Load()

	assert.Equal(t, 0.85, cfg.Guardrail.SimilarityThreshold)
	assert.Equal(t, 10, cfg.Guardrail.TopK)
	assert.Equal(t, 250*time.Millisecond, cfg.Guardrail.LayerTimeout)
	assert.Equal(t, "sqlite", cfg.Vector.Backend)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Provider.BaseURL)
	assert.Equal(t, "legacy-key", cfg.Provider.APIKey)
	assert.Equal(t, "legacy-key", cfg.Embedding.APIKey)
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("GUARDRAIL_TOP_K", "five")
	t.Setenv("GUARDRAIL_SIMILARITY_THRESHOLD", "high")

	cfg := Load()
	assert.Equal(t, 5, cfg.Guardrail.TopK)
	assert.Equal(t, 0.7, cfg.Guardrail.SimilarityThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"threshold above one", func(c *Config) { c.Guardrail.SimilarityThreshold = 1.2 }, "GUARDRAIL_SIMILARITY_THRESHOLD"},
		{"negative threshold", func(c *Config) { c.Guardrail.SimilarityThreshold = -0.1 }, "GUARDRAIL_SIMILARITY_THRESHOLD"},
		{"zero k", func(c *Config) { c.Guardrail.TopK = 0 }, "GUARDRAIL_TOP_K"},
		{"zero timeout", func(c *Config) { c.Guardrail.LayerTimeout = 0 }, "GUARDRAIL_LAYER_TIMEOUT_MS"},
		{"unknown classifier", func(c *Config) { c.Classifier.Mode = "magic" }, "CLASSIFIER_MODE"},
		{"remote without url", func(c *Config) { c.Classifier.Mode = "remote" }, "CLASSIFIER_REMOTE_URL"},
		{"unknown embedder", func(c *Config) { c.Embedding.Provider = "bert" }, "EMBEDDING_PROVIDER"},
		{"zero dims", func(c *Config) { c.Embedding.Dimensions = 0 }, "EMBEDDING_DIMENSIONS"},
		{"unknown backend", func(c *Config) { c.Vector.Backend = "milvus" }, "VECTOR_BACKEND"},
		{"unknown provider", func(c *Config) { c.Provider.Type = "gemini" }, "PROVIDER_TYPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RejectsNaNThresholds(t *testing.T) {
	for _, key := range []string{"GUARDRAIL_SIMILARITY_THRESHOLD", "CLASSIFIER_THRESHOLD"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "NaN")
			err := Load().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate_BoundaryThresholds(t *testing.T) {
	for _, th := range []float64{0, 1} {
		cfg := Load()
		cfg.Guardrail.SimilarityThreshold = th
		assert.NoError(t, cfg.Validate())
	}
}
