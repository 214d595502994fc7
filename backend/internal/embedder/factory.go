package embedder

import (
	"fmt"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/cache"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/provider"
)

// New builds the configured embedder. The returned value owns its model
// handle; share it rather than calling New per request.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var load Loader
	model := cfg.Model
	switch cfg.Provider {
	case "hash":
		// hash vectors are not comparable with any real model's
		model = fmt.Sprintf("hash-%d", cfg.Dimensions)
		load = HashLoader(cfg.Dimensions)
	case "ollama":
		load = ProviderLoader(provider.NewOllamaProviderWithConfig(cfg.BaseURL, cfg.APIKey), cfg.Model, cfg.Dimensions)
	case "openai":
		load = ProviderLoader(provider.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey), cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	var e Embedder = NewLazy(model, cfg.Dimensions, load)
	if cfg.CacheSize > 0 {
		e = NewCached(e, cache.NewEmbeddingCache(cfg.CacheSize, cfg.CacheTTL))
	}
	return e, nil
}
