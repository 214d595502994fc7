package embedder

import (
	"context"
	"fmt"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/provider"
)

// ProviderModel embeds through an Ollama or OpenAI-compatible endpoint
type ProviderModel struct {
	p     provider.Provider
	model string
}

// EmbedBatch forwards texts to the provider
func (m *ProviderModel) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return m.p.Embed(ctx, m.model, texts)
}

// ProviderLoader returns a Loader that warms the remote model with a test
// request and checks it produces dims-length vectors. Ollama pulls the model
// into memory on this first call, which is the slow step.
func ProviderLoader(p provider.Provider, model string, dims int) Loader {
	return func(ctx context.Context) (Model, error) {
		m := &ProviderModel{p: p, model: model}
		vecs, err := m.EmbedBatch(ctx, []string{"warmup"})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) != dims {
			got := 0
			if len(vecs) == 1 {
				got = len(vecs[0])
			}
			return nil, fmt.Errorf("model %s produces %d dimensions, collection expects %d", model, got, dims)
		}
		return m, nil
	}
}
