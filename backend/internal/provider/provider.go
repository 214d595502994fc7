package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// Provider is the interface that all LLM providers must implement
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// Chat sends a non-streaming completion request
	Chat(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error)

	// Embed returns one vector per input, in input order
	Embed(ctx context.Context, model string, inputs []string) ([][]float64, error)

	// ParseRequest parses raw request body into normalized LLMRequest
	ParseRequest(body []byte) (*models.LLMRequest, error)

	// ParseResponse parses raw response body into normalized LLMResponse
	ParseResponse(body []byte) (*models.LLMResponse, error)
}

// StatusError is returned when the upstream answers with a non-2xx status
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Code, e.Body)
}

// BaseProvider provides common functionality for all providers
type BaseProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewBaseProvider creates a new base provider
func NewBaseProvider(baseURL, apiKey string) *BaseProvider {
	return &BaseProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// postJSON marshals in, POSTs it and decodes the body into out
func (b *BaseProvider) postJSON(ctx context.Context, name, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{Provider: name, Code: resp.StatusCode, Body: snippet}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}

// WithAPIKey returns a copy of p that authenticates with key. Providers of
// unknown concrete type are returned unchanged.
func WithAPIKey(p Provider, key string) Provider {
	if key == "" {
		return p
	}
	switch v := p.(type) {
	case *OpenAIProvider:
		return NewOpenAIProvider(v.BaseURL, key)
	case *OllamaProvider:
		return NewOllamaProviderWithConfig(v.BaseURL, key)
	default:
		return p
	}
}
