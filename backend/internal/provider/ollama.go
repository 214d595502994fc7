package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// OllamaProvider implements the Provider interface for Ollama
type OllamaProvider struct {
	*BaseProvider
}

// OllamaChatRequest represents an Ollama chat request
type OllamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaChatMessage    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaChatMessage represents a message in Ollama format
type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChatResponse represents an Ollama chat response
type OllamaChatResponse struct {
	Model           string            `json:"model"`
	Message         OllamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaProvider creates a new Ollama provider on the default local port
func NewOllamaProvider() *OllamaProvider {
	return NewOllamaProviderWithConfig("http://localhost:11434", "")
}

// NewOllamaProviderWithConfig creates a new Ollama provider with explicit config
func NewOllamaProviderWithConfig(baseURL, apiKey string) *OllamaProvider {
	return &OllamaProvider{
		BaseProvider: NewBaseProvider(strings.TrimRight(baseURL, "/"), apiKey),
	}
}

// Name returns the provider identifier
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// Chat sends a non-streaming /api/chat request
func (o *OllamaProvider) Chat(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	msgs := make([]OllamaChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = OllamaChatMessage{Role: m.Role, Content: m.Content}
	}
	payload := OllamaChatRequest{Model: req.Model, Messages: msgs}
	if req.Temperature > 0 {
		payload.Options = map[string]interface{}{"temperature": req.Temperature}
	}

	var out OllamaChatResponse
	if err := o.postJSON(ctx, o.Name(), o.BaseURL+"/api/chat", payload, &out); err != nil {
		return nil, err
	}
	return ollamaToModel(&out), nil
}

// Embed calls /api/embed
func (o *OllamaProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	var out ollamaEmbedResponse
	if err := o.postJSON(ctx, o.Name(), o.BaseURL+"/api/embed", ollamaEmbedRequest{Model: model, Input: inputs}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(inputs), len(out.Embeddings))
	}
	return out.Embeddings, nil
}

// ParseRequest parses raw request body into normalized LLMRequest
func (o *OllamaProvider) ParseRequest(body []byte) (*models.LLMRequest, error) {
	var ollamaReq OllamaChatRequest
	if err := json.Unmarshal(body, &ollamaReq); err != nil {
		return nil, err
	}

	messages := make([]models.Message, len(ollamaReq.Messages))
	for i, msg := range ollamaReq.Messages {
		messages[i] = models.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return &models.LLMRequest{
		Model:    ollamaReq.Model,
		Messages: messages,
		Stream:   ollamaReq.Stream,
	}, nil
}

// ParseResponse parses raw response body into normalized LLMResponse
func (o *OllamaProvider) ParseResponse(body []byte) (*models.LLMResponse, error) {
	var ollamaResp OllamaChatResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, err
	}
	return ollamaToModel(&ollamaResp), nil
}

func ollamaToModel(r *OllamaChatResponse) *models.LLMResponse {
	return &models.LLMResponse{
		Model: r.Model,
		Choices: []models.Choice{
			{
				Index: 0,
				Message: models.Message{
					Role:    r.Message.Role,
					Content: r.Message.Content,
				},
			},
		},
		Usage: models.Usage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		},
	}
}
