package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// OpenAIProvider implements the Provider interface for OpenAI and OpenAI-compatible APIs
type OpenAIProvider struct {
	*BaseProvider
}

// OpenAIChatRequest represents an OpenAI chat completion request
type OpenAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []OpenAIChatMessage `json:"messages"`
	Temperature float32             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// OpenAIChatMessage represents a message in OpenAI format
type OpenAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIChatResponse represents an OpenAI chat completion response
type OpenAIChatResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
	Usage   OpenAIUsage        `json:"usage"`
}

// OpenAIChatChoice represents a choice in the response
type OpenAIChatChoice struct {
	Index        int               `json:"index"`
	Message      OpenAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// OpenAIUsage represents token usage in the response
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(baseURL, apiKey string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(strings.TrimRight(baseURL, "/"), apiKey),
	}
}

// Name returns the provider identifier
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// Chat sends a chat completion request
func (o *OpenAIProvider) Chat(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	msgs := make([]OpenAIChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = OpenAIChatMessage{Role: m.Role, Content: m.Content}
	}
	payload := OpenAIChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var out OpenAIChatResponse
	if err := o.postJSON(ctx, o.Name(), o.BaseURL+"/chat/completions", payload, &out); err != nil {
		return nil, err
	}
	return openAIToModel(&out), nil
}

// Embed calls the /embeddings endpoint
func (o *OpenAIProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	var out openAIEmbeddingResponse
	if err := o.postJSON(ctx, o.Name(), o.BaseURL+"/embeddings", openAIEmbeddingRequest{Model: model, Input: inputs}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(inputs), len(out.Data))
	}

	vectors := make([][]float64, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// ParseRequest parses raw request body into normalized LLMRequest
func (o *OpenAIProvider) ParseRequest(body []byte) (*models.LLMRequest, error) {
	var openaiReq OpenAIChatRequest
	if err := json.Unmarshal(body, &openaiReq); err != nil {
		return nil, err
	}

	messages := make([]models.Message, len(openaiReq.Messages))
	for i, msg := range openaiReq.Messages {
		messages[i] = models.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return &models.LLMRequest{
		Model:       openaiReq.Model,
		Messages:    messages,
		Temperature: openaiReq.Temperature,
		MaxTokens:   openaiReq.MaxTokens,
		Stream:      openaiReq.Stream,
	}, nil
}

// ParseResponse parses raw response body into normalized LLMResponse
func (o *OpenAIProvider) ParseResponse(body []byte) (*models.LLMResponse, error) {
	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return nil, err
	}
	return openAIToModel(&openaiResp), nil
}

func openAIToModel(r *OpenAIChatResponse) *models.LLMResponse {
	choices := make([]models.Choice, len(r.Choices))
	for i, c := range r.Choices {
		choices[i] = models.Choice{
			Index: c.Index,
			Message: models.Message{
				Role:    c.Message.Role,
				Content: c.Message.Content,
			},
		}
	}

	return &models.LLMResponse{
		ID:      r.ID,
		Model:   r.Model,
		Choices: choices,
		Usage: models.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
}
