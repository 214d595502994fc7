package proxy

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/provider"
	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// chatRequest is the guarded chat body. Guardrails defaults to on.
type chatRequest struct {
	Messages   []models.Message `json:"messages"`
	Model      string           `json:"model"`
	Stream     bool             `json:"stream"`
	APIKey     string           `json:"apiKey"`
	Guardrails *bool            `json:"guardrails"`
}

// validate rejects conversations the guardrail cannot vouch for. Clients
// may only send user and assistant turns; system prompts are server-side.
func (r chatRequest) validate() string {
	if r.Stream {
		return "streaming responses are not supported"
	}
	for _, m := range r.Messages {
		switch m.Role {
		case "user", "assistant":
		case "system":
			return "system messages cannot be supplied by the client"
		default:
			return "unknown message role " + m.Role
		}
	}
	if models.LastUserMessage(r.Messages) == "" {
		return "a user message is required"
	}
	return ""
}

func (r chatRequest) guarded() bool {
	return r.Guardrails == nil || *r.Guardrails
}

type blockedResponse struct {
	Blocked    bool    `json:"blocked"`
	Message    string  `json:"message"`
	Layer      string  `json:"layer"`
	Reason     string  `json:"reason"`
	Risk       string  `json:"risk"`
	Confidence float64 `json:"confidence"`
	RequestID  string  `json:"requestId"`
}

// chatHandler serves POST /api/chat. Every client-supplied turn goes through
// the guardrail first; a conversation with any blocked turn is never
// forwarded to the provider.
func (s *Server) chatHandler(c *gin.Context) {
	log := GetRequestLogger(c)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		sendError(c, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	if req.guarded() {
		v, err := s.checkConversation(c.Request.Context(), req.Messages)
		if err != nil {
			s.checkFailed(c, err)
			return
		}
		c.Header("X-Guardrail-Request-ID", v.RequestID)
		if v.Blocked {
			c.Header("X-Guardrail-Blocked", "true")
			c.JSON(http.StatusOK, blockedResponse{
				Blocked:    true,
				Message:    v.Explanation(),
				Layer:      string(v.TriggeringLayer),
				Reason:     v.Reason,
				Risk:       string(v.RiskLevel()),
				Confidence: math.Round(v.Confidence()*100) / 100,
				RequestID:  v.RequestID,
			})
			return
		}
	} else {
		log.Warn("guardrails disabled by caller")
	}

	llmReq := &models.LLMRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if llmReq.Model == "" {
		llmReq.Model = s.Config.Provider.Model
	}

	p, err := s.Providers.Route(llmReq)
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, "provider_error", err.Error())
		return
	}
	if req.APIKey != "" {
		p = provider.WithAPIKey(p, req.APIKey)
	}

	resp, err := p.Chat(c.Request.Context(), llmReq)
	if err != nil {
		log.WithError(err).WithField("provider", p.Name()).Error("provider request failed")
		var se *provider.StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			sendError(c, http.StatusUnauthorized, "provider_error", "provider rejected the API key")
			return
		}
		sendError(c, http.StatusBadGateway, "provider_error", "Failed to get a response from the provider")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocked": false,
		"message": resp.Text(),
		"model":   resp.Model,
	})
}

// checkConversation checks each distinct turn, newest first, and returns the
// first blocking verdict or else the verdict for the newest turn.
func (s *Server) checkConversation(ctx context.Context, messages []models.Message) (*guardrail.Verdict, error) {
	seen := make(map[string]bool, len(messages))
	var newest *guardrail.Verdict
	for i := len(messages) - 1; i >= 0; i-- {
		text := messages[i].Content
		if seen[text] || (messages[i].Role == "assistant" && strings.TrimSpace(text) == "") {
			continue
		}
		seen[text] = true

		v, err := s.Guard.Check(ctx, text)
		if err != nil {
			return nil, err
		}
		if v.Blocked {
			return v, nil
		}
		if newest == nil {
			newest = v
		}
	}
	return newest, nil
}

var _ Checker = (*guardrail.Guard)(nil)
