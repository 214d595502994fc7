package proxy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
)

// checkRequest accepts the current {message} field and the legacy {content}
type checkRequest struct {
	Message *string `json:"message"`
	Content *string `json:"content"`
}

func (r checkRequest) text() (string, bool) {
	if r.Message != nil {
		return *r.Message, true
	}
	if r.Content != nil {
		return *r.Content, true
	}
	return "", false
}

// checkHandler serves POST /api/guardrail
func (s *Server) checkHandler(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request", "message must be a JSON string")
		return
	}
	text, ok := req.text()
	if !ok {
		sendError(c, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	v, err := s.Guard.Check(c.Request.Context(), text)
	if err != nil {
		s.checkFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, v.Response())
}

func (s *Server) checkFailed(c *gin.Context, err error) {
	if errors.Is(err, guardrail.ErrInvalidInput) {
		sendError(c, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	GetRequestLogger(c).WithError(err).Error("guardrail check failed")
	sendError(c, http.StatusInternalServerError, "guardrail_error", "guardrail check failed")
}
