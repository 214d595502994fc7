package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/similarity"
	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

type addExampleRequest struct {
	Example     string `json:"example"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type addedExample struct {
	Example     string          `json:"example"`
	Category    models.Category `json:"category"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
}

// adminStatus serves GET /api/admin
func (s *Server) adminStatus(c *gin.Context) {
	n, err := s.Corpus.Count(c.Request.Context())
	if err != nil {
		GetRequestLogger(c).WithError(err).Warn("corpus count failed")
		c.JSON(http.StatusOK, gin.H{
			"success":        false,
			"message":        "Vector store unavailable",
			"collection":     s.Corpus.Collection(),
			"status":         "unavailable",
			"embeddingModel": s.Embedding.Model,
			"examples":       0,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Guardrail corpus ready",
		"collection":     s.Corpus.Collection(),
		"status":         "ready",
		"embeddingModel": s.Embedding.Model,
		"examples":       n,
	})
}

// addExample serves POST /api/admin and POST /api/admin/examples
func (s *Server) addExample(c *gin.Context) {
	var req addExampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Example) == "" {
		sendError(c, http.StatusBadRequest, "invalid_request", "Example text is required")
		return
	}
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	severity, err := models.ParseSeverity(req.Severity)
	if err != nil {
		sendError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	description := req.Description
	if description == "" {
		description = models.DefaultDescription
	}

	ex := models.ThreatExample{
		ID:          similarity.NewExampleID(time.Now()),
		Text:        req.Example,
		Category:    category,
		Severity:    severity,
		Description: description,
		Source:      "admin",
	}
	if err := s.Corpus.Insert(c.Request.Context(), ex); err != nil {
		GetRequestLogger(c).WithError(err).Error("failed to add example")
		sendError(c, http.StatusInternalServerError, "store_error", "Failed to add example")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Example added successfully",
		"id":      ex.ID,
		"added": addedExample{
			Example:     ex.Text,
			Category:    ex.Category,
			Description: ex.Description,
			Severity:    ex.Severity,
		},
	})
}

// deleteExample serves DELETE /api/admin/examples/:id
func (s *Server) deleteExample(c *gin.Context) {
	id := c.Param("id")
	if err := s.Corpus.Delete(c.Request.Context(), id); err != nil {
		GetRequestLogger(c).WithError(err).WithField("example_id", id).Error("failed to delete example")
		sendError(c, http.StatusInternalServerError, "store_error", "Failed to delete example")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Example deleted", "id": id})
}
