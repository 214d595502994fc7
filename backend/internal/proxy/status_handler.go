package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// health responds with basic service metadata for uptime checks
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "llm-guardrail"})
}

// status serves GET /api/status
func (s *Server) status(c *gin.Context) {
	examples, err := s.Corpus.Count(c.Request.Context())
	corpus := gin.H{"collection": s.Corpus.Collection(), "examples": examples}
	if err != nil {
		corpus["error"] = err.Error()
	}

	loaded := false
	if s.Embedding.Loaded != nil {
		loaded = s.Embedding.Loaded()
	}

	cls := gin.H{"mode": s.Config.Classifier.Mode, "name": s.Classifier}
	if s.ClassifierHealth != nil {
		cls["reachable"] = s.ClassifierHealth(c.Request.Context())
	}

	resp := gin.H{
		"provider":   s.Config.Provider.Type,
		"classifier": cls,
		"vector":     gin.H{"backend": s.Config.Vector.Backend},
		"embedding":  gin.H{"model": s.Embedding.Model, "loaded": loaded},
		"corpus":     corpus,
		"threshold":  s.Config.Guardrail.SimilarityThreshold,
		"topK":       s.Config.Guardrail.TopK,
	}
	if s.Providers != nil {
		resp["providers"] = s.Providers.ListProviders()
	}
	if s.Policy != nil {
		resp["policyVersion"] = s.Policy.PolicyVersion()
	}
	if s.Breakers != nil {
		resp["breakers"] = s.Breakers()
	}
	c.JSON(http.StatusOK, resp)
}
