// Package proxy exposes the guardrail over HTTP: the check endpoint, the
// guarded chat endpoint that consumes its verdicts, and the corpus admin API.
package proxy

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/provider"
	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// Checker is the guardrail as the HTTP layer sees it
type Checker interface {
	Check(ctx context.Context, text string) (*guardrail.Verdict, error)
}

// Corpus is the admin view of the similarity index
type Corpus interface {
	Insert(ctx context.Context, ex models.ThreatExample) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Collection() string
}

// Server holds the collaborators behind the HTTP routes
type Server struct {
	Config     *config.Config
	Guard      Checker
	Corpus     Corpus
	Providers  *provider.Router
	Classifier string // active classifier name, for status
	Embedding  EmbeddingInfo
	Policy     *cedar.Engine
	Breakers   func() map[string]interface{}
	Log        *logrus.Entry

	// ClassifierHealth reports whether a remote classifier answers; nil for
	// local ones
	ClassifierHealth func(ctx context.Context) bool
}

// EmbeddingInfo describes the embedder for status endpoints
type EmbeddingInfo struct {
	Model  string
	Loaded func() bool
}

// NewRouter builds the gin engine with every route registered
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(s.Log), Recovery(), RequestLogger())
	if s.Config.Server.MaxRequestSize > 0 {
		r.Use(limitBody(s.Config.Server.MaxRequestSize))
	}

	r.GET("/health", s.health)
	if s.Config.Metrics.Enabled {
		r.GET(s.Config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.GET("/status", s.status)
	api.POST("/guardrail", s.checkHandler)
	api.POST("/chat", s.chatHandler)

	admin := api.Group("/admin", AdminAuth(s.Config.Admin.JWTSecret))
	admin.GET("", s.adminStatus)
	admin.POST("", s.addExample)
	admin.POST("/examples", s.addExample)
	admin.DELETE("/examples/:id", s.deleteExample)

	return r
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
