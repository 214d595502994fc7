package proxy

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/logger"
)

const (
	RequestIDKey    = "requestID"
	RequestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID assigns a request id, honouring a well-formed incoming one, and
// places it in the gin context, the request context and the response header.
func RequestID(base *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.New().String()
		}
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Set(loggerKey, base.WithField("request_id", rid))
		c.Request = c.Request.WithContext(guardrail.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}

// GetRequestLogger retrieves the request-scoped logger from context or the global logger
func GetRequestLogger(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get(loggerKey); ok {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return logger.Log()
}

func requestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// RequestLogger logs basic request information along with the request_id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		GetRequestLogger(c).WithFields(logrus.Fields{
			"status": c.Writer.Status(),
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"client": c.ClientIP(),
		}).Debug("handled request")
	}
}

// Recovery turns handler panics into a 500 JSON error
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		GetRequestLogger(c).Errorf("PANIC: %v", recovered)
		abortWithError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	})
}

// AdminAuth requires an HS256 bearer token signed with secret. An empty
// secret leaves the admin endpoints open.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			GetRequestLogger(c).WithError(err).Warn("rejected admin token")
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		c.Next()
	}
}
