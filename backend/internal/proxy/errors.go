package proxy

import (
	"github.com/gin-gonic/gin"
)

// GuardrailErrorResponse is returned for requests the service rejects
type GuardrailErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func sendError(c *gin.Context, status int, code, message string) {
	c.JSON(status, GuardrailErrorResponse{
		Error:     code,
		Code:      code,
		Message:   message,
		RequestID: requestID(c),
	})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	sendError(c, status, code, message)
	c.Abort()
}
