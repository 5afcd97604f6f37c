package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"facetag/internal/security"
)

const rawBodyKey = "raw_body"

// WebhookSignature verifies X-Signature against the exact request bytes.
// The verified body is kept on the context for the handler and the request
// body is reset so it can be read again.
func WebhookSignature(secret string, maxBody int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(security.HeaderSignature)
		if signature == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature_required"})
			return
		}

		reader := c.Request.Body
		if maxBody > 0 {
			reader = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}

		if !security.ValidatePayload(secret, body, signature) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		c.Set(rawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// RawBody returns the body verified by WebhookSignature.
func RawBody(c *gin.Context) ([]byte, bool) {
	value, ok := c.Get(rawBodyKey)
	if !ok {
		return nil, false
	}
	body, ok := value.([]byte)
	return body, ok
}
