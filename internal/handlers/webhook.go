package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"facetag/internal/middleware"
	"facetag/internal/service"
)

// ReceiveData answers a verified delivery with the body it was sent.
func (h HandlerSet) ReceiveData(c *gin.Context) {
	body, ok := middleware.RawBody(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature_required"})
		return
	}

	if _, err := h.webhooks.Receive(c.Request.Context(), body); err != nil {
		if errors.Is(err, service.ErrInvalidPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
			return
		}
		h.log.Error().Err(err).Msg("store detection result failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
