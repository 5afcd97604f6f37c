package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := gin.H{
		"status":      "ok",
		"environment": h.cfg.Environment,
	}
	code := http.StatusOK

	for _, check := range h.checks {
		status := "ok"
		if err := check.ping(ctx); err != nil {
			status = "error"
			resp["status"] = "degraded"
			code = http.StatusServiceUnavailable
			h.log.Error().Err(err).Str("check", check.name).Msg("health check failed")
		}
		resp[check.name] = status
	}

	c.JSON(code, resp)
}
