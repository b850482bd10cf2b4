package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports readiness. check may be nil.
type HealthHandler struct {
	check func(ctx context.Context) error
}

func NewHealthHandler(check func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{check: check}
}

func (h *HealthHandler) Health(c *gin.Context) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryFloat(c *gin.Context, key string) *float64 {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return nil
	}
	return &v
}
