package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store Pinger
}

func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports ready only while the credential store answers.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	if h.store == nil {
		ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(cctx); err != nil {
		slog.WarnContext(ctx.Request.Context(), "readiness check failed", observability.Err(err))
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
