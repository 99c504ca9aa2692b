package middlewares

import (
	"log/slog"
	"time"

	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-Id"

	// CtxRequestID is the gin context key holding the request id.
	CtxRequestID = "request_id"
)

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		ctx.Writer.Header().Set(requestIDHeader, id)
		ctx.Set(CtxRequestID, id)

		// log records written with the request context pick the id up
		ctx.Request = ctx.Request.WithContext(observability.WithRequestID(ctx.Request.Context(), id))

		ctx.Next()
	}
}

func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx *gin.Context) {
		start := time.Now()

		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path // fallback (e.g. 404)
		}

		status := ctx.Writer.Status()
		attrs := []any{
			"method", ctx.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		if userID, ok := UserIDFromContext(ctx); ok && userID != "" {
			attrs = append(attrs, "account_id", userID)
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}

		log.Log(ctx.Request.Context(), level, "http_request", attrs...)
	}
}
