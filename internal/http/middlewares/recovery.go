package middlewares

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery turns a panic into the standard 500 envelope and logs it with the request context.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.ErrorContext(c.Request.Context(), "panic recovered",
			"panic", recovered,
			"route", c.FullPath(),
		)
		abortWith(c, http.StatusInternalServerError, "internal_error", "Something went wrong")
	})
}
