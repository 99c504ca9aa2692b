package middlewares

import "github.com/gin-gonic/gin"

const (
	// JSON only; nothing is rendered or framed.
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	hsts   = "max-age=63072000; includeSubDomains"
)

// SecurityHeaders sets response hardening headers. Auth responses carry tokens, so nothing is cached.
// withHSTS should be false when the service is reached over plain HTTP (local dev).
func SecurityHeaders(withHSTS bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", apiCSP)
		h.Set("Cache-Control", "no-store")
		if withHSTS {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}
