package http

import (
	"log/slog"

	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type RouterDeps struct {
	Env         string
	ServiceName string
	Log         *slog.Logger

	Accounts handlers.AccountService
	Store    handlers.Pinger
	Tokens   middlewares.TokenVerifier
	Prom     *observability.Prom

	CORSOrigins []string
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	r := gin.New()

	// middleware
	r.Use(middlewares.Recovery(deps.Log))
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(deps.ServiceName))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(deps.Log))
	r.Use(middlewares.SecurityHeaders(deps.Env != "dev" && deps.Env != "test"))
	r.Use(middlewares.CORSMiddleware(deps.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))

	// health
	h := handlers.NewHealthHandler(deps.Store)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.Prom != nil {
		r.GET("/metrics", deps.Prom.Handler())
	}

	authHandler := handlers.NewAuthHandler(deps.Accounts)
	authMw := middlewares.NewAuthMiddleware(deps.Tokens)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", middlewares.RequireJSON(), authHandler.Register)
		authGroup.POST("/login", middlewares.RequireJSON(), authHandler.Login)
		authGroup.GET("/verify", authHandler.Verify)
		authGroup.POST("/resend-verification", middlewares.RequireJSON(), authHandler.ResendVerification)
		authGroup.GET("/me", authMw.RequireAuth(), authHandler.Me)
	}

	admin := r.Group("/admin", authMw.RequireAuth(), authMw.RequireRole("admin"))
	admin.GET("/ping", authHandler.AdminPing)

	return r
}
