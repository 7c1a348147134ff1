package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/promorang/maturity/api/handler"
)

type Handlers struct {
	Auth     *apiHandler.AuthHandler
	Maturity *apiHandler.MaturityHandler
	Health   *apiHandler.HealthHandler
}

func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)

	// Auth routes
	r.POST("/api/v1/auth/login", handlers.Auth.Login)
	r.POST("/api/v1/auth/refresh", handlers.Auth.Refresh)
	r.POST("/api/v1/auth/logout", authMiddleware(handlers.Auth.Logout))

	// Maturity routes, paths shared with the mobile and web clients
	maturity := r.Group("/api/maturity")
	maturity.GET("/state", authMiddleware(handlers.Maturity.GetState))
	maturity.POST("/action", authMiddleware(handlers.Maturity.RecordAction))
	maturity.GET("/actions", authMiddleware(handlers.Maturity.Actions))
	maturity.GET("/features/{feature}", authMiddleware(handlers.Maturity.Feature))
	maturity.PUT("/override", authMiddleware(handlers.Maturity.Override))

	return r
}
