package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	healthhandler "credential-lifecycle/backend/internal/health/handler"
	identityhandler "credential-lifecycle/backend/internal/identity/handler"
	"credential-lifecycle/backend/internal/logger"
	"credential-lifecycle/backend/internal/server/middleware"
)

// Deps holds the handlers and cross-cutting collaborators of the HTTP server.
type Deps struct {
	// Auth serves the /auth endpoints. Required.
	Auth *identityhandler.Handler
	// Verifier guards the authenticated /auth endpoints. Required.
	Verifier middleware.Verifier
	// Health serves GET /health. If nil, the route is not registered.
	Health *healthhandler.Handler
	Logger *zap.Logger
	// Tracer and Meter may be nil; the global tracer is used and request metrics are skipped.
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewRouter builds the gin engine.
//
// Route → handler mapping:
//   - /auth/*  → internal/identity/handler
//   - /health  → internal/health/handler
func NewRouter(deps Deps) *gin.Engine {
	zl := logger.OrNop(deps.Logger)
	r := gin.New()
	r.Use(
		middleware.Recovery(zl),
		middleware.Telemetry(zl, deps.Tracer, deps.Meter),
		middleware.Client(),
	)
	if deps.Health != nil {
		r.GET("/health", deps.Health.Health)
	}
	deps.Auth.Routes(r.Group("/auth"), middleware.Auth(deps.Verifier))
	return r
}
