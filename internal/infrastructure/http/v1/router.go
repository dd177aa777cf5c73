// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"fiscalseq/internal/domain/auth"
	"fiscalseq/internal/domain/sequence"
	"fiscalseq/internal/infrastructure/http/v1/handlers"
	"fiscalseq/internal/infrastructure/http/v1/middleware"
	"fiscalseq/internal/infrastructure/storage/postgres"
	"fiscalseq/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Pool is the database connection pool (health checks).
	Pool *postgres.Pool

	// Logger for request logging.
	Logger *logger.Logger

	// Version reported by /health/info.
	Version string

	// AuthService handles login, key issuance and API-key resolution.
	AuthService *auth.Service

	// TokenValidator validates session tokens for the admin surface.
	TokenValidator middleware.TokenValidator

	// Allocator services number requests.
	Allocator *sequence.Allocator

	// AdminService manages the range lifecycle.
	AdminService *sequence.AdminService

	// AuditService exposes the per-range audit trail.
	AuditService *postgres.AuditService
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	baseHandler := handlers.NewBaseHandler()

	// Health endpoints (no auth)
	healthHandler := handlers.NewHealthHandler(cfg.Pool, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1
	apiV1 := router.Group("/api/v1")
	{
		// Auth: public login plus session-protected key issuance.
		authHandler := handlers.NewAuthHandler(baseHandler, cfg.AuthService)
		publicAuth := apiV1.Group("/auth")
		protectedAuth := apiV1.Group("/auth")
		protectedAuth.Use(middleware.Auth(cfg.TokenValidator))
		authHandler.RegisterRoutes(publicAuth, protectedAuth)

		// Number allocation: the machine-caller surface, API-key protected.
		allocHandler := handlers.NewAllocationHandler(baseHandler, cfg.Allocator)
		ncf := apiV1.Group("/ncf")
		ncf.Use(middleware.APIKey(cfg.AuthService))
		allocHandler.RegisterRoutes(ncf)

		// Range administration: session-protected.
		seqHandler := handlers.NewSequenceHandler(baseHandler, cfg.AdminService, cfg.AuditService)
		sequences := apiV1.Group("/sequences")
		sequences.Use(middleware.Auth(cfg.TokenValidator))
		seqHandler.RegisterRoutes(sequences)
	}

	return router
}
