package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prepin/attempt-engine/internal/config"
	"github.com/prepin/attempt-engine/internal/handler"
	"github.com/prepin/attempt-engine/internal/middleware"
	"github.com/prepin/attempt-engine/internal/response"
	"github.com/prepin/attempt-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
	}

	// ─── 2. Learner Group (JWT + Single Device Session) ────────────────
	learner := router.Group("/api/v1/learner")
	learner.Use(middleware.RequireLearnerJWT(authService))
	learner.Use(middleware.CheckSingleDeviceSession(authService))
	{
		learner.GET("/me", handlers.Auth.Me)
		learner.POST("/logout", handlers.Auth.Logout)

		learner.GET("/templates", handlers.Attempt.ListTemplates)
		// Starting lives under the template; everything after that is
		// addressed by the attempt ID it returns.
		learner.POST("/templates/:template_id/start", handlers.Attempt.Start)
		learner.GET("/attempts/:attempt_id/state", handlers.Attempt.State)
		learner.PUT("/attempts/:attempt_id/answers", handlers.Attempt.SetAnswer)
		learner.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		learner.POST("/attempts/:attempt_id/cancel", handlers.Attempt.Cancel)
	}

	// ─── 3. WebSocket Group (JWT via Query Token) ──────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireLearnerWSAuth(authService))
	wsGroup.Use(middleware.CheckSingleDeviceSession(authService))
	{
		wsGroup.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
