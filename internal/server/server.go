package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/datht30102002/keygate/internal/config"
	"github.com/datht30102002/keygate/internal/handler"
	"github.com/datht30102002/keygate/internal/middleware"
	"github.com/datht30102002/keygate/internal/repository"
	"github.com/datht30102002/keygate/internal/service"
	"github.com/datht30102002/keygate/internal/storage"
	"github.com/gin-gonic/gin"
)

type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres

	usageTracker  *service.UsageTracker
	requestLogger *middleware.RequestLogger

	authService   *service.AuthService
	apiKeyService *service.APIKeyService

	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	apiKeyHandler    *handler.APIKeyHandler
	analyticsHandler *handler.AnalyticsHandler

	httpServer *http.Server
}

func New(cfg *config.Config, postgres *storage.Postgres, redis *storage.RedisClient) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	userRepo := repository.NewUserRepository(postgres)
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	requestLogRepo := repository.NewRequestLogRepository(postgres)

	usageTracker := service.NewUsageTracker(apiKeyRepo, cfg.APIKeys.UsageQueueSize, cfg.APIKeys.UsageWorkers)
	usageTracker.Start()

	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryMins)
	userService := service.NewUserService(userRepo)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis, usageTracker, &cfg.APIKeys)
	analyticsService := service.NewAnalyticsService(requestLogRepo)

	s := &Server{
		router:           router,
		config:           cfg,
		redis:            redis,
		postgres:         postgres,
		usageTracker:     usageTracker,
		authService:      authService,
		apiKeyService:    apiKeyService,
		authHandler:      handler.NewAuthHandler(authService),
		userHandler:      handler.NewUserHandler(userService),
		apiKeyHandler:    handler.NewAPIKeyHandler(apiKeyService),
		analyticsHandler: handler.NewAnalyticsHandler(analyticsService),
	}

	if cfg.RequestLog.Enabled {
		s.requestLogger = middleware.NewRequestLogger(requestLogRepo, cfg.RequestLog.BufferSize)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())

	if s.requestLogger != nil {
		s.router.Use(s.requestLogger.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	api := s.router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/token", s.authHandler.Token)
	}

	users := api.Group("/users")
	{
		users.POST("", s.userHandler.Create)
		users.GET("", middleware.RequireAPIKey(s.apiKeyService), s.userHandler.List)

		authed := users.Group("", middleware.RequireAuth(s.authService))
		{
			authed.GET("/me", s.userHandler.Me)
			authed.GET("/:id", s.userHandler.Get)
			authed.PATCH("/:id", s.userHandler.Update)
			authed.DELETE("/:id", s.userHandler.Delete)
		}
	}

	keys := api.Group("/api-keys")
	{
		authed := keys.Group("", middleware.RequireAuth(s.authService))
		{
			authed.POST("/new", s.apiKeyHandler.Create)
			authed.GET("/list", s.apiKeyHandler.List)
			authed.DELETE("/revoke", s.apiKeyHandler.Revoke)
			authed.PATCH("/renew", s.apiKeyHandler.Renew)
		}

		// Rate limiting wraps the guard so probing is throttled before
		// any key lookup happens.
		keys.GET("/check_key",
			middleware.RateLimit(s.redis, &s.config.RateLimit),
			middleware.RequireAPIKey(s.apiKeyService),
			s.apiKeyHandler.Check,
		)
	}

	admin := api.Group("/admin", middleware.RequireAuth(s.authService))
	{
		admin.GET("/analytics", s.analyticsHandler.GetSummary)
		admin.GET("/analytics/keys/:hash", s.analyticsHandler.GetAPIKeyStats)
		admin.GET("/logs", s.analyticsHandler.GetLogs)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "keygate",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting server on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, then drains the background workers so
// queued usage updates and request logs are flushed before exit.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.usageTracker.Stop()
	if s.requestLogger != nil {
		s.requestLogger.Stop()
	}

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
