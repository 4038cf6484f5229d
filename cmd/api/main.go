package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/renderdeck/renderdeck/internal/cache"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/database"
	"github.com/renderdeck/renderdeck/internal/jobs"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
	"github.com/renderdeck/renderdeck/internal/middleware"
	"github.com/renderdeck/renderdeck/internal/queue"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/internal/tracing"
	"github.com/renderdeck/renderdeck/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	jobCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer jobCache.Close()

	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if err := q.SetupDeadLetterQueue(); err != nil {
		logger.Fatalf("Failed to set up dead letter queue: %v", err)
	}

	// One breaker per external dependency, shared across the process
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		Timeout:          cfg.Resilience.BreakerTimeout,
	})

	notifier := webhook.NewService(repo, breakers)
	manager := jobs.NewManager(repo, jobCache, notifier, cfg.Resilience, logger)

	api := &API{
		jobs:    manager,
		queue:   q,
		avatars: repo,
		health:  repo,
		cache:   jobCache,
		logger:  logger,
	}

	// Metrics on their own port so the scrape path bypasses rate limits
	metricsSrv := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	router := setupRouter(api, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Errorf("Metrics server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	router.GET("/health", api.healthCheck)

	limiter := middleware.NewRateLimiter(10, 20)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		// Render jobs
		v1.POST("/projects/:id/render", api.createRenderJob)
		v1.GET("/jobs", api.listJobs)
		v1.GET("/jobs/:id", api.getJob)
		v1.GET("/jobs/:id/progress", api.getJobProgress)
		v1.POST("/jobs/:id/cancel", api.cancelJob)
		v1.DELETE("/jobs/:id", api.deleteJob)

		// Avatar registry
		v1.GET("/avatars", api.listAvatars)
		v1.GET("/avatars/:id", api.getAvatar)
	}

	return router
}
