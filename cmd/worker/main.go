package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/renderdeck/renderdeck/internal/cache"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/database"
	"github.com/renderdeck/renderdeck/internal/encoder"
	"github.com/renderdeck/renderdeck/internal/engine"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/jobs"
	"github.com/renderdeck/renderdeck/internal/lipsync"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
	"github.com/renderdeck/renderdeck/internal/pipeline"
	"github.com/renderdeck/renderdeck/internal/queue"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/internal/storage"
	"github.com/renderdeck/renderdeck/internal/tracing"
	"github.com/renderdeck/renderdeck/internal/webhook"
	"github.com/renderdeck/renderdeck/pkg/models"
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
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName+"-worker", cfg.Tracing.JaegerEndpoint)
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

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	uploads := storage.NewOptimizedStorage(stor, storage.DefaultPartSize)

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

	selector := engine.NewSelector(cfg.Engines, breakers, logger)
	synth := lipsync.NewSynthesizer(cfg.LipSync, breakers, logger)
	enc := encoder.NewEncoder(cfg.Render.FFmpegPath, logger)

	renderer := pipeline.New(manager, selector, synth, enc, uploads, cfg.Render, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics endpoint for the worker process
	metricsSrv := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()
	defer metricsSrv.Shutdown(ctx)

	// Webhook deliveries that failed on first attempt get retried here
	go notifier.RetryWorker(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	handler := func(job *models.RenderJob) error {
		jobLogger := logger.WithJobID(job.ID).WithProjectID(job.ProjectID)
		jobLogger.Info("Processing render job")

		project, err := loadProject(ctx, stor, job.ProjectID)
		if err != nil {
			jobLogger.ErrorWithErr("Failed to load project definition", err)
			if ferr := manager.FailJob(ctx, job.ID, fmt.Sprintf("project definition unavailable: %v", err)); ferr != nil {
				jobLogger.ErrorWithErr("Failed to record job failure", ferr)
			}
			if derr := q.PublishToDeadLetterQueue(ctx, job, err.Error()); derr != nil {
				jobLogger.ErrorWithErr("Failed to dead-letter job", derr)
			}
			return nil
		}

		if err := renderer.Run(ctx, job.ID, project); err != nil {
			jobLogger.ErrorWithErr("Render pipeline error", err)

			// Transient infrastructure errors go back through the retry
			// queue; anything else fails the job and dead-letters it.
			if faults.IsRetryable(err) {
				if rerr := q.PublishToRetryQueue(ctx, job, job.Attempts); rerr != nil {
					jobLogger.ErrorWithErr("Failed to requeue job", rerr)
					return err
				}
				return nil
			}

			if ferr := manager.FailJob(ctx, job.ID, err.Error()); ferr != nil {
				jobLogger.ErrorWithErr("Failed to record job failure", ferr)
			}
			if derr := q.PublishToDeadLetterQueue(ctx, job, err.Error()); derr != nil {
				jobLogger.ErrorWithErr("Failed to dead-letter job", derr)
			}
			return nil
		}

		jobLogger.Info("Render job handled")
		return nil
	}

	logger.Info("Worker started, waiting for render jobs...")
	if err := q.ConsumeJobs(ctx, handler); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	<-ctx.Done()
	logger.Info("Worker stopped")
}

// loadProject fetches the timeline definition the editor saved to object
// storage under projects/{id}.json.
func loadProject(ctx context.Context, stor *storage.Storage, projectID string) (*models.TimelineProject, error) {
	objectName := fmt.Sprintf("projects/%s.json", projectID)

	reader, err := stor.Download(ctx, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", objectName, err)
	}
	defer reader.Close()

	var project models.TimelineProject
	if err := json.NewDecoder(reader).Decode(&project); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", objectName, err)
	}

	return &project, nil
}
