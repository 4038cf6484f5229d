package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/renderdeck/renderdeck/internal/database"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// JobService is the job lifecycle surface the handlers use
type JobService interface {
	CreateJob(ctx context.Context, projectID, userID string, settings models.RenderSettings) (*models.RenderJob, bool, error)
	GetJob(ctx context.Context, id string) (*models.RenderJob, error)
	ListJobs(ctx context.Context, projectID string, limit int) ([]*models.RenderJob, error)
	CancelJob(ctx context.Context, id string) (*models.RenderJob, error)
	RemoveJob(ctx context.Context, id string) error
}

// JobPublisher hands freshly created jobs to the worker queue
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.RenderJob) error
}

// AvatarStore serves the avatar registry
type AvatarStore interface {
	GetAvatar(ctx context.Context, id string) (*models.AvatarDefinition, error)
	ListAvatars(ctx context.Context) ([]*models.AvatarDefinition, error)
}

// HealthChecker reports dependency liveness
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CacheStore is the Redis surface the handlers use: avatar read-through,
// fast progress reads, and the distributed submission limit.
type CacheStore interface {
	GetAvatar(ctx context.Context, id string) (*models.AvatarDefinition, error)
	SetAvatar(ctx context.Context, avatar *models.AvatarDefinition, ttl time.Duration) error
	GetJobProgress(ctx context.Context, jobID string) (float64, error)
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// Avatar entries are immutable, so an hour in cache is safe. The
// submission limit is per user across all API replicas, on top of the
// per-instance token buckets.
const (
	avatarCacheTTL   = time.Hour
	submissionLimit  = int64(30)
	submissionWindow = time.Minute
)

// API holds the handler dependencies. cache may be nil; every cache path
// degrades to the backing store.
type API struct {
	jobs    JobService
	queue   JobPublisher
	avatars AvatarStore
	health  HealthChecker
	cache   CacheStore
	logger  *logging.Logger
}

// renderRequest is the body of a render submission
type renderRequest struct {
	UserID   string                `json:"user_id"`
	Settings models.RenderSettings `json:"settings"`
}

// healthCheck reports service liveness
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if api.health != nil {
		if err := api.health.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// createRenderJob submits a project for rendering. Submission is
// idempotent: a queued job for the same project and user inside the
// dedup window is returned with 200 instead of creating a duplicate.
func (api *API) createRenderJob(c *gin.Context) {
	projectID := c.Param("id")

	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if api.cache != nil {
		allowed, err := api.cache.CheckRateLimit(c.Request.Context(), "render:"+userID, submissionLimit, submissionWindow)
		if err != nil {
			// Redis trouble must not block submissions.
			api.logger.Warn("Submission limit check failed: " + err.Error())
		} else if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Render submission limit exceeded, retry later"})
			return
		}
	}

	if req.Settings.Codec == "" {
		req.Settings.Codec = "h264"
	}
	if req.Settings.Quality == "" {
		req.Settings.Quality = "medium"
	}

	job, created, err := api.jobs.CreateJob(c.Request.Context(), projectID, userID, req.Settings)
	if err != nil {
		if faults.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !created {
		c.JSON(http.StatusOK, job)
		return
	}

	if err := api.queue.PublishJob(c.Request.Context(), job); err != nil {
		api.logger.WithJobID(job.ID).ErrorWithErr("Failed to publish job", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue job"})
		return
	}

	c.JSON(http.StatusCreated, job)
}

// getJob returns one render job
func (api *API) getJob(c *gin.Context) {
	job, err := api.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// listJobs lists render jobs, optionally scoped to a project
func (api *API) listJobs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	jobs, err := api.jobs.ListJobs(c.Request.Context(), c.Query("project_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// cancelJob cancels a queued or processing job. Cancelling a job already
// in a terminal state is a no-op, reported as such.
func (api *API) cancelJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := api.jobs.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if job == nil {
		c.JSON(http.StatusOK, gin.H{
			"message": "Job is already in a terminal state",
			"job_id":  jobID,
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// deleteJob removes a job record
func (api *API) deleteJob(c *gin.Context) {
	jobID := c.Param("id")

	if err := api.jobs.RemoveJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Job deleted", "job_id": jobID})
}

// listAvatars lists the avatar registry
func (api *API) listAvatars(c *gin.Context) {
	avatars, err := api.avatars.ListAvatars(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"avatars": avatars})
}

// getAvatar returns one avatar registry entry, read through the cache
func (api *API) getAvatar(c *gin.Context) {
	avatarID := c.Param("id")

	if api.cache != nil {
		cached, err := api.cache.GetAvatar(c.Request.Context(), avatarID)
		if err != nil {
			api.logger.Warn("Avatar cache read failed: " + err.Error())
		} else if cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	avatar, err := api.avatars.GetAvatar(c.Request.Context(), avatarID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Avatar not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if api.cache != nil {
		if err := api.cache.SetAvatar(c.Request.Context(), avatar, avatarCacheTTL); err != nil {
			api.logger.Warn("Avatar cache write failed: " + err.Error())
		}
	}

	c.JSON(http.StatusOK, avatar)
}

// getJobProgress serves the progress figure the worker publishes to Redis
// on every stage transition; polling clients hit this instead of the job
// row. A cache miss reads the row.
func (api *API) getJobProgress(c *gin.Context) {
	jobID := c.Param("id")

	if api.cache != nil {
		progress, err := api.cache.GetJobProgress(c.Request.Context(), jobID)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"job_id": jobID, "progress": progress})
			return
		}
	}

	job, err := api.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "progress": job.Progress})
}
