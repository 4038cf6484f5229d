// Package jobs implements the render-job state machine. The database row is
// the single source of truth; every transition is guarded by a status
// predicate so terminal states are never overwritten, and attempts against
// terminal jobs are absorbed as logged warnings rather than errors.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/database"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
	"github.com/renderdeck/renderdeck/pkg/models"
)

const jobCacheTTL = 5 * time.Minute

// Repository is the persistence surface the manager needs
type Repository interface {
	CreateRenderJob(ctx context.Context, job *models.RenderJob) error
	GetRenderJob(ctx context.Context, id string) (*models.RenderJob, error)
	FindQueuedJob(ctx context.Context, projectID, userID string, window time.Duration) (*models.RenderJob, error)
	MarkProcessing(ctx context.Context, id string) (*models.RenderJob, error)
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	MarkCompleted(ctx context.Context, id, outputURL string) (*models.RenderJob, error)
	MarkFailed(ctx context.Context, id, errorMessage string) (*models.RenderJob, error)
	MarkCancelled(ctx context.Context, id string) (*models.RenderJob, error)
	ListRenderJobs(ctx context.Context, projectID string, limit int) ([]*models.RenderJob, error)
	DeleteRenderJob(ctx context.Context, id string) error
}

// Cache is the read-through job cache surface. May be nil-backed in tests.
type Cache interface {
	SetJob(ctx context.Context, job *models.RenderJob, ttl time.Duration) error
	GetJob(ctx context.Context, jobID string) (*models.RenderJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	SetJobProgress(ctx context.Context, jobID string, progress float64, ttl time.Duration) error
}

// Notifier delivers lifecycle webhooks
type Notifier interface {
	NotifyRenderStarted(ctx context.Context, job *models.RenderJob) error
	NotifyRenderCompleted(ctx context.Context, job *models.RenderJob, duration float64) error
	NotifyRenderFailed(ctx context.Context, job *models.RenderJob) error
}

// Manager owns render-job lifecycle transitions
type Manager struct {
	repo     Repository
	cache    Cache
	notifier Notifier
	logger   *logging.Logger
	window   time.Duration
}

// NewManager creates a job manager. cache and notifier may be nil.
func NewManager(repo Repository, cache Cache, notifier Notifier, cfg config.ResilienceConfig, logger *logging.Logger) *Manager {
	window := cfg.IdempotencyWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Manager{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		window:   window,
	}
}

// CreateJob creates a queued render job. Creation is idempotent: a queued
// job for the same project and user inside the window is returned instead
// of a duplicate. The second return value reports whether a new job was
// actually created.
func (m *Manager) CreateJob(ctx context.Context, projectID, userID string, settings models.RenderSettings) (*models.RenderJob, bool, error) {
	existing, err := m.repo.FindQueuedJob(ctx, projectID, userID, m.window)
	if err == nil {
		m.logger.WithJobID(existing.ID).Info("Returning existing queued job inside idempotency window")
		metrics.RecordJobCreated(true)
		return existing, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	job := &models.RenderJob{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		Status:    models.JobStatusQueued,
		Settings:  settings,
	}

	if err := m.repo.CreateRenderJob(ctx, job); err != nil {
		return nil, false, err
	}

	metrics.RecordJobCreated(false)
	m.invalidate(ctx, job.ID)
	m.logger.LogJobTransition(job.ID, "", models.JobStatusQueued)

	return job, true, nil
}

// StartJob moves a queued job to processing and fires render.started.
// A missing or already-terminal job is logged, not treated as an error;
// the nil job tells the caller to skip the work.
func (m *Manager) StartJob(ctx context.Context, id string) (*models.RenderJob, error) {
	job, err := m.repo.MarkProcessing(ctx, id)
	if errors.Is(err, database.ErrTransitionRejected) {
		m.logger.WithJobID(id).Warn("Ignoring start for job not in queued state")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.JobsInProgress.Inc()
	m.invalidate(ctx, id)
	m.logger.LogJobTransition(id, models.JobStatusQueued, models.JobStatusProcessing)

	if m.notifier != nil {
		if err := m.notifier.NotifyRenderStarted(ctx, job); err != nil {
			m.logger.WithJobID(id).Warnf("Failed to send render.started webhook: %v", err)
		}
	}

	return job, nil
}

// UpdateProgress records progress for a processing job. Values are clamped
// to [0,100]; the store keeps them monotonic, so late out-of-order updates
// never move the bar backwards. Status is untouched.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	err := m.repo.UpdateJobProgress(ctx, id, progress)
	if errors.Is(err, database.ErrTransitionRejected) {
		m.logger.WithJobID(id).Warn("Ignoring progress for job not in processing state")
		return nil
	}
	if err != nil {
		return err
	}

	if m.cache != nil {
		if err := m.cache.SetJobProgress(ctx, id, progress, jobCacheTTL); err != nil {
			m.logger.WithJobID(id).Warnf("Failed to cache progress: %v", err)
		}
	}

	return nil
}

// CompleteJob moves a processing job to completed with its output URL and
// fires render.completed.
func (m *Manager) CompleteJob(ctx context.Context, id, outputURL string) error {
	job, err := m.repo.MarkCompleted(ctx, id, outputURL)
	if errors.Is(err, database.ErrTransitionRejected) {
		m.logger.WithJobID(id).Warn("Ignoring completion for job not in processing state")
		return nil
	}
	if err != nil {
		return err
	}

	m.recordTerminal(job)
	m.invalidate(ctx, id)
	m.logger.LogJobTransition(id, models.JobStatusProcessing, models.JobStatusCompleted)

	if m.notifier != nil {
		if err := m.notifier.NotifyRenderCompleted(ctx, job, jobDuration(job)); err != nil {
			m.logger.WithJobID(id).Warnf("Failed to send render.completed webhook: %v", err)
		}
	}

	return nil
}

// FailJob moves a non-terminal job to failed with a human-readable cause
// and fires render.failed.
func (m *Manager) FailJob(ctx context.Context, id, cause string) error {
	job, err := m.repo.MarkFailed(ctx, id, cause)
	if errors.Is(err, database.ErrTransitionRejected) {
		m.logger.WithJobID(id).Warn("Ignoring failure for job already in a terminal state")
		return nil
	}
	if err != nil {
		return err
	}

	m.recordTerminal(job)
	m.invalidate(ctx, id)
	m.logger.WithJobID(id).Errorf("Job failed: %s", cause)

	if m.notifier != nil {
		if err := m.notifier.NotifyRenderFailed(ctx, job); err != nil {
			m.logger.WithJobID(id).Warnf("Failed to send render.failed webhook: %v", err)
		}
	}

	return nil
}

// CancelJob cancels a queued or processing job. Cancelling a terminal job
// is absorbed as a warning.
func (m *Manager) CancelJob(ctx context.Context, id string) (*models.RenderJob, error) {
	job, err := m.repo.MarkCancelled(ctx, id)
	if errors.Is(err, database.ErrTransitionRejected) {
		m.logger.WithJobID(id).Warn("Ignoring cancel for job already in a terminal state")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.recordTerminal(job)
	m.invalidate(ctx, id)
	m.logger.LogJobTransition(id, "", models.JobStatusCancelled)

	return job, nil
}

// GetJob returns a job, serving from cache when possible
func (m *Manager) GetJob(ctx context.Context, id string) (*models.RenderJob, error) {
	if m.cache != nil {
		if job, err := m.cache.GetJob(ctx, id); err == nil && job != nil {
			return job, nil
		}
	}

	job, err := m.repo.GetRenderJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if err := m.cache.SetJob(ctx, job, jobCacheTTL); err != nil {
			m.logger.WithJobID(id).Warnf("Failed to cache job: %v", err)
		}
	}

	return job, nil
}

// ListJobs lists jobs, optionally scoped to a project
func (m *Manager) ListJobs(ctx context.Context, projectID string, limit int) ([]*models.RenderJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return m.repo.ListRenderJobs(ctx, projectID, limit)
}

// RemoveJob deletes a job record and evicts it from cache
func (m *Manager) RemoveJob(ctx context.Context, id string) error {
	if err := m.repo.DeleteRenderJob(ctx, id); err != nil {
		return err
	}
	m.invalidate(ctx, id)
	return nil
}

func (m *Manager) invalidate(ctx context.Context, id string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.DeleteJob(ctx, id); err != nil {
		m.logger.WithJobID(id).Warnf("Failed to invalidate job cache: %v", err)
	}
}

func (m *Manager) recordTerminal(job *models.RenderJob) {
	// Only jobs that actually started were counted in-progress.
	if job.StartedAt != nil {
		metrics.JobsInProgress.Dec()
	}
	metrics.RecordJobCompleted(job.Status, jobDuration(job), job.Settings.Codec, job.Settings.Quality)
}

func jobDuration(job *models.RenderJob) float64 {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt).Seconds()
}
