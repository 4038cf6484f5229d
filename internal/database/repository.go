package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrTransitionRejected is returned when a guarded status update matched no
// row, meaning the job was missing or already past the expected state.
var ErrTransitionRejected = errors.New("transition rejected")

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Render jobs

const renderJobColumns = `id, project_id, user_id, status, progress, render_settings,
       attempts, output_url, error_message, started_at, completed_at, created_at, updated_at`

// CreateRenderJob creates a new render job record
func (r *Repository) CreateRenderJob(ctx context.Context, job *models.RenderJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	query := `
		INSERT INTO render_jobs (id, project_id, user_id, status, progress, render_settings, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.ID, job.ProjectID, job.UserID, job.Status, job.Progress, job.Settings, job.Attempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create render job: %w", err)
	}

	return nil
}

// GetRenderJob retrieves a render job by ID
func (r *Repository) GetRenderJob(ctx context.Context, id string) (*models.RenderJob, error) {
	query := `SELECT ` + renderJobColumns + ` FROM render_jobs WHERE id = $1`

	job, err := scanRenderJob(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}

	return job, nil
}

// FindQueuedJob looks for a queued job for the same project and user created
// within the idempotency window. Returns ErrNotFound when there is none.
func (r *Repository) FindQueuedJob(ctx context.Context, projectID, userID string, window time.Duration) (*models.RenderJob, error) {
	query := `
		SELECT ` + renderJobColumns + `
		FROM render_jobs
		WHERE project_id = $1 AND user_id = $2 AND status = $3 AND created_at > $4
		ORDER BY created_at DESC
		LIMIT 1
	`

	cutoff := time.Now().Add(-window)
	job, err := scanRenderJob(r.db.Pool.QueryRow(ctx, query, projectID, userID, models.JobStatusQueued, cutoff))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find queued job: %w", err)
	}

	return job, nil
}

// MarkProcessing moves a queued job to processing and stamps started_at.
// The status predicate makes the transition a no-op on any other state.
func (r *Repository) MarkProcessing(ctx context.Context, id string) (*models.RenderJob, error) {
	query := `
		UPDATE render_jobs
		SET status = $2, started_at = now(), attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING ` + renderJobColumns

	job, err := scanRenderJob(r.db.Pool.QueryRow(ctx, query, id, models.JobStatusProcessing, models.JobStatusQueued))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransitionRejected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}

	return job, nil
}

// UpdateJobProgress writes a progress value for a processing job. GREATEST
// keeps progress monotonic even if updates land out of order.
func (r *Repository) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	query := `
		UPDATE render_jobs
		SET progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1 AND status = $3
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, progress, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransitionRejected
	}

	return nil
}

// MarkCompleted moves a processing job to completed with its output URL.
func (r *Repository) MarkCompleted(ctx context.Context, id, outputURL string) (*models.RenderJob, error) {
	query := `
		UPDATE render_jobs
		SET status = $2, progress = 100, output_url = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING ` + renderJobColumns

	job, err := scanRenderJob(r.db.Pool.QueryRow(ctx, query,
		id, models.JobStatusCompleted, outputURL, models.JobStatusProcessing))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransitionRejected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark job completed: %w", err)
	}

	return job, nil
}

// MarkFailed moves a non-terminal job to failed with a human-readable cause.
func (r *Repository) MarkFailed(ctx context.Context, id, errorMessage string) (*models.RenderJob, error) {
	query := `
		UPDATE render_jobs
		SET status = $2, error_message = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING ` + renderJobColumns

	job, err := scanRenderJob(r.db.Pool.QueryRow(ctx, query,
		id, models.JobStatusFailed, errorMessage,
		models.JobStatusQueued, models.JobStatusProcessing))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransitionRejected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark job failed: %w", err)
	}

	return job, nil
}

// MarkCancelled cancels a queued or processing job.
func (r *Repository) MarkCancelled(ctx context.Context, id string) (*models.RenderJob, error) {
	query := `
		UPDATE render_jobs
		SET status = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING ` + renderJobColumns

	job, err := scanRenderJob(r.db.Pool.QueryRow(ctx, query,
		id, models.JobStatusCancelled,
		models.JobStatusQueued, models.JobStatusProcessing))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransitionRejected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark job cancelled: %w", err)
	}

	return job, nil
}

// ListRenderJobs retrieves jobs, optionally scoped to a project
func (r *Repository) ListRenderJobs(ctx context.Context, projectID string, limit int) ([]*models.RenderJob, error) {
	query := `SELECT ` + renderJobColumns + ` FROM render_jobs`
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list render jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.RenderJob
	for rows.Next() {
		job, err := scanRenderJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// DeleteRenderJob removes a job record
func (r *Repository) DeleteRenderJob(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM render_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete render job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanRenderJob(row pgx.Row) (*models.RenderJob, error) {
	var job models.RenderJob
	var outputURL, errorMessage *string

	err := row.Scan(
		&job.ID, &job.ProjectID, &job.UserID, &job.Status, &job.Progress, &job.Settings,
		&job.Attempts, &outputURL, &errorMessage, &job.StartedAt, &job.CompletedAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if outputURL != nil {
		job.OutputURL = *outputURL
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}

	return &job, nil
}

// Avatars

// GetAvatar retrieves an avatar registry entry by ID
func (r *Repository) GetAvatar(ctx context.Context, id string) (*models.AvatarDefinition, error) {
	query := `
		SELECT id, name, engine, gender, style, tags, model_path,
		       max_width, max_height, hosted_id, hosted_voice_id
		FROM avatars
		WHERE id = $1
	`

	var avatar models.AvatarDefinition
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&avatar.ID, &avatar.Name, &avatar.Engine, &avatar.Gender, &avatar.Style,
		&avatar.Tags, &avatar.ModelPath, &avatar.MaxWidth, &avatar.MaxHeight,
		&avatar.HostedID, &avatar.HostedVoiceID,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get avatar: %w", err)
	}

	return &avatar, nil
}

// ListAvatars retrieves all avatar registry entries
func (r *Repository) ListAvatars(ctx context.Context) ([]*models.AvatarDefinition, error) {
	query := `
		SELECT id, name, engine, gender, style, tags, model_path,
		       max_width, max_height, hosted_id, hosted_voice_id
		FROM avatars
		ORDER BY name
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list avatars: %w", err)
	}
	defer rows.Close()

	var avatars []*models.AvatarDefinition
	for rows.Next() {
		var avatar models.AvatarDefinition
		err := rows.Scan(
			&avatar.ID, &avatar.Name, &avatar.Engine, &avatar.Gender, &avatar.Style,
			&avatar.Tags, &avatar.ModelPath, &avatar.MaxWidth, &avatar.MaxHeight,
			&avatar.HostedID, &avatar.HostedVoiceID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan avatar: %w", err)
		}
		avatars = append(avatars, &avatar)
	}

	return avatars, nil
}

// Webhooks

// GetWebhooksByEvent retrieves active webhook subscriptions for an event
func (r *Repository) GetWebhooksByEvent(ctx context.Context, event string) ([]*models.Webhook, error) {
	query := `
		SELECT id, user_id, url, secret, events, is_active, created_at
		FROM webhooks
		WHERE $1 = ANY(events) AND is_active = true
	`

	rows, err := r.db.Pool.Query(ctx, query, event)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		var wh models.Webhook
		err := rows.Scan(&wh.ID, &wh.UserID, &wh.URL, &wh.Secret, &wh.Events, &wh.IsActive, &wh.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, &wh)
	}

	return webhooks, nil
}

// CreateDelivery creates a webhook delivery record
func (r *Repository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, event, payload, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		delivery.ID, delivery.WebhookID, delivery.Event, delivery.Payload,
		delivery.Status, delivery.RetryCount, delivery.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}

	return nil
}

// UpdateDelivery updates a webhook delivery record
func (r *Repository) UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2, status_code = $3, response_body = $4, retry_count = $5,
		    next_retry_at = $6, completed_at = $7
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		delivery.ID, delivery.Status, delivery.StatusCode, delivery.ResponseBody,
		delivery.RetryCount, delivery.NextRetryAt, delivery.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}

	return nil
}

// GetPendingDeliveries retrieves deliveries waiting for a retry
func (r *Repository) GetPendingDeliveries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error) {
	query := `
		SELECT id, webhook_id, event, payload, status, status_code, response_body,
		       retry_count, next_retry_at, completed_at, created_at
		FROM webhook_deliveries
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, models.WebhookDeliveryStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		var d models.WebhookDelivery
		var statusCode *int
		var responseBody *string
		err := rows.Scan(
			&d.ID, &d.WebhookID, &d.Event, &d.Payload, &d.Status, &statusCode,
			&responseBody, &d.RetryCount, &d.NextRetryAt, &d.CompletedAt, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		if statusCode != nil {
			d.StatusCode = *statusCode
		}
		if responseBody != nil {
			d.ResponseBody = *responseBody
		}
		deliveries = append(deliveries, &d)
	}

	return deliveries, nil
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}
