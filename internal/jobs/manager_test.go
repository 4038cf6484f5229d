package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/database"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// mockRepo keeps jobs in memory and enforces the same status guards the
// SQL predicates do.
type mockRepo struct {
	jobs map[string]*models.RenderJob
}

func newMockRepo() *mockRepo {
	return &mockRepo{jobs: make(map[string]*models.RenderJob)}
}

func (m *mockRepo) CreateRenderJob(ctx context.Context, job *models.RenderJob) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockRepo) GetRenderJob(ctx context.Context, id string) (*models.RenderJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *mockRepo) FindQueuedJob(ctx context.Context, projectID, userID string, window time.Duration) (*models.RenderJob, error) {
	cutoff := time.Now().Add(-window)
	for _, job := range m.jobs {
		if job.ProjectID == projectID && job.UserID == userID &&
			job.Status == models.JobStatusQueued && job.CreatedAt.After(cutoff) {
			clone := *job
			return &clone, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *mockRepo) MarkProcessing(ctx context.Context, id string) (*models.RenderJob, error) {
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusQueued {
		return nil, database.ErrTransitionRejected
	}
	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	job.Attempts++
	clone := *job
	return &clone, nil
}

func (m *mockRepo) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return database.ErrTransitionRejected
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (m *mockRepo) MarkCompleted(ctx context.Context, id, outputURL string) (*models.RenderJob, error) {
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return nil, database.ErrTransitionRejected
	}
	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.OutputURL = outputURL
	job.CompletedAt = &now
	clone := *job
	return &clone, nil
}

func (m *mockRepo) MarkFailed(ctx context.Context, id, errorMessage string) (*models.RenderJob, error) {
	job, ok := m.jobs[id]
	if !ok || models.IsTerminal(job.Status) {
		return nil, database.ErrTransitionRejected
	}
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errorMessage
	job.CompletedAt = &now
	clone := *job
	return &clone, nil
}

func (m *mockRepo) MarkCancelled(ctx context.Context, id string) (*models.RenderJob, error) {
	job, ok := m.jobs[id]
	if !ok || models.IsTerminal(job.Status) {
		return nil, database.ErrTransitionRejected
	}
	now := time.Now()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	clone := *job
	return &clone, nil
}

func (m *mockRepo) ListRenderJobs(ctx context.Context, projectID string, limit int) ([]*models.RenderJob, error) {
	var out []*models.RenderJob
	for _, job := range m.jobs {
		if projectID != "" && job.ProjectID != projectID {
			continue
		}
		clone := *job
		out = append(out, &clone)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepo) DeleteRenderJob(ctx context.Context, id string) error {
	if _, ok := m.jobs[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

type mockNotifier struct {
	started   []string
	completed []string
	failed    []string
}

func (n *mockNotifier) NotifyRenderStarted(ctx context.Context, job *models.RenderJob) error {
	n.started = append(n.started, job.ID)
	return nil
}

func (n *mockNotifier) NotifyRenderCompleted(ctx context.Context, job *models.RenderJob, duration float64) error {
	n.completed = append(n.completed, job.ID)
	return nil
}

func (n *mockNotifier) NotifyRenderFailed(ctx context.Context, job *models.RenderJob) error {
	n.failed = append(n.failed, job.ID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *mockRepo, *mockNotifier) {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	assert.NoError(t, err)
	repo := newMockRepo()
	notifier := &mockNotifier{}
	m := NewManager(repo, nil, notifier, config.ResilienceConfig{IdempotencyWindow: time.Minute}, logger)
	return m, repo, notifier
}

var testSettings = models.RenderSettings{Codec: "h264", Quality: "high", FrameRate: 30}

func TestCreateJobIdempotentWithinWindow(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, created, err := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, err)
	assert.True(t, created)

	second, created, err := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different project is a different job.
	third, created, err := m.CreateJob(ctx, "project-2", "user-1", testSettings)
	assert.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateJobNewAfterFirstStarts(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, _, err := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, err)

	// Once the first job leaves queued, dedup no longer applies.
	_, err = m.StartJob(ctx, first.ID)
	assert.NoError(t, err)

	second, created, err := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStartJobFiresWebhook(t *testing.T) {
	m, _, notifier := newTestManager(t)
	ctx := context.Background()

	job, _, err := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, err)

	started, err := m.StartJob(ctx, job.ID)
	assert.NoError(t, err)
	assert.NotNil(t, started)
	assert.Equal(t, models.JobStatusProcessing, started.Status)
	assert.Equal(t, 1, started.Attempts)
	assert.Equal(t, []string{job.ID}, notifier.started)
}

func TestStartMissingJobIsLoggedNotFatal(t *testing.T) {
	m, _, notifier := newTestManager(t)

	started, err := m.StartJob(context.Background(), "no-such-job")
	assert.NoError(t, err)
	assert.Nil(t, started)
	assert.Empty(t, notifier.started)
}

func TestUpdateProgressClampAndMonotonic(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	job, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	m.StartJob(ctx, job.ID)

	assert.NoError(t, m.UpdateProgress(ctx, job.ID, 150))
	assert.Equal(t, 100.0, repo.jobs[job.ID].Progress)

	// A late lower value never moves the bar backwards.
	assert.NoError(t, m.UpdateProgress(ctx, job.ID, 40))
	assert.Equal(t, 100.0, repo.jobs[job.ID].Progress)

	assert.NoError(t, m.UpdateProgress(ctx, job.ID, -5))
	assert.Equal(t, 100.0, repo.jobs[job.ID].Progress)
}

func TestUpdateProgressDoesNotChangeStatus(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	job, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	m.StartJob(ctx, job.ID)

	assert.NoError(t, m.UpdateProgress(ctx, job.ID, 50))
	assert.Equal(t, models.JobStatusProcessing, repo.jobs[job.ID].Status)
}

func TestCompleteJobSetsOutputAndWebhook(t *testing.T) {
	m, repo, notifier := newTestManager(t)
	ctx := context.Background()

	job, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	m.StartJob(ctx, job.ID)

	assert.NoError(t, m.CompleteJob(ctx, job.ID, "https://cdn.example/video.mp4"))

	stored := repo.jobs[job.ID]
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100.0, stored.Progress)
	assert.Equal(t, "https://cdn.example/video.mp4", stored.OutputURL)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, []string{job.ID}, notifier.completed)
}

func TestTerminalStatesAbsorbTransitions(t *testing.T) {
	m, repo, notifier := newTestManager(t)
	ctx := context.Background()

	job, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	m.StartJob(ctx, job.ID)
	assert.NoError(t, m.CompleteJob(ctx, job.ID, "https://cdn.example/video.mp4"))

	// Every further transition is a logged no-op, never an error.
	assert.NoError(t, m.FailJob(ctx, job.ID, "too late"))
	assert.NoError(t, m.UpdateProgress(ctx, job.ID, 10))
	cancelled, err := m.CancelJob(ctx, job.ID)
	assert.NoError(t, err)
	assert.Nil(t, cancelled)
	started, err := m.StartJob(ctx, job.ID)
	assert.NoError(t, err)
	assert.Nil(t, started)

	stored := repo.jobs[job.ID]
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
	assert.Empty(t, notifier.failed)
}

func TestFailJobFromQueuedAndProcessing(t *testing.T) {
	m, repo, notifier := newTestManager(t)
	ctx := context.Background()

	queued, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, m.FailJob(ctx, queued.ID, "validation failed"))
	assert.Equal(t, models.JobStatusFailed, repo.jobs[queued.ID].Status)
	assert.Equal(t, "validation failed", repo.jobs[queued.ID].ErrorMessage)

	processing, _, _ := m.CreateJob(ctx, "project-2", "user-1", testSettings)
	m.StartJob(ctx, processing.ID)
	assert.NoError(t, m.FailJob(ctx, processing.ID, "encoder exited with status 1"))
	assert.Equal(t, models.JobStatusFailed, repo.jobs[processing.ID].Status)

	assert.Equal(t, []string{queued.ID, processing.ID}, notifier.failed)
}

func TestCancelJobFromQueuedAndProcessing(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	queued, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	cancelled, err := m.CancelJob(ctx, queued.ID)
	assert.NoError(t, err)
	assert.NotNil(t, cancelled)
	assert.Equal(t, models.JobStatusCancelled, repo.jobs[queued.ID].Status)

	processing, _, _ := m.CreateJob(ctx, "project-2", "user-1", testSettings)
	m.StartJob(ctx, processing.ID)
	cancelled, err = m.CancelJob(ctx, processing.ID)
	assert.NoError(t, err)
	assert.NotNil(t, cancelled)
}

func TestRemoveJob(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	job, _, _ := m.CreateJob(ctx, "project-1", "user-1", testSettings)
	assert.NoError(t, m.RemoveJob(ctx, job.ID))
	assert.Empty(t, repo.jobs)

	assert.Error(t, m.RemoveJob(ctx, job.ID))
}

func TestListJobsScopedToProject(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.CreateJob(ctx, "project-1", "user-1", testSettings)
	m.CreateJob(ctx, "project-2", "user-2", testSettings)

	jobs, err := m.ListJobs(ctx, "project-1", 10)
	assert.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, "project-1", jobs[0].ProjectID)

	all, err := m.ListJobs(ctx, "", 10)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}
