package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/renderdeck/renderdeck/internal/database"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/pkg/models"
)

type stubJobService struct {
	jobs      map[string]*models.RenderJob
	nextID    string
	dedupe    bool
	cancelled []string
}

func (s *stubJobService) CreateJob(ctx context.Context, projectID, userID string, settings models.RenderSettings) (*models.RenderJob, bool, error) {
	if s.dedupe {
		for _, job := range s.jobs {
			if job.ProjectID == projectID && job.UserID == userID && job.Status == models.JobStatusQueued {
				return job, false, nil
			}
		}
	}
	job := &models.RenderJob{
		ID:        s.nextID,
		ProjectID: projectID,
		UserID:    userID,
		Status:    models.JobStatusQueued,
		Settings:  settings,
	}
	s.jobs[job.ID] = job
	return job, true, nil
}

func (s *stubJobService) GetJob(ctx context.Context, id string) (*models.RenderJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return job, nil
}

func (s *stubJobService) ListJobs(ctx context.Context, projectID string, limit int) ([]*models.RenderJob, error) {
	var out []*models.RenderJob
	for _, job := range s.jobs {
		if projectID == "" || job.ProjectID == projectID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *stubJobService) CancelJob(ctx context.Context, id string) (*models.RenderJob, error) {
	job, ok := s.jobs[id]
	if !ok || models.IsTerminal(job.Status) {
		return nil, nil
	}
	job.Status = models.JobStatusCancelled
	s.cancelled = append(s.cancelled, id)
	return job, nil
}

func (s *stubJobService) RemoveJob(ctx context.Context, id string) error {
	if _, ok := s.jobs[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

type stubPublisher struct {
	published []*models.RenderJob
	err       error
}

func (s *stubPublisher) PublishJob(ctx context.Context, job *models.RenderJob) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, job)
	return nil
}

type stubAvatars struct {
	avatars map[string]*models.AvatarDefinition
}

func (s *stubAvatars) GetAvatar(ctx context.Context, id string) (*models.AvatarDefinition, error) {
	avatar, ok := s.avatars[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return avatar, nil
}

func (s *stubAvatars) ListAvatars(ctx context.Context) ([]*models.AvatarDefinition, error) {
	var out []*models.AvatarDefinition
	for _, avatar := range s.avatars {
		out = append(out, avatar)
	}
	return out, nil
}

type stubCache struct {
	avatars  map[string]*models.AvatarDefinition
	progress map[string]float64
	counts   map[string]int64
	stored   []string
	limit    int64 // overrides the handler's limit when set
}

func newStubCache() *stubCache {
	return &stubCache{
		avatars:  map[string]*models.AvatarDefinition{},
		progress: map[string]float64{},
		counts:   map[string]int64{},
	}
}

func (s *stubCache) GetAvatar(ctx context.Context, id string) (*models.AvatarDefinition, error) {
	return s.avatars[id], nil
}

func (s *stubCache) SetAvatar(ctx context.Context, avatar *models.AvatarDefinition, ttl time.Duration) error {
	s.avatars[avatar.ID] = avatar
	s.stored = append(s.stored, avatar.ID)
	return nil
}

func (s *stubCache) GetJobProgress(ctx context.Context, jobID string) (float64, error) {
	progress, ok := s.progress[jobID]
	if !ok {
		return 0, database.ErrNotFound
	}
	return progress, nil
}

func (s *stubCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	if s.limit > 0 {
		limit = s.limit
	}
	s.counts[key]++
	return s.counts[key] <= limit, nil
}

func newTestAPI(t *testing.T) (*API, *stubJobService, *stubPublisher, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := logging.NewDefaultLogger()
	assert.NoError(t, err)

	svc := &stubJobService{jobs: map[string]*models.RenderJob{}, nextID: "job-1"}
	pub := &stubPublisher{}
	api := &API{
		jobs:  svc,
		queue: pub,
		avatars: &stubAvatars{avatars: map[string]*models.AvatarDefinition{
			"anna": {ID: "anna", Name: "Anna", Engine: models.EngineUE5},
		}},
		logger: logger,
	}

	return api, svc, pub, setupRouter(api, logger)
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestCreateRenderJob(t *testing.T) {
	_, _, pub, router := newTestAPI(t)

	w := postJSON(router, "/api/v1/projects/project-1/render", renderRequest{
		UserID:   "user-1",
		Settings: models.RenderSettings{Codec: "h265", Quality: "high"},
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var job models.RenderJob
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "project-1", job.ProjectID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "h265", job.Settings.Codec)

	// The new job went to the worker queue.
	assert.Len(t, pub.published, 1)
}

func TestCreateRenderJobDefaultsSettings(t *testing.T) {
	_, svc, _, router := newTestAPI(t)

	w := postJSON(router, "/api/v1/projects/project-1/render", renderRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusCreated, w.Code)

	job := svc.jobs["job-1"]
	assert.Equal(t, "h264", job.Settings.Codec)
	assert.Equal(t, "medium", job.Settings.Quality)
}

func TestCreateRenderJobRequiresUser(t *testing.T) {
	_, _, pub, router := newTestAPI(t)

	w := postJSON(router, "/api/v1/projects/project-1/render", renderRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.published)
}

func TestCreateRenderJobDeduplicates(t *testing.T) {
	_, svc, pub, router := newTestAPI(t)
	svc.dedupe = true

	req := renderRequest{UserID: "user-1", Settings: models.RenderSettings{Codec: "h264"}}

	first := postJSON(router, "/api/v1/projects/project-1/render", req)
	assert.Equal(t, http.StatusCreated, first.Code)

	// The duplicate returns the existing job and publishes nothing new.
	second := postJSON(router, "/api/v1/projects/project-1/render", req)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, pub.published, 1)

	var job models.RenderJob
	assert.NoError(t, json.Unmarshal(second.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.ID)
}

func TestGetJob(t *testing.T) {
	_, svc, _, router := newTestAPI(t)
	svc.jobs["job-9"] = &models.RenderJob{ID: "job-9", Status: models.JobStatusProcessing}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/job-9", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelJob(t *testing.T) {
	_, svc, _, router := newTestAPI(t)
	svc.jobs["job-9"] = &models.RenderJob{ID: "job-9", Status: models.JobStatusProcessing}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/jobs/job-9/cancel", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusCancelled, svc.jobs["job-9"].Status)

	// A second cancel is absorbed, not an error.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/jobs/job-9/cancel", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "terminal")
}

func TestDeleteJob(t *testing.T) {
	_, svc, _, router := newTestAPI(t)
	svc.jobs["job-9"] = &models.RenderJob{ID: "job-9", Status: models.JobStatusCompleted}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/v1/jobs/job-9", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/v1/jobs/job-9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAvatar(t *testing.T) {
	_, _, _, router := newTestAPI(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/avatars/anna", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var avatar models.AvatarDefinition
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &avatar))
	assert.Equal(t, models.EngineUE5, avatar.Engine)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/avatars/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func newCachedAPI(t *testing.T) (*stubJobService, *stubCache, *gin.Engine) {
	t.Helper()
	api, svc, _, _ := newTestAPI(t)
	cache := newStubCache()
	api.cache = cache
	return svc, cache, setupRouter(api, api.logger)
}

func TestGetJobProgressServedFromCache(t *testing.T) {
	_, cache, router := newCachedAPI(t)
	cache.progress["job-7"] = 62.5

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/job-7/progress", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 62.5, body["progress"])
}

func TestGetJobProgressFallsBackToJobRow(t *testing.T) {
	svc, _, router := newCachedAPI(t)
	svc.jobs["job-8"] = &models.RenderJob{ID: "job-8", Status: models.JobStatusProcessing, Progress: 30}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/job-8/progress", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "30")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/jobs/missing/progress", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAvatarPopulatesCache(t *testing.T) {
	_, cache, router := newCachedAPI(t)

	// First read misses the cache and writes through.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/avatars/anna", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"anna"}, cache.stored)

	// Second read is served from the cached copy.
	cache.avatars["anna"].Name = "Anna (cached)"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/avatars/anna", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Anna (cached)")
	assert.Len(t, cache.stored, 1)
}

func TestCreateRenderJobSubmissionLimit(t *testing.T) {
	_, cache, router := newCachedAPI(t)

	cache.limit = 2

	req := renderRequest{UserID: "user-1"}
	for i := 0; i < 2; i++ {
		w := postJSON(router, "/api/v1/projects/project-1/render", req)
		assert.Equal(t, http.StatusCreated, w.Code)
	}

	w := postJSON(router, "/api/v1/projects/project-1/render", req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Another user is counted separately.
	w = postJSON(router, "/api/v1/projects/project-1/render", renderRequest{UserID: "user-2"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.EqualValues(t, 1, cache.counts["render:user-2"])
}

func TestHealthCheck(t *testing.T) {
	_, _, _, router := newTestAPI(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
