package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/encoder"
	"github.com/renderdeck/renderdeck/internal/engine"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/lipsync"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// fakeJobControl tracks transitions the way the job manager would
type fakeJobControl struct {
	mu            sync.Mutex
	status        map[string]string
	progress      map[string]float64
	outputURL     map[string]string
	failCause     map[string]string
	cancelOnStart bool
}

func newFakeJobControl(jobID string) *fakeJobControl {
	return &fakeJobControl{
		status:    map[string]string{jobID: models.JobStatusQueued},
		progress:  map[string]float64{},
		outputURL: map[string]string{},
		failCause: map[string]string{},
	}
}

func (f *fakeJobControl) StartJob(ctx context.Context, id string) (*models.RenderJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[id] != models.JobStatusQueued {
		return nil, nil
	}
	f.status[id] = models.JobStatusProcessing
	if f.cancelOnStart {
		// Simulates a user cancel landing while the first stage runs.
		f.status[id] = models.JobStatusCancelled
	}
	return &models.RenderJob{
		ID:        id,
		ProjectID: "project-1",
		Status:    models.JobStatusProcessing,
		Settings:  models.RenderSettings{Codec: "h264", Quality: "medium", FrameRate: 30},
	}, nil
}

func (f *fakeJobControl) UpdateProgress(ctx context.Context, id string, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if progress > f.progress[id] {
		f.progress[id] = progress
	}
	return nil
}

func (f *fakeJobControl) CompleteJob(ctx context.Context, id, outputURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = models.JobStatusCompleted
	f.outputURL[id] = outputURL
	return nil
}

func (f *fakeJobControl) FailJob(ctx context.Context, id, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[id] == models.JobStatusCompleted || f.status[id] == models.JobStatusCancelled {
		return nil
	}
	f.status[id] = models.JobStatusFailed
	f.failCause[id] = cause
	return nil
}

func (f *fakeJobControl) GetJob(ctx context.Context, id string) (*models.RenderJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.RenderJob{ID: id, Status: f.status[id]}, nil
}

// fakeEncoder mimics the real encoder contract without spawning FFmpeg:
// an empty frame directory is a ResourceError before any subprocess.
type fakeEncoder struct {
	framesSeen int
}

func (f *fakeEncoder) Encode(ctx context.Context, opts encoder.Options) (<-chan encoder.Progress, <-chan error) {
	events := make(chan encoder.Progress, 4)
	done := make(chan error, 1)

	frames, _ := filepath.Glob(filepath.Join(opts.FramesDir, "*.png"))
	if len(frames) == 0 {
		close(events)
		done <- faults.NewResource(opts.FramesDir, "no frames to encode")
		return events, done
	}
	f.framesSeen = len(frames)

	events <- encoder.Progress{Frame: len(frames) / 2, Percent: 50}
	events <- encoder.Progress{Frame: len(frames), Percent: 100}
	close(events)

	done <- os.WriteFile(opts.OutputPath, []byte("mp4"), 0o644)
	return events, done
}

type fakeUploader struct {
	uploaded map[string]string
}

func (f *fakeUploader) UploadFile(ctx context.Context, objectName, filePath string) error {
	if f.uploaded == nil {
		f.uploaded = map[string]string{}
	}
	f.uploaded[objectName] = filePath
	return nil
}

func (f *fakeUploader) GetURL(ctx context.Context, objectName string) (string, error) {
	return "https://storage.example/" + objectName, nil
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	assert.NoError(t, err)
	return logger
}

// deadFarmSelector builds a selector whose render farm answers probes with
// 503, forcing auto to resolve to the local engine.
func deadFarmSelector(t *testing.T, logger *logging.Logger) (*engine.Selector, func()) {
	t.Helper()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	return engine.NewSelector(config.EnginesConfig{
		UE5: config.UE5Config{
			BaseURL:        dead.URL,
			RequestTimeout: time.Second,
			ProbeTimeout:   time.Second,
		},
	}, nil, logger), dead.Close
}

func avatarProject(duration float64) *models.TimelineProject {
	return &models.TimelineProject{
		ID:        "project-1",
		Name:      "Demo",
		Duration:  duration,
		FrameRate: 30,
		Width:     64,
		Height:    48,
		Layers: []models.TimelineLayer{
			{
				Index: 0,
				Elements: []models.TimelineElement{
					{
						ID:       "el-avatar",
						Type:     models.ElementTypeAvatar,
						Start:    0,
						Duration: duration,
						Engine:   models.EngineAuto,
						Text:     "Welcome to the demo",
					},
				},
			},
		},
	}
}

func newTestPipeline(t *testing.T, jobs JobControl) (*Pipeline, *fakeEncoder, *fakeUploader, func()) {
	t.Helper()
	logger := testLogger(t)
	selector, closeFarm := deadFarmSelector(t, logger)

	// Unconfigured lip-sync service: the local fallback generator runs.
	synth := lipsync.NewSynthesizer(config.LipSyncConfig{FallbackFPS: 30}, nil, logger)

	enc := &fakeEncoder{}
	up := &fakeUploader{}
	p := New(jobs, selector, synth, enc, up, config.RenderConfig{
		TempDir:         t.TempDir(),
		AudioBitrate:    "192k",
		AudioSampleRate: 44100,
	}, logger)

	return p, enc, up, closeFarm
}

func TestRunDeadFarmFallsBackToLocalAndCompletes(t *testing.T) {
	jobs := newFakeJobControl("job-1")
	p, enc, _, closeFarm := newTestPipeline(t, jobs)
	defer closeFarm()

	err := p.Run(context.Background(), "job-1", avatarProject(10.0))
	assert.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, jobs.status["job-1"])
	assert.Equal(t, "https://storage.example/renders/project-1/job-1.mp4", jobs.outputURL["job-1"])
	// 10 seconds at 30fps composed through the local engine.
	assert.Equal(t, 300, enc.framesSeen)
}

func TestRunLipSyncServiceDownStillCompletes(t *testing.T) {
	logger := testLogger(t)
	selector, closeFarm := deadFarmSelector(t, logger)
	defer closeFarm()

	// Analysis service answers 500 on every call; the synthesizer must
	// fall back locally and the job must still complete.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	synth := lipsync.NewSynthesizer(config.LipSyncConfig{
		BaseURL:        broken.URL,
		RequestTimeout: time.Second,
		FallbackFPS:    30,
	}, nil, logger)

	jobs := newFakeJobControl("job-2")
	enc := &fakeEncoder{}
	p := New(jobs, selector, synth, enc, &fakeUploader{}, config.RenderConfig{
		TempDir: t.TempDir(),
	}, logger)

	err := p.Run(context.Background(), "job-2", avatarProject(2.0))
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, jobs.status["job-2"])
	assert.Equal(t, 60, enc.framesSeen)
}

func TestRunValidationFailureFailsJobBeforeAnyStage(t *testing.T) {
	jobs := newFakeJobControl("job-3")
	p, _, up, closeFarm := newTestPipeline(t, jobs)
	defer closeFarm()

	project := avatarProject(5.0)
	project.Layers[0].Elements[0].Duration = 10.0 // extends past project end

	err := p.Run(context.Background(), "job-3", project)
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, jobs.status["job-3"])
	assert.Contains(t, jobs.failCause["job-3"], "extends past the project end")
	assert.Empty(t, up.uploaded)
}

func TestRunEmptyFrameDirFailsJob(t *testing.T) {
	jobs := newFakeJobControl("job-4")
	p, _, up, closeFarm := newTestPipeline(t, jobs)
	defer closeFarm()

	// Short enough that zero whole frames fit: compose yields an empty
	// frame directory and the encoder refuses it.
	project := &models.TimelineProject{
		ID:        "project-1",
		Duration:  0.02,
		FrameRate: 30,
		Width:     64,
		Height:    48,
		Layers: []models.TimelineLayer{
			{Index: 0, Elements: []models.TimelineElement{
				{ID: "el-shape", Type: models.ElementTypeShape, Start: 0, Duration: 0.02},
			}},
		},
	}

	err := p.Run(context.Background(), "job-4", project)
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, jobs.status["job-4"])
	assert.Contains(t, jobs.failCause["job-4"], "no frames to encode")
	assert.Empty(t, up.uploaded)
}

func TestRunCancelledBetweenStagesStops(t *testing.T) {
	jobs := newFakeJobControl("job-5")
	jobs.cancelOnStart = true
	p, _, up, closeFarm := newTestPipeline(t, jobs)
	defer closeFarm()

	// The cancel lands while the avatar stage runs; the between-stage
	// check must stop the pipeline without failing the job.
	err := p.Run(context.Background(), "job-5", avatarProject(1.0))
	assert.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, jobs.status["job-5"])
	assert.Empty(t, up.uploaded, "no partial output may be published")
}

func TestValidateProject(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.TimelineProject)
		wantErr bool
	}{
		{"valid", func(p *models.TimelineProject) {}, false},
		{"zero duration", func(p *models.TimelineProject) { p.Duration = 0 }, true},
		{"zero framerate", func(p *models.TimelineProject) { p.FrameRate = 0 }, true},
		{"empty element id", func(p *models.TimelineProject) { p.Layers[0].Elements[0].ID = "" }, true},
		{"negative start", func(p *models.TimelineProject) { p.Layers[0].Elements[0].Start = -1 }, true},
		{"zero element duration", func(p *models.TimelineProject) { p.Layers[0].Elements[0].Duration = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := avatarProject(5.0)
			tt.mutate(project)
			err := ValidateProject(project)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, faults.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
