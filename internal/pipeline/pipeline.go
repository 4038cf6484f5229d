// Package pipeline runs one render job end to end: validate, render avatar
// elements, compose frames, encode, upload. Stages run sequentially per
// job; concurrency comes from running many jobs across queue consumers.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/encoder"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/tracing"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// JobControl is the slice of the job manager the pipeline drives
type JobControl interface {
	StartJob(ctx context.Context, id string) (*models.RenderJob, error)
	UpdateProgress(ctx context.Context, id string, progress float64) error
	CompleteJob(ctx context.Context, id, outputURL string) error
	FailJob(ctx context.Context, id, cause string) error
	GetJob(ctx context.Context, id string) (*models.RenderJob, error)
}

// FrameSource resolves and runs an avatar backend for a request
type FrameSource interface {
	Render(ctx context.Context, req *models.EngineRequest) (*models.RenderResult, error)
}

// LipSyncSource produces lip-sync tracks for avatar narration
type LipSyncSource interface {
	GenerateFrames(ctx context.Context, text, audioURL string, duration float64) []models.LipSyncFrame
}

// FrameEncoder turns a frame directory into a video
type FrameEncoder interface {
	Encode(ctx context.Context, opts encoder.Options) (<-chan encoder.Progress, <-chan error)
}

// Uploader pushes the finished video to object storage
type Uploader interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
	GetURL(ctx context.Context, objectName string) (string, error)
}

// Progress budget per stage. Encode percent is scaled into its band so the
// job bar moves smoothly across stages.
const (
	progressAvatars  = 40.0
	progressComposed = 60.0
	progressEncoded  = 95.0
)

// Pipeline renders one job at a time
type Pipeline struct {
	jobs    JobControl
	engines FrameSource
	lipsync LipSyncSource
	encoder FrameEncoder
	storage Uploader
	cfg     config.RenderConfig
	logger  *logging.Logger
}

// New creates a render pipeline
func New(jobs JobControl, engines FrameSource, lipsync LipSyncSource, enc FrameEncoder, storage Uploader, cfg config.RenderConfig, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		jobs:    jobs,
		engines: engines,
		lipsync: lipsync,
		encoder: enc,
		storage: storage,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run renders a job. Validation and stage errors fail the job with a
// human-readable cause; a cancelled job stops between stages without being
// marked failed. A partial video is never completed.
func (p *Pipeline) Run(ctx context.Context, jobID string, project *models.TimelineProject) error {
	logger := p.logger.WithJobID(jobID)

	span, ctx := tracing.StartSpan(ctx, "render.validate")
	err := ValidateProject(project)
	tracing.FinishSpan(span)
	if err != nil {
		return p.jobs.FailJob(ctx, jobID, err.Error())
	}

	job, err := p.jobs.StartJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Not in queued state anymore; nothing to do.
		return nil
	}

	workDir := filepath.Join(p.cfg.TempDir, jobID)
	defer os.RemoveAll(workDir)

	// Stage: avatar elements
	span, ctx = tracing.StartSpan(ctx, "render.avatars")
	avatarFrames, hostedURL, err := p.renderAvatars(ctx, job, project)
	tracing.FinishSpan(span)
	if err != nil {
		return p.jobs.FailJob(ctx, jobID, err.Error())
	}
	if cancelled, err := p.checkCancelled(ctx, jobID); cancelled || err != nil {
		return err
	}
	p.jobs.UpdateProgress(ctx, jobID, progressAvatars)

	// A hosted avatar video is the render output; there is nothing to
	// compose or encode locally.
	if hostedURL != "" {
		logger.Infof("Hosted avatar video is the job output: %s", hostedURL)
		return p.jobs.CompleteJob(ctx, jobID, hostedURL)
	}

	// Stage: compose
	span, ctx = tracing.StartSpan(ctx, "render.compose")
	framesDir := filepath.Join(workDir, "frames")
	total, err := composeFrames(project, avatarFrames, framesDir)
	tracing.FinishSpan(span)
	if err != nil {
		return p.jobs.FailJob(ctx, jobID, err.Error())
	}
	logger.Infof("Composed %d frames", total)
	if cancelled, err := p.checkCancelled(ctx, jobID); cancelled || err != nil {
		return err
	}
	p.jobs.UpdateProgress(ctx, jobID, progressComposed)

	// Stage: encode
	span, ctx = tracing.StartSpan(ctx, "render.encode")
	outputPath := filepath.Join(workDir, "output.mp4")
	err = p.encode(ctx, job, project, framesDir, outputPath)
	tracing.FinishSpan(span)
	if err != nil {
		return p.jobs.FailJob(ctx, jobID, err.Error())
	}
	if cancelled, err := p.checkCancelled(ctx, jobID); cancelled || err != nil {
		return err
	}
	p.jobs.UpdateProgress(ctx, jobID, progressEncoded)

	// Stage: upload
	span, ctx = tracing.StartSpan(ctx, "render.upload")
	objectName := fmt.Sprintf("renders/%s/%s.mp4", job.ProjectID, jobID)
	outputURL, err := p.upload(ctx, objectName, outputPath)
	tracing.FinishSpan(span)
	if err != nil {
		return p.jobs.FailJob(ctx, jobID, fmt.Sprintf("upload failed: %v", err))
	}

	return p.jobs.CompleteJob(ctx, jobID, outputURL)
}

// renderAvatars runs lip-sync and engine selection for every avatar
// element. When a hosted-video backend serves an element, its URL is
// returned as the job output.
func (p *Pipeline) renderAvatars(ctx context.Context, job *models.RenderJob, project *models.TimelineProject) (map[string]*elementFrames, string, error) {
	frames := make(map[string]*elementFrames)

	for _, layer := range project.Layers {
		for _, el := range layer.Elements {
			if el.Type != models.ElementTypeAvatar {
				continue
			}

			track := p.lipsync.GenerateFrames(ctx, el.Text, el.AudioURL, el.Duration)

			engineName := el.Engine
			if engineName == "" {
				engineName = models.EngineAuto
			}

			req := &models.EngineRequest{
				Engine:          engineName,
				DurationSeconds: el.Duration,
				FrameRate:       project.FrameRate,
				LipSync:         track,
			}
			switch engineName {
			case models.EngineHeyGen:
				req.HeyGen = &models.HeyGenOptions{
					AvatarID:  el.AvatarID,
					InputText: el.Text,
				}
			case models.EngineLocal:
				req.Local = &models.LocalOptions{
					Width:  project.Width,
					Height: project.Height,
				}
			default:
				req.UE5 = &models.UE5Options{
					ModelPath: el.Source,
					Width:     project.Width,
					Height:    project.Height,
				}
			}

			result, err := p.engines.Render(ctx, req)
			if err != nil {
				return nil, "", fmt.Errorf("avatar element %s: %w", el.ID, err)
			}

			if result.Kind == models.ResultKindVideo {
				return nil, result.VideoURL, nil
			}

			frames[el.ID] = &elementFrames{
				elementID: el.ID,
				start:     el.Start,
				duration:  el.Duration,
				frameRate: project.FrameRate,
				frames:    result.Frames,
			}
		}
	}

	return frames, "", nil
}

// encode runs FFmpeg over the composed frames, forwarding progress into
// the job's encode band. Whole-percent throttling keeps the store write
// rate bounded.
func (p *Pipeline) encode(ctx context.Context, job *models.RenderJob, project *models.TimelineProject, framesDir, outputPath string) error {
	audioPath := p.narrationPath(project)

	opts := encoder.Options{
		FramesDir:       framesDir,
		AudioPath:       audioPath,
		OutputPath:      outputPath,
		FrameRate:       project.FrameRate,
		Codec:           job.Settings.Codec,
		Quality:         job.Settings.Quality,
		Resolution:      job.Settings.Resolution,
		Bitrate:         job.Settings.Bitrate,
		FastStart:       job.Settings.FastStart,
		Metadata:        job.Settings.Metadata,
		AudioBitrate:    p.cfg.AudioBitrate,
		AudioSampleRate: p.cfg.AudioSampleRate,
	}

	events, done := p.encoder.Encode(ctx, opts)

	lastPercent := -1.0
	for ev := range events {
		p.logger.LogEncodeProgress(job.ID, ev.Percent, ev.FPS, ev.Speed)

		scaled := math.Floor(progressComposed + ev.Percent/100*(progressEncoded-progressComposed))
		if scaled > lastPercent {
			lastPercent = scaled
			p.jobs.UpdateProgress(ctx, job.ID, scaled)
		}
	}

	return <-done
}

// narrationPath returns the local narration audio file for the project, or
// empty when there is none. Audio elements carrying a local source win;
// remote audio is fetched by the worker before the pipeline runs.
func (p *Pipeline) narrationPath(project *models.TimelineProject) string {
	for _, layer := range project.Layers {
		for _, el := range layer.Elements {
			if el.Type != models.ElementTypeAudio || el.Source == "" {
				continue
			}
			if _, err := os.Stat(el.Source); err == nil {
				return el.Source
			}
		}
	}
	return ""
}

func (p *Pipeline) upload(ctx context.Context, objectName, outputPath string) (string, error) {
	if _, err := os.Stat(outputPath); err != nil {
		return "", faults.NewResource(outputPath, "encoded output missing")
	}

	if err := p.storage.UploadFile(ctx, objectName, outputPath); err != nil {
		return "", err
	}

	return p.storage.GetURL(ctx, objectName)
}

// checkCancelled re-reads the job row between stages. Cancellation is a
// user decision, not a failure; the pipeline just stops.
func (p *Pipeline) checkCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status == models.JobStatusCancelled {
		p.logger.WithJobID(jobID).Info("Job cancelled, stopping pipeline")
		return true, nil
	}
	return false, nil
}
