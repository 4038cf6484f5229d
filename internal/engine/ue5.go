package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// errCircuitOpen marks calls short-circuited by an open breaker
var errCircuitOpen = errors.New("circuit open")

// UE5Engine drives the render farm over HTTP. A farm render can take a
// while, so the request client carries a long timeout; the health probe
// uses a short one so selection never stalls on a dead farm.
type UE5Engine struct {
	baseURL     string
	client      *http.Client
	probeClient *http.Client
	breaker     *resilience.CircuitBreaker
	mode        config.Mode
	logger      *logging.Logger
}

// NewUE5Engine creates a render-farm client. A nil breaker gets the
// default thresholds.
func NewUE5Engine(cfg config.UE5Config, breaker *resilience.CircuitBreaker, logger *logging.Logger) *UE5Engine {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(models.EngineUE5, resilience.BreakerConfig{})
	}
	return &UE5Engine{
		baseURL:     cfg.BaseURL,
		client:      &http.Client{Timeout: cfg.RequestTimeout},
		probeClient: &http.Client{Timeout: cfg.ProbeTimeout},
		breaker:     breaker,
		mode:        cfg.Mode(),
		logger:      logger,
	}
}

// Name returns the engine identifier
func (e *UE5Engine) Name() string { return models.EngineUE5 }

// Available probes the farm health endpoint. Unconfigured farms and farms
// whose breaker is open are never available, so selection falls through to
// the local engine without touching a known-bad dependency.
func (e *UE5Engine) Available(ctx context.Context) bool {
	if e.mode == config.ModeFallback {
		return false
	}
	if e.breaker.State() == resilience.StateOpen {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := e.probeClient.Do(req)
	if err != nil {
		metrics.RecordEngineProbeFailure(models.EngineUE5)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEngineProbeFailure(models.EngineUE5)
		return false
	}

	return true
}

type ue5RenderRequest struct {
	ModelPath       string                `json:"model_path"`
	Width           int                   `json:"width"`
	Height          int                   `json:"height"`
	Quality         string                `json:"quality,omitempty"`
	DurationSeconds float64               `json:"duration_seconds"`
	FrameRate       int                   `json:"frame_rate"`
	LipSync         []models.LipSyncFrame `json:"lipsync_frames,omitempty"`
}

type ue5RenderResponse struct {
	Frames [][]byte `json:"frames"`
}

// Render submits a farm render and returns the frame sequence
func (e *UE5Engine) Render(ctx context.Context, req *models.EngineRequest) (*models.RenderResult, error) {
	if req.UE5 == nil {
		return nil, faults.NewValidation("ue5", "missing ue5 engine options")
	}

	body, err := json.Marshal(ue5RenderRequest{
		ModelPath:       req.UE5.ModelPath,
		Width:           req.UE5.Width,
		Height:          req.UE5.Height,
		Quality:         req.UE5.Quality,
		DurationSeconds: req.DurationSeconds,
		FrameRate:       req.FrameRate,
		LipSync:         req.LipSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	// Retry inside the breaker: one breaker failure per exhausted render
	// attempt, and an open breaker skips the farm entirely.
	var frames [][]byte
	err = e.breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/render", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			httpReq.Header.Set("Content-Type", "application/json")

			resp, err := e.client.Do(httpReq)
			if err != nil {
				return faults.NewExternal("ue5", 0, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				respBody, _ := io.ReadAll(resp.Body)
				return faults.NewExternal("ue5", resp.StatusCode, fmt.Errorf("render: %s", respBody))
			}

			var rr ue5RenderResponse
			if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
				return fmt.Errorf("failed to decode render response: %w", err)
			}
			frames = rr.Frames
			return nil
		})
	}, func() error {
		return faults.NewExternal("ue5", 0, errCircuitOpen)
	})
	if err != nil {
		return nil, err
	}

	return &models.RenderResult{
		Kind:   models.ResultKindFrames,
		Engine: models.EngineUE5,
		Frames: frames,
	}, nil
}
