package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// HeyGenEngine drives the hosted talking-avatar API: submit a generation,
// poll until the video is ready, return the hosted URL. It is the only
// backend producing a hosted video rather than frames, so it never
// substitutes another engine on failure.
type HeyGenEngine struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	breaker      *resilience.CircuitBreaker
	pollInterval time.Duration
	pollTimeout  time.Duration
	mode         config.Mode
	logger       *logging.Logger
}

// NewHeyGenEngine creates a hosted-avatar client. A nil breaker gets the
// default thresholds.
func NewHeyGenEngine(cfg config.HeyGenConfig, breaker *resilience.CircuitBreaker, logger *logging.Logger) *HeyGenEngine {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(models.EngineHeyGen, resilience.BreakerConfig{})
	}
	return &HeyGenEngine{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		breaker:      breaker,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		mode:         cfg.Mode(),
		logger:       logger,
	}
}

// Name returns the engine identifier
func (e *HeyGenEngine) Name() string { return models.EngineHeyGen }

// IsConfigured reports whether an API key is present
func (e *HeyGenEngine) IsConfigured() bool {
	return e.mode == config.ModeLive
}

type heygenGenerateRequest struct {
	AvatarID   string `json:"avatar_id"`
	VoiceID    string `json:"voice_id"`
	InputText  string `json:"input_text"`
	Background string `json:"background,omitempty"`
}

type heygenGenerateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type heygenStatusResponse struct {
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	} `json:"data"`
}

// Render submits a hosted video generation and polls it to completion.
// In fallback mode a canned result is returned so development works with
// no API key.
func (e *HeyGenEngine) Render(ctx context.Context, req *models.EngineRequest) (*models.RenderResult, error) {
	if req.HeyGen == nil {
		return nil, faults.NewValidation("heygen", "missing heygen engine options")
	}

	if e.mode == config.ModeFallback {
		videoID := "mock-" + uuid.New().String()
		return &models.RenderResult{
			Kind:     models.ResultKindVideo,
			Engine:   models.EngineHeyGen,
			VideoID:  videoID,
			VideoURL: "https://mock.heygen.local/videos/" + videoID + ".mp4",
		}, nil
	}

	videoID, err := e.generate(ctx, req.HeyGen)
	if err != nil {
		return nil, err
	}

	videoURL, err := e.pollStatus(ctx, videoID)
	if err != nil {
		return nil, err
	}

	return &models.RenderResult{
		Kind:     models.ResultKindVideo,
		Engine:   models.EngineHeyGen,
		VideoID:  videoID,
		VideoURL: videoURL,
	}, nil
}

func (e *HeyGenEngine) generate(ctx context.Context, opts *models.HeyGenOptions) (string, error) {
	body, err := json.Marshal(heygenGenerateRequest{
		AvatarID:   opts.AvatarID,
		VoiceID:    opts.VoiceID,
		InputText:  opts.InputText,
		Background: opts.Background,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	var videoID string
	err = e.breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/video/generate", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Api-Key", e.apiKey)

			resp, err := e.client.Do(req)
			if err != nil {
				return faults.NewExternal("heygen", 0, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				respBody, _ := io.ReadAll(resp.Body)
				return faults.NewExternal("heygen", resp.StatusCode, fmt.Errorf("generate: %s", respBody))
			}

			var gr heygenGenerateResponse
			if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
				return fmt.Errorf("failed to decode generate response: %w", err)
			}
			videoID = gr.Data.VideoID
			return nil
		})
	}, func() error {
		return faults.NewExternal("heygen", 0, errCircuitOpen)
	})
	if err != nil {
		return "", err
	}

	return videoID, nil
}

// pollStatus polls the video status until completion or the poll deadline
func (e *HeyGenEngine) pollStatus(ctx context.Context, videoID string) (string, error) {
	deadline := time.Now().Add(e.pollTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		status, videoURL, genErr, err := e.checkStatus(ctx, videoID)
		if err != nil {
			return "", err
		}

		switch status {
		case "completed":
			return videoURL, nil
		case "failed":
			return "", faults.NewExternal("heygen", 0, fmt.Errorf("generation failed: %s", genErr))
		}

		if time.Now().After(deadline) {
			return "", faults.NewExternal("heygen", 0, fmt.Errorf("generation timed out after %s", e.pollTimeout))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *HeyGenEngine) checkStatus(ctx context.Context, videoID string) (status, videoURL, genErr string, err error) {
	err = e.breaker.Execute(func() error {
		var innerErr error
		status, videoURL, genErr, innerErr = e.fetchStatus(ctx, videoID)
		return innerErr
	}, func() error {
		return faults.NewExternal("heygen", 0, errCircuitOpen)
	})
	return status, videoURL, genErr, err
}

func (e *HeyGenEngine) fetchStatus(ctx context.Context, videoID string) (status, videoURL, genErr string, err error) {
	url := fmt.Sprintf("%s/video_status.get?video_id=%s", e.baseURL, videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", "", "", faults.NewExternal("heygen", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", "", "", faults.NewExternal("heygen", resp.StatusCode, fmt.Errorf("status: %s", respBody))
	}

	var sr heygenStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", "", "", fmt.Errorf("failed to decode status response: %w", err)
	}

	return sr.Data.Status, sr.Data.VideoURL, sr.Data.Error, nil
}
