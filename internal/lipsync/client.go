package lipsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// errCircuitOpen marks calls short-circuited by an open breaker
var errCircuitOpen = errors.New("circuit open")

// Client talks to the phoneme-analysis service over its session API.
// Session and process calls retry transient failures inside the shared
// breaker; once the breaker opens, calls fail fast and the synthesizer
// drops to its local generator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	mode       config.Mode
}

// NewClient creates a lip-sync analysis client. With no base URL configured
// the client reports fallback mode and is never called. A nil breaker gets
// the default thresholds.
func NewClient(cfg config.LipSyncConfig, breaker *resilience.CircuitBreaker) *Client {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("lipsync", resilience.BreakerConfig{})
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		breaker: breaker,
		mode:    cfg.Mode(),
	}
}

func (c *Client) shortCircuit() error {
	return faults.NewExternal("lipsync", 0, errCircuitOpen)
}

// IsConfigured reports whether a live analysis endpoint is configured
func (c *Client) IsConfigured() bool {
	return c.mode == config.ModeLive
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type processResponse struct {
	Frames []models.LipSyncFrame `json:"frames"`
}

// CreateSession opens an analysis session
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var sessionID string
	err := c.breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return faults.NewExternal("lipsync", 0, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
				body, _ := io.ReadAll(resp.Body)
				return faults.NewExternal("lipsync", resp.StatusCode, fmt.Errorf("create session: %s", body))
			}

			var sr sessionResponse
			if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
				return fmt.Errorf("failed to decode session response: %w", err)
			}
			sessionID = sr.SessionID
			return nil
		})
	}, c.shortCircuit)
	if err != nil {
		return "", err
	}

	return sessionID, nil
}

// ProcessAudio submits the narration for analysis and returns the phoneme
// frame sequence.
func (c *Client) ProcessAudio(ctx context.Context, sessionID, text, audioURL string) ([]models.LipSyncFrame, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("failed to write text field: %w", err)
	}
	if err := writer.WriteField("audio_url", audioURL); err != nil {
		return nil, fmt.Errorf("failed to write audio_url field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	// The form body is buffered, so each retry attempt re-reads it from
	// the start.
	form := buf.Bytes()
	url := fmt.Sprintf("%s/sessions/%s/process", c.baseURL, sessionID)

	var frames []models.LipSyncFrame
	err := c.breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(form))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Content-Type", writer.FormDataContentType())

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return faults.NewExternal("lipsync", 0, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return faults.NewExternal("lipsync", resp.StatusCode, fmt.Errorf("process audio: %s", body))
			}

			var pr processResponse
			if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
				return fmt.Errorf("failed to decode frames: %w", err)
			}
			frames = pr.Frames
			return nil
		})
	}, c.shortCircuit)
	if err != nil {
		return nil, err
	}

	return frames, nil
}

// CloseSession tears down an analysis session. Best effort; used deferred.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/sessions/%s", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.NewExternal("lipsync", 0, err)
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)
	return nil
}
