package models

import "time"

// Webhook represents a webhook subscription
type Webhook struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	URL       string    `json:"url" db:"url"`
	Secret    string    `json:"-" db:"secret"`
	Events    []string  `json:"events" db:"events"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WebhookDelivery tracks one delivery attempt chain for an event
type WebhookDelivery struct {
	ID           string     `json:"id" db:"id"`
	WebhookID    string     `json:"webhook_id" db:"webhook_id"`
	Event        string     `json:"event" db:"event"`
	Payload      string     `json:"payload" db:"payload"`
	Status       string     `json:"status" db:"status"`
	StatusCode   int        `json:"status_code,omitempty" db:"status_code"`
	ResponseBody string     `json:"response_body,omitempty" db:"response_body"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// WebhookEvent is the payload envelope sent to subscribers
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event names
const (
	WebhookEventRenderStarted   = "render.started"
	WebhookEventRenderCompleted = "render.completed"
	WebhookEventRenderFailed    = "render.failed"
)

// Webhook delivery statuses
const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// RenderStartedPayload is the data for render.started
type RenderStartedPayload struct {
	JobID     string `json:"jobId"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

// RenderCompletedPayload is the data for render.completed
type RenderCompletedPayload struct {
	JobID     string  `json:"jobId"`
	ProjectID string  `json:"projectId"`
	VideoURL  string  `json:"videoUrl"`
	Duration  float64 `json:"duration"`
}

// RenderFailedPayload is the data for render.failed
type RenderFailedPayload struct {
	JobID     string `json:"jobId"`
	ProjectID string `json:"projectId"`
	Error     string `json:"error"`
}
