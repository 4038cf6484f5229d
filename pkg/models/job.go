package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// RenderJob represents a render job for a timeline project
type RenderJob struct {
	ID           string         `json:"id" db:"id"`
	ProjectID    string         `json:"project_id" db:"project_id"`
	UserID       string         `json:"user_id" db:"user_id"`
	Status       string         `json:"status" db:"status"`
	Progress     float64        `json:"progress" db:"progress"`
	Settings     RenderSettings `json:"render_settings" db:"render_settings"`
	Attempts     int            `json:"attempts" db:"attempts"`
	OutputURL    string         `json:"output_url,omitempty" db:"output_url"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// RenderSettings holds the encoding configuration for a job
type RenderSettings struct {
	Codec      string            `json:"codec"`
	Quality    string            `json:"quality"`
	FrameRate  int               `json:"frame_rate"`
	Resolution string            `json:"resolution,omitempty"`
	Bitrate    string            `json:"bitrate,omitempty"`
	FastStart  bool              `json:"fast_start"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Value implements driver.Valuer for database storage
func (rs RenderSettings) Value() (driver.Value, error) {
	return json.Marshal(rs)
}

// Scan implements sql.Scanner for database retrieval
func (rs *RenderSettings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, rs)
}

// JobStatus constants
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// IsTerminal reports whether a job status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
