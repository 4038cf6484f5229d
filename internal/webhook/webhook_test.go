package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/pkg/models"
)

type mockRepository struct {
	webhooks   []*models.Webhook
	deliveries []*models.WebhookDelivery
}

func (m *mockRepository) GetWebhooksByEvent(ctx context.Context, event string) ([]*models.Webhook, error) {
	return m.webhooks, nil
}

func (m *mockRepository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	m.deliveries = append(m.deliveries, delivery)
	return nil
}

func (m *mockRepository) UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	for i, d := range m.deliveries {
		if d.ID == delivery.ID {
			m.deliveries[i] = delivery
			return nil
		}
	}
	return nil
}

func (m *mockRepository) GetPendingDeliveries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error) {
	return m.deliveries, nil
}

func TestNotifyRenderStarted(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &mockRepository{
		webhooks: []*models.Webhook{
			{
				ID:       "webhook-1",
				UserID:   "user-1",
				URL:      server.URL,
				Events:   []string{models.WebhookEventRenderStarted},
				IsActive: true,
			},
		},
	}

	service := NewService(repo, nil)

	job := &models.RenderJob{
		ID:        "job-1",
		ProjectID: "project-1",
		UserID:    "user-1",
		Status:    models.JobStatusProcessing,
	}

	err := service.NotifyRenderStarted(context.Background(), job)
	assert.NoError(t, err)
	assert.Len(t, repo.deliveries, 1)

	select {
	case body := <-received:
		var event models.WebhookEvent
		assert.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, models.WebhookEventRenderStarted, event.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestWebhookSignature(t *testing.T) {
	service := NewService(&mockRepository{}, nil)

	payload := []byte(`{"event":"test"}`)
	secret := "test-secret"

	signature := service.generateSignature(payload, secret)
	assert.NotEmpty(t, signature)
	assert.Contains(t, signature, "sha256=")
}

func TestInactiveWebhookSkipped(t *testing.T) {
	repo := &mockRepository{
		webhooks: []*models.Webhook{
			{
				ID:       "webhook-1",
				URL:      "http://example.invalid",
				Events:   []string{models.WebhookEventRenderFailed},
				IsActive: false,
			},
		},
	}

	service := NewService(repo, nil)
	err := service.NotifyRenderFailed(context.Background(), &models.RenderJob{
		ID:           "job-1",
		ProjectID:    "project-1",
		ErrorMessage: "encoder exited with status 1",
	})
	assert.NoError(t, err)
	assert.Empty(t, repo.deliveries)
}

func TestDeliveryShortCircuitsWhenEndpointBreakerOpen(t *testing.T) {
	// An endpoint that refuses connections: the server is closed before
	// any delivery is attempted.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	repo := &mockRepository{}
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
	})
	service := NewService(repo, breakers)

	wh := &models.Webhook{ID: "webhook-1", URL: url, IsActive: true}
	payload := []byte(`{"event":"render.completed"}`)

	first := &models.WebhookDelivery{ID: "delivery-1", Event: models.WebhookEventRenderCompleted}
	repo.deliveries = append(repo.deliveries, first)
	service.deliver(context.Background(), wh, first, payload)
	assert.Equal(t, resilience.StateOpen, breakers.Get("webhook").State())

	// The breaker is open: the next delivery fails straight into the
	// retry ladder without touching the endpoint.
	second := &models.WebhookDelivery{ID: "delivery-2", Event: models.WebhookEventRenderCompleted}
	repo.deliveries = append(repo.deliveries, second)
	service.deliver(context.Background(), wh, second, payload)

	assert.Equal(t, models.WebhookDeliveryStatusPending, second.Status)
	assert.Equal(t, 1, second.RetryCount)
	assert.Contains(t, second.ResponseBody, "circuit open")
}

func TestRetryBackoffSchedule(t *testing.T) {
	repo := &mockRepository{}
	service := NewService(repo, nil)

	delivery := &models.WebhookDelivery{
		ID:     "delivery-1",
		Event:  models.WebhookEventRenderCompleted,
		Status: models.WebhookDeliveryStatusPending,
	}
	repo.deliveries = append(repo.deliveries, delivery)

	service.markDeliveryFailed(context.Background(), delivery, 503, "unavailable")
	assert.Equal(t, models.WebhookDeliveryStatusPending, delivery.Status)
	assert.NotNil(t, delivery.NextRetryAt)
	assert.Equal(t, 1, delivery.RetryCount)

	// Exhausting the ladder marks the delivery failed for good.
	delivery.RetryCount = 6
	service.markDeliveryFailed(context.Background(), delivery, 503, "unavailable")
	assert.Equal(t, models.WebhookDeliveryStatusFailed, delivery.Status)
	assert.NotNil(t, delivery.CompletedAt)
}
