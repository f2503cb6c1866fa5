package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/seoatlas/seoatlas-api/internal/constants"
	"github.com/seoatlas/seoatlas-api/internal/crypto"
	"github.com/seoatlas/seoatlas-api/internal/metrics"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/redact"
	"github.com/seoatlas/seoatlas-api/internal/repository"
)

// WebhookEnvelope is the wire format POSTed to webhook endpoints.
type WebhookEnvelope struct {
	Event      string `json:"event"`
	Timestamp  string `json:"timestamp"`
	DeliveryID string `json:"delivery_id"`
	Data       any    `json:"data"`
}

// WebhookService manages webhook endpoints and durable event delivery.
// Every event fans out to one delivery row per subscribed endpoint; rows
// that fail transiently are retried on a fixed ladder until exhausted.
type WebhookService struct {
	logger     *slog.Logger
	webhooks   repository.WebhookRepository
	deliveries repository.WebhookDeliveryRepository
	encryptor  *crypto.Encryptor
	client     *http.Client
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(logger *slog.Logger, webhooks repository.WebhookRepository, deliveries repository.WebhookDeliveryRepository, encryptor *crypto.Encryptor, timeout time.Duration) *WebhookService {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookService{
		logger:     logger,
		webhooks:   webhooks,
		deliveries: deliveries,
		encryptor:  encryptor,
		client:     &http.Client{Timeout: timeout},
	}
}

// Register creates a webhook endpoint and returns it with the plaintext
// secret. The secret is only available here; the stored copy is encrypted.
func (s *WebhookService) Register(ctx context.Context, tenantID, endpointURL string, events []string) (*models.Webhook, string, error) {
	if err := ValidateWebhookURL(endpointURL); err != nil {
		return nil, "", err
	}
	secret, err := GenerateWebhookSecret()
	if err != nil {
		return nil, "", err
	}
	encrypted, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	if len(events) == 0 {
		events = []string{string(models.WebhookEventAll)}
	}
	now := time.Now().UTC()
	webhook := &models.Webhook{
		ID:              ulid.Make().String(),
		TenantID:        tenantID,
		URL:             endpointURL,
		SecretEncrypted: encrypted,
		Events:          events,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.webhooks.Create(ctx, webhook); err != nil {
		return nil, "", err
	}

	s.logger.Info("webhook registered", "webhook_id", webhook.ID, "tenant_id", tenantID, "url", endpointURL)
	return webhook, secret, nil
}

// FireEvent creates a delivery per subscribed active endpoint and
// attempts each one immediately. Delivery failures never fail the caller;
// the retry loop owns them from here.
func (s *WebhookService) FireEvent(ctx context.Context, tenantID, eventType string, data any) error {
	webhooks, err := s.webhooks.GetActiveByTenantID(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load webhooks: %w", err)
	}

	// The stored payload is delivered verbatim on every retry, so
	// scrubbing has to happen before the envelope is serialized.
	if m, ok := data.(map[string]any); ok {
		data = redact.Map(m)
	}

	for _, webhook := range webhooks {
		if !isEventSubscribed(webhook.Events, eventType) {
			continue
		}

		deliveryID := uuid.New().String()
		envelope := WebhookEnvelope{
			Event:      eventType,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			DeliveryID: deliveryID,
			Data:       data,
		}
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal webhook payload: %w", err)
		}

		now := time.Now().UTC()
		delivery := &models.WebhookDelivery{
			ID:          deliveryID,
			WebhookID:   webhook.ID,
			TenantID:    tenantID,
			EventType:   eventType,
			PayloadJSON: string(payload),
			Status:      models.WebhookDeliveryStatusPending,
			MaxAttempts: constants.WebhookMaxAttempts,
			NextRetryAt: &now,
			CreatedAt:   now,
		}
		if err := s.deliveries.Create(ctx, delivery); err != nil {
			return fmt.Errorf("failed to create webhook delivery: %w", err)
		}

		if err := s.attempt(ctx, delivery, webhook); err != nil {
			s.logger.Warn("webhook delivery attempt failed",
				"delivery_id", delivery.ID,
				"webhook_id", webhook.ID,
				"error", err,
			)
		}
	}

	return nil
}

// ProcessPendingRetries attempts up to limit due deliveries and returns
// how many were attempted. Called periodically by the worker runtime.
func (s *WebhookService) ProcessPendingRetries(ctx context.Context, limit int) (int, error) {
	pending, err := s.deliveries.GetPendingRetries(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending deliveries: %w", err)
	}

	attempted := 0
	for _, delivery := range pending {
		webhook, err := s.webhooks.GetByID(ctx, delivery.WebhookID)
		if err != nil {
			return attempted, err
		}
		if webhook == nil || !webhook.IsActive {
			// Endpoint deleted or disabled since the event fired
			delivery.Status = models.WebhookDeliveryStatusFailed
			delivery.ErrorMessage = "webhook endpoint no longer active"
			delivery.NextRetryAt = nil
			if err := s.deliveries.Update(ctx, delivery); err != nil {
				return attempted, err
			}
			metrics.IncWebhookOutcome("failed")
			continue
		}

		if err := s.attempt(ctx, delivery, webhook); err != nil {
			s.logger.Warn("webhook retry attempt failed",
				"delivery_id", delivery.ID,
				"attempts", delivery.Attempts,
				"error", err,
			)
		}
		attempted++
	}

	return attempted, nil
}

// attempt performs one POST and updates the delivery row with the outcome.
func (s *WebhookService) attempt(ctx context.Context, delivery *models.WebhookDelivery, webhook *models.Webhook) error {
	delivery.Attempts++

	secret, err := s.encryptor.Decrypt(webhook.SecretEncrypted)
	if err != nil {
		return s.recordFailure(ctx, delivery, 0, "", fmt.Sprintf("failed to decrypt webhook secret: %v", err), false)
	}

	payload := []byte(delivery.PayloadJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return s.recordFailure(ctx, delivery, 0, "", fmt.Sprintf("failed to build request: %v", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SEOAtlas-Webhook/1.0")
	req.Header.Set("X-Webhook-Signature", SignPayload(payload, secret))
	req.Header.Set("X-Webhook-Event", delivery.EventType)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		// Network errors are retryable
		metrics.ObserveWebhookAttempt(-1)
		return s.recordFailure(ctx, delivery, 0, "", err.Error(), true)
	}
	defer resp.Body.Close()

	metrics.ObserveWebhookAttempt(resp.StatusCode)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.WebhookResponseBodyLimit))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		now := time.Now().UTC()
		code := resp.StatusCode
		delivery.Status = models.WebhookDeliveryStatusDelivered
		delivery.ResponseCode = &code
		delivery.ResponseBody = string(body)
		delivery.ErrorMessage = ""
		delivery.NextRetryAt = nil
		delivery.DeliveredAt = &now
		if err := s.deliveries.Update(ctx, delivery); err != nil {
			return err
		}
		metrics.IncWebhookOutcome("delivered")
		s.logger.Info("webhook delivered",
			"delivery_id", delivery.ID,
			"event", delivery.EventType,
			"status", resp.StatusCode,
			"attempts", delivery.Attempts,
		)
		return nil
	}

	// 4xx means the endpoint rejected the request and a retry would be
	// rejected too. 429 is the exception: back off and try again.
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode < 400 || resp.StatusCode >= 500
	return s.recordFailure(ctx, delivery, resp.StatusCode,
		string(body), fmt.Sprintf("endpoint returned status %d", resp.StatusCode), retryable)
}

func (s *WebhookService) recordFailure(ctx context.Context, delivery *models.WebhookDelivery, statusCode int, body, message string, retryable bool) error {
	delivery.ResponseBody = body
	delivery.ErrorMessage = message
	if statusCode != 0 {
		code := statusCode
		delivery.ResponseCode = &code
	}

	if retryable && delivery.Attempts < delivery.MaxAttempts {
		next := time.Now().UTC().Add(retryDelay(delivery.Attempts))
		delivery.Status = models.WebhookDeliveryStatusPending
		delivery.NextRetryAt = &next
	} else {
		delivery.Status = models.WebhookDeliveryStatusFailed
		delivery.NextRetryAt = nil
		metrics.IncWebhookOutcome("failed")
	}

	if err := s.deliveries.Update(ctx, delivery); err != nil {
		return err
	}
	return fmt.Errorf("webhook delivery %s: %s", delivery.ID, message)
}

// retryDelay returns the ladder delay after the given attempt count:
// 1m, 5m, 15m, 1h, 4h.
func retryDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(constants.WebhookRetrySchedule) {
		idx = len(constants.WebhookRetrySchedule) - 1
	}
	return constants.WebhookRetrySchedule[idx]
}

// isEventSubscribed reports whether an endpoint subscribed to eventType.
// An empty list or "*" subscribes to everything.
func isEventSubscribed(events []string, eventType string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == string(models.WebhookEventAll) || e == eventType {
			return true
		}
	}
	return false
}
