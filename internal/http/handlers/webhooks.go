package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/repository"
	"github.com/seoatlas/seoatlas-api/internal/service"
)

// WebhookHandler handles webhook endpoint management.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
	webhooks   repository.WebhookRepository
	deliveries repository.WebhookDeliveryRepository
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhookSvc *service.WebhookService, webhooks repository.WebhookRepository, deliveries repository.WebhookDeliveryRepository) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
		webhooks:   webhooks,
		deliveries: deliveries,
	}
}

// CreateWebhookInput represents a webhook registration.
type CreateWebhookInput struct {
	Body struct {
		URL    string   `json:"url" doc:"HTTPS endpoint to receive events"`
		Events []string `json:"events,omitempty" doc:"Event types to subscribe to; empty or [\"*\"] for all"`
	}
}

// CreateWebhookOutput represents the created webhook. The secret is only
// returned here; the stored copy is encrypted.
type CreateWebhookOutput struct {
	Body struct {
		Webhook *models.Webhook `json:"webhook"`
		Secret  string          `json:"secret" doc:"Signing secret; shown once"`
	}
}

// CreateWebhook registers a new webhook endpoint for the tenant.
func (h *WebhookHandler) CreateWebhook(ctx context.Context, input *CreateWebhookInput) (*CreateWebhookOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	webhook, secret, err := h.webhookSvc.Register(ctx, tenantID, input.Body.URL, input.Body.Events)
	if err != nil {
		if errors.Is(err, service.ErrInvalidWebhookURL) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to create webhook")
	}

	out := &CreateWebhookOutput{}
	out.Body.Webhook = webhook
	out.Body.Secret = secret
	return out, nil
}

// ListWebhooksOutput represents the tenant's webhooks.
type ListWebhooksOutput struct {
	Body struct {
		Webhooks []*models.Webhook `json:"webhooks"`
	}
}

// ListWebhooks returns all of the tenant's webhook endpoints.
func (h *WebhookHandler) ListWebhooks(ctx context.Context, input *struct{}) (*ListWebhooksOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	webhooks, err := h.webhooks.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list webhooks")
	}

	out := &ListWebhooksOutput{}
	out.Body.Webhooks = webhooks
	if out.Body.Webhooks == nil {
		out.Body.Webhooks = []*models.Webhook{}
	}
	return out, nil
}

// GetWebhookInput represents a webhook lookup.
type GetWebhookInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// GetWebhookOutput represents a single webhook.
type GetWebhookOutput struct {
	Body models.Webhook
}

// GetWebhook returns one of the tenant's webhooks.
func (h *WebhookHandler) GetWebhook(ctx context.Context, input *GetWebhookInput) (*GetWebhookOutput, error) {
	webhook, err := h.tenantWebhook(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetWebhookOutput{Body: *webhook}, nil
}

// UpdateWebhookInput represents a webhook update.
type UpdateWebhookInput struct {
	ID   string `path:"id" doc:"Webhook ID"`
	Body struct {
		URL      *string  `json:"url,omitempty" doc:"New endpoint URL"`
		Events   []string `json:"events,omitempty" doc:"New event subscriptions"`
		IsActive *bool    `json:"is_active,omitempty" doc:"Enable or disable deliveries"`
	}
}

// UpdateWebhookOutput represents the updated webhook.
type UpdateWebhookOutput struct {
	Body models.Webhook
}

// UpdateWebhook changes a webhook's URL, subscriptions, or active flag.
func (h *WebhookHandler) UpdateWebhook(ctx context.Context, input *UpdateWebhookInput) (*UpdateWebhookOutput, error) {
	webhook, err := h.tenantWebhook(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Body.URL != nil {
		if err := service.ValidateWebhookURL(*input.Body.URL); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		webhook.URL = *input.Body.URL
	}
	if input.Body.Events != nil {
		webhook.Events = input.Body.Events
	}
	if input.Body.IsActive != nil {
		webhook.IsActive = *input.Body.IsActive
	}
	webhook.UpdatedAt = time.Now().UTC()

	if err := h.webhooks.Update(ctx, webhook); err != nil {
		return nil, huma.Error500InternalServerError("failed to update webhook")
	}
	return &UpdateWebhookOutput{Body: *webhook}, nil
}

// DeleteWebhookInput represents a webhook deletion.
type DeleteWebhookInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// DeleteWebhookOutput represents the deletion result.
type DeleteWebhookOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

// DeleteWebhook removes a webhook endpoint. Pending deliveries to it are
// failed by the retry loop.
func (h *WebhookHandler) DeleteWebhook(ctx context.Context, input *DeleteWebhookInput) (*DeleteWebhookOutput, error) {
	webhook, err := h.tenantWebhook(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := h.webhooks.Delete(ctx, webhook.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete webhook")
	}

	out := &DeleteWebhookOutput{}
	out.Body.Deleted = true
	return out, nil
}

// ListWebhookDeliveriesInput represents a delivery history request.
type ListWebhookDeliveriesInput struct {
	ID     string `path:"id" doc:"Webhook ID"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Max deliveries to return"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Pagination offset"`
}

// ListWebhookDeliveriesOutput represents the delivery history.
type ListWebhookDeliveriesOutput struct {
	Body struct {
		Deliveries []*models.WebhookDelivery `json:"deliveries"`
	}
}

// ListWebhookDeliveries returns the delivery history for a webhook,
// newest first.
func (h *WebhookHandler) ListWebhookDeliveries(ctx context.Context, input *ListWebhookDeliveriesInput) (*ListWebhookDeliveriesOutput, error) {
	webhook, err := h.tenantWebhook(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	deliveries, err := h.deliveries.GetByWebhookID(ctx, webhook.ID, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list deliveries")
	}

	out := &ListWebhookDeliveriesOutput{}
	out.Body.Deliveries = deliveries
	if out.Body.Deliveries == nil {
		out.Body.Deliveries = []*models.WebhookDelivery{}
	}
	return out, nil
}

// tenantWebhook loads a webhook and verifies tenant ownership. Foreign
// webhooks surface as 404, not 403.
func (h *WebhookHandler) tenantWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	webhook, err := h.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get webhook")
	}
	if webhook == nil || webhook.TenantID != tenantID {
		return nil, huma.Error404NotFound("webhook not found")
	}
	return webhook, nil
}
