package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/seoatlas/seoatlas-api/internal/service"
)

// UsageHandler handles usage endpoints.
type UsageHandler struct {
	quotaSvc *service.QuotaService
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(quotaSvc *service.QuotaService) *UsageHandler {
	return &UsageHandler{quotaSvc: quotaSvc}
}

// GetUsageOutput represents the usage response.
type GetUsageOutput struct {
	Body service.UsageSnapshot
}

// GetUsage returns the tenant's quota usage for the current billing cycle.
func (h *UsageHandler) GetUsage(ctx context.Context, input *struct{}) (*GetUsageOutput, error) {
	tenantID := getTenantID(ctx)
	if tenantID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	snapshot, err := h.quotaSvc.Usage(ctx, tenantID, getTenantTier(ctx))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get usage")
	}
	return &GetUsageOutput{Body: *snapshot}, nil
}
