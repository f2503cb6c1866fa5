// Package handlers contains the HTTP API handlers.
package handlers

import (
	"context"

	"github.com/seoatlas/seoatlas-api/internal/http/mw"
	"github.com/seoatlas/seoatlas-api/internal/version"
)

// HealthCheckOutput represents the health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status" doc:"Service status"`
		Version string `json:"version" doc:"API version"`
	}
}

// HealthCheck handles the public health check endpoint.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "ok"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// LivezOutput represents the liveness probe response.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Livez handles the Kubernetes liveness probe.
func Livez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// DBPinger is the slice of *sql.DB the readiness probe needs.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// ReadyzHandler handles the readiness probe, which verifies the database
// connection.
type ReadyzHandler struct {
	db DBPinger
}

// NewReadyzHandler creates a readiness probe handler.
func NewReadyzHandler(db DBPinger) *ReadyzHandler {
	return &ReadyzHandler{db: db}
}

// ReadyzOutput represents the readiness probe response.
type ReadyzOutput struct {
	Body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

// Readyz handles the Kubernetes readiness probe.
func (h *ReadyzHandler) Readyz(ctx context.Context, input *struct{}) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Status = "ok"
	out.Body.Database = "ok"
	if err := h.db.PingContext(ctx); err != nil {
		out.Body.Status = "degraded"
		out.Body.Database = "unreachable"
	}
	return out, nil
}

// getTenantID pulls the authenticated tenant ID from context.
func getTenantID(ctx context.Context) string {
	claims := mw.GetTenantClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.TenantID
}

// getTenantTier pulls the authenticated tenant's tier from context.
func getTenantTier(ctx context.Context) string {
	claims := mw.GetTenantClaims(ctx)
	if claims == nil || claims.Tier == "" {
		return "basic"
	}
	return claims.Tier
}
