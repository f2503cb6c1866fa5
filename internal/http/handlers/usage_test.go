package handlers

import (
	"context"
	"net/http"
	"testing"
)

func TestGetUsage(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewUsageHandler(env.services.Quota)
	ctx := tenantContext("tenant_1", "pro")

	output, err := handler.GetUsage(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Tier != "pro" {
		t.Errorf("Tier = %q, want pro", output.Body.Tier)
	}
	if output.Body.MonthlyAuditsLimit != 50 {
		t.Errorf("MonthlyAuditsLimit = %d, want 50", output.Body.MonthlyAuditsLimit)
	}
	if output.Body.MonthlyAuditsUsed != 0 {
		t.Errorf("MonthlyAuditsUsed = %d, want 0", output.Body.MonthlyAuditsUsed)
	}
}

func TestGetUsage_CountsConsumedAudits(t *testing.T) {
	env := setupTestEnv(t)
	usage := NewUsageHandler(env.services.Quota)
	audits := NewAuditsHandler(env.services.Job, env.services.Storage)
	ctx := tenantContext("tenant_1", "basic")

	if _, err := audits.CreateAudit(ctx, createAuditInput("https://example.com")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output, err := usage.GetUsage(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.MonthlyAuditsUsed != 1 {
		t.Errorf("MonthlyAuditsUsed = %d, want 1", output.Body.MonthlyAuditsUsed)
	}
}

func TestGetUsage_Unauthorized(t *testing.T) {
	env := setupTestEnv(t)
	handler := NewUsageHandler(env.services.Quota)

	_, err := handler.GetUsage(context.Background(), nil)
	assertStatus(t, err, http.StatusUnauthorized)
}
