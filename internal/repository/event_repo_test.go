package repository

import (
	"context"
	"testing"

	"github.com/seoatlas/seoatlas-api/internal/models"
)

func TestEventRepository_AppendAndGetByJobID(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	stages := []struct {
		eventType string
		progress  int
	}{
		{"initializing", 0},
		{"technical_audit", 10},
		{"content_audit", 30},
		{"completed", 100},
	}
	for _, s := range stages {
		err := repos.Events.Append(ctx, &models.AuditEvent{
			JobID:       "job_1",
			AuditID:     "audit_1",
			EventType:   s.eventType,
			Message:     "stage " + s.eventType,
			ProgressPct: s.progress,
		})
		if err != nil {
			t.Fatalf("Append(%s) error = %v", s.eventType, err)
		}
	}

	events, err := repos.Events.GetByJobID(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetByJobID() error = %v", err)
	}
	if len(events) != len(stages) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(stages))
	}

	// Append order must be preserved
	for i, s := range stages {
		if events[i].EventType != s.eventType {
			t.Errorf("events[%d].EventType = %s, want %s", i, events[i].EventType, s.eventType)
		}
		if events[i].ProgressPct != s.progress {
			t.Errorf("events[%d].ProgressPct = %d, want %d", i, events[i].ProgressPct, s.progress)
		}
		if events[i].ID == "" {
			t.Errorf("events[%d].ID not assigned", i)
		}
	}
}

func TestEventRepository_GetByAuditID(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	if err := repos.Events.Append(ctx, &models.AuditEvent{JobID: "job_1", AuditID: "audit_1", EventType: "initializing"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := repos.Events.Append(ctx, &models.AuditEvent{JobID: "job_2", AuditID: "audit_2", EventType: "initializing"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	events, err := repos.Events.GetByAuditID(ctx, "audit_1")
	if err != nil {
		t.Fatalf("GetByAuditID() error = %v", err)
	}
	if len(events) != 1 || events[0].AuditID != "audit_1" {
		t.Errorf("events = %v, want one for audit_1", events)
	}
}
