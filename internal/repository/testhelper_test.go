package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestJob inserts a job row directly. queuedAt controls eligibility
// and must be RFC3339 because the claim query compares the strings.
func InsertTestJob(t *testing.T, db *sql.DB, id, tenantID, status string, queuedAt time.Time) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO jobs (id, tenant_id, type, status, attempt, max_attempts, queued_at, payload_json, created_at, updated_at)
		VALUES (?, ?, 'audit', ?, 0, 5, ?, '{}', ?, ?)
	`
	if _, err := db.Exec(query, id, tenantID, status, queuedAt.UTC().Format(time.RFC3339), now, now); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}

// InsertTestRunningJob inserts a running job with an explicit lease.
func InsertTestRunningJob(t *testing.T, db *sql.DB, id, tenantID, lockedBy string, attempt int, lockedUntil time.Time) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO jobs (id, tenant_id, type, status, attempt, max_attempts, queued_at, locked_until, locked_by, payload_json, created_at, updated_at)
		VALUES (?, ?, 'audit', 'running', ?, 5, ?, ?, ?, '{}', ?, ?)
	`
	if _, err := db.Exec(query, id, tenantID, attempt, now, lockedUntil.UTC().Format(time.RFC3339), lockedBy, now, now); err != nil {
		t.Fatalf("failed to insert test running job: %v", err)
	}
}

// InsertTestWebhook inserts a webhook endpoint row directly.
func InsertTestWebhook(t *testing.T, db *sql.DB, id, tenantID, url string, active bool) {
	t.Helper()
	isActive := 0
	if active {
		isActive = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO webhooks (id, tenant_id, url, secret_encrypted, events, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 'encrypted-secret', '["*"]', ?, ?, ?)
	`
	if _, err := db.Exec(query, id, tenantID, url, isActive, now, now); err != nil {
		t.Fatalf("failed to insert test webhook: %v", err)
	}
}
