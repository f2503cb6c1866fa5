package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/models"
)

// SQLiteWebhookRepository implements WebhookRepository for SQLite/libsql.
type SQLiteWebhookRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookRepository creates a new SQLite webhook repository.
func NewSQLiteWebhookRepository(db *sql.DB) *SQLiteWebhookRepository {
	return &SQLiteWebhookRepository{db: db}
}

const webhookColumns = `id, tenant_id, url, secret_encrypted, events, is_active, created_at, updated_at`

func (r *SQLiteWebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	events, err := json.Marshal(webhook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}
	query := `
		INSERT INTO webhooks (id, tenant_id, url, secret_encrypted, events, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.TenantID,
		webhook.URL,
		nullString(webhook.SecretEncrypted),
		string(events),
		webhook.IsActive,
		webhook.CreatedAt.UTC().Format(time.RFC3339),
		webhook.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = ?`
	webhook, err := scanWebhookFields(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	return webhook, nil
}

func (r *SQLiteWebhookRepository) GetByTenantID(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE tenant_id = ? ORDER BY created_at DESC`
	return r.queryWebhooks(ctx, query, tenantID)
}

func (r *SQLiteWebhookRepository) GetActiveByTenantID(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE tenant_id = ? AND is_active = 1 ORDER BY created_at DESC`
	return r.queryWebhooks(ctx, query, tenantID)
}

func (r *SQLiteWebhookRepository) queryWebhooks(ctx context.Context, query string, args ...any) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		webhook, err := scanWebhookFields(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func (r *SQLiteWebhookRepository) Update(ctx context.Context, webhook *models.Webhook) error {
	events, err := json.Marshal(webhook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}
	webhook.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE webhooks
		SET url = ?, secret_encrypted = ?, events = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		webhook.URL,
		nullString(webhook.SecretEncrypted),
		string(events),
		webhook.IsActive,
		webhook.UpdatedAt.Format(time.RFC3339),
		webhook.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

func scanWebhookFields(scan func(dest ...any) error) (*models.Webhook, error) {
	var webhook models.Webhook
	var secretEncrypted sql.NullString
	var events string
	var createdAt, updatedAt string

	err := scan(
		&webhook.ID, &webhook.TenantID, &webhook.URL, &secretEncrypted,
		&events, &webhook.IsActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	webhook.SecretEncrypted = secretEncrypted.String
	if err := json.Unmarshal([]byte(events), &webhook.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook events: %w", err)
	}
	webhook.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	webhook.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &webhook, nil
}
