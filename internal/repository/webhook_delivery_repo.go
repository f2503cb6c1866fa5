package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/constants"
	"github.com/seoatlas/seoatlas-api/internal/models"
)

// SQLiteWebhookDeliveryRepository implements WebhookDeliveryRepository
// for SQLite/libsql.
type SQLiteWebhookDeliveryRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookDeliveryRepository creates a new SQLite webhook delivery repository.
func NewSQLiteWebhookDeliveryRepository(db *sql.DB) *SQLiteWebhookDeliveryRepository {
	return &SQLiteWebhookDeliveryRepository{db: db}
}

const deliveryColumns = `id, webhook_id, tenant_id, event_type, payload_json, status,
	attempts, max_attempts, next_retry_at, response_code, response_body,
	error_message, created_at, delivered_at`

func (r *SQLiteWebhookDeliveryRepository) Create(ctx context.Context, delivery *models.WebhookDelivery) error {
	if delivery.MaxAttempts == 0 {
		delivery.MaxAttempts = constants.WebhookMaxAttempts
	}
	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, tenant_id, event_type, payload_json, status,
			attempts, max_attempts, next_retry_at, response_code, response_body,
			error_message, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.WebhookID,
		delivery.TenantID,
		delivery.EventType,
		delivery.PayloadJSON,
		delivery.Status,
		delivery.Attempts,
		delivery.MaxAttempts,
		nullTime(delivery.NextRetryAt),
		nullInt(delivery.ResponseCode),
		nullString(delivery.ResponseBody),
		nullString(delivery.ErrorMessage),
		delivery.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(delivery.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookDeliveryRepository) Update(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = ?, attempts = ?, next_retry_at = ?, response_code = ?,
			response_body = ?, error_message = ?, delivered_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		delivery.Status,
		delivery.Attempts,
		nullTime(delivery.NextRetryAt),
		nullInt(delivery.ResponseCode),
		nullString(delivery.ResponseBody),
		nullString(delivery.ErrorMessage),
		nullTime(delivery.DeliveredAt),
		delivery.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookDeliveryRepository) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = ?`
	delivery, err := scanDeliveryFields(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
	}
	return delivery, nil
}

func (r *SQLiteWebhookDeliveryRepository) GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	return r.queryDeliveries(ctx, query, webhookID, limit, offset)
}

// GetPendingRetries returns pending deliveries whose retry time has
// arrived. New deliveries are created with next_retry_at set to now, so
// this also picks up never-attempted rows after a crash.
func (r *SQLiteWebhookDeliveryRepository) GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC LIMIT ?`
	return r.queryDeliveries(ctx, query, time.Now().UTC().Format(time.RFC3339), limit)
}

func (r *SQLiteWebhookDeliveryRepository) queryDeliveries(ctx context.Context, query string, args ...any) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDeliveryFields(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	return deliveries, rows.Err()
}

func scanDeliveryFields(scan func(dest ...any) error) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	var nextRetryAt, responseBody, errorMessage, deliveredAt sql.NullString
	var responseCode sql.NullInt64
	var createdAt string

	err := scan(
		&delivery.ID, &delivery.WebhookID, &delivery.TenantID, &delivery.EventType,
		&delivery.PayloadJSON, &delivery.Status, &delivery.Attempts, &delivery.MaxAttempts,
		&nextRetryAt, &responseCode, &responseBody, &errorMessage, &createdAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	delivery.ResponseBody = responseBody.String
	delivery.ErrorMessage = errorMessage.String
	delivery.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if nextRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
		delivery.NextRetryAt = &t
	}
	if deliveredAt.Valid {
		t, _ := time.Parse(time.RFC3339, deliveredAt.String)
		delivery.DeliveredAt = &t
	}
	if responseCode.Valid {
		code := int(responseCode.Int64)
		delivery.ResponseCode = &code
	}

	return &delivery, nil
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
