// Package service contains the business logic layer.
// Note: Tenant identity and billing are handled by external systems.
// The TenantID in services references those external tenant IDs.
package service

import (
	"fmt"
	"log/slog"

	"github.com/seoatlas/seoatlas-api/internal/config"
	"github.com/seoatlas/seoatlas-api/internal/crypto"
	"github.com/seoatlas/seoatlas-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Job     *JobService
	Quota   *QuotaService
	Webhook *WebhookService
	Storage *StorageService
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	// Encryptor is required: webhook secrets are stored encrypted
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	quotaSvc := NewQuotaService(logger, repos.Quotas, repos.Jobs)
	jobSvc := NewJobService(logger, repos, quotaSvc)
	webhookSvc := NewWebhookService(logger, repos.Webhooks, repos.WebhookDeliveries, encryptor, cfg.WebhookTimeout)

	return &Services{
		Job:     jobSvc,
		Quota:   quotaSvc,
		Webhook: webhookSvc,
		Storage: storageSvc,
	}, nil
}
