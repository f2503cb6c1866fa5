package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/seoatlas/seoatlas-api/internal/config"
)

// StorageService stores finished audit reports in S3-compatible object
// storage (Tigris, MinIO, S3). The database keeps only the object key.
type StorageService struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true // Required for some S3-compatible services
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// AuditReport is the full report document stored per completed audit.
type AuditReport struct {
	AuditID     string           `json:"audit_id"`
	TenantID    string           `json:"tenant_id"`
	URL         string           `json:"url"`
	Score       float64          `json:"score"`
	Grade       string           `json:"grade"`
	Sections    []ReportSection  `json:"sections"`
	CompletedAt time.Time        `json:"completed_at"`
}

// ReportSection is one audit stage's findings.
type ReportSection struct {
	Name     string          `json:"name"`
	Score    float64         `json:"score"`
	Findings json.RawMessage `json:"findings,omitempty"`
}

func reportKey(tenantID, auditID string) string {
	return fmt.Sprintf("reports/%s/%s.json", tenantID, auditID)
}

// StoreReport uploads a report and returns its object key. With storage
// disabled it returns an empty key and no error; the audit row simply
// carries no report path.
func (s *StorageService) StoreReport(ctx context.Context, report *AuditReport) (string, error) {
	if !s.enabled {
		return "", nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	key := reportKey(report.TenantID, report.AuditID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store report: %w", err)
	}

	s.logger.Info("stored audit report",
		"audit_id", report.AuditID,
		"key", key,
		"size_bytes", len(data),
	)
	return key, nil
}

// GetReportPresignedURL returns a time-limited download URL for a report.
func (s *StorageService) GetReportPresignedURL(ctx context.Context, tenantID, auditID string, expiry time.Duration) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("storage is not enabled")
	}
	if expiry == 0 {
		expiry = 1 * time.Hour
	}

	presignClient := s3.NewPresignClient(s.client)
	presignedReq, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(reportKey(tenantID, auditID)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedReq.URL, nil
}
