package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/repository"
)

// stubJobRepo satisfies repository.JobRepository with inert defaults so
// mocks only override the methods a test cares about.
type stubJobRepo struct{}

func (stubJobRepo) Create(ctx context.Context, job *models.Job) error { return nil }
func (stubJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	return nil, nil
}
func (stubJobRepo) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Job, error) {
	return nil, nil
}
func (stubJobRepo) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error) {
	return nil, nil
}
func (stubJobRepo) RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return nil
}
func (stubJobRepo) MarkDone(ctx context.Context, jobID, workerID string) error { return nil }
func (stubJobRepo) MarkFailed(ctx context.Context, jobID, workerID, lastError string) error {
	return nil
}
func (stubJobRepo) RequeueWithBackoff(ctx context.Context, jobID, workerID, lastError string) (time.Duration, error) {
	return 0, nil
}
func (stubJobRepo) GetActiveByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	return nil, nil
}
func (stubJobRepo) CountActiveByTenantID(ctx context.Context, tenantID string) (int, error) {
	return 0, nil
}
func (stubJobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	return nil, nil
}
func (stubJobRepo) FailExhaustedJobs(ctx context.Context) (int64, error) { return 0, nil }

// mockJobRepo is an in-memory JobRepository covering the behavior the
// service layer relies on: active-key uniqueness and active counting.
type mockJobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[string]*models.Job)}
}

func (m *mockJobRepo) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.IdempotencyKey != "" {
		for _, j := range m.jobs {
			if j.IdempotencyKey == job.IdempotencyKey && !j.Status.IsTerminal() {
				return errors.New("UNIQUE constraint failed: jobs.idempotency_key")
			}
		}
	}
	clone := *job
	if clone.MaxAttempts == 0 {
		clone.MaxAttempts = 5
	}
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j, ok := m.jobs[id]; ok {
		clone := *j
		return &clone, nil
	}
	return nil, nil
}

func (m *mockJobRepo) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.TenantID == tenantID {
			clone := *j
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockJobRepo) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error) {
	return nil, nil
}

func (m *mockJobRepo) RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	return nil
}

func (m *mockJobRepo) MarkDone(ctx context.Context, jobID, workerID string) error {
	m.setStatus(jobID, models.JobStatusDone)
	return nil
}

func (m *mockJobRepo) MarkFailed(ctx context.Context, jobID, workerID, lastError string) error {
	m.setStatus(jobID, models.JobStatusFailed)
	return nil
}

func (m *mockJobRepo) setStatus(jobID string, status models.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.Status = status
	}
}

func (m *mockJobRepo) RequeueWithBackoff(ctx context.Context, jobID, workerID, lastError string) (time.Duration, error) {
	return 0, nil
}

func (m *mockJobRepo) GetActiveByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.IdempotencyKey == key && !j.Status.IsTerminal() {
			clone := *j
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *mockJobRepo) CountActiveByTenantID(ctx context.Context, tenantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, j := range m.jobs {
		if j.TenantID == tenantID && !j.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

func (m *mockJobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[models.JobStatus]int)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *mockJobRepo) FailExhaustedJobs(ctx context.Context) (int64, error) { return 0, nil }

// mockAuditRepo is an in-memory AuditRepository.
type mockAuditRepo struct {
	mu     sync.RWMutex
	audits map[string]*models.Audit
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{audits: make(map[string]*models.Audit)}
}

func (m *mockAuditRepo) Create(ctx context.Context, audit *models.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *audit
	m.audits[audit.ID] = &clone
	return nil
}

func (m *mockAuditRepo) GetByID(ctx context.Context, id string) (*models.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.audits[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, nil
}

func (m *mockAuditRepo) GetByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]*models.Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Audit
	for _, a := range m.audits {
		if a.TenantID == tenantID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockAuditRepo) Update(ctx context.Context, audit *models.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *audit
	m.audits[audit.ID] = &clone
	return nil
}

// mockEventRepo is an in-memory append-only EventRepository.
type mockEventRepo struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
}

func newMockEventRepo() *mockEventRepo {
	return &mockEventRepo{}
}

func (m *mockEventRepo) Append(ctx context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *event
	m.events = append(m.events, &clone)
	return nil
}

func (m *mockEventRepo) GetByJobID(ctx context.Context, jobID string) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEventRepo) GetByAuditID(ctx context.Context, auditID string) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if e.AuditID == auditID {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ repository.JobRepository = (*mockJobRepo)(nil)
var _ repository.JobRepository = (*mockJobCounter)(nil)
var _ repository.AuditRepository = (*mockAuditRepo)(nil)
var _ repository.EventRepository = (*mockEventRepo)(nil)
var _ repository.WebhookRepository = (*mockWebhookRepo)(nil)
var _ repository.WebhookDeliveryRepository = (*mockDeliveryRepo)(nil)
var _ repository.QuotaRepository = (*mockQuotaRepo)(nil)
