// Package worker runs the durable job queue: claiming jobs under a
// lease, renewing it while handlers run, and classifying failures into
// retries or terminal state. One worker process can run several claim
// loops plus the webhook retry loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/seoatlas/seoatlas-api/internal/logging"
	"github.com/seoatlas/seoatlas-api/internal/metrics"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/redact"
	"github.com/seoatlas/seoatlas-api/internal/repository"
	"github.com/seoatlas/seoatlas-api/internal/service"
)

// Worker processes background jobs.
type Worker struct {
	jobs                 repository.JobRepository
	webhookSvc           *service.WebhookService
	registry             *Registry
	pollInterval         time.Duration
	lease                time.Duration
	concurrency          int
	webhookRetryInterval time.Duration
	workerID             string
	stop                 chan struct{}
	wg                   sync.WaitGroup
	logger               *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval         time.Duration
	LeaseDuration        time.Duration
	Concurrency          int
	WebhookRetryInterval time.Duration
}

// New creates a new worker.
func New(
	jobs repository.JobRepository,
	webhookSvc *service.WebhookService,
	registry *Registry,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.WebhookRetryInterval == 0 {
		cfg.WebhookRetryInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	return &Worker{
		jobs:                 jobs,
		webhookSvc:           webhookSvc,
		registry:             registry,
		pollInterval:         cfg.PollInterval,
		lease:                cfg.LeaseDuration,
		concurrency:          cfg.Concurrency,
		webhookRetryInterval: cfg.WebhookRetryInterval,
		workerID:             fmt.Sprintf("%s-%s", hostname, ulid.Make().String()),
		stop:                 make(chan struct{}),
		logger:               logger.With("component", "worker"),
	}
}

// Start begins processing jobs and webhook retries.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting",
		"worker_id", w.workerID,
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"lease", w.lease,
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runClaimLoop(ctx, i)
	}

	if w.webhookSvc != nil {
		w.wg.Add(1)
		go w.runWebhookRetryLoop(ctx)
	}

	w.wg.Add(1)
	go w.runMaintenanceLoop(ctx)
}

// Stop gracefully stops the worker, waiting for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) runClaimLoop(ctx context.Context, slot int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain eligible jobs before going back to sleep
			for w.processNextJob(ctx, slot) {
				select {
				case <-w.stop:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// processNextJob claims and processes one job. Returns true if a job was
// claimed, so the caller can immediately poll again.
func (w *Worker) processNextJob(ctx context.Context, slot int) bool {
	claimID := fmt.Sprintf("%s-%d", w.workerID, slot)
	job, err := w.jobs.Claim(ctx, claimID, w.lease)
	if err != nil {
		w.logger.Error("failed to claim job", "slot", slot, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	metrics.IncJobClaimed(string(job.Type))
	w.logger.Info("processing job",
		"job_id", job.ID,
		"type", job.Type,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
	)

	w.runJob(ctx, claimID, job)
	return true
}

func (w *Worker) runJob(ctx context.Context, claimID string, job *models.Job) {
	handler := w.registry.Get(job.Type)
	if handler == nil {
		w.finishFailed(ctx, claimID, job, fmt.Sprintf("no handler registered for job type %q", job.Type))
		return
	}

	// The job context is cancelled if the lease is lost, so a handler
	// whose job was reclaimed stops doing work another worker now owns.
	// It also carries the job and tenant IDs for log correlation.
	jobCtx, cancel := context.WithCancel(logging.WithTenantID(logging.WithJobID(ctx, job.ID), job.TenantID))
	defer cancel()

	renewDone := make(chan struct{})
	go w.renewLoop(jobCtx, cancel, claimID, job.ID, renewDone)

	started := time.Now()
	err := handler.Handle(jobCtx, job)
	cancel()
	<-renewDone

	if err == nil {
		if err := w.jobs.MarkDone(ctx, job.ID, claimID); err != nil {
			if errors.Is(err, repository.ErrLeaseLost) {
				w.logger.Warn("lease lost before completion", "job_id", job.ID)
				return
			}
			w.logger.Error("failed to mark job done", "job_id", job.ID, "error", err)
			return
		}
		metrics.ObserveJobCompleted(string(job.Type), time.Since(started))
		w.logger.Info("job completed", "job_id", job.ID, "attempt", job.Attempt)
		return
	}

	if IsPermanent(err) {
		w.finishFailed(ctx, claimID, job, redact.Error(err))
		return
	}

	if job.Attempt >= job.MaxAttempts {
		w.finishFailed(ctx, claimID, job, "attempts exhausted: "+redact.Error(err))
		return
	}

	delay, requeueErr := w.jobs.RequeueWithBackoff(ctx, job.ID, claimID, redact.Error(err))
	if requeueErr != nil {
		if errors.Is(requeueErr, repository.ErrLeaseLost) {
			w.logger.Warn("lease lost before requeue", "job_id", job.ID)
			return
		}
		w.logger.Error("failed to requeue job", "job_id", job.ID, "error", requeueErr)
		return
	}
	metrics.IncJobRequeued(string(job.Type))
	w.logger.Warn("job requeued",
		"job_id", job.ID,
		"attempt", job.Attempt,
		"delay", delay,
		"error", err,
	)
}

func (w *Worker) finishFailed(ctx context.Context, claimID string, job *models.Job, cause string) {
	if err := w.jobs.MarkFailed(ctx, job.ID, claimID, cause); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			w.logger.Warn("lease lost before failure", "job_id", job.ID)
			return
		}
		w.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.ObserveJobFailed(string(job.Type), 0)
	w.logger.Error("job failed", "job_id", job.ID, "attempt", job.Attempt, "error", cause)

	if fh, ok := w.registry.Get(job.Type).(FailureHandler); ok {
		fh.HandleFailure(ctx, job, cause)
	}
}

// renewLoop extends the lease at half its duration while the job runs.
// Losing the lease cancels the job context.
func (w *Worker) renewLoop(ctx context.Context, cancel context.CancelFunc, claimID, jobID string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.lease / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.RenewLease(ctx, jobID, claimID, w.lease); err != nil {
				if errors.Is(err, repository.ErrLeaseLost) {
					w.logger.Warn("lease lost during renewal, abandoning job", "job_id", jobID)
					cancel()
					return
				}
				w.logger.Error("failed to renew lease", "job_id", jobID, "error", err)
			}
		}
	}
}

// runMaintenanceLoop sweeps exhausted jobs and samples queue depth.
// Jobs whose lease expired after the final attempt are invisible to
// Claim, so the sweep is what moves them to failed.
func (w *Worker) runMaintenanceLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.jobs.FailExhaustedJobs(ctx); err != nil {
				w.logger.Error("exhausted job sweep failed", "error", err)
			} else if n > 0 {
				w.logger.Warn("failed exhausted jobs", "count", n)
			}

			counts, err := w.jobs.CountByStatus(ctx)
			if err != nil {
				w.logger.Error("queue depth sample failed", "error", err)
				continue
			}
			for _, status := range []models.JobStatus{
				models.JobStatusQueued,
				models.JobStatusRunning,
				models.JobStatusDone,
				models.JobStatusFailed,
			} {
				metrics.SetQueueDepth(string(status), counts[status])
			}
		}
	}
}

// runWebhookRetryLoop periodically drives pending webhook deliveries.
func (w *Worker) runWebhookRetryLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.webhookRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.webhookSvc.ProcessPendingRetries(ctx, 50)
			if err != nil {
				w.logger.Error("webhook retry pass failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Info("webhook retries processed", "count", n)
			}
		}
	}
}
