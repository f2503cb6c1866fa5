// Package main is the entry point for the seoatlas-api server.
// Note: Tenant identity, subscriptions, and billing are handled by an
// external identity provider; requests arrive with signed tenant JWTs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seoatlas/seoatlas-api/internal/config"
	"github.com/seoatlas/seoatlas-api/internal/constants"
	"github.com/seoatlas/seoatlas-api/internal/database"
	"github.com/seoatlas/seoatlas-api/internal/fetch"
	"github.com/seoatlas/seoatlas-api/internal/http/handlers"
	"github.com/seoatlas/seoatlas-api/internal/http/mw"
	"github.com/seoatlas/seoatlas-api/internal/logging"
	"github.com/seoatlas/seoatlas-api/internal/metrics"
	"github.com/seoatlas/seoatlas-api/internal/models"
	"github.com/seoatlas/seoatlas-api/internal/repository"
	"github.com/seoatlas/seoatlas-api/internal/service"
	"github.com/seoatlas/seoatlas-api/internal/version"
	"github.com/seoatlas/seoatlas-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting seoatlas-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Jobs whose lease expired with no attempts left are failed at
	// startup so they surface instead of sitting in limbo.
	swept, err := repos.Jobs.FailExhaustedJobs(context.Background())
	if err != nil {
		logger.Warn("failed to sweep exhausted jobs", "error", err)
	} else if swept > 0 {
		logger.Info("failed exhausted jobs from previous runs", "count", swept)
	}

	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Register job handlers and start the worker runtime
	registry := worker.NewRegistry()
	registry.Register(models.JobTypeAudit, worker.NewAuditHandler(
		logger,
		repos,
		services.Webhook,
		services.Storage,
		fetch.Options{
			MaxBodyBytes: cfg.FetchMaxBodyBytes,
			MaxRedirects: cfg.FetchMaxRedirects,
		},
	))

	jobWorker := worker.New(
		repos.Jobs,
		services.Webhook,
		registry,
		worker.Config{
			PollInterval:         cfg.WorkerPollInterval,
			LeaseDuration:        cfg.WorkerLeaseDuration,
			Concurrency:          cfg.WorkerConcurrency,
			WebhookRetryInterval: cfg.WebhookRetryInterval,
		},
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	jobWorker.Start(ctx)

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-API-Version", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit - prevent large payload attacks
	router.Use(middleware.RequestSize(constants.MaxRequestBodySize))

	// Global rate limit by IP (fallback for unauthenticated requests)
	router.Use(mw.RateLimitByIP(constants.GlobalIPRateLimitPerMinute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(constants.GlobalConcurrencyLimit))

	// Prometheus scrape endpoint
	router.Handle("/metrics", metrics.Handler())

	// Huma API config with OpenAPI docs
	humaConfig := huma.DefaultConfig("SEOAtlas API", version.Get().Short())
	humaConfig.Info.Description = "Asynchronous SEO audit API with durable jobs, signed webhooks, and tiered quotas."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:        "http",
			Scheme:      "bearer",
			Description: "Tenant JWT authentication. Include your token in the Authorization header as `Bearer <token>`.",
		},
	}
	api := humachi.New(router, humaConfig)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("SEOAtlas API", version.Get().Short())
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	// Config for protected routes (docs are served by the main API)
	protectedConfig := huma.DefaultConfig("SEOAtlas API", version.Get().Short())
	protectedConfig.Info.Description = humaConfig.Info.Description
	protectedConfig.Servers = humaConfig.Servers
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	// Health check (public, shown in docs)
	huma.Get(api, "/api/v1/health", handlers.HealthCheck)

	// Kubernetes probes (hidden from docs - internal use only)
	huma.Get(hiddenAPI, "/healthz", handlers.Livez)
	huma.Get(hiddenAPI, "/readyz", handlers.NewReadyzHandler(db).Readyz)

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(cfg.JWTSecret))
		r.Use(mw.RateLimitByTenant(mw.DefaultRateLimitConfig()))

		protectedAPI := humachi.New(r, protectedConfig)

		// Audit routes
		auditsHandler := handlers.NewAuditsHandler(services.Job, services.Storage)
		huma.Register(protectedAPI, huma.Operation{
			OperationID:   "createAudit",
			Method:        http.MethodPost,
			Path:          "/api/v1/audits",
			Summary:       "Submit an audit",
			DefaultStatus: http.StatusAccepted,
		}, auditsHandler.CreateAudit)
		huma.Get(protectedAPI, "/api/v1/audits", auditsHandler.ListAudits)
		huma.Get(protectedAPI, "/api/v1/audits/{id}", auditsHandler.GetAudit)
		huma.Get(protectedAPI, "/api/v1/audits/{id}/events", auditsHandler.GetAuditEvents)
		huma.Get(protectedAPI, "/api/v1/audits/{id}/report", auditsHandler.GetAuditReport)

		// Usage routes
		huma.Get(protectedAPI, "/api/v1/usage", handlers.NewUsageHandler(services.Quota).GetUsage)

		// Webhook management routes
		webhookHandler := handlers.NewWebhookHandler(services.Webhook, repos.Webhooks, repos.WebhookDeliveries)
		huma.Get(protectedAPI, "/api/v1/webhooks", webhookHandler.ListWebhooks)
		huma.Get(protectedAPI, "/api/v1/webhooks/{id}", webhookHandler.GetWebhook)
		huma.Post(protectedAPI, "/api/v1/webhooks", webhookHandler.CreateWebhook)
		huma.Put(protectedAPI, "/api/v1/webhooks/{id}", webhookHandler.UpdateWebhook)
		huma.Delete(protectedAPI, "/api/v1/webhooks/{id}", webhookHandler.DeleteWebhook)
		huma.Get(protectedAPI, "/api/v1/webhooks/{id}/deliveries", webhookHandler.ListWebhookDeliveries)
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the worker first so in-flight jobs finish or requeue.
		// Past the grace period jobs are abandoned; their leases expire
		// and another worker reclaims them.
		cancel()
		stopped := make(chan struct{})
		go func() {
			jobWorker.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.WorkerShutdownGracePeriod):
			logger.Warn("worker shutdown grace period elapsed, abandoning in-flight jobs")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
