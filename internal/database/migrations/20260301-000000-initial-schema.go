package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-000000",
		Description: "initial schema",
		Up: []string{
			// Single-table job queue. queued_at doubles as the eligibility
			// time: requeued jobs carry a future queued_at.
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				audit_id TEXT,
				type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'queued',
				attempt INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 5,
				queued_at TEXT NOT NULL,
				started_at TEXT,
				finished_at TEXT,
				locked_until TEXT,
				locked_by TEXT,
				idempotency_key TEXT,
				payload_json TEXT,
				last_error TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, queued_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id, status)`,
			// Only non-terminal jobs participate in idempotency collapse;
			// finished jobs keep their key for audit trails without
			// blocking re-submission.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency
				ON jobs(idempotency_key)
				WHERE idempotency_key IS NOT NULL AND status IN ('queued', 'running')`,

			`CREATE TABLE IF NOT EXISTS audits (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				url TEXT NOT NULL,
				company_name TEXT,
				tier TEXT NOT NULL DEFAULT 'basic',
				status TEXT NOT NULL DEFAULT 'pending',
				score REAL NOT NULL DEFAULT 0,
				grade TEXT,
				report_path TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audits_tenant ON audits(tenant_id, created_at)`,

			`CREATE TABLE IF NOT EXISTS webhooks (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				url TEXT NOT NULL,
				secret_encrypted TEXT,
				events TEXT NOT NULL DEFAULT '[]',
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhooks_tenant ON webhooks(tenant_id)`,

			`CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				webhook_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 5,
				next_retry_at TEXT,
				response_code INTEGER,
				response_body TEXT,
				error_message TEXT,
				created_at TEXT NOT NULL,
				delivered_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON webhook_deliveries(status, next_retry_at)`,
			`CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id, created_at)`,

			`CREATE TABLE IF NOT EXISTS tenant_quotas (
				tenant_id TEXT PRIMARY KEY,
				tier TEXT NOT NULL DEFAULT 'basic',
				monthly_audits_limit INTEGER NOT NULL DEFAULT 10,
				monthly_audits_used INTEGER NOT NULL DEFAULT 0,
				billing_cycle_start TEXT NOT NULL,
				max_concurrent_audits INTEGER NOT NULL DEFAULT 2,
				max_pages_per_audit INTEGER NOT NULL DEFAULT 50,
				max_ai_prompts_per_audit INTEGER NOT NULL DEFAULT 10,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// Append-only progress sink. Rows are never updated or deleted
			// by the application.
			`CREATE TABLE IF NOT EXISTS audit_events (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL,
				audit_id TEXT,
				event_type TEXT NOT NULL,
				message TEXT,
				progress_pct INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_job ON audit_events(job_id, id)`,
		},
	})
}
