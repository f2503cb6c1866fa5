// Package logging configures the process-wide slog logger and carries
// job and tenant identifiers through context so log lines emitted deep
// in the worker can be correlated with the job that produced them.
//
// Output format is chosen by LOG_FORMAT (text/json), falling back to
// text on a TTY and JSON otherwise. LOG_LEVEL picks the minimum level
// (debug/info/warn/error, default info).
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ContextKey is the type used for logging values stored in a context.
type ContextKey string

const (
	// JobIDKey carries the ID of the job currently being processed.
	JobIDKey ContextKey = "log_job_id"
	// TenantIDKey carries the tenant that owns the current request or job.
	TenantIDKey ContextKey = "log_tenant_id"
)

// New creates a configured logger. Source locations are rewritten to be
// relative to the working directory to keep log lines short.
func New() *slog.Logger {
	wd, _ := os.Getwd()

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(os.Getenv("LOG_LEVEL")),
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	format := os.Getenv("LOG_FORMAT")
	if format == "text" || (format == "" && isatty(os.Stdout)) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// SetDefault creates a logger via New and installs it as the slog default.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// WithJobID returns a context carrying the given job ID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithTenantID returns a context carrying the given tenant ID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetJobID returns the job ID stored in ctx, or "" if none is set.
func GetJobID(ctx context.Context) string {
	if v, ok := ctx.Value(JobIDKey).(string); ok {
		return v
	}
	return ""
}

// GetTenantID returns the tenant ID stored in ctx, or "" if none is set.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns logger annotated with any job or tenant IDs found
// in ctx. If the context carries neither, the logger is returned as-is.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if jobID := GetJobID(ctx); jobID != "" {
		logger = logger.With("job_id", jobID)
	}
	if tenantID := GetTenantID(ctx); tenantID != "" {
		logger = logger.With("tenant_id", tenantID)
	}
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
