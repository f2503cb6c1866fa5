package handlers

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/seoatlas/seoatlas-api/internal/config"
	"github.com/seoatlas/seoatlas-api/internal/crypto"
	"github.com/seoatlas/seoatlas-api/internal/database/migrations"
	"github.com/seoatlas/seoatlas-api/internal/http/mw"
	"github.com/seoatlas/seoatlas-api/internal/repository"
	"github.com/seoatlas/seoatlas-api/internal/service"
	_ "github.com/tursodatabase/go-libsql"
)

// testEnv bundles the real service stack on an in-memory database so
// handler tests exercise the same code paths as the server.
type testEnv struct {
	db       *sql.DB
	repos    *repository.Repositories
	services *service.Services
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// Pin endpoint hostname resolution so webhook URL validation does
	// not depend on real DNS.
	prevLookup := service.WebhookLookupIP
	service.WebhookLookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	t.Cleanup(func() { service.WebhookLookupIP = prevLookup })

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
	t.Cleanup(func() { _ = db.Close() })

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate encryption key: %v", err)
	}

	repos := repository.NewRepositories(db)
	services, err := service.NewServices(&config.Config{
		EncryptionKey:  key,
		WebhookTimeout: 5 * time.Second,
	}, repos, slog.Default())
	if err != nil {
		t.Fatalf("failed to create services: %v", err)
	}

	return &testEnv{db: db, repos: repos, services: services}
}

// tenantContext returns a context carrying authenticated tenant claims,
// the way the auth middleware does.
func tenantContext(tenantID, tier string) context.Context {
	return context.WithValue(context.Background(), mw.TenantClaimsKey, &mw.TenantClaims{
		TenantID: tenantID,
		Tier:     tier,
	})
}

// assertStatus fails unless err is a huma error with the given status.
func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected status %d error, got nil", want)
	}
	statusErr, ok := err.(huma.StatusError)
	if !ok {
		t.Fatalf("expected huma.StatusError, got %T: %v", err, err)
	}
	if statusErr.GetStatus() != want {
		t.Fatalf("status = %d, want %d (%v)", statusErr.GetStatus(), want, err)
	}
}
