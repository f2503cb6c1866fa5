package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seoatlas/seoatlas-api/internal/version"
)

func TestAPIVersion(t *testing.T) {
	handler := APIVersion()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	got := rec.Header().Get("X-API-Version")
	if got == "" {
		t.Fatal("X-API-Version header not set")
	}
	if got != version.Get().Short() {
		t.Errorf("X-API-Version = %q, want %q", got, version.Get().Short())
	}
}
