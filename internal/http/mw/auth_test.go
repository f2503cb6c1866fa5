package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret"

// ========================================
// Helpers
// ========================================

func makeToken(t *testing.T, secret string, claims tokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// authTestServer returns a handler that records the claims the
// middleware put on the context.
func authTestServer(secret string, got **TenantClaims) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetTenantClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return Auth(secret)(inner)
}

func doRequest(handler http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/v1/audits", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ========================================
// Auth Tests
// ========================================

func TestAuth_ValidToken(t *testing.T) {
	var got *TenantClaims
	handler := authTestServer(testSecret, &got)

	token := makeToken(t, testSecret, tokenClaims{
		TenantID: "tenant_1",
		Tier:     "pro",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	rec := doRequest(handler, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("claims not set on context")
	}
	if got.TenantID != "tenant_1" {
		t.Errorf("TenantID = %q, want tenant_1", got.TenantID)
	}
	if got.Tier != "pro" {
		t.Errorf("Tier = %q, want pro", got.Tier)
	}
}

func TestAuth_SubjectFallback(t *testing.T) {
	var got *TenantClaims
	handler := authTestServer(testSecret, &got)

	token := makeToken(t, testSecret, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tenant_from_sub",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	rec := doRequest(handler, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.TenantID != "tenant_from_sub" {
		t.Errorf("TenantID = %q, want tenant_from_sub", got.TenantID)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	var got *TenantClaims
	rec := doRequest(authTestServer(testSecret, &got), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	var got *TenantClaims
	handler := authTestServer(testSecret, &got)

	token := makeToken(t, "other-secret", tokenClaims{
		TenantID: "tenant_1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	rec := doRequest(handler, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	var got *TenantClaims
	handler := authTestServer(testSecret, &got)

	token := makeToken(t, testSecret, tokenClaims{
		TenantID: "tenant_1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	rec := doRequest(handler, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_RejectsNonHS256(t *testing.T) {
	var got *TenantClaims
	handler := authTestServer(testSecret, &got)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, tokenClaims{
		TenantID: "tenant_1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	rec := doRequest(handler, "Bearer "+signed)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for non-HS256 token", rec.Code)
	}
}

func TestAuth_TokenWithoutTenant(t *testing.T) {
	var got *TenantClaims
	handler := authTestServer(testSecret, &got)

	token := makeToken(t, testSecret, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	rec := doRequest(handler, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for token with no tenant", rec.Code)
	}
}

func TestGetTenantClaims_EmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if claims := GetTenantClaims(req.Context()); claims != nil {
		t.Errorf("claims = %v, want nil", claims)
	}
}
