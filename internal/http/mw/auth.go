// Package mw contains HTTP middleware for the seoatlas-api.
package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// TenantClaimsKey is the context key for tenant claims.
	TenantClaimsKey ContextKey = "tenant_claims"
)

// TenantClaims identifies the authenticated tenant on a request.
type TenantClaims struct {
	TenantID string
	Tier     string
}

// tokenClaims is the JWT payload we accept. TenantID falls back to the
// standard subject claim when tenant_id is absent.
type tokenClaims struct {
	TenantID string `json:"tenant_id"`
	Tier     string `json:"tier"`
	jwt.RegisteredClaims
}

// Auth returns middleware that validates HS256 bearer tokens and puts the
// tenant claims on the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			var claims tokenClaims
			parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc,
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			tenantID := claims.TenantID
			if tenantID == "" {
				tenantID = claims.Subject
			}
			if tenantID == "" {
				writeAuthError(w, http.StatusUnauthorized, "token missing tenant")
				return
			}

			ctx := context.WithValue(r.Context(), TenantClaimsKey, &TenantClaims{
				TenantID: tenantID,
				Tier:     claims.Tier,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantClaims retrieves tenant claims from context.
func GetTenantClaims(ctx context.Context) *TenantClaims {
	claims, ok := ctx.Value(TenantClaimsKey).(*TenantClaims)
	if !ok {
		return nil
	}
	return claims
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
