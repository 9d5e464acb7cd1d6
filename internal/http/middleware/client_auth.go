package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tripdesk/tripdesk-portal/internal/http/response"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

type ctxKey string

const (
	ctxClientIdentity ctxKey = "client_identity"
	ctxStaffClaims    ctxKey = "staff_claims"
)

// RequireClient verifies the Authorization bearer access token and stashes
// the client identity in the request context. Every failure mode produces
// the same 401.
func RequireClient(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w)
				return
			}
			identity, err := tokens.VerifyAccess(strings.TrimPrefix(authz, "Bearer "))
			if err != nil {
				response.Unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), ctxClientIdentity, identity)
			ctx = context.WithValue(ctx, logger.ClientIDKey, identity.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIdentity returns the verified identity set by RequireClient.
func ClientIdentity(r *http.Request) (token.ClientIdentity, bool) {
	v, ok := r.Context().Value(ctxClientIdentity).(token.ClientIdentity)
	return v, ok
}

// RequireStaff verifies the back-office bearer token. An empty role allows
// any staff account.
func RequireStaff(tokens *token.Service, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w)
				return
			}
			claims, err := tokens.VerifyStaff(strings.TrimPrefix(authz, "Bearer "))
			if err != nil {
				response.Unauthorized(w)
				return
			}
			if role != "" && claims.Role != role && claims.Role != "admin" {
				response.Unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), ctxStaffClaims, claims)
			ctx = context.WithValue(ctx, logger.StaffIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffClaims returns the claims set by RequireStaff.
func StaffClaims(r *http.Request) *token.StaffClaims {
	v, _ := r.Context().Value(ctxStaffClaims).(*token.StaffClaims)
	return v
}
