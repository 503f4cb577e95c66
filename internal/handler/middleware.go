package handler

import (
	"context"
	"net/http"
	"strings"

	"pin-auth-service/internal/token"
)

type contextKey string

const (
	ctxUserID   contextKey = "auth_user_id"
	ctxRole     contextKey = "auth_role"
	ctxDeviceID contextKey = "auth_device_id"
)

// AuthMiddleware verifies the bearer access token and stashes its identity
// in the request context.
func AuthMiddleware(minter *token.Minter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				respondUnauthorized(w)
				return
			}

			claims, err := minter.ParseAccess(strings.TrimPrefix(header, prefix))
			if err != nil {
				respondUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, claims.Subject)
			ctx = context.WithValue(ctx, ctxRole, claims.Role)
			ctx = context.WithValue(ctx, ctxDeviceID, claims.DID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxUserID).(string)
	return id, ok && id != ""
}

func respondUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success":false,"error":"invalid credentials"}`))
}
