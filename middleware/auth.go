// Package middleware holds the HTTP middleware chain. A middleware is a
// func(next http.Handler) http.Handler that either calls next or answers
// the request itself.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/akinalp/agroconsult/handlers"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/services"
)

// AuthMiddleware resolves the bearer token into the caller identity.
type AuthMiddleware struct {
	authService services.AuthService
}

func NewAuthMiddleware(authService services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

// Require answers 401 unless the request carries a valid
// "Authorization: Bearer <token>" header. Tokens are self-contained; no
// user lookup is made.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <token>")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := m.authService.ValidateAccessToken(tokenString)
		if err != nil {
			pkg.Error(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), handlers.UserContextKey, claims.Identity())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
