// Package handlers holds the HTTP endpoints next to the WebSocket gateway.
//
// Handlers stay thin: read the request, call a service, write the response.
// Authorization rules live in the services.
package handlers

import (
	"net/http"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
)

type contextKey string

// UserContextKey carries the caller's models.Identity, set by the auth
// middleware.
const UserContextKey contextKey = "user"

// identityFrom reads the identity placed by the auth middleware.
func identityFrom(r *http.Request) (models.Identity, bool) {
	identity, ok := r.Context().Value(UserContextKey).(models.Identity)
	return identity, ok
}

// AuthHandler exposes what the gateway knows about the bearer of a token.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me returns the identity resolved from the access token.
//
//	GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}
	pkg.JSON(w, http.StatusOK, identity)
}
