package handlers

import (
	"net/http"

	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/services"
)

type ICEHandler struct {
	ice services.ICEService
}

func NewICEHandler(ice services.ICEService) *ICEHandler {
	return &ICEHandler{ice: ice}
}

// Servers returns STUN servers and, when a relay is configured, TURN
// credentials bound to the caller.
//
//	GET /api/ice-servers
func (h *ICEHandler) Servers(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkg.JSON(w, http.StatusOK, h.ice.ServersFor(identity.UserID))
}
