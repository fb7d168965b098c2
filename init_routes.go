package main

import (
	"encoding/json"
	"net/http"

	"github.com/akinalp/agroconsult/middleware"
	"github.com/akinalp/agroconsult/services"
)

// initRoutes registers every endpoint on mux.
func initRoutes(mux *http.ServeMux, h *Handlers, authService services.AuthService, rooms services.VideoRoomService) {
	authMw := middleware.NewAuthMiddleware(authService)
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(handler)
	}

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"service":      "agroconsult-signaling",
			"active_rooms": rooms.RoomCount(),
		})
	})

	mux.Handle("GET /api/me", auth(h.Auth.Me))
	mux.Handle("GET /api/ice-servers", auth(h.ICE.Servers))
	mux.Handle("GET /api/video-rooms/{roomId}", auth(h.VideoRoom.Get))

	// Browsers cannot set headers on a WebSocket upgrade, so the gateway
	// authenticates the token query parameter itself.
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
