package main

import (
	"github.com/akinalp/agroconsult/handlers"
	"github.com/akinalp/agroconsult/ws"
)

// Handlers groups the HTTP and WebSocket entry points.
type Handlers struct {
	Auth      *handlers.AuthHandler
	VideoRoom *handlers.VideoRoomHandler
	ICE       *handlers.ICEHandler
	WS        *ws.Handler
}

func initHandlers(svcs *Services, hub *ws.Hub) *Handlers {
	return &Handlers{
		Auth:      handlers.NewAuthHandler(),
		VideoRoom: handlers.NewVideoRoomHandler(svcs.VideoRoom, svcs.Consultation),
		ICE:       handlers.NewICEHandler(svcs.ICE),
		WS:        ws.NewHandler(hub, svcs.Auth, svcs.HandshakeLimiter),
	}
}
