package handlers

import (
	"fmt"
	"net/http"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/services"
)

// VideoRoomHandler serves read-only room state. Rooms are mutated only
// over the WebSocket gateway.
type VideoRoomHandler struct {
	rooms         services.VideoRoomService
	consultations services.ConsultationAuthorizer
}

func NewVideoRoomHandler(rooms services.VideoRoomService, consultations services.ConsultationAuthorizer) *VideoRoomHandler {
	return &VideoRoomHandler{rooms: rooms, consultations: consultations}
}

// Get returns the room snapshot, or 404 when no call is in progress.
// Only the consultation's parties may look.
//
//	GET /api/video-rooms/{roomId}
func (h *VideoRoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return
	}

	roomID := r.PathValue("roomId")
	consultationID, ok := models.ConsultationIDFromRoom(roomID)
	if !ok {
		pkg.Error(w, fmt.Errorf("%w: room %s", pkg.ErrNotFound, roomID))
		return
	}

	if _, err := h.consultations.Authorize(r.Context(), consultationID, identity.UserID); err != nil {
		pkg.Error(w, err)
		return
	}

	snapshot, err := h.rooms.GetRoom(roomID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, snapshot)
}
