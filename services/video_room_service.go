package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/ws"
)

// ConsultationAuthorizer resolves a consultation and checks that userID is
// one of its parties. ConsultationService satisfies it.
type ConsultationAuthorizer interface {
	Authorize(ctx context.Context, consultationID, userID string) (*models.Consultation, error)
}

// VideoRoomService owns the Room Registry.
//
// Every mutation and the events it produces happen under one mutex, so each
// recipient sees room events in the order they were processed. Acks are
// sent by the service itself for the same reason: a joiner's
// video_room_joined is queued before any event caused by a later join.
type VideoRoomService interface {
	Join(ctx context.Context, caller models.Caller, consultationID string) (*models.JoinResult, error)
	Leave(caller models.Caller, roomID string) models.LeaveResult
	EndCall(caller models.Caller, roomID, consultationID string) error
	// Relay forwards an offer, answer or ICE candidate from a seated
	// participant to the other participants of the same room. Frames from
	// anyone else are dropped. Never acknowledged.
	Relay(caller models.Caller, kind models.SignalKind, data ws.SignalData)
	// HandleDisconnect treats a closed connection as a Leave of every room
	// whose participant entry still points at that connection.
	HandleDisconnect(caller models.Caller)
	GetRoom(roomID string) (*models.RoomSnapshot, error)
	RoomCount() int
}

type videoRoomService struct {
	consultations ConsultationAuthorizer
	hub           ws.EventPublisher

	// rooms: roomID → room. Process lifetime only.
	rooms map[string]*models.Room
	mu    sync.Mutex

	now func() time.Time
}

func NewVideoRoomService(consultations ConsultationAuthorizer, hub ws.EventPublisher) VideoRoomService {
	return &videoRoomService{
		consultations: consultations,
		hub:           hub,
		rooms:         make(map[string]*models.Room),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *videoRoomService) Join(ctx context.Context, caller models.Caller, consultationID string) (*models.JoinResult, error) {
	// The store round trip happens before the lock; a rejected caller never
	// touches the registry.
	consultation, err := s.consultations.Authorize(ctx, consultationID, caller.UserID)
	if err != nil {
		return nil, err
	}

	roomID := models.RoomIDForConsultation(consultation.ID)
	participant := models.Participant{
		UserID:       caller.UserID,
		ConnectionID: caller.ConnID,
		DisplayName:  caller.DisplayName,
		Role:         caller.Role,
		JoinedAt:     s.now(),
	}

	s.mu.Lock()

	room, exists := s.rooms[roomID]
	if !exists {
		room = models.NewRoom(consultation.ID, s.now())
		room.InitiatorUserID = caller.UserID
		s.rooms[roomID] = room
		log.Printf("[video] room created: %s by %s", roomID, caller.UserID)
	}

	var previousConn string
	if i := room.IndexOf(caller.UserID); i >= 0 {
		previousConn = room.Participants[i].ConnectionID
	}
	if room.Upsert(participant) && previousConn != caller.ConnID {
		// Re-join from a new tab: the old connection stops receiving room
		// broadcasts.
		s.hub.LeaveGroup(previousConn, roomID)
	}
	s.hub.JoinGroup(caller.ConnID, roomID)

	others := room.Others(caller.UserID)
	result := &models.JoinResult{
		RoomID:            roomID,
		ConsultationID:    consultation.ID,
		IsInitiator:       len(room.Participants) == 1,
		OtherParticipants: others,
	}

	s.hub.SendToConnection(caller.ConnID, ws.Event{
		Op:   ws.OpVideoRoomJoined,
		Ref:  caller.Ref,
		Data: result,
	})

	for _, other := range others {
		s.hub.SendToConnection(other.ConnectionID, ws.Event{
			Op: ws.OpUserJoined,
			Data: ws.UserJoinedData{
				RoomID:            roomID,
				Participant:       participant,
				ShouldCreateOffer: true,
			},
		})
	}

	if len(room.Participants) == 2 {
		s.hub.BroadcastToGroup(roomID, "", ws.Event{
			Op: ws.OpReady,
			Data: ws.ReadyData{
				RoomID:          roomID,
				Participants:    append([]models.Participant(nil), room.Participants...),
				InitiatorUserID: room.InitiatorUserID,
			},
		})
	} else if len(room.Participants) > 2 {
		log.Printf("[video] room %s now has %d participants", roomID, len(room.Participants))
	}

	s.mu.Unlock()

	log.Printf("[video] %s joined %s (participants=%d initiator=%t)",
		caller.UserID, roomID, len(others)+1, result.IsInitiator)

	if len(others) == 0 {
		s.notifyIncomingCall(caller, consultation, roomID)
	}

	return result, nil
}

// notifyIncomingCall rings the other party wherever they are connected.
func (s *videoRoomService) notifyIncomingCall(caller models.Caller, consultation *models.Consultation, roomID string) {
	other := consultation.OtherParty(caller.UserID)
	if other == "" {
		return
	}
	s.hub.BroadcastToGroup(ws.UserChannel(other), "", ws.Event{
		Op: ws.OpIncomingCall,
		Data: ws.IncomingCallData{
			RoomID:         roomID,
			ConsultationID: consultation.ID,
			Caller:         caller.Identity,
		},
	})
}

func (s *videoRoomService) Leave(caller models.Caller, roomID string) models.LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := models.LeaveResult{RoomID: roomID}
	seatConn := ""
	if room, ok := s.rooms[roomID]; ok {
		if i := room.IndexOf(caller.UserID); i >= 0 {
			seatConn = room.Participants[i].ConnectionID
			room.Remove(caller.UserID)
			result.Left = true
			result.RemainingCount = s.afterRemoveLocked(room, caller.UserID)
		}
	}

	s.hub.LeaveGroup(caller.ConnID, roomID)
	s.hub.SendToConnection(caller.ConnID, ws.Event{
		Op:   ws.OpVideoRoomLeft,
		Ref:  caller.Ref,
		Data: ws.RoomLeftData{RoomID: roomID},
	})

	// The seat may belong to another tab of the same user.
	if seatConn != "" && seatConn != caller.ConnID {
		s.hub.LeaveGroup(seatConn, roomID)
		s.hub.SendToConnection(seatConn, ws.Event{
			Op:   ws.OpVideoRoomLeft,
			Data: ws.RoomLeftData{RoomID: roomID},
		})
	}

	if result.Left {
		log.Printf("[video] %s left %s (remaining=%d)", caller.UserID, roomID, result.RemainingCount)
	}
	return result
}

// afterRemoveLocked deletes an empty room or tells the remaining
// participants who left. Returns the remaining count.
func (s *videoRoomService) afterRemoveLocked(room *models.Room, userID string) int {
	remaining := len(room.Participants)
	if remaining == 0 {
		delete(s.rooms, room.ID)
		s.hub.DissolveGroup(room.ID)
		log.Printf("[video] room deleted: %s (empty)", room.ID)
		return 0
	}

	for _, p := range room.Participants {
		s.hub.SendToConnection(p.ConnectionID, ws.Event{
			Op: ws.OpUserLeft,
			Data: ws.UserLeftData{
				RoomID:         room.ID,
				UserID:         userID,
				RemainingCount: remaining,
			},
		})
	}
	return remaining
}

func (s *videoRoomService) EndCall(caller models.Caller, roomID, consultationID string) error {
	if roomID == "" {
		if consultationID == "" {
			return fmt.Errorf("%w: room_id or consultation_id is required", pkg.ErrBadRequest)
		}
		roomID = models.RoomIDForConsultation(consultationID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", pkg.ErrNotFound, roomID)
	}
	if room.IndexOf(caller.UserID) < 0 {
		return fmt.Errorf("%w: %s is not in room %s", pkg.ErrForbidden, caller.UserID, roomID)
	}

	ended := ws.CallEndedData{RoomID: roomID, EndedBy: caller.UserID}
	for _, p := range room.Participants {
		if p.ConnectionID == caller.ConnID {
			continue
		}
		s.hub.SendToConnection(p.ConnectionID, ws.Event{Op: ws.OpCallEnded, Data: ended})
	}
	s.hub.SendToConnection(caller.ConnID, ws.Event{Op: ws.OpCallEnded, Ref: caller.Ref, Data: ended})

	s.hub.DissolveGroup(roomID)
	delete(s.rooms, roomID)

	log.Printf("[video] call ended: %s by %s (%d participants)", roomID, caller.UserID, len(room.Participants))
	return nil
}

func (s *videoRoomService) Relay(caller models.Caller, kind models.SignalKind, data ws.SignalData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[data.RoomID]
	if !ok {
		log.Printf("[video] %s from %s dropped: no room %q", kind, caller.UserID, data.RoomID)
		return
	}
	i := room.IndexOf(caller.UserID)
	if i < 0 || room.Participants[i].ConnectionID != caller.ConnID {
		log.Printf("[video] %s from %s dropped: not seated in %s on %s", kind, caller.UserID, room.ID, caller.ConnID)
		return
	}

	event := ws.Event{
		Op: string(kind),
		Data: ws.RelayedSignal{
			RoomID:     room.ID,
			FromUserID: caller.UserID,
			Payload:    data.Payload,
		},
	}

	if data.TargetUserID != "" {
		t := room.IndexOf(data.TargetUserID)
		if t < 0 || data.TargetUserID == caller.UserID {
			log.Printf("[video] %s from %s dropped: target %s not in %s", kind, caller.UserID, data.TargetUserID, room.ID)
			return
		}
		target := room.Participants[t]
		room.Record(kind, caller.UserID, target.UserID, copyPayload(data.Payload))
		if !s.hub.SendToConnection(target.ConnectionID, event) {
			log.Printf("[video] %s from %s dropped: target %s not connected", kind, caller.UserID, target.UserID)
		}
		return
	}

	for _, p := range room.Others(caller.UserID) {
		room.Record(kind, caller.UserID, p.UserID, copyPayload(data.Payload))
		s.hub.SendToConnection(p.ConnectionID, event)
	}
}

// copyPayload detaches a payload from the read buffer it was decoded from.
func copyPayload(payload json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), payload...)
}

func (s *videoRoomService) HandleDisconnect(caller models.Caller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, room := range s.rooms {
		i := room.IndexOf(caller.UserID)
		if i < 0 || room.Participants[i].ConnectionID != caller.ConnID {
			continue
		}
		room.Remove(caller.UserID)
		remaining := s.afterRemoveLocked(room, caller.UserID)
		log.Printf("[video] %s disconnected from %s (remaining=%d)", caller.UserID, roomID, remaining)
	}
}

func (s *videoRoomService) GetRoom(roomID string) (*models.RoomSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", pkg.ErrNotFound, roomID)
	}
	snapshot := room.Snapshot()
	return &snapshot, nil
}

func (s *videoRoomService) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
