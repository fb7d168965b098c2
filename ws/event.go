// Package ws is the WebSocket side of the signaling gateway: connection
// registry, presence index, groups (video rooms, chat rooms, personal
// channels) and the per-connection read/write pumps.
package ws

import (
	"encoding/json"

	"github.com/akinalp/agroconsult/models"
)

// Event is the frame exchanged in both directions.
//
//	{"op": "join_video_room", "d": {"consultation_id": "c1"}, "ref": "7"}
//
// Ref is chosen by the client for operations that expect a reply; the
// acknowledgement or error event for that operation carries the same Ref.
// Seq is stamped on every server-sent event.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
	Ref  string `json:"ref,omitempty"`
}

// inboundEvent keeps the payload raw until the op is known.
type inboundEvent struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d"`
	Ref  string          `json:"ref"`
}

// Client → server operations.
const (
	OpHeartbeat = "heartbeat"

	OpJoinVideoRoom  = "join_video_room"
	OpLeaveVideoRoom = "leave_video_room"
	OpEndCall        = "end_call"

	// Relay ops are also the op names of the forwarded events.
	OpOffer        = "offer"
	OpAnswer       = "answer"
	OpICECandidate = "ice_candidate"

	OpJoinChat        = "join_chat"
	OpSendChatMessage = "send_chat_message"
	OpChatTyping      = "chat_typing" // both directions
	OpMarkChatRead    = "mark_chat_read"
	OpLeaveChat       = "leave_chat"
)

// Server → client events.
const (
	OpHello        = "hello"
	OpHeartbeatAck = "heartbeat_ack"
	OpError        = "error"

	OpVideoRoomJoined = "video_room_joined"
	OpUserJoined      = "user_joined"
	OpReady           = "ready"
	OpUserLeft        = "user_left"
	OpVideoRoomLeft   = "video_room_left"
	OpCallEnded       = "call_ended"
	OpIncomingCall    = "incoming_call"

	OpChatJoined             = "chat_joined"
	OpChatUserJoined         = "chat_user_joined"
	OpChatMessage            = "chat_message"
	OpChatMessageSent        = "chat_message_sent"
	OpChatReadAck            = "chat_read_ack"
	OpChatReadReceipt        = "chat_read_receipt"
	OpChatLeft               = "chat_left"
	OpChatUserLeft           = "chat_user_left"
	OpNewMessageNotification = "new_message_notification"
)

// UserChannel is the personal notification group of a user. Every
// connection of the user is in it.
func UserChannel(userID string) string {
	return "user:" + userID
}

// ChatChannel is the chat group of a consultation.
func ChatChannel(consultationID string) string {
	return "chat:" + consultationID
}

// ─── Inbound payloads ───

type VideoJoinData struct {
	ConsultationID string `json:"consultation_id"`
}

type VideoLeaveData struct {
	RoomID string `json:"room_id"`
}

type EndCallData struct {
	RoomID         string `json:"room_id"`
	ConsultationID string `json:"consultation_id"`
}

// SignalData carries an SDP or ICE candidate. TargetUserID is optional;
// without it the payload goes to everyone else in the room.
type SignalData struct {
	RoomID       string          `json:"room_id"`
	Payload      json.RawMessage `json:"payload"`
	TargetUserID string          `json:"target_user_id,omitempty"`
}

type ChatJoinData struct {
	ConsultationID string `json:"consultation_id"`
}

type ChatTypingData struct {
	ConsultationID string `json:"consultation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type ChatReadData struct {
	ConsultationID string   `json:"consultation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type ChatLeaveData struct {
	ConsultationID string `json:"consultation_id"`
}

// ─── Outbound payloads ───

type HelloData struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// ErrorData is sent only to the connection whose operation failed.
type ErrorData struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UserJoinedData struct {
	RoomID            string             `json:"room_id"`
	Participant       models.Participant `json:"participant"`
	ShouldCreateOffer bool               `json:"should_create_offer"`
}

type ReadyData struct {
	RoomID          string               `json:"room_id"`
	Participants    []models.Participant `json:"participants"`
	InitiatorUserID string               `json:"initiator_user_id"`
}

type UserLeftData struct {
	RoomID         string `json:"room_id"`
	UserID         string `json:"user_id"`
	RemainingCount int    `json:"remaining_count"`
}

type RoomLeftData struct {
	RoomID string `json:"room_id"`
}

type CallEndedData struct {
	RoomID  string `json:"room_id"`
	EndedBy string `json:"ended_by"`
}

type IncomingCallData struct {
	RoomID         string          `json:"room_id"`
	ConsultationID string          `json:"consultation_id"`
	Caller         models.Identity `json:"caller"`
}

// RelayedSignal is what the peer receives for offer/answer/ice_candidate.
type RelayedSignal struct {
	RoomID     string          `json:"room_id"`
	FromUserID string          `json:"from_user_id"`
	Payload    json.RawMessage `json:"payload"`
}

type ChatJoinedData struct {
	ConsultationID string               `json:"consultation_id"`
	Messages       []models.ChatMessage `json:"messages"`
}

type ChatPresenceData struct {
	ConsultationID string `json:"consultation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
}

type ChatTypingBroadcast struct {
	ConsultationID string `json:"consultation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	IsTyping       bool   `json:"is_typing"`
}

type ChatReadAckData struct {
	ConsultationID string `json:"consultation_id"`
	Updated        int    `json:"updated"`
}

type NewMessageNotification struct {
	ConsultationID string `json:"consultation_id"`
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Preview        string `json:"preview"`
}
