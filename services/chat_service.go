package services

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/ws"
)

// previewLength caps the message excerpt in a new_message_notification.
const previewLength = 80

// ChatMessageStore is the External Message Store.
// repository.ChatMessageRepository satisfies it.
type ChatMessageStore interface {
	FindRecent(ctx context.Context, consultationID string, limit int) ([]models.ChatMessage, error)
	Append(ctx context.Context, message *models.ChatMessage) error
	MarkRead(ctx context.Context, consultationID string, messageIDs []string, readerID string) (int, error)
}

// ChatLimiter throttles sends per user. ratelimit.MessageRateLimiter
// satisfies it.
type ChatLimiter interface {
	Allow(userID string) bool
	CooldownSeconds(userID string) int
}

// ChatService runs the consultation chat side-channel. Members of a chat are
// the connections in ws.ChatChannel(consultationID); membership is held by
// the hub, so a closed connection leaves every chat implicitly.
type ChatService interface {
	Join(ctx context.Context, caller models.Caller, consultationID string) ([]models.ChatMessage, error)
	Send(ctx context.Context, caller models.Caller, req models.SendChatMessageRequest) (*models.ChatMessage, error)
	Typing(caller models.Caller, consultationID string, isTyping bool)
	MarkRead(ctx context.Context, caller models.Caller, consultationID string, messageIDs []string) (int, error)
	Leave(caller models.Caller, consultationID string)
}

type chatService struct {
	consultations ConsultationAuthorizer
	messages      ChatMessageStore
	hub           ws.EventPublisher
	limiter       ChatLimiter

	maxLength    int
	historyLimit int
}

func NewChatService(
	consultations ConsultationAuthorizer,
	messages ChatMessageStore,
	hub ws.EventPublisher,
	limiter ChatLimiter,
	maxLength int,
	historyLimit int,
) ChatService {
	return &chatService{
		consultations: consultations,
		messages:      messages,
		hub:           hub,
		limiter:       limiter,
		maxLength:     maxLength,
		historyLimit:  historyLimit,
	}
}

func (s *chatService) Join(ctx context.Context, caller models.Caller, consultationID string) ([]models.ChatMessage, error) {
	if _, err := s.consultations.Authorize(ctx, consultationID, caller.UserID); err != nil {
		return nil, err
	}

	history, err := s.messages.FindRecent(ctx, consultationID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	if history == nil {
		history = []models.ChatMessage{}
	}

	group := ws.ChatChannel(consultationID)
	alreadyIn := s.hub.UserInGroup(caller.UserID, group)
	s.hub.JoinGroup(caller.ConnID, group)

	s.hub.SendToConnection(caller.ConnID, ws.Event{
		Op:   ws.OpChatJoined,
		Ref:  caller.Ref,
		Data: ws.ChatJoinedData{ConsultationID: consultationID, Messages: history},
	})

	if !alreadyIn {
		s.hub.BroadcastToGroup(group, caller.ConnID, ws.Event{
			Op:   ws.OpChatUserJoined,
			Data: s.presence(caller, consultationID),
		})
	}

	log.Printf("[chat] %s joined %s (history=%d)", caller.UserID, consultationID, len(history))
	return history, nil
}

func (s *chatService) Send(ctx context.Context, caller models.Caller, req models.SendChatMessageRequest) (*models.ChatMessage, error) {
	if err := req.Validate(s.maxLength); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrBadRequest, err)
	}

	consultation, err := s.consultations.Authorize(ctx, req.ConsultationID, caller.UserID)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil && !s.limiter.Allow(caller.UserID) {
		return nil, &pkg.RateLimitError{RetryAfterSeconds: s.limiter.CooldownSeconds(caller.UserID)}
	}

	message := &models.ChatMessage{
		ConsultationID: consultation.ID,
		SenderID:       caller.UserID,
		SenderName:     caller.DisplayName,
		SenderRole:     caller.Role,
		RecipientID:    consultation.OtherParty(caller.UserID),
		Content:        req.Content,
		Type:           req.Type,
		ReadBy:         []string{},
	}

	// Nothing is broadcast unless the message is stored.
	if err := s.messages.Append(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to persist chat message: %w", err)
	}

	group := ws.ChatChannel(consultation.ID)
	s.hub.SendToConnection(caller.ConnID, ws.Event{
		Op:   ws.OpChatMessageSent,
		Ref:  caller.Ref,
		Data: message,
	})
	s.hub.BroadcastToGroup(group, caller.ConnID, ws.Event{
		Op:   ws.OpChatMessage,
		Data: message,
	})

	if message.RecipientID != "" && !s.hub.UserInGroup(message.RecipientID, group) {
		s.hub.BroadcastToGroup(ws.UserChannel(message.RecipientID), "", ws.Event{
			Op: ws.OpNewMessageNotification,
			Data: ws.NewMessageNotification{
				ConsultationID: consultation.ID,
				MessageID:      message.ID,
				SenderID:       message.SenderID,
				SenderName:     message.SenderName,
				Preview:        preview(message),
			},
		})
	}

	return message, nil
}

// Typing is relayed only for members of the chat, so no store lookup is
// needed per keystroke.
func (s *chatService) Typing(caller models.Caller, consultationID string, isTyping bool) {
	group := ws.ChatChannel(consultationID)
	if !s.hub.UserInGroup(caller.UserID, group) {
		return
	}
	s.hub.BroadcastToGroup(group, caller.ConnID, ws.Event{
		Op: ws.OpChatTyping,
		Data: ws.ChatTypingBroadcast{
			ConsultationID: consultationID,
			UserID:         caller.UserID,
			DisplayName:    caller.DisplayName,
			IsTyping:       isTyping,
		},
	})
}

func (s *chatService) MarkRead(ctx context.Context, caller models.Caller, consultationID string, messageIDs []string) (int, error) {
	ids := uniqueNonEmpty(messageIDs)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: message_ids is required", pkg.ErrBadRequest)
	}

	if _, err := s.consultations.Authorize(ctx, consultationID, caller.UserID); err != nil {
		return 0, err
	}

	updated, err := s.messages.MarkRead(ctx, consultationID, ids, caller.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	s.hub.SendToConnection(caller.ConnID, ws.Event{
		Op:   ws.OpChatReadAck,
		Ref:  caller.Ref,
		Data: ws.ChatReadAckData{ConsultationID: consultationID, Updated: updated},
	})

	if updated > 0 {
		s.hub.BroadcastToGroup(ws.ChatChannel(consultationID), caller.ConnID, ws.Event{
			Op: ws.OpChatReadReceipt,
			Data: models.ReadReceipt{
				ConsultationID: consultationID,
				ReaderID:       caller.UserID,
				MessageIDs:     ids,
				ReadAt:         time.Now().UTC(),
			},
		})
	}
	return updated, nil
}

func (s *chatService) Leave(caller models.Caller, consultationID string) {
	group := ws.ChatChannel(consultationID)
	wasIn := s.hub.UserInGroup(caller.UserID, group)

	s.hub.LeaveGroup(caller.ConnID, group)
	s.hub.SendToConnection(caller.ConnID, ws.Event{
		Op:   ws.OpChatLeft,
		Ref:  caller.Ref,
		Data: ws.ChatLeaveData{ConsultationID: consultationID},
	})

	// Another tab of the same user may still be in the chat.
	if wasIn && !s.hub.UserInGroup(caller.UserID, group) {
		s.hub.BroadcastToGroup(group, "", ws.Event{
			Op:   ws.OpChatUserLeft,
			Data: s.presence(caller, consultationID),
		})
	}
}

func (s *chatService) presence(caller models.Caller, consultationID string) ws.ChatPresenceData {
	return ws.ChatPresenceData{
		ConsultationID: consultationID,
		UserID:         caller.UserID,
		DisplayName:    caller.DisplayName,
	}
}

func preview(message *models.ChatMessage) string {
	if message.Type != models.ChatMessageText {
		return "[" + string(message.Type) + "]"
	}
	if utf8.RuneCountInString(message.Content) <= previewLength {
		return message.Content
	}
	return string([]rune(message.Content)[:previewLength]) + "…"
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
