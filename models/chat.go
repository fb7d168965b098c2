package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ChatMessageType is the kind of content a chat message carries. Image and
// file messages hold a URL produced by the upload service.
type ChatMessageType string

const (
	ChatMessageText  ChatMessageType = "text"
	ChatMessageImage ChatMessageType = "image"
	ChatMessageFile  ChatMessageType = "file"
)

// ChatMessage is one message of a consultation chat.
type ChatMessage struct {
	ID             string          `json:"id"`
	ConsultationID string          `json:"consultation_id"`
	SenderID       string          `json:"sender_id"`
	SenderName     string          `json:"sender_name"`
	SenderRole     Role            `json:"sender_role"`
	RecipientID    string          `json:"recipient_id"`
	Content        string          `json:"content"`
	Type           ChatMessageType `json:"type"`
	CreatedAt      time.Time       `json:"created_at"`
	ReadBy         []string        `json:"read_by"`
}

// SendChatMessageRequest is the payload of a chat send.
type SendChatMessageRequest struct {
	ConsultationID string          `json:"consultation_id"`
	Content        string          `json:"content"`
	Type           ChatMessageType `json:"type"`
}

// Validate trims the content, defaults the type to text and enforces
// 1..maxLength runes.
func (r *SendChatMessageRequest) Validate(maxLength int) error {
	if r.ConsultationID == "" {
		return fmt.Errorf("consultation_id is required")
	}

	r.Content = strings.TrimSpace(r.Content)
	if r.Content == "" {
		return fmt.Errorf("message content is required")
	}
	if n := utf8.RuneCountInString(r.Content); n > maxLength {
		return fmt.Errorf("message content must be at most %d characters (got %d)", maxLength, n)
	}

	switch r.Type {
	case "":
		r.Type = ChatMessageText
	case ChatMessageText, ChatMessageImage, ChatMessageFile:
	default:
		return fmt.Errorf("unknown message type %q", r.Type)
	}
	return nil
}

// ReadReceipt is broadcast after a reader marks messages as read.
type ReadReceipt struct {
	ConsultationID string    `json:"consultation_id"`
	ReaderID       string    `json:"reader_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}
