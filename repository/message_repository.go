package repository

import (
	"context"

	"github.com/akinalp/agroconsult/models"
)

// ChatMessageRepository is the message store behind consultation chat.
type ChatMessageRepository interface {
	// FindRecent returns up to limit newest messages in ascending time order,
	// each with the ids of users who have read it.
	FindRecent(ctx context.Context, consultationID string, limit int) ([]models.ChatMessage, error)

	// Append persists message, filling ID and CreatedAt when empty.
	Append(ctx context.Context, message *models.ChatMessage) error

	// MarkRead records readerID as a reader of the given messages of the
	// consultation. Messages sent by the reader and ids from another
	// consultation are skipped. Returns the number of new receipts.
	MarkRead(ctx context.Context, consultationID string, messageIDs []string, readerID string) (int, error)
}
