package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akinalp/agroconsult/database"
	"github.com/akinalp/agroconsult/models"
)

type sqliteChatMessageRepo struct {
	db *sql.DB
}

func NewSQLiteChatMessageRepo(db *sql.DB) ChatMessageRepository {
	return &sqliteChatMessageRepo{db: db}
}

func (r *sqliteChatMessageRepo) Append(ctx context.Context, message *models.ChatMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Type == "" {
		message.Type = models.ChatMessageText
	}

	query := `
		INSERT INTO chat_messages
			(id, consultation_id, sender_id, sender_name, sender_role, recipient_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.ConsultationID,
		message.SenderID,
		message.SenderName,
		message.SenderRole,
		message.RecipientID,
		message.Content,
		message.Type,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	if message.ReadBy == nil {
		message.ReadBy = []string{}
	}
	return nil
}

// FindRecent selects newest first with LIMIT, then reverses so callers get
// chronological order.
func (r *sqliteChatMessageRepo) FindRecent(ctx context.Context, consultationID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		return []models.ChatMessage{}, nil
	}

	query := `
		SELECT id, consultation_id, sender_id, sender_name, sender_role, recipient_id, content, type, created_at
		FROM chat_messages
		WHERE consultation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, consultationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0, limit)
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(
			&m.ID, &m.ConsultationID, &m.SenderID, &m.SenderName, &m.SenderRole,
			&m.RecipientID, &m.Content, &m.Type, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.ReadBy = []string{}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := r.attachReaders(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *sqliteChatMessageRepo) attachReaders(ctx context.Context, messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	index := make(map[string]int, len(messages))
	args := make([]any, 0, len(messages))
	for i, m := range messages {
		index[m.ID] = i
		args = append(args, m.ID)
	}

	query := `
		SELECT message_id, reader_id
		FROM chat_message_reads
		WHERE message_id IN (` + placeholders(len(args)) + `)
		ORDER BY read_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query read receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, readerID string
		if err := rows.Scan(&messageID, &readerID); err != nil {
			return fmt.Errorf("failed to scan read receipt: %w", err)
		}
		if i, ok := index[messageID]; ok {
			messages[i].ReadBy = append(messages[i].ReadBy, readerID)
		}
	}
	return rows.Err()
}

func (r *sqliteChatMessageRepo) MarkRead(ctx context.Context, consultationID string, messageIDs []string, readerID string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	query := `
		INSERT OR IGNORE INTO chat_message_reads (message_id, reader_id, read_at)
		SELECT id, ?, ?
		FROM chat_messages
		WHERE id = ? AND consultation_id = ? AND sender_id != ?`

	now := time.Now().UTC()
	updated := 0

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare read receipt insert: %w", err)
		}
		defer stmt.Close()

		for _, id := range messageIDs {
			res, err := stmt.ExecContext(ctx, readerID, now, id, consultationID, readerID)
			if err != nil {
				return fmt.Errorf("failed to mark message %s read: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to count read receipts: %w", err)
			}
			updated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return updated, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
