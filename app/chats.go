package app

import (
	"context"
	"fmt"

	"github.com/damfello/bequ-15/app/models"
)

// ChatStore persists chat history.
type ChatStore interface {
	InsertChatMessage(ctx context.Context, userID, sessionID string, body models.MessageBody) error
	ListChatMessages(ctx context.Context, userID, sessionID string) ([]models.ChatMessage, error)
	DeleteChatMessages(ctx context.Context, userID string) (int64, error)
}

func (s *Store) InsertChatMessage(ctx context.Context, userID, sessionID string, body models.MessageBody) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_histories (user_id, session_id, message)
		VALUES ($1, $2, $3);
	`, userID, sessionID, body)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns the user's messages oldest first. An empty
// sessionID lists every session.
func (s *Store) ListChatMessages(ctx context.Context, userID, sessionID string) ([]models.ChatMessage, error) {
	out := []models.ChatMessage{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, user_id, session_id, message, created_at
		FROM chat_histories
		WHERE user_id = $1
		  AND ($2 = '' OR session_id = $2)
		ORDER BY created_at ASC, id ASC;
	`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return out, nil
}

// DeleteChatMessages removes all of the user's messages and returns how many were deleted.
func (s *Store) DeleteChatMessages(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_histories
		WHERE user_id = $1;
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
