package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/model"
)

// InsertInbound appends an inbound message. A redelivered provider message
// id hits the partial unique index and comes back as ErrDuplicate; callers
// treat that as "already processed" and stop.
func (s *Store) InsertInbound(ctx context.Context, m model.Message) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, direction, body, status, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id) WHERE direction = 'inbound' AND provider_id <> '' DO NOTHING`,
		m.ID, m.ConversationID, model.DirectionInbound, m.Body, m.Status, m.ProviderID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbound message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrDuplicate
	}
	return nil
}

// InsertOutbound appends a message the service sent to the contact.
func (s *Store) InsertOutbound(ctx context.Context, m model.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, direction, body, status, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, model.DirectionOutbound, m.Body, m.Status, m.ProviderID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbound message: %w", err)
	}
	return nil
}

// RecordSystemNote appends an audit entry (transfers, reassignments) to the
// message log. System notes are outbound-direction rows that never reach
// the contact.
func (s *Store) RecordSystemNote(ctx context.Context, conversationID uuid.UUID, body string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, direction, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New(), conversationID, model.DirectionOutbound, body, model.MsgStatusSystemNote,
	)
	if err != nil {
		return fmt.Errorf("insert system note: %w", err)
	}
	return nil
}

// ListMessages returns the full log for a conversation, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, direction, body, status, provider_id, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Body, &m.Status, &m.ProviderID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// MarkInboundRead flips unread inbound messages to read and zeroes the
// conversation's unread counter. The status flip is the only mutation a
// message ever sees.
func (s *Store) MarkInboundRead(ctx context.Context, conversationID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE messages SET status = $2
		WHERE conversation_id = $1 AND direction = $3 AND status = $4`,
		conversationID, model.MsgStatusRead, model.DirectionInbound, model.MsgStatusUnread,
	)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
