package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/amparo-line/amparo/internal/model"
)

const conversationColumns = `id, address, display_name, channel, state, filter_passed,
	crisis_level, assigned_to, assigned_at, unread_count, last_message,
	last_message_at, auto_message_count, last_auto_message_at, closed_at, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(
		&c.ID, &c.Address, &c.DisplayName, &c.Channel, &c.State, &c.FilterPassed,
		&c.CrisisLevel, &c.AssignedTo, &c.AssignedAt, &c.UnreadCount, &c.LastMessage,
		&c.LastMessageAt, &c.AutoMessageCount, &c.LastAutoMessageAt, &c.ClosedAt, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// CreateConversation inserts a fresh awaiting_filter record. The address
// uniqueness constraint enforces the one-conversation-per-address invariant:
// a concurrent insert for the same address loses with ErrConflict and the
// caller re-reads the surviving row.
func (s *Store) CreateConversation(ctx context.Context, c model.Conversation) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, address, display_name, channel, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO NOTHING`,
		c.ID, c.Address, c.DisplayName, c.Channel, c.State, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConflict
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *Store) GetConversationByAddress(ctx context.Context, address string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE address = $1`, address)
	return scanConversation(row)
}

// PassFilter advances awaiting_filter to awaiting_crisis_level.
func (s *Store) PassFilter(ctx context.Context, id uuid.UUID) error {
	return s.conditional(ctx, `
		UPDATE conversations
		SET state = $2, filter_passed = true
		WHERE id = $1 AND state = $3`,
		id, model.StateAwaitingCrisisLevel, model.StateAwaitingFilter,
	)
}

// SetCrisisLevel advances awaiting_crisis_level to waiting_for_volunteer and
// seeds the re-engagement counters: the first rotation message is sent by the
// intake path itself, so the count starts at 1.
func (s *Store) SetCrisisLevel(ctx context.Context, id uuid.UUID, level int, now time.Time) error {
	return s.conditional(ctx, `
		UPDATE conversations
		SET state = $2, crisis_level = $3, auto_message_count = 1, last_auto_message_at = $4
		WHERE id = $1 AND state = $5`,
		id, model.StateWaitingForVolunteer, level, now, model.StateAwaitingCrisisLevel,
	)
}

// RecordInbound updates the unread/last-message bookkeeping for a message
// that arrived on an already-triaged conversation.
func (s *Store) RecordInbound(ctx context.Context, id uuid.UUID, body string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET unread_count = unread_count + 1, last_message = $2, last_message_at = $3
		WHERE id = $1`,
		id, body, at,
	)
	if err != nil {
		return fmt.Errorf("record inbound: %w", err)
	}
	return nil
}

// Claim atomically assigns a waiting conversation. The WHERE clause is the
// whole double-claim defence: the losing volunteer's update matches zero
// rows and gets ErrConflict.
func (s *Store) Claim(ctx context.Context, id, volunteerID uuid.UUID, at time.Time) error {
	return s.conditional(ctx, `
		UPDATE conversations
		SET state = $2, assigned_to = $3, assigned_at = $4, unread_count = 0
		WHERE id = $1 AND state = $5 AND assigned_to IS NULL`,
		id, model.StateAssigned, volunteerID, at, model.StateWaitingForVolunteer,
	)
}

// Transfer reassigns an assigned conversation. unread_count is preserved so
// the receiving volunteer sees the backlog.
func (s *Store) Transfer(ctx context.Context, id, toVolunteerID uuid.UUID, at time.Time) error {
	return s.conditional(ctx, `
		UPDATE conversations
		SET assigned_to = $2, assigned_at = $3
		WHERE id = $1 AND state = $4`,
		id, toVolunteerID, at, model.StateAssigned,
	)
}

// CloseConversation opens the survey grace window. Racing against an inbound
// message is safe: the transition is keyed on the expected prior state.
func (s *Store) CloseConversation(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	return s.conditional(ctx, `
		UPDATE conversations
		SET state = $2, closed_at = $3
		WHERE id = $1 AND state = ANY($4)`,
		id, model.StatePendingDelete, closedAt,
		[]string{string(model.StateAssigned), string(model.StateWaitingForVolunteer)},
	)
}

// MarkAutoMessaged bumps the rotation counter, keyed on the previously read
// counter and timestamp so an overlapping scheduler tick cannot double-send.
func (s *Store) MarkAutoMessaged(ctx context.Context, id uuid.UUID, prevCount int, prevAt *time.Time, now time.Time) error {
	return s.conditional(ctx, `
		UPDATE conversations
		SET auto_message_count = auto_message_count + 1, last_auto_message_at = $2
		WHERE id = $1 AND state = $3
		  AND auto_message_count = $4
		  AND last_auto_message_at IS NOT DISTINCT FROM $5`,
		id, now, model.StateWaitingForVolunteer, prevCount, prevAt,
	)
}

// ListDueForAutoMessage returns waiting conversations whose last rotation
// message is older than cutoff (or was never sent) and whose counter is
// still under max.
func (s *Store) ListDueForAutoMessage(ctx context.Context, cutoff time.Time, max int) ([]model.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE state = $1
		  AND (last_auto_message_at IS NULL OR last_auto_message_at < $2)
		  AND auto_message_count < $3
		ORDER BY created_at`,
		model.StateWaitingForVolunteer, cutoff, max,
	)
	if err != nil {
		return nil, fmt.Errorf("list due for auto message: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ListExpiredPendingDelete returns closed conversations past the retention
// threshold, ready for the cleanup sweep.
func (s *Store) ListExpiredPendingDelete(ctx context.Context, cutoff time.Time) ([]model.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE state = $1 AND closed_at IS NOT NULL AND closed_at < $2
		ORDER BY closed_at`,
		model.StatePendingDelete, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired pending delete: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ListVisible returns the conversations a volunteer may see: the waiting
// queue plus their own assignments, or every waiting/assigned conversation
// for supervisors. Highest crisis level first.
func (s *Store) ListVisible(ctx context.Context, volunteerID uuid.UUID, supervise bool) ([]model.Conversation, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if supervise {
		rows, err = s.pool.Query(ctx, `
			SELECT `+conversationColumns+`
			FROM conversations
			WHERE state = ANY($1)
			ORDER BY crisis_level DESC NULLS LAST, created_at`,
			[]string{string(model.StateWaitingForVolunteer), string(model.StateAssigned)},
		)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+conversationColumns+`
			FROM conversations
			WHERE state = $1 OR (state = $2 AND assigned_to = $3)
			ORDER BY crisis_level DESC NULLS LAST, created_at`,
			model.StateWaitingForVolunteer, model.StateAssigned, volunteerID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list visible conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// DeleteConversation removes the conversation row and its messages in one
// transaction. With preserveSurvey, messages tagged as survey responses
// survive the delete (they are the one thing retention keeps).
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID, preserveSurvey bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if preserveSurvey {
		_, err = tx.Exec(ctx,
			`DELETE FROM messages WHERE conversation_id = $1 AND status <> $2`,
			id, model.MsgStatusSurveyResponse,
		)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// conditional runs an UPDATE that must match exactly the expected row;
// zero rows affected means the precondition no longer holds.
func (s *Store) conditional(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("conditional update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConflict
	}
	return nil
}

func collectConversations(rows pgx.Rows) ([]model.Conversation, error) {
	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}
