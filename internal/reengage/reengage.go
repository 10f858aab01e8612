// Package reengage sends the rotating "please wait" messages to unclaimed
// conversations. The sweep runs on an external cadence via the
// authenticated trigger endpoint; overlapping ticks are disarmed by the
// conditional counter bump on each conversation.
package reengage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/messaging"
	"github.com/amparo-line/amparo/internal/metrics"
	"github.com/amparo-line/amparo/internal/model"
	"github.com/amparo-line/amparo/internal/texts"
)

// Store is the slice of the conversation store the sweeper needs.
type Store interface {
	ListDueForAutoMessage(ctx context.Context, cutoff time.Time, max int) ([]model.Conversation, error)
	MarkAutoMessaged(ctx context.Context, id uuid.UUID, prevCount int, prevAt *time.Time, now time.Time) error
	InsertOutbound(ctx context.Context, m model.Message) error
}

type Sweeper struct {
	store  Store
	sender messaging.Sender
	wait   time.Duration
	max    int
	logger *slog.Logger

	now func() time.Time
}

func New(s Store, sender messaging.Sender, wait time.Duration, max int, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: s, sender: sender, wait: wait, max: max, logger: logger, now: time.Now}
}

// Run executes one sweep. Returns how many re-engagement messages were
// sent; per-conversation failures are logged and skipped so one bad
// conversation never stalls the rest.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueForAutoMessage(ctx, now.Add(-s.wait), s.max)
	if err != nil {
		return 0, fmt.Errorf("list due conversations: %w", err)
	}

	sent := 0
	for _, conv := range due {
		if err := s.sweepOne(ctx, conv); err != nil {
			if errors.Is(err, model.ErrConflict) {
				// Another tick already handled this conversation.
				s.logger.Debug("auto message already sent", "conversation_id", conv.ID)
				continue
			}
			s.logger.Error("re-engagement failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info("re-engagement sweep done", "sent", sent, "due", len(due))
	}
	return sent, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, conv model.Conversation) error {
	// Take the slot first: the conditional bump keyed on the previously
	// read counter/timestamp loses against an overlapping tick, and a lost
	// bump must mean no send.
	now := s.now()
	if err := s.store.MarkAutoMessaged(ctx, conv.ID, conv.AutoMessageCount, conv.LastAutoMessageAt, now); err != nil {
		return err
	}

	body := texts.Rotation[conv.AutoMessageCount%len(texts.Rotation)]
	providerID, err := s.sender.Send(ctx, conv.Address, body)
	if err != nil {
		// The slot is consumed either way; the next tick moves on to the
		// following rotation message.
		return fmt.Errorf("send auto message: %w", err)
	}

	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Body:           body,
		Status:         model.MsgStatusAutoMessage,
		ProviderID:     providerID,
		CreatedAt:      now,
	}
	if err := s.store.InsertOutbound(ctx, msg); err != nil {
		return fmt.Errorf("store auto message: %w", err)
	}
	metrics.AutoMessagesTotal.Inc()
	return nil
}
