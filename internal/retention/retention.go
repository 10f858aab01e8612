// Package retention owns the end of a conversation's life: the close
// action that opens the survey grace window, and the periodic sweep that
// hard-deletes expired conversations while keeping survey responses.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/events"
	"github.com/amparo-line/amparo/internal/messaging"
	"github.com/amparo-line/amparo/internal/metrics"
	"github.com/amparo-line/amparo/internal/model"
	"github.com/amparo-line/amparo/internal/texts"
)

// Store is the slice of the conversation store retention needs.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	GetVolunteer(ctx context.Context, id uuid.UUID) (*model.Volunteer, error)
	CloseConversation(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	InsertOutbound(ctx context.Context, m model.Message) error
	ListExpiredPendingDelete(ctx context.Context, cutoff time.Time) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID, preserveSurvey bool) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Manager struct {
	store     Store
	sender    messaging.Sender
	bus       Publisher
	retention time.Duration
	logger    *slog.Logger

	now func() time.Time
}

func New(s Store, sender messaging.Sender, bus Publisher, retention time.Duration, logger *slog.Logger) *Manager {
	return &Manager{store: s, sender: sender, bus: bus, retention: retention, logger: logger, now: time.Now}
}

// Close ends a conversation: sends the satisfaction survey, moves the
// record to pending_delete, and stamps closed_at. Permitted for the
// assigned volunteer or a supervisor. Nothing is deleted here; the grace
// window for a survey reply starts now.
func (m *Manager) Close(ctx context.Context, convID, volunteerID uuid.UUID) error {
	vol, err := m.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return fmt.Errorf("load volunteer: %w", err)
	}
	if !vol.Active() {
		return fmt.Errorf("volunteer %s is not active: %w", volunteerID, model.ErrForbidden)
	}

	conv, err := m.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if !vol.Role.CanSupervise() {
		if conv.AssignedTo == nil || *conv.AssignedTo != vol.ID {
			return fmt.Errorf("conversation %s not assigned to caller: %w", convID, model.ErrForbidden)
		}
	}

	now := m.now()
	// The conditional transition resolves the close-vs-inbound race: if the
	// state moved under us, the caller gets a conflict instead of a blind
	// overwrite.
	if err := m.store.CloseConversation(ctx, convID, now); err != nil {
		return fmt.Errorf("close conversation %s: %w", convID, err)
	}

	providerID, err := m.sender.Send(ctx, conv.Address, texts.SurveyRequest)
	if err != nil {
		m.logger.Error("survey send failed", "conversation_id", convID, "error", err)
	} else {
		msg := model.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			Direction:      model.DirectionOutbound,
			Body:           texts.SurveyRequest,
			Status:         model.MsgStatusSurveyRequest,
			ProviderID:     providerID,
			CreatedAt:      now,
		}
		if err := m.store.InsertOutbound(ctx, msg); err != nil {
			m.logger.Error("store survey request failed", "conversation_id", convID, "error", err)
		}
	}

	m.publish(events.SubjectClosed, events.LifecycleEvent{
		ConversationID: convID.String(),
		VolunteerID:    volunteerID.String(),
		At:             now,
	})
	m.logger.Info("conversation closed", "conversation_id", convID, "by", volunteerID)
	return nil
}

// Sweep hard-deletes pending_delete conversations whose grace window has
// elapsed, preserving survey-response messages. Returns how many were
// removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.retention)
	expired, err := m.store.ListExpiredPendingDelete(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired conversations: %w", err)
	}

	deleted := 0
	for _, conv := range expired {
		if err := m.store.DeleteConversation(ctx, conv.ID, true); err != nil {
			m.logger.Error("cleanup delete failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		metrics.DeletionsTotal.WithLabelValues("retention").Inc()
		m.publish(events.SubjectDeleted, events.LifecycleEvent{
			ConversationID: conv.ID.String(), Channel: conv.Channel, At: m.now(),
		})
		deleted++
	}
	if deleted > 0 {
		m.logger.Info("retention sweep done", "deleted", deleted)
	}
	return deleted, nil
}

func (m *Manager) publish(subject string, data any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(subject, data); err != nil {
		m.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
