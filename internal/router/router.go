// Package router implements the volunteer-facing claim/transfer/visibility
// protocol over the waiting queue.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/events"
	"github.com/amparo-line/amparo/internal/messaging"
	"github.com/amparo-line/amparo/internal/metrics"
	"github.com/amparo-line/amparo/internal/model"
)

// Store is the slice of the conversation store the router needs.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	GetVolunteer(ctx context.Context, id uuid.UUID) (*model.Volunteer, error)
	Claim(ctx context.Context, id, volunteerID uuid.UUID, at time.Time) error
	Transfer(ctx context.Context, id, toVolunteerID uuid.UUID, at time.Time) error
	ListVisible(ctx context.Context, volunteerID uuid.UUID, supervise bool) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]model.Message, error)
	MarkInboundRead(ctx context.Context, conversationID uuid.UUID) error
	InsertOutbound(ctx context.Context, m model.Message) error
	RecordSystemNote(ctx context.Context, conversationID uuid.UUID, body string) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Router struct {
	store  Store
	sender messaging.Sender
	bus    Publisher
	logger *slog.Logger

	now func() time.Time
}

func New(s Store, sender messaging.Sender, bus Publisher, logger *slog.Logger) *Router {
	return &Router{store: s, sender: sender, bus: bus, logger: logger, now: time.Now}
}

// Claim assigns a waiting conversation to the calling volunteer. Exactly one
// of any set of concurrent claimers wins; the rest get ErrConflict and the
// conversation is untouched.
func (r *Router) Claim(ctx context.Context, convID, volunteerID uuid.UUID) error {
	vol, err := r.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return fmt.Errorf("load volunteer: %w", err)
	}
	if !vol.Active() {
		return fmt.Errorf("volunteer %s is not active: %w", volunteerID, model.ErrForbidden)
	}

	if _, err := r.store.GetConversation(ctx, convID); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	now := r.now()
	if err := r.store.Claim(ctx, convID, volunteerID, now); err != nil {
		if errors.Is(err, model.ErrConflict) {
			metrics.ClaimConflictsTotal.Inc()
		}
		return fmt.Errorf("claim conversation %s: %w", convID, err)
	}

	r.publish(events.SubjectClaimed, events.LifecycleEvent{
		ConversationID: convID.String(),
		VolunteerID:    volunteerID.String(),
		At:             now,
	})
	r.logger.Info("conversation claimed", "conversation_id", convID, "volunteer_id", volunteerID)
	return nil
}

// Transfer reassigns an assigned conversation. Supervisor-only; the move is
// recorded as a system note in the message log.
func (r *Router) Transfer(ctx context.Context, convID, supervisorID, toVolunteerID uuid.UUID) error {
	sup, err := r.store.GetVolunteer(ctx, supervisorID)
	if err != nil {
		return fmt.Errorf("load supervisor: %w", err)
	}
	if !sup.Role.CanSupervise() {
		return fmt.Errorf("transfer requires supervisor role: %w", model.ErrForbidden)
	}

	target, err := r.store.GetVolunteer(ctx, toVolunteerID)
	if err != nil {
		return fmt.Errorf("load transfer target: %w", err)
	}
	if !target.Active() {
		return fmt.Errorf("transfer target %s is not active: %w", toVolunteerID, model.ErrValidation)
	}

	conv, err := r.store.GetConversation(ctx, convID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	if err := r.store.Transfer(ctx, convID, toVolunteerID, r.now()); err != nil {
		return fmt.Errorf("transfer conversation %s: %w", convID, err)
	}

	note := fmt.Sprintf("transferred by %s to %s", sup.Name, target.Name)
	if conv.AssignedTo != nil {
		if prev, err := r.store.GetVolunteer(ctx, *conv.AssignedTo); err == nil {
			note = fmt.Sprintf("transferred from %s by %s to %s", prev.Name, sup.Name, target.Name)
		}
	}
	if err := r.store.RecordSystemNote(ctx, convID, note); err != nil {
		r.logger.Error("record transfer note failed", "conversation_id", convID, "error", err)
	}

	r.logger.Info("conversation transferred",
		"conversation_id", convID, "by", supervisorID, "to", toVolunteerID)
	return nil
}

// List returns the conversations visible to a volunteer: the waiting queue
// plus their own assignments, or everything waiting/assigned for
// supervisors.
func (r *Router) List(ctx context.Context, volunteerID uuid.UUID) ([]model.Conversation, error) {
	vol, err := r.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("load volunteer: %w", err)
	}
	if !vol.Active() {
		return nil, fmt.Errorf("volunteer %s is not active: %w", volunteerID, model.ErrForbidden)
	}
	return r.store.ListVisible(ctx, volunteerID, vol.Role.CanSupervise())
}

// History returns the message log, marking inbound messages read. Only the
// assigned volunteer or a supervisor may read an assigned conversation.
func (r *Router) History(ctx context.Context, convID, volunteerID uuid.UUID) ([]model.Message, error) {
	conv, vol, err := r.loadForAccess(ctx, convID, volunteerID)
	if err != nil {
		return nil, err
	}
	if !canTouch(conv, vol) {
		return nil, fmt.Errorf("conversation %s not accessible: %w", convID, model.ErrForbidden)
	}

	msgs, err := r.store.ListMessages(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := r.store.MarkInboundRead(ctx, convID); err != nil {
		r.logger.Error("mark read failed", "conversation_id", convID, "error", err)
	}
	return msgs, nil
}

// Send delivers a volunteer's reply to the contact. Permitted only when the
// conversation is assigned to the caller, or the caller supervises.
func (r *Router) Send(ctx context.Context, convID, volunteerID uuid.UUID, body string) error {
	if body == "" {
		return fmt.Errorf("empty message body: %w", model.ErrValidation)
	}

	conv, vol, err := r.loadForAccess(ctx, convID, volunteerID)
	if err != nil {
		return err
	}
	if !canTouch(conv, vol) {
		return fmt.Errorf("conversation %s not accessible: %w", convID, model.ErrForbidden)
	}

	providerID, err := r.sender.Send(ctx, conv.Address, body)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Direction:      model.DirectionOutbound,
		Body:           body,
		Status:         model.MsgStatusReply,
		ProviderID:     providerID,
		CreatedAt:      r.now(),
	}
	if err := r.store.InsertOutbound(ctx, msg); err != nil {
		return fmt.Errorf("store reply: %w", err)
	}
	return nil
}

func (r *Router) loadForAccess(ctx context.Context, convID, volunteerID uuid.UUID) (*model.Conversation, *model.Volunteer, error) {
	vol, err := r.store.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, nil, fmt.Errorf("load volunteer: %w", err)
	}
	if !vol.Active() {
		return nil, nil, fmt.Errorf("volunteer %s is not active: %w", volunteerID, model.ErrForbidden)
	}
	conv, err := r.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, vol, nil
}

// canTouch is the write-access rule: supervisors anywhere, volunteers only
// on conversations assigned to them.
func canTouch(conv *model.Conversation, vol *model.Volunteer) bool {
	if vol.Role.CanSupervise() {
		return true
	}
	return conv.AssignedTo != nil && *conv.AssignedTo == vol.ID
}

func (r *Router) publish(subject string, data any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(subject, data); err != nil {
		r.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
