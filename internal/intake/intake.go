// Package intake is the conversation state machine: every inbound text
// message runs through Processor.HandleInbound, which advances the
// per-address conversation deterministically.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/events"
	"github.com/amparo-line/amparo/internal/messaging"
	"github.com/amparo-line/amparo/internal/metrics"
	"github.com/amparo-line/amparo/internal/model"
	"github.com/amparo-line/amparo/internal/texts"
)

// Store is the slice of the conversation store the state machine needs.
type Store interface {
	ChannelEnabled(ctx context.Context, name string) (bool, error)
	GetConversationByAddress(ctx context.Context, address string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, c model.Conversation) error
	InsertInbound(ctx context.Context, m model.Message) error
	InsertOutbound(ctx context.Context, m model.Message) error
	PassFilter(ctx context.Context, id uuid.UUID) error
	SetCrisisLevel(ctx context.Context, id uuid.UUID, level int, now time.Time) error
	RecordInbound(ctx context.Context, id uuid.UUID, body string, at time.Time) error
	DeleteConversation(ctx context.Context, id uuid.UUID, preserveSurvey bool) error
}

// Publisher is the event-bus slice intake publishes on. Publishing is
// best-effort; a down bus never blocks intake.
type Publisher interface {
	Publish(subject string, data any) error
}

// InboundMessage is the webhook payload after decoding.
type InboundMessage struct {
	Address           string
	Body              string
	Channel           string
	ProviderMessageID string
	DisplayName       string
}

var crisisLevelRe = regexp.MustCompile(`^[1-5]$`)

type Processor struct {
	store        Store
	sender       messaging.Sender
	bus          Publisher
	surveyWindow time.Duration
	logger       *slog.Logger

	now func() time.Time
}

func New(s Store, sender messaging.Sender, bus Publisher, surveyWindow time.Duration, logger *slog.Logger) *Processor {
	return &Processor{
		store:        s,
		sender:       sender,
		bus:          bus,
		surveyWindow: surveyWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// HandleInbound advances the conversation for one inbound message. The
// webhook acknowledges the transport no matter what this returns; errors
// only drive logging and metrics.
func (p *Processor) HandleInbound(ctx context.Context, in InboundMessage) error {
	enabled, err := p.store.ChannelEnabled(ctx, in.Channel)
	if err != nil {
		metrics.InboundTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("check channel config: %w", err)
	}
	if !enabled {
		metrics.InboundTotal.WithLabelValues("channel_disabled").Inc()
		p.logger.Info("channel disabled, ignoring inbound", "channel", in.Channel)
		return model.ErrChannelDisabled
	}

	conv, err := p.store.GetConversationByAddress(ctx, in.Address)
	if errors.Is(err, model.ErrNotFound) {
		return p.startConversation(ctx, in)
	}
	if err != nil {
		metrics.InboundTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load conversation: %w", err)
	}

	switch conv.State {
	case model.StateAwaitingFilter:
		err = p.handleFilterReply(ctx, conv, in)
	case model.StateAwaitingCrisisLevel:
		err = p.handleCrisisLevelReply(ctx, conv, in)
	case model.StateWaitingForVolunteer:
		err = p.handleOngoing(ctx, conv, in, events.ScopeBroadcast)
	case model.StateAssigned:
		err = p.handleOngoing(ctx, conv, in, events.ScopeAssigned)
	case model.StatePendingDelete:
		err = p.handleSurveyReply(ctx, conv, in)
	default:
		err = fmt.Errorf("conversation %s in unknown state %q", conv.ID, conv.State)
	}

	switch {
	case errors.Is(err, model.ErrDuplicate):
		metrics.InboundTotal.WithLabelValues("duplicate").Inc()
		p.logger.Info("duplicate inbound ignored", "provider_id", in.ProviderMessageID)
		return nil
	case err != nil:
		metrics.InboundTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.InboundTotal.WithLabelValues("processed").Inc()
	return nil
}

// startConversation creates the awaiting_filter record and asks the
// gatekeeping question.
func (p *Processor) startConversation(ctx context.Context, in InboundMessage) error {
	now := p.now()
	conv := model.Conversation{
		ID:          uuid.New(),
		Address:     in.Address,
		DisplayName: in.DisplayName,
		Channel:     in.Channel,
		State:       model.StateAwaitingFilter,
		CreatedAt:   now,
	}

	err := p.store.CreateConversation(ctx, conv)
	if errors.Is(err, model.ErrConflict) {
		// Another message for this address created the record first;
		// reload and run the normal state handling.
		existing, gerr := p.store.GetConversationByAddress(ctx, in.Address)
		if gerr != nil {
			return fmt.Errorf("reload conversation after create race: %w", gerr)
		}
		conv = *existing
		if conv.State != model.StateAwaitingFilter {
			return p.HandleInbound(ctx, in)
		}
		return p.handleFilterReply(ctx, &conv, in)
	}
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	if err := p.storeInbound(ctx, conv.ID, in, model.MsgStatusUnread); err != nil {
		return err
	}
	if err := p.store.RecordInbound(ctx, conv.ID, in.Body, now); err != nil {
		return err
	}

	p.sendAndRecord(ctx, &conv, texts.FilterQuestion, model.MsgStatusFilterQuestion)
	p.logger.Info("conversation created", "conversation_id", conv.ID, "channel", in.Channel)
	return nil
}

// handleFilterReply resolves the membership check. Non-members get the
// emergency-resources message and an immediate hard delete: their data is
// not retained, not even until the next sweep.
func (p *Processor) handleFilterReply(ctx context.Context, conv *model.Conversation, in InboundMessage) error {
	if err := p.storeInbound(ctx, conv.ID, in, model.MsgStatusUnread); err != nil {
		return err
	}

	normalized := strings.ToLower(strings.TrimSpace(in.Body))
	if !texts.FilterAccepts(normalized) {
		p.sendAndRecord(ctx, conv, texts.EmergencyResources, model.MsgStatusSystemNote)
		if err := p.store.DeleteConversation(ctx, conv.ID, false); err != nil {
			return fmt.Errorf("delete filtered-out conversation: %w", err)
		}
		metrics.DeletionsTotal.WithLabelValues("filter_failed").Inc()
		p.publish(events.SubjectDeleted, events.LifecycleEvent{
			ConversationID: conv.ID.String(), Channel: conv.Channel, At: p.now(),
		})
		p.logger.Info("filter failed, conversation deleted", "conversation_id", conv.ID)
		return nil
	}

	if err := p.store.PassFilter(ctx, conv.ID); err != nil {
		if errors.Is(err, model.ErrConflict) {
			p.logger.Warn("filter transition lost race", "conversation_id", conv.ID)
			return nil
		}
		return fmt.Errorf("pass filter: %w", err)
	}
	p.sendAndRecord(ctx, conv, texts.CrisisPrompt, model.MsgStatusCrisisPrompt)
	p.logger.Info("filter passed", "conversation_id", conv.ID)
	return nil
}

// handleCrisisLevelReply completes intake. Anything but a clean 1-5 reply
// leaves the conversation untouched and re-sends the prompt.
func (p *Processor) handleCrisisLevelReply(ctx context.Context, conv *model.Conversation, in InboundMessage) error {
	if err := p.storeInbound(ctx, conv.ID, in, model.MsgStatusUnread); err != nil {
		return err
	}

	reply := strings.TrimSpace(in.Body)
	if !crisisLevelRe.MatchString(reply) {
		p.sendAndRecord(ctx, conv, texts.CrisisPrompt, model.MsgStatusCrisisPrompt)
		return nil
	}
	level, _ := strconv.Atoi(reply)

	now := p.now()
	if err := p.store.SetCrisisLevel(ctx, conv.ID, level, now); err != nil {
		if errors.Is(err, model.ErrConflict) {
			p.logger.Warn("crisis level transition lost race", "conversation_id", conv.ID)
			return nil
		}
		return fmt.Errorf("set crisis level: %w", err)
	}

	// First rotation message goes out immediately; the scheduler takes over
	// from auto_message_count=1.
	p.sendAndRecord(ctx, conv, texts.Rotation[0], model.MsgStatusAutoMessage)

	p.publish(events.SubjectWaiting, events.LifecycleEvent{
		ConversationID: conv.ID.String(), Channel: conv.Channel, At: now,
	})
	p.publish(events.SubjectNotify, events.NotifyEvent{
		ConversationID: conv.ID.String(),
		Scope:          events.ScopeBroadcast,
		CrisisLevel:    level,
	})
	p.logger.Info("conversation entered waiting queue",
		"conversation_id", conv.ID, "crisis_level", level)
	return nil
}

// handleOngoing is the bookkeeping path for waiting and assigned
// conversations: append, bump counters, alert.
func (p *Processor) handleOngoing(ctx context.Context, conv *model.Conversation, in InboundMessage, scope string) error {
	if err := p.storeInbound(ctx, conv.ID, in, model.MsgStatusUnread); err != nil {
		return err
	}
	if err := p.store.RecordInbound(ctx, conv.ID, in.Body, p.now()); err != nil {
		return err
	}

	evt := events.NotifyEvent{
		ConversationID: conv.ID.String(),
		Scope:          scope,
	}
	if scope == events.ScopeAssigned && conv.AssignedTo != nil {
		// Content-free by policy: the assigned volunteer learns only that
		// there is a new message.
		evt.AssignedTo = conv.AssignedTo.String()
	} else if conv.CrisisLevel != nil {
		evt.CrisisLevel = *conv.CrisisLevel
	}
	p.publish(events.SubjectNotify, evt)
	return nil
}

// handleSurveyReply handles messages after close: a numeric reply inside the
// survey window is preserved, everything else for the address is deleted
// either way.
func (p *Processor) handleSurveyReply(ctx context.Context, conv *model.Conversation, in InboundMessage) error {
	now := p.now()
	reply := strings.TrimSpace(in.Body)
	inWindow := conv.ClosedAt != nil && now.Sub(*conv.ClosedAt) <= p.surveyWindow

	if inWindow && crisisLevelRe.MatchString(reply) {
		if err := p.storeInbound(ctx, conv.ID, in, model.MsgStatusSurveyResponse); err != nil {
			return err
		}
		p.logger.Info("survey response recorded", "conversation_id", conv.ID)
	}

	if err := p.store.DeleteConversation(ctx, conv.ID, true); err != nil {
		return fmt.Errorf("delete closed conversation: %w", err)
	}
	metrics.DeletionsTotal.WithLabelValues("survey").Inc()
	p.publish(events.SubjectDeleted, events.LifecycleEvent{
		ConversationID: conv.ID.String(), Channel: conv.Channel, At: now,
	})
	return nil
}

func (p *Processor) storeInbound(ctx context.Context, convID uuid.UUID, in InboundMessage, status string) error {
	return p.store.InsertInbound(ctx, model.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Direction:      model.DirectionInbound,
		Body:           in.Body,
		Status:         status,
		ProviderID:     in.ProviderMessageID,
		CreatedAt:      p.now(),
	})
}

// sendAndRecord delivers an outbound text and stores it on success.
// Transport failures are logged and swallowed: sends are fire-and-forget
// and must never block a state transition or the webhook ack.
func (p *Processor) sendAndRecord(ctx context.Context, conv *model.Conversation, body, status string) {
	providerID, err := p.sender.Send(ctx, conv.Address, body)
	if err != nil {
		p.logger.Error("outbound send failed",
			"conversation_id", conv.ID, "status", status, "error", err)
		return
	}
	msg := model.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Body:           body,
		Status:         status,
		ProviderID:     providerID,
		CreatedAt:      p.now(),
	}
	if err := p.store.InsertOutbound(ctx, msg); err != nil {
		p.logger.Error("store outbound failed", "conversation_id", conv.ID, "error", err)
	}
}

func (p *Processor) publish(subject string, data any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
