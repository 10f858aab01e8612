// Package notify alerts volunteers about conversations that need eyes. It
// consumes notify events from the bus so fan-out happens off the webhook
// response path, and delivers to each recipient concurrently with failures
// isolated per recipient.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/amparo-line/amparo/internal/events"
	"github.com/amparo-line/amparo/internal/messaging"
	"github.com/amparo-line/amparo/internal/metrics"
	"github.com/amparo-line/amparo/internal/model"
)

// VolunteerSource is the roster slice the dispatcher reads.
type VolunteerSource interface {
	ListActiveVolunteers(ctx context.Context, onDutyOnly bool) ([]model.Volunteer, error)
	GetVolunteer(ctx context.Context, id uuid.UUID) (*model.Volunteer, error)
}

// PushSender delivers one push notification to a volunteer's registered
// endpoint.
type PushSender interface {
	Push(ctx context.Context, endpoint, title, body string) error
}

type Dispatcher struct {
	volunteers VolunteerSource
	push       PushSender
	sms        messaging.Sender
	logger     *slog.Logger
}

func NewDispatcher(vs VolunteerSource, push PushSender, sms messaging.Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{volunteers: vs, push: push, sms: sms, logger: logger}
}

// HandleNotifyEvent is the bus handler for events.SubjectNotify.
func (d *Dispatcher) HandleNotifyEvent(subject string, data []byte) {
	var evt events.NotifyEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		d.logger.Error("failed to parse notify event", "error", err)
		return
	}
	if err := d.Dispatch(context.Background(), evt); err != nil {
		d.logger.Error("notification dispatch failed",
			"conversation_id", evt.ConversationID, "error", err)
	}
}

// Dispatch selects recipients and fans out. Assigned scope goes to the one
// assigned volunteer with a content-free ping; broadcast scope prefers
// on-duty volunteers and falls back to every active volunteer rather than
// silently alerting nobody.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.NotifyEvent) error {
	recipients, err := d.selectRecipients(ctx, evt)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		d.logger.Warn("no volunteers to notify", "conversation_id", evt.ConversationID)
		return nil
	}

	title, body := composeAlert(evt)

	var g errgroup.Group
	for _, vol := range recipients {
		vol := vol
		g.Go(func() error {
			d.notifyOne(ctx, vol, title, body)
			// Per-recipient failures are logged inside notifyOne and never
			// abort the remaining deliveries.
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) selectRecipients(ctx context.Context, evt events.NotifyEvent) ([]model.Volunteer, error) {
	if evt.Scope == events.ScopeAssigned {
		id, err := uuid.Parse(evt.AssignedTo)
		if err != nil {
			return nil, fmt.Errorf("parse assigned volunteer id: %w", err)
		}
		vol, err := d.volunteers.GetVolunteer(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load assigned volunteer: %w", err)
		}
		return []model.Volunteer{*vol}, nil
	}

	onDuty, err := d.volunteers.ListActiveVolunteers(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list on-duty volunteers: %w", err)
	}
	if len(onDuty) > 0 {
		return onDuty, nil
	}
	all, err := d.volunteers.ListActiveVolunteers(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list active volunteers: %w", err)
	}
	return all, nil
}

// notifyOne attempts push and SMS for a single volunteer, best-effort each.
func (d *Dispatcher) notifyOne(ctx context.Context, vol model.Volunteer, title, body string) {
	if vol.PushEndpoint != "" && d.push != nil {
		if err := d.push.Push(ctx, vol.PushEndpoint, title, body); err != nil {
			metrics.NotificationsTotal.WithLabelValues("push", "failed").Inc()
			d.logger.Error("push failed", "volunteer_id", vol.ID, "error", err)
		} else {
			metrics.NotificationsTotal.WithLabelValues("push", "sent").Inc()
		}
	}
	if vol.Phone != "" && d.sms != nil {
		if _, err := d.sms.Send(ctx, vol.Phone, title+" "+body); err != nil {
			metrics.NotificationsTotal.WithLabelValues("sms", "failed").Inc()
			d.logger.Error("notification sms failed", "volunteer_id", vol.ID, "error", err)
		} else {
			metrics.NotificationsTotal.WithLabelValues("sms", "sent").Inc()
		}
	}
}

// composeAlert applies the content policy: crisis level is a triage cue for
// unclaimed conversations only; assigned conversations get a contentless
// "new message" ping.
func composeAlert(evt events.NotifyEvent) (title, body string) {
	if evt.Scope == events.ScopeAssigned {
		return "Amparo", "Tienes un mensaje nuevo."
	}
	if evt.CrisisLevel > 0 {
		return "Amparo", fmt.Sprintf("Nueva conversación en espera (nivel %d).", evt.CrisisLevel)
	}
	return "Amparo", "Nueva conversación en espera."
}
