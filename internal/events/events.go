// Package events is the NATS bus glue. Conversation lifecycle events are
// published for anyone listening (dashboards, audit); the notify subject is
// how intake hands alerts to the dispatcher without blocking the webhook
// response path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectNotify carries a NotifyEvent from intake to the dispatcher.
	SubjectNotify = "amparo.conversation.notify"

	SubjectWaiting = "amparo.conversation.waiting"
	SubjectClaimed = "amparo.conversation.claimed"
	SubjectClosed  = "amparo.conversation.closed"
	SubjectDeleted = "amparo.conversation.deleted"
)

// Scope of a notification fan-out.
const (
	ScopeBroadcast = "broadcast"
	ScopeAssigned  = "assigned"
)

// NotifyEvent asks the dispatcher to alert volunteers. It carries no message
// content; CrisisLevel is only set for unassigned conversations (assigned
// ones get a content-free ping).
type NotifyEvent struct {
	ConversationID string `json:"conversation_id"`
	Scope          string `json:"scope"`
	AssignedTo     string `json:"assigned_to,omitempty"`
	CrisisLevel    int    `json:"crisis_level,omitempty"`
}

// LifecycleEvent is the payload for the waiting/claimed/closed/deleted
// subjects.
type LifecycleEvent struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel,omitempty"`
	VolunteerID    string    `json:"volunteer_id,omitempty"`
	At             time.Time `json:"at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
