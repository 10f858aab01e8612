// Package model holds the domain records shared across the amparo core:
// conversations, their message log, and the (externally owned) volunteer
// roster the router and dispatcher read from.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is the triage lifecycle state of a conversation.
type ConversationState string

const (
	StateAwaitingFilter      ConversationState = "awaiting_filter"
	StateAwaitingCrisisLevel ConversationState = "awaiting_crisis_level"
	StateWaitingForVolunteer ConversationState = "waiting_for_volunteer"
	StateAssigned            ConversationState = "assigned"
	StatePendingDelete       ConversationState = "pending_delete"
)

func (s ConversationState) Valid() bool {
	switch s {
	case StateAwaitingFilter, StateAwaitingCrisisLevel, StateWaitingForVolunteer,
		StateAssigned, StatePendingDelete:
		return true
	}
	return false
}

// Conversation is the one-per-contact-address record. The address is the
// natural key; the uuid exists for the volunteer-facing API surface.
type Conversation struct {
	ID          uuid.UUID
	Address     string
	DisplayName string
	Channel     string
	State       ConversationState

	// FilterPassed is tri-state: nil until the gatekeeping question is
	// answered, then true/false.
	FilterPassed *bool
	CrisisLevel  *int

	AssignedTo *uuid.UUID
	AssignedAt *time.Time

	UnreadCount   int
	LastMessage   string
	LastMessageAt *time.Time

	AutoMessageCount  int
	LastAutoMessageAt *time.Time

	ClosedAt  *time.Time
	CreatedAt time.Time
}

// Direction of a message relative to the contact.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message status tags. Status is a free-form audit tag, not an enum the
// database enforces; these are the values the core writes.
const (
	MsgStatusUnread         = "unread"
	MsgStatusRead           = "read"
	MsgStatusFilterQuestion = "filter_question"
	MsgStatusCrisisPrompt   = "crisis_prompt"
	MsgStatusAutoMessage    = "auto_message"
	MsgStatusSurveyRequest  = "survey_request"
	MsgStatusSurveyResponse = "survey_response"
	MsgStatusSystemNote     = "system_note"
	MsgStatusReply          = "reply"
)

// Message is an append-only log entry. Only the read-marking status flip on
// inbound messages ever mutates a row after creation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Direction      Direction
	Body           string
	Status         string
	ProviderID     string
	CreatedAt      time.Time
}

// VolunteerRole as stored by the external identity collaborator.
type VolunteerRole string

const (
	RoleVolunteer  VolunteerRole = "volunteer"
	RoleAdmin      VolunteerRole = "admin"
	RoleSupervisor VolunteerRole = "supervisor"
)

// CanSupervise reports whether the role may transfer conversations and see
// every assigned conversation.
func (r VolunteerRole) CanSupervise() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

// VolunteerStatus of a roster entry.
type VolunteerStatus string

const (
	VolunteerPending  VolunteerStatus = "pending"
	VolunteerActive   VolunteerStatus = "active"
	VolunteerInactive VolunteerStatus = "inactive"
)

// Volunteer is read-only from the core's perspective; the identity/role
// collaborator owns writes.
type Volunteer struct {
	ID           uuid.UUID
	Name         string
	Role         VolunteerRole
	Status       VolunteerStatus
	IsOnDuty     bool
	Phone        string
	PushEndpoint string
}

// Active reports whether the volunteer may claim or be notified.
func (v Volunteer) Active() bool {
	return v.Status == VolunteerActive
}
