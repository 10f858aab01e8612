package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amparo-line/amparo/internal/model"
)

// volunteerID reads the acting volunteer from the X-Volunteer-ID header.
// The external identity layer authenticates the session; the core still
// validates the id and the volunteer's status downstream.
func volunteerID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Volunteer-ID")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing X-Volunteer-ID header: %w", model.ErrUnauthorized)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad X-Volunteer-ID header: %w", model.ErrUnauthorized)
	}
	return id, nil
}

func conversationID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad conversation id: %w", model.ErrValidation)
	}
	return id, nil
}

type conversationDTO struct {
	ID            string     `json:"id"`
	DisplayName   string     `json:"display_name,omitempty"`
	Channel       string     `json:"channel"`
	State         string     `json:"state"`
	CrisisLevel   *int       `json:"crisis_level,omitempty"`
	AssignedTo    *string    `json:"assigned_to,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// toDTO deliberately omits the contact address: the UI identifies
// conversations by id and never needs the raw address.
func toDTO(c model.Conversation) conversationDTO {
	dto := conversationDTO{
		ID:            c.ID.String(),
		DisplayName:   c.DisplayName,
		Channel:       c.Channel,
		State:         string(c.State),
		CrisisLevel:   c.CrisisLevel,
		UnreadCount:   c.UnreadCount,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
	if c.AssignedTo != nil {
		v := c.AssignedTo.String()
		dto.AssignedTo = &v
	}
	return dto
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	volID, err := volunteerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convs, err := s.router.List(r.Context(), volID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]conversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, toDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) claimConversation(w http.ResponseWriter, r *http.Request) {
	volID, err := volunteerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convID, err := conversationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.router.Claim(r.Context(), convID, volID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func (s *Server) transferConversation(w http.ResponseWriter, r *http.Request) {
	volID, err := volunteerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convID, err := conversationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, fmt.Errorf("bad transfer payload: %w", model.ErrValidation))
		return
	}
	toID, err := uuid.Parse(payload.To)
	if err != nil {
		writeError(w, fmt.Errorf("bad transfer target: %w", model.ErrValidation))
		return
	}
	if err := s.router.Transfer(r.Context(), convID, volID, toID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) closeConversation(w http.ResponseWriter, r *http.Request) {
	volID, err := volunteerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convID, err := conversationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.retention.Close(r.Context(), convID, volID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type messageDTO struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	volID, err := volunteerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convID, err := conversationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.router.History(r.Context(), convID, volID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{
			ID:        m.ID.String(),
			Direction: string(m.Direction),
			Body:      m.Body,
			Status:    m.Status,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	volID, err := volunteerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	convID, err := conversationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, fmt.Errorf("bad message payload: %w", model.ErrValidation))
		return
	}
	if err := s.router.Send(r.Context(), convID, volID, payload.Body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
