package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amparo-line/amparo/internal/intake"
)

type webhookPayload struct {
	Address           string `json:"address"`
	Body              string `json:"body"`
	ProviderMessageID string `json:"provider_message_id"`
	DisplayName       string `json:"display_name,omitempty"`
}

// handleWebhook receives inbound messages from the messaging transport. The
// response is always an empty 200 envelope, whatever happened internally:
// surfacing errors here would only trigger the transport's redelivery
// policy and storm this endpoint.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Error("malformed webhook payload", "channel", channel, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if payload.Address == "" {
		s.logger.Error("webhook payload missing address", "channel", channel)
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	err := s.intake.HandleInbound(r.Context(), intake.InboundMessage{
		Address:           payload.Address,
		Body:              payload.Body,
		Channel:           channel,
		ProviderMessageID: payload.ProviderMessageID,
		DisplayName:       payload.DisplayName,
	})
	if err != nil {
		s.logger.Error("inbound handling failed",
			"channel", channel, "provider_id", payload.ProviderMessageID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{})
}
