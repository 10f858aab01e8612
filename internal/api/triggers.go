package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireTriggerToken guards the scheduler/cleanup endpoints. The same
// bearer credential works for the external cron caller and for manual
// diagnostic invocations.
func (s *Server) requireTriggerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.triggerToken == "" {
			s.logger.Error("trigger endpoints disabled: AMPARO_TRIGGER_TOKEN not set")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "triggers not configured"})
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.triggerToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReengage(w http.ResponseWriter, r *http.Request) {
	sent, err := s.reengage.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.retention.Sweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
