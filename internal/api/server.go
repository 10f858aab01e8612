// Package api is the HTTP edge: the messaging-transport webhook, the
// authenticated scheduler triggers, and the volunteer-facing management
// surface the (external) UI consumes.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amparo-line/amparo/internal/intake"
	"github.com/amparo-line/amparo/internal/reengage"
	"github.com/amparo-line/amparo/internal/retention"
	"github.com/amparo-line/amparo/internal/router"
)

type Server struct {
	mux    *chi.Mux
	port   int
	logger *slog.Logger

	intake    *intake.Processor
	router    *router.Router
	retention *retention.Manager
	reengage  *reengage.Sweeper

	triggerToken string
}

func NewServer(port int, proc *intake.Processor, rt *router.Router, ret *retention.Manager, re *reengage.Sweeper, triggerToken string, logger *slog.Logger) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)

	s := &Server{
		mux:          mux,
		port:         port,
		logger:       logger,
		intake:       proc,
		router:       rt,
		retention:    ret,
		reengage:     re,
		triggerToken: triggerToken,
	}

	mux.Get("/health", s.health)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Post("/webhook/{channel}", s.handleWebhook)

	mux.Group(func(r chi.Router) {
		r.Use(s.requireTriggerToken)
		r.Post("/internal/reengage", s.handleReengage)
		r.Post("/internal/cleanup", s.handleCleanup)
	})

	mux.Route("/api/v1/conversations", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Post("/{id}/claim", s.claimConversation)
		r.Post("/{id}/transfer", s.transferConversation)
		r.Post("/{id}/close", s.closeConversation)
		r.Get("/{id}/messages", s.listMessages)
		r.Post("/{id}/messages", s.sendMessage)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
