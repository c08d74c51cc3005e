// Package api serves the session HTTP API: create a session, edit its
// loyalty history, submit flights for prediction and claim the SAF Coin.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/safmiles/internal/admin"
	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/session"
)

// Handler serves the /v1 endpoints.
type Handler struct {
	sessions *session.Manager
	mw       *server.Middleware
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(sessions *session.Manager, mw *server.Middleware, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, mw: mw, logger: logger}
}

// Routes mounts the /v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(h.mw.FaultInjection)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Put("/history", h.UpdateHistory)
			r.Post("/predictions", h.Submit)
			r.Post("/claim", h.Claim)
		})
	})
}

// NewServer assembles the session API server: base middleware, /v1 routes
// and the admin plane. flusher may be nil.
func NewServer(cfg *server.Config, sessions *session.Manager, flusher admin.WebhookFlusher, logger *slog.Logger) *server.Server {
	srv := server.New(cfg, logger)
	NewHandler(sessions, srv.Middleware(), srv.Logger).Routes(srv.Router)

	ah := admin.NewHandler(sessions, srv.Middleware(), sessions.Clock())
	ah.SetConfigProvider(srv)
	if flusher != nil {
		ah.SetFlusher(flusher)
	}
	ah.Routes(srv.Router)
	return srv
}
