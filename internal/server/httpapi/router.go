package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/trialware/diarysync/internal/event"
)

// NewRouter assembles the API surface. Everything except the health probe
// requires a verified actor token; the export is investigator-only.
func NewRouter(h *Handler, secretKey []byte) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(secretKey))

		r.Post("/events", h.Push)
		r.Get("/events", h.Pull)
		r.Get("/events/stream", h.Stream)
		r.Get("/schema", h.Schema)
		r.Get("/aggregates/{aggregateID}/events", h.AggregateEvents)

		r.With(RequireRole(event.RoleInvestigator)).
			Get("/aggregates/{aggregateID}/export", h.Export)
	})

	return r
}
