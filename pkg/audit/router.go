package audit

import (
	"github.com/go-chi/chi/v5"
)

// Router returns the audit read API, mounted under /api/admin/audit.
func Router(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Get("/events", ListEventsHandler(store))
	r.Get("/events/{eventId}", GetEventHandler(store))
	return r
}
