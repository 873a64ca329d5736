// Package httpapi serves the relay over HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires the relay endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.logMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}) })
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", h.query)
		r.Get("/jobs/{job}/builds/{number}/table", h.table)
		r.Get("/jobs/{job}/builds/{number}/narrative", h.narrative)
		r.Post("/jobs/{job}/monitor", h.monitorJob)
	})
	return r
}
