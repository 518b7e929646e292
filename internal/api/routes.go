package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router собирает chi router со всеми маршрутами API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimiddleware.RequestID,
		Recovery(h.logger),
		Logging(h.logger),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowed(w)
	})

	r.Get("/healthz", h.Liveness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)

		r.Post("/tasks", h.SubmitTask)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Get("/results/{id}", h.GetResult)
	})

	return r
}
