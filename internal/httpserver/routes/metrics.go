package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/handlers"
)

func init() { Register("metrics", registerMetrics) }

func registerMetrics(r chi.Router, d deps.Deps) {
	r.Get("/metrics", handlers.Metrics(d))
}
