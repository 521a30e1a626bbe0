package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/mw"
)

func init() { Register("services", registerServices) }

func registerServices(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Get("/services", handlers.Services(d))
		r.Get("/services/{port}/{protocol}", handlers.Service(d))
		r.Get("/sources", handlers.Sources(d))
	})
}
