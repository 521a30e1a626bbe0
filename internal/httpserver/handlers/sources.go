package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/watcher"
)

// Sources lists the state of every registry watcher.
func Sources(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]watcher.Status, 0, len(d.Sources))
		for _, s := range d.Sources {
			out = append(out, s.Status())
		}
		writeJSON(w, http.StatusOK, out, d.Logger)
	}
}
