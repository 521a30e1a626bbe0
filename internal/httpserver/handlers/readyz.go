package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready          bool   `json:"ready"`
	Seeded         bool   `json:"seeded"`
	Version        uint64 `json:"inventory_version"`
	Services       int    `json:"services"`
	HealthySources int    `json:"healthy_sources"`
	Sources        int    `json:"sources"`
}

// Readyz answers 200 once a registry has been read, 503 before.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv := d.MemoryIndex.Snapshot()

		resp := readyzResponse{
			Ready:    d.MemoryIndex.Ready(),
			Seeded:   inv.Seeded,
			Version:  inv.Version,
			Services: len(inv.Services),
			Sources:  len(d.Sources),
		}
		for _, s := range d.Sources {
			if s.Status().Healthy {
				resp.HealthySources++
			}
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, status, resp, d.Logger)
	}
}
