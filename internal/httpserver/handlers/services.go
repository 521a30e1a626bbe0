package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
)

type servicesResponse struct {
	Version   uint64               `json:"version" yaml:"version"`
	UpdatedAt time.Time            `json:"updated_at" yaml:"updated_at"`
	Seeded    bool                 `json:"seeded" yaml:"seeded"`
	Services  []domain.ServiceJSON `json:"services" yaml:"services"`
}

// Services lists the published inventory ordered by key. Servers are listed
// in slot order. ?format=yaml switches the encoding.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inv := d.MemoryIndex.Snapshot()

		resp := servicesResponse{
			Version:   inv.Version,
			UpdatedAt: inv.UpdatedAt,
			Seeded:    inv.Seeded,
			Services:  make([]domain.ServiceJSON, 0, len(inv.Services)),
		}
		for _, svc := range inv.Sorted() {
			resp.Services = append(resp.Services, svc.View())
		}

		if r.URL.Query().Get("format") == "yaml" {
			writeYAML(w, resp, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, resp, d.Logger)
	}
}

// Service returns the service published under /{port}/{protocol}.
func Service(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		port, err := strconv.Atoi(chi.URLParam(r, "port"))
		if err != nil {
			writeText(w, http.StatusBadRequest, "invalid port\n", d.Logger)
			return
		}

		svc, ok := d.MemoryIndex.GetService(domain.ServiceKey(port, chi.URLParam(r, "protocol")))
		if !ok {
			writeText(w, http.StatusNotFound, "service not found\n", d.Logger)
			return
		}

		if r.URL.Query().Get("format") == "yaml" {
			writeYAML(w, svc.View(), d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, svc.View(), d.Logger)
	}
}

func writeYAML(w http.ResponseWriter, v any, log logger.Logger) {
	out, err := yaml.Marshal(v)
	if err != nil {
		log.Error("failed to encode yaml", logger.Error(err))
		writeText(w, http.StatusInternalServerError, "encoding failed\n", log)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		log.Debug("failed to write response", logger.Error(err))
	}
}
