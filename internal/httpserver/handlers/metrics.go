package handlers

import (
	"bytes"
	"net/http"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
)

// Metrics serves what the metric reader collects as Prometheus text.
func Metrics(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Metrics == nil {
			writeText(w, http.StatusNotFound, "metrics are disabled\n", d.Logger)
			return
		}

		var buf bytes.Buffer
		if err := d.Metrics.WritePrometheus(r.Context(), &buf); err != nil {
			d.Logger.Warn("failed to collect metrics", logger.Error(err))
			writeText(w, http.StatusInternalServerError, "failed to collect metrics\n", d.Logger)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
