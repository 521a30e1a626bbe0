package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
)

// Reload triggers a manual reload of the overrides file
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.ReloadTrigger == nil {
			writeText(w, http.StatusNotFound, "overrides are not configured\n", d.Logger)
			return
		}

		select {
		case d.ReloadTrigger <- struct{}{}:
			d.Logger.Info("manual overrides reload triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeText(w, http.StatusAccepted, "✅ Reload triggered successfully\n", d.Logger)
		default:
			d.Logger.Warn("overrides reload already in progress",
				logger.String("remote_ip", r.RemoteAddr))
			writeText(w, http.StatusTooManyRequests, "⏳ Reload already in progress, please wait\n", d.Logger)
		}
	}
}
