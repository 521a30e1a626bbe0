package routes

import (
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
)

func TestAllRoutesRegistered(t *testing.T) {
	assert.Equal(t, []string{"health", "metrics", "reload", "services"}, Names())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	assert.Panics(t, func() {
		Register("health", func(chi.Router, deps.Deps) {})
	})
}
