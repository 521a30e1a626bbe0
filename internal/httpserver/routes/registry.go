// Package routes collects the HTTP routes. Every file registers its own
// routes from init, so adding an endpoint never touches the server.
package routes

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
)

type Registrar func(r chi.Router, d deps.Deps)

type entry struct {
	name string
	reg  Registrar
}

var registry []entry

// Register adds a named group of routes. Names must be unique.
func Register(name string, reg Registrar) {
	if slices.ContainsFunc(registry, func(e entry) bool { return e.name == name }) {
		panic(fmt.Sprintf("routes: %q registered twice", name))
	}
	registry = append(registry, entry{name: name, reg: reg})
}

// RegisterAll mounts every registered group on r, in name order.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range sorted() {
		e.reg(r, d)
	}
}

// Names lists the registered groups in mount order.
func Names() []string {
	entries := sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

func sorted() []entry {
	out := slices.Clone(registry)
	slices.SortFunc(out, func(a, b entry) int { return cmp.Compare(a.name, b.name) })
	return out
}
