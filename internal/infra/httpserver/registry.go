package httpserver

import (
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
)

// RouteRegisterFunc mounts routes, resolving controllers from the container.
type RouteRegisterFunc func(r chi.Router, c *core.Container) error

var (
	registryMu sync.RWMutex
	registrars []RouteRegisterFunc
)

// RegisterRoutes (global) - call from a controller package init().
func RegisterRoutes(fn RouteRegisterFunc) {
	if fn == nil {
		return
	}
	registryMu.Lock()
	registrars = append(registrars, fn)
	registryMu.Unlock()
}

func snapshot() []RouteRegisterFunc {
	registryMu.RLock()
	cp := make([]RouteRegisterFunc, len(registrars))
	copy(cp, registrars)
	registryMu.RUnlock()
	return cp
}
