package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
)

// runtimeDepExtMap stores extra runtime dependency edges applied after components are
// registered but before lifecycle StartAll sorts them.
var (
	runtimeDepExtMap = map[string][]string{}
	runtimeDepExtMu  sync.Mutex
)

// ExtendRuntimeDependencies declares that component target should additionally depend on deps.
// Affects only start/stop ordering, not builder order (use RegisterWithDeps for that).
// Must be called before BuildAndRegisterAll, usually from init().
func ExtendRuntimeDependencies(target string, deps ...string) {
	if target == "" || len(deps) == 0 {
		return
	}
	runtimeDepExtMu.Lock()
	defer runtimeDepExtMu.Unlock()
	runtimeDepExtMap[target] = append(runtimeDepExtMap[target], deps...)
}

func applyRuntimeDepExtensions(c *core.Container) {
	runtimeDepExtMu.Lock()
	defer runtimeDepExtMu.Unlock()
	ctx := context.Background()
	for target, extra := range runtimeDepExtMap {
		comp, err := c.Resolve(target)
		if err != nil {
			logging.Warn(ctx, "runtime dep extension target not registered", zap.String("target", target))
			continue
		}
		extender, ok := comp.(interface{ AddDependencies(...string) })
		if !ok {
			logging.Warn(ctx, "component does not support AddDependencies", zap.String("target", target))
			continue
		}
		extender.AddDependencies(extra...)
	}
}
