package registry_ext

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/api"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/config"
	appconsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/registry"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/worker"
)

func init() {
	// Ensure http_server starts after the controller by extending its runtime dep graph.
	registry.ExtendRuntimeDependencies(appconsts.COMPONENT_HTTP_SERVER, consts.COMP_CTRL_ANALYSIS)

	registry.RegisterWithDeps(consts.COMP_CTRL_ANALYSIS, []string{
		consts.COMP_QUEUE, consts.COMP_WORKER_POOL,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		q, err := resolveQueue(c)
		if err != nil {
			return true, nil, err
		}
		comp, err := c.Resolve(consts.COMP_WORKER_POOL)
		if err != nil {
			return true, nil, fmt.Errorf("resolve worker_pool failed: %w", err)
		}
		pool, ok := comp.(*worker.Pool)
		if !ok {
			return true, nil, fmt.Errorf("worker_pool type assertion failed")
		}
		return true, api.NewAnalysisController(q, pool, bizConfig.GetBizConfig().Queue.ListLimit), nil
	})
}
