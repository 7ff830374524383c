package registry_ext

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/capability"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/config"
	appconsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/prometheus"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/redis"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/registry"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/queue"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/steps"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/worker"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/workspace"
)

func init() {
	// task queue
	registry.RegisterWithDeps(consts.COMP_QUEUE, []string{consts.COMP_DAO_TASK},
		func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
			comp, err := c.Resolve(consts.COMP_DAO_TASK)
			if err != nil {
				return true, nil, fmt.Errorf("resolve task_dao failed: %w", err)
			}
			taskDao, ok := comp.(dao.TaskDao)
			if !ok {
				return true, nil, fmt.Errorf("task_dao type assertion failed")
			}
			biz := bizConfig.GetBizConfig()
			return true, queue.New(taskDao, queue.Options{
				ClaimBatch:    biz.Queue.ClaimBatch,
				NotifyChannel: biz.Queue.NotifyChannel,
			}), nil
		})

	// workspace manager; the pool sweeps, so the manager does not
	registry.Register(consts.COMP_WORKSPACE, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, workspace.NewManager(bizConfig.GetBizConfig().Workspace.Root, false), nil
	})

	// pipeline executor
	registry.RegisterWithDeps(consts.COMP_EXECUTOR, []string{
		consts.COMP_QUEUE, consts.COMP_WORKSPACE, appconsts.COMPONENT_REDIS, appconsts.COMPONENT_PROMETHEUS,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		q, err := resolveQueue(c)
		if err != nil {
			return true, nil, err
		}
		ws, err := resolveWorkspace(c)
		if err != nil {
			return true, nil, err
		}
		biz := bizConfig.GetBizConfig()

		var src capability.ClientSource
		if comp, err := c.Resolve(appconsts.COMPONENT_REDIS); err == nil {
			if rc, ok := comp.(*redis.RedisComponent); ok {
				src = rc
			}
		}
		bindings, err := capability.Resolve(biz.Capabilities, src)
		if err != nil {
			return true, nil, fmt.Errorf("resolve capabilities failed: %w", err)
		}
		reg, err := steps.Build(biz.Pipeline.Steps, bindings)
		if err != nil {
			return true, nil, fmt.Errorf("build pipeline failed: %w", err)
		}

		exec := pipeline.NewExecutor(reg, q, ws, prometheus.C())
		if src != nil {
			exec.AddDependencies(appconsts.COMPONENT_REDIS)
		}
		return true, exec, nil
	})

	// worker pool
	registry.RegisterWithDeps(consts.COMP_WORKER_POOL, []string{
		consts.COMP_QUEUE, consts.COMP_WORKSPACE, consts.COMP_EXECUTOR,
	}, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		q, err := resolveQueue(c)
		if err != nil {
			return true, nil, err
		}
		ws, err := resolveWorkspace(c)
		if err != nil {
			return true, nil, err
		}
		comp, err := c.Resolve(consts.COMP_EXECUTOR)
		if err != nil {
			return true, nil, fmt.Errorf("resolve pipeline_executor failed: %w", err)
		}
		exec, ok := comp.(*pipeline.Executor)
		if !ok {
			return true, nil, fmt.Errorf("pipeline_executor type assertion failed")
		}

		biz := bizConfig.GetBizConfig()
		var sweeper worker.Sweeper
		if biz.Workspace.SweepOnStart {
			sweeper = ws
		}
		return true, worker.NewPool(worker.Options{
			PoolSize:        biz.Workers.PoolSize,
			PollInterval:    biz.Workers.PollInterval,
			ShutdownTimeout: biz.Workers.ShutdownTimeout,
			StartPaused:     biz.Workers.StartPaused,
		}, q, exec, sweeper, prometheus.C()), nil
	})
}

func resolveQueue(c *core.Container) (*queue.Queue, error) {
	comp, err := c.Resolve(consts.COMP_QUEUE)
	if err != nil {
		return nil, fmt.Errorf("resolve task_queue failed: %w", err)
	}
	q, ok := comp.(*queue.Queue)
	if !ok {
		return nil, fmt.Errorf("task_queue type assertion failed")
	}
	return q, nil
}

func resolveWorkspace(c *core.Container) (*workspace.Manager, error) {
	comp, err := c.Resolve(consts.COMP_WORKSPACE)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace_manager failed: %w", err)
	}
	ws, ok := comp.(*workspace.Manager)
	if !ok {
		return nil, fmt.Errorf("workspace_manager type assertion failed")
	}
	return ws, nil
}
