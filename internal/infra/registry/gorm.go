package registry

import (
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/gormdb"
)

func init() {
	Register(consts.COMPONENT_GORM, func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		if cfg.Gorm == nil || !cfg.Gorm.Enabled {
			return false, nil, nil
		}
		comp, err := gormdb.Create(cfg.Gorm)
		if err != nil {
			return true, nil, err
		}
		return true, comp, nil
	})
}
