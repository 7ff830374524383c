package registry_ext

import (
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/registry"
)

func init() {
	registry.RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		biz := bizConfig.GetBizConfig()
		return true, dao.NewTaskDao(biz.DataSource, biz.Queue.AutoMigrate), nil
	})
}
