// config/schema.go
package config

import (
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/gormdb"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/httpserver"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/prometheus"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/redis"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/telemetry"
)

// AppConfig 应用程序配置结构
type AppConfig struct {
	APPInfo    *APPInfo                     `yaml:"app_info" json:"app_info"`
	Logging    *logging.LoggingConfig       `yaml:"logging" json:"logging"`
	Gorm       *gormdb.Config               `yaml:"gorm" json:"gorm"`
	Redis      *redis.Config                `yaml:"redis" json:"redis"`
	Prometheus *prometheus.Config           `yaml:"prometheus" json:"prometheus"`
	Telemetry  *telemetry.Config            `yaml:"telemetry" json:"telemetry"`
	HTTPServer *httpserver.HTTPServerConfig `yaml:"http_server" json:"http_server"`
	// BizConfig 业务配置小节, 加载后替换为业务方传入的指针
	BizConfig any `yaml:"biz_config" json:"biz_config"`
}

type APPInfo struct {
	APPName string `yaml:"app_name" json:"app_name"`
	ENV     string `yaml:"env" json:"env"`
}
