// config/validator.go
package config

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
)

// Validator 配置验证器
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// BizValidator 业务配置可选实现, 加载后统一校验
type BizValidator interface {
	Validate() error
}

// ValidateAppConfig 校验框架配置与业务配置
func (v *Validator) ValidateAppConfig(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	switch cfg.APPInfo.ENV {
	case consts.ENV_DEVELOPMENT, consts.ENV_PRODUCTION, consts.ENV_TEST:
	default:
		return fmt.Errorf("running environment is not valid: %s", cfg.APPInfo.ENV)
	}
	if cfg.Redis != nil && cfg.Redis.Enabled {
		if err := cfg.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if bv, ok := cfg.BizConfig.(BizValidator); ok {
		if err := bv.Validate(); err != nil {
			return fmt.Errorf("biz_config: %w", err)
		}
	}
	return nil
}

func (v *Validator) validateConfigFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	if len(path) > 255 {
		return fmt.Errorf("config file path is too long")
	}
	if !fileExists(path) {
		return fmt.Errorf("config file does not exist: %s", path)
	}
	return nil
}
