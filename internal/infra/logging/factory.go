// logging/factory.go
package logging

import (
	"fmt"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
)

// Factory 日志组件工厂
type Factory struct{}

// NewFactory 创建日志组件工厂
func NewFactory() *Factory {
	return &Factory{}
}

// Create 创建日志组件实例
func (f *Factory) Create(cfg interface{}) (core.Component, error) {
	loggingConfig, ok := cfg.(*LoggingConfig)
	if !ok {
		return nil, fmt.Errorf("invalid config type for logging component, expected *LoggingConfig")
	}
	if !loggingConfig.Enabled {
		return nil, fmt.Errorf("logging component is disabled")
	}

	f.setDefaults(loggingConfig)
	if err := f.validate(loggingConfig); err != nil {
		return nil, err
	}
	return NewLoggerComponent(loggingConfig), nil
}

func (f *Factory) setDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.Output == "file" && cfg.FileConfig == nil {
		cfg.FileConfig = &FileConfig{Dir: "./logs", Filename: "ceworker"}
	}
	if cfg.RotateConfig != nil && cfg.RotateConfig.Enabled && cfg.RotateConfig.MaxSizeMB == 0 {
		cfg.RotateConfig.MaxSizeMB = 100
	}
}

func (f *Factory) validate(cfg *LoggingConfig) error {
	switch cfg.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Format)
	}
	if cfg.RotateConfig != nil && cfg.RotateConfig.Enabled {
		if cfg.RotateConfig.MaxSizeMB < 0 {
			return fmt.Errorf("logging.rotate_config.max_size_mb must be >= 0")
		}
		if cfg.RotateConfig.MaxAge < 0 {
			return fmt.Errorf("logging.rotate_config.max_age must be >= 0")
		}
	}
	return nil
}
