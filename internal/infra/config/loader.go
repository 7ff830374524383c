// config/loader.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
)

// Loader 配置加载器
type Loader struct {
	env        string
	configPath string
	// bizConfig: 业务方传入的指针, 用于填充 biz_config 小节
	bizConfig any
}

// NewLoader 创建配置加载器
func NewLoader(env string, configPath string) *Loader {
	if env == "" {
		env = consts.ENV_DEVELOPMENT
	}
	if configPath == "" {
		configPath = consts.DEFAULT_CONFIG_PATH
	}
	return &Loader{env: env, configPath: configPath}
}

// SetBizConfig 注入业务方自定义配置结构指针, 需在 LoadConfig 之前调用。
// 指针内已有的值作为默认值保留。
func (l *Loader) SetBizConfig(b any) {
	if b == nil {
		return
	}
	if reflect.TypeOf(b).Kind() != reflect.Ptr {
		panic("SetBizConfig expects a pointer, e.g. &MyBizConfig{}")
	}
	l.bizConfig = b
}

// LoadConfig 先整体解析 AppConfig, 再把 biz_config 子树二次反序列化到业务指针。
func (l *Loader) LoadConfig() (*AppConfig, error) {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(l.configPath))
	return l.parse(ext, data)
}

func (l *Loader) parse(ext string, data []byte) (*AppConfig, error) {
	var cfg AppConfig
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if l.bizConfig != nil {
		if cfg.BizConfig != nil {
			if err := decodeBizSection(ext, cfg.BizConfig, l.bizConfig); err != nil {
				return nil, fmt.Errorf("decode biz_config failed: %w", err)
			}
		}
		cfg.BizConfig = l.bizConfig
	}

	if cfg.APPInfo == nil {
		cfg.APPInfo = &APPInfo{}
	}
	if cfg.APPInfo.ENV == "" {
		cfg.APPInfo.ENV = l.env
	}
	injectServiceName(&cfg)
	return &cfg, nil
}

// decodeBizSection 将已解析的子树重新序列化后解码到业务指针
func decodeBizSection(ext string, raw any, target any) error {
	switch ext {
	case ".yaml", ".yml":
		b, err := yaml.Marshal(raw)
		if err != nil {
			return fmt.Errorf("re-marshal biz_config failed: %w", err)
		}
		return yaml.Unmarshal(b, target)
	case ".json":
		b, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("re-marshal biz_config failed: %w", err)
		}
		return json.Unmarshal(b, target)
	}
	return fmt.Errorf("unsupported format: %s", ext)
}

// injectServiceName 用 app_info.app_name 填充 http_server / telemetry 的服务名
func injectServiceName(cfg *AppConfig) {
	name := cfg.APPInfo.APPName
	if name == "" {
		return
	}
	if cfg.HTTPServer != nil && cfg.HTTPServer.ServiceName == "" {
		cfg.HTTPServer.ServiceName = name
	}
	if cfg.Telemetry != nil && cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = name
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
