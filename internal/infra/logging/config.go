// logging/config.go
package logging

import "time"

// LoggingConfig 日志配置
type LoggingConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Level        string        `yaml:"level" json:"level"`   // DEBUG|INFO|WARN|ERROR
	Format       string        `yaml:"format" json:"format"` // json|console
	Output       string        `yaml:"output" json:"output"` // stdout|stderr|file|<path>
	FileConfig   *FileConfig   `yaml:"file_config,omitempty" json:"file_config,omitempty"`
	RotateConfig *RotateConfig `yaml:"rotate_config,omitempty" json:"rotate_config,omitempty"`
}

// FileConfig 文件输出配置
type FileConfig struct {
	Dir      string `yaml:"dir" json:"dir"`           // 日志文件目录
	Filename string `yaml:"filename" json:"filename"` // 日志文件名前缀
}

// RotateConfig 日志轮转配置 (lumberjack)
type RotateConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	MaxSizeMB  int           `yaml:"max_size_mb" json:"max_size_mb"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age"` // 日志保留时间
	MaxBackups int           `yaml:"max_backups" json:"max_backups"`
	Compress   bool          `yaml:"compress" json:"compress"`
}
