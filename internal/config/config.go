package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/application"
)

var (
	bizConfig *BizConfig
)

func GetBizConfig() *BizConfig {
	return bizConfig
}

// BizConfig biz_config 小节
type BizConfig struct {
	DataSource   string                       `yaml:"data_source" json:"data_source"`
	Queue        QueueConfig                  `yaml:"queue" json:"queue"`
	Workers      WorkerConfig                 `yaml:"workers" json:"workers"`
	Workspace    WorkspaceConfig              `yaml:"workspace" json:"workspace"`
	Pipeline     PipelineConfig               `yaml:"pipeline" json:"pipeline"`
	Capabilities map[string]*CapabilityConfig `yaml:"capabilities" json:"capabilities"`
}

type QueueConfig struct {
	AutoMigrate   bool   `yaml:"auto_migrate" json:"auto_migrate"`
	NotifyChannel string `yaml:"notify_channel" json:"notify_channel"` // redis 频道, 为空时只做进程内唤醒
	ClaimBatch    int    `yaml:"claim_batch" json:"claim_batch"`
	ListLimit     int    `yaml:"list_limit" json:"list_limit"`
}

type WorkerConfig struct {
	PoolSize        int           `yaml:"pool_size" json:"pool_size"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	StartPaused     bool          `yaml:"start_paused" json:"start_paused"`
}

type WorkspaceConfig struct {
	Root         string `yaml:"root" json:"root"`
	SweepOnStart bool   `yaml:"sweep_on_start" json:"sweep_on_start"`
}

type PipelineConfig struct {
	// Steps 选择并排序内置步骤, 为空使用默认顺序
	Steps []string `yaml:"steps" json:"steps"`
}

// CapabilityConfig binds one named slot. Kind: none|http|redis.
type CapabilityConfig struct {
	Kind    string            `yaml:"kind" json:"kind"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Channel string            `yaml:"channel" json:"channel"`
}

func Default() *BizConfig {
	c := &BizConfig{}
	c.ApplyDefaults()
	return c
}

func (c *BizConfig) ApplyDefaults() {
	if c.DataSource == "" {
		c.DataSource = consts.DEFAULT_DATA_SOURCE
	}
	if c.Queue.ClaimBatch <= 0 {
		c.Queue.ClaimBatch = 8
	}
	if c.Queue.ListLimit <= 0 {
		c.Queue.ListLimit = 100
	}
	if c.Workers.PoolSize <= 0 {
		c.Workers.PoolSize = 4
	}
	if c.Workers.PollInterval <= 0 {
		c.Workers.PollInterval = 2 * time.Second
	}
	if c.Workers.ShutdownTimeout <= 0 {
		c.Workers.ShutdownTimeout = 30 * time.Second
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = filepath.Join(os.TempDir(), "ceworker")
	}
	for _, cc := range c.Capabilities {
		if cc != nil && cc.Timeout <= 0 {
			cc.Timeout = 10 * time.Second
		}
	}
}

// Validate applies defaults then checks the section; called by the config validator after load.
func (c *BizConfig) Validate() error {
	c.ApplyDefaults()
	for name, cc := range c.Capabilities {
		if cc == nil {
			continue
		}
		switch strings.ToLower(cc.Kind) {
		case "", "none":
		case "http":
			if cc.URL == "" {
				return fmt.Errorf("capability %s: http kind requires url", name)
			}
		case "redis":
			if cc.Channel == "" {
				return fmt.Errorf("capability %s: redis kind requires channel", name)
			}
		default:
			return fmt.Errorf("capability %s: unknown kind %q", name, cc.Kind)
		}
	}
	return nil
}

func init() {
	bizConfig = Default()
	application.GetApp().SetBizConfig(bizConfig)
}
