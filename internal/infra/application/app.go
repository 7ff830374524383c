package application

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/hooks"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/registry"
)

var (
	globalApp     *App
	globalAppOnce sync.Once
)

// GetApp 返回进程级单例, 业务包可在 init() 中通过它注册 biz config。
// 环境与配置路径默认取 CEWORKER_ENV / CEWORKER_CONFIG, 可在启动前用 Configure 覆盖。
func GetApp() *App {
	globalAppOnce.Do(func() {
		globalApp = NewApp(os.Getenv("CEWORKER_ENV"), os.Getenv("CEWORKER_CONFIG"))
	})
	return globalApp
}

type App struct {
	container        *core.Container
	lifecycleManager *core.LifecycleManager
	configManager    *config.ConfigManager
	bizConfig        any

	bootOnce sync.Once
	bootErr  error

	shutdownTimeout time.Duration
}

func NewApp(env string, configPath string) *App {
	container := core.NewContainer()
	lm := core.NewLifecycleManagerWithManager(container, hooks.GetGlobalHookManager())
	return &App{
		configManager:    config.NewConfigManager(env, absPath(configPath)),
		container:        container,
		lifecycleManager: lm,
		shutdownTimeout:  30 * time.Second,
	}
}

func absPath(p string) string {
	if p == "" {
		p = consts.DEFAULT_CONFIG_PATH
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Configure 替换环境与配置路径, 必须在 Run 之前调用。
func (app *App) Configure(env string, configPath string) {
	app.configManager = config.NewConfigManager(env, absPath(configPath))
	if app.bizConfig != nil {
		app.configManager.SetBizConfig(app.bizConfig)
	}
}

// SetBizConfig 注册业务配置指针, biz_config 小节将解码到该指针。
func (app *App) SetBizConfig(b any) {
	app.bizConfig = b
	app.configManager.SetBizConfig(b)
}

// SetShutdownTimeout bounds StopAll after the run context is cancelled.
func (app *App) SetShutdownTimeout(d time.Duration) {
	if d > 0 {
		app.shutdownTimeout = d
	}
}

func (app *App) boot() error {
	app.bootOnce.Do(func() {
		if err := app.configManager.LoadConfig(); err != nil {
			app.bootErr = fmt.Errorf("load config failed: %w", err)
			return
		}
		if err := registry.BuildAndRegisterAll(app.configManager.GetConfig(), app.container); err != nil {
			app.bootErr = fmt.Errorf("register components failed: %w", err)
		}
	})
	return app.bootErr
}

func (app *App) GetComponent(name string) (core.Component, error) {
	return app.container.Resolve(name)
}

func (app *App) GetConfig() *config.AppConfig {
	return app.configManager.GetConfig()
}

func (app *App) AddHook(name string, phase hooks.Phase, fn hooks.HookFunc, priority int) error {
	return app.lifecycleManager.AddHook(name, phase, fn, priority)
}

// Run 监听 SIGINT/SIGTERM, 收到信号后优雅关闭。
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunWithContext(ctx)
}

// RunWithContext starts components and blocks until ctx is done, then shuts down.
func (app *App) RunWithContext(ctx context.Context) error {
	if err := app.boot(); err != nil {
		return err
	}
	if err := app.lifecycleManager.StartAll(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logging.Info(context.Background(), "shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	app.lifecycleManager.StopAll(stopCtx)
	return nil
}

func (app *App) Shutdown(ctx context.Context) {
	app.lifecycleManager.StopAll(ctx)
}
