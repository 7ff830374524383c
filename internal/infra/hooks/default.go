// hooks/default.go
package hooks

import (
	"context"
	"log"
)

// 全局钩子管理器
var globalHookManager = NewManager()

func init() {
	defaults := []struct {
		name  string
		phase Phase
		msg   string
	}{
		{"log_startup", BeforeStart, "ceworker is starting..."},
		{"log_started", AfterStart, "ceworker started successfully"},
		{"log_shutdown", BeforeShutdown, "ceworker is shutting down..."},
		{"log_shutdown_complete", AfterShutdown, "ceworker shutdown completed"},
	}
	for _, d := range defaults {
		msg := d.msg
		if err := RegisterHook(d.name, d.phase, func(ctx context.Context) error {
			log.Println(msg)
			return nil
		}, 100); err != nil {
			log.Printf("Failed to register default hook: %v", err)
		}
	}
}

// RegisterHook 向全局钩子管理器注册钩子
func RegisterHook(name string, phase Phase, function HookFunc, priority int) error {
	return globalHookManager.Register(&Hook{
		Name:     name,
		Phase:    phase,
		Function: function,
		Priority: priority,
	})
}

// GetGlobalHookManager 获取全局钩子管理器
func GetGlobalHookManager() *Manager {
	return globalHookManager
}
