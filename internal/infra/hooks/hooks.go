// hooks/hooks.go
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HookFunc 钩子函数类型
type HookFunc func(ctx context.Context) error

// Phase 生命周期阶段
type Phase string

const (
	BeforeStart    Phase = "before_start"
	AfterStart     Phase = "after_start"
	BeforeShutdown Phase = "before_shutdown"
	AfterShutdown  Phase = "after_shutdown"
)

// Hook 钩子结构
type Hook struct {
	Name     string
	Phase    Phase
	Function HookFunc
	Priority int // 数值越小越先执行
}

// Manager 钩子管理器
type Manager struct {
	hooks map[Phase][]*Hook
	mutex sync.RWMutex
}

// NewManager 创建新的钩子管理器
func NewManager() *Manager {
	return &Manager{hooks: make(map[Phase][]*Hook)}
}

// Register 注册钩子, 同一阶段按 Priority 稳定排序
func (m *Manager) Register(hook *Hook) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	if hook.Function == nil {
		return fmt.Errorf("hook function cannot be nil")
	}
	if !isValidPhase(hook.Phase) {
		return fmt.Errorf("invalid hook phase: %s", hook.Phase)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	list := append(m.hooks[hook.Phase], hook)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	m.hooks[hook.Phase] = list
	return nil
}

// Execute 执行指定阶段的所有钩子, 遇到第一个错误即返回
func (m *Manager) Execute(ctx context.Context, phase Phase) error {
	m.mutex.RLock()
	list := make([]*Hook, len(m.hooks[phase]))
	copy(list, m.hooks[phase])
	m.mutex.RUnlock()

	for _, hook := range list {
		if err := hook.Function(ctx); err != nil {
			return fmt.Errorf("hook %s failed: %w", hook.Name, err)
		}
	}
	return nil
}

func isValidPhase(phase Phase) bool {
	switch phase {
	case BeforeStart, AfterStart, BeforeShutdown, AfterShutdown:
		return true
	}
	return false
}
