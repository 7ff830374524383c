// Package workspace 为每个任务分配独占的临时目录 <root>/task-<id>。
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	infraConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
)

// ErrStorage wraps every filesystem failure of the manager.
var ErrStorage = errors.New("workspace storage error")

const dirPrefix = "task-"

type Manager struct {
	*core.BaseComponent
	root         string
	sweepOnStart bool
}

func NewManager(root string, sweepOnStart bool) *Manager {
	return &Manager{
		BaseComponent: core.NewBaseComponent(consts.COMP_WORKSPACE, infraConsts.COMPONENT_LOGGING),
		root:          root,
		sweepOnStart:  sweepOnStart,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	if err := m.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return fmt.Errorf("%w: create root %s: %w", ErrStorage, m.root, err)
	}
	if m.sweepOnStart {
		n, err := m.Sweep()
		if err != nil {
			return err
		}
		if n > 0 {
			logging.Warn(ctx, "stale workspaces removed", zap.Int("count", n), zap.String("root", m.root))
		}
	}
	return nil
}

func (m *Manager) HealthCheck() error {
	if err := m.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if _, err := os.Stat(m.root); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) dirFor(taskID int64) string {
	return filepath.Join(m.root, dirPrefix+strconv.FormatInt(taskID, 10))
}

// Acquire creates a fresh, empty directory owned by taskID. A leftover
// directory from an interrupted run is removed first.
func (m *Manager) Acquire(taskID int64) (*Handle, error) {
	dir := m.dirFor(taskID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("%w: clear %s: %w", ErrStorage, dir, err)
	}
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %w", ErrStorage, m.root, err)
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, dir, err)
	}
	return &Handle{taskID: taskID, dir: dir}, nil
}

// Release removes the task directory. Releasing twice, or an id never acquired, is a no-op.
func (m *Manager) Release(taskID int64) error {
	if err := os.RemoveAll(m.dirFor(taskID)); err != nil {
		return fmt.Errorf("%w: release task %d: %w", ErrStorage, taskID, err)
	}
	return nil
}

// Sweep removes every task directory under root. Only safe before workers start.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read root: %w", ErrStorage, err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			return removed, fmt.Errorf("%w: sweep %s: %w", ErrStorage, e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Handle is the scratch directory of one running task.
type Handle struct {
	taskID int64
	dir    string
}

func (h *Handle) TaskID() int64 { return h.taskID }
func (h *Handle) Dir() string   { return h.dir }

// Path resolves name inside the workspace; ".." segments cannot escape it.
func (h *Handle) Path(name string) string {
	return filepath.Join(h.dir, filepath.Clean(string(filepath.Separator)+name))
}

func (h *Handle) WriteFile(name string, data []byte) error {
	p := h.Path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

func (h *Handle) ReadFile(name string) ([]byte, error) {
	b, err := os.ReadFile(h.Path(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return b, nil
}
