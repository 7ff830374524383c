// Package worker runs a fixed pool of workers that claim analysis tasks from
// the queue and execute the pipeline for each of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	infraConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/prometheus"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/queue"
)

// ErrNotCancelable: the task is neither pending nor running in this process.
var ErrNotCancelable = errors.New("task is not pending or running")

// TaskQueue is the part of the queue the pool drives.
type TaskQueue interface {
	ClaimNext(ctx context.Context) (*model.Task, error)
	Complete(ctx context.Context, id int64, status consts.TaskStatus, outcomes []model.StepOutcome, errMsg string) error
	RequeueOrphaned(ctx context.Context) (int64, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	Depth(ctx context.Context) (int64, error)
	Notifier() *queue.Notifier
}

// Runner executes the pipeline for one claimed task.
type Runner interface {
	Run(ctx context.Context, task *model.Task) pipeline.Report
	// Reserve registers a claimed task for cancellation ahead of Run.
	Reserve(taskID int64)
	Cancel(taskID int64) bool
}

// Sweeper clears workspace leftovers before any worker starts.
type Sweeper interface {
	Sweep() (int, error)
}

type Options struct {
	PoolSize        int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	StartPaused     bool
}

// Status 工作池运行快照
type Status struct {
	Workers    int     `json:"workers"`
	Busy       int     `json:"busy"`
	Paused     bool    `json:"paused"`
	QueueDepth int64   `json:"queue_depth"`
	Running    []int64 `json:"running"`
}

type Pool struct {
	*core.BaseComponent

	opts    Options
	queue   TaskQueue
	runner  Runner
	sweeper Sweeper
	pause   *PauseController

	wg      sync.WaitGroup
	busy    atomic.Int32
	mu      sync.Mutex
	running map[int64]struct{}
	depth   atomic.Int64

	// claimMu 读锁覆盖 claim+Reserve, Cancel 取写锁
	claimMu sync.RWMutex

	// stopCtx ends waiting for new work; drainCtx ends in-flight work.
	stopCtx  context.Context
	stop     context.CancelFunc
	drainCtx context.Context
	drain    context.CancelFunc
}

func NewPool(opts Options, q TaskQueue, r Runner, s Sweeper, pc *prometheus.Component) *Pool {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	p := &Pool{
		BaseComponent: core.NewBaseComponent(consts.COMP_WORKER_POOL,
			consts.COMP_QUEUE, consts.COMP_EXECUTOR, consts.COMP_WORKSPACE, infraConsts.COMPONENT_LOGGING),
		opts:    opts,
		queue:   q,
		runner:  r,
		sweeper: s,
		pause:   NewPauseController(opts.StartPaused),
		running: make(map[int64]struct{}),
	}
	p.registerMetrics(pc)
	return p
}

func (p *Pool) registerMetrics(pc *prometheus.Component) {
	if pc == nil {
		return
	}
	pc.NewGaugeFunc("worker_busy", "Workers currently executing a task.", func() float64 {
		return float64(p.busy.Load())
	})
	pc.NewGaugeFunc("worker_paused", "1 when task claims are paused.", func() float64 {
		if p.pause.Paused() {
			return 1
		}
		return 0
	})
	pc.NewGaugeFunc("queue_depth", "Pending tasks in the queue.", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := p.queue.Depth(ctx)
		if err != nil {
			logging.Warn(ctx, "queue depth unavailable, reporting last value", zap.Error(err))
			return float64(p.depth.Load())
		}
		p.depth.Store(n)
		return float64(n)
	})
}

// Start recovers orphaned tasks and clears workspaces before the first claim.
func (p *Pool) Start(ctx context.Context) error {
	if p.IsActive() {
		return nil
	}
	n, err := p.queue.RequeueOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("orphan recovery: %w", err)
	}
	if p.sweeper != nil {
		removed, err := p.sweeper.Sweep()
		if err != nil {
			return fmt.Errorf("workspace sweep: %w", err)
		}
		if removed > 0 {
			logging.Info(ctx, "stale workspaces removed", zap.Int("count", removed))
		}
	}
	if err := p.BaseComponent.Start(ctx); err != nil {
		return err
	}

	// lifecycle cancels ctx once Start returns
	p.stopCtx, p.stop = context.WithCancel(context.Background())
	p.drainCtx, p.drain = context.WithCancel(context.Background())
	for i := 0; i < p.opts.PoolSize; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	logging.Info(ctx, "worker pool started",
		zap.Int("workers", p.opts.PoolSize),
		zap.Int64("requeued", n),
		zap.Bool("paused", p.pause.Paused()))
	return nil
}

// Stop waits up to ShutdownTimeout for running tasks; past the deadline they
// are abandoned at the next step boundary and left for orphan recovery.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.IsActive() {
		return nil
	}
	p.pause.Freeze()
	p.stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(p.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logging.Warn(ctx, "shutdown deadline reached, abandoning running tasks", zap.Int64s("tasks", p.Running()))
		p.drain()
	case <-ctx.Done():
		p.drain()
	}
	select {
	case <-done:
	case <-ctx.Done():
		logging.Error(context.Background(), "workers did not exit before stop timeout")
	}
	p.drain()
	return p.BaseComponent.Stop(ctx)
}

func (p *Pool) loop(idx int) {
	defer p.wg.Done()
	ctx := logging.WithTraceID(context.Background())
	logging.Debug(ctx, "worker started", zap.Int("worker", idx))
	for {
		if p.stopCtx.Err() != nil {
			return
		}
		wake := p.queue.Notifier().Wait()
		var (
			task *model.Task
			err  error
		)
		if gerr := p.pause.Gate(p.stopCtx, func() {
			task, err = p.claim()
		}); gerr != nil {
			return
		}
		switch {
		case err != nil:
			logging.Error(ctx, "claim failed", zap.Int("worker", idx), zap.Error(err))
			p.idle(nil)
		case task == nil:
			p.idle(wake)
		default:
			p.execute(task)
		}
	}
}

func (p *Pool) claim() (*model.Task, error) {
	p.claimMu.RLock()
	defer p.claimMu.RUnlock()
	task, err := p.queue.ClaimNext(p.drainCtx)
	if err == nil && task != nil {
		p.runner.Reserve(task.ID)
	}
	return task, err
}

// idle waits for a wake-up, the poll interval or stop.
func (p *Pool) idle(wake <-chan struct{}) {
	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	case <-p.stopCtx.Done():
	}
}

func (p *Pool) execute(task *model.Task) {
	p.busy.Add(1)
	p.track(task.ID, true)
	defer func() {
		p.track(task.ID, false)
		p.busy.Add(-1)
	}()
	defer func() {
		if r := recover(); r != nil {
			p.fault(task, r)
		}
	}()

	rep := p.runner.Run(p.drainCtx, task)
	if rep.Err != nil {
		logging.Error(context.Background(), "task result not persisted",
			zap.Int64("task_id", task.ID), zap.String("status", string(rep.Status)), zap.Error(rep.Err))
	}
}

// fault marks a task FAILED after a panic escaped the pipeline.
func (p *Pool) fault(task *model.Task, r any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("worker fault: %v", r)
	logging.Error(ctx, "worker recovered from fault", zap.Int64("task_id", task.ID), zap.String("fault", msg))
	if err := p.queue.Complete(ctx, task.ID, consts.Failed, nil, msg); err != nil && !errors.Is(err, queue.ErrNotInProgress) {
		logging.Error(ctx, "mark faulted task failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

func (p *Pool) track(id int64, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.running[id] = struct{}{}
	} else {
		delete(p.running, id)
	}
}

func (p *Pool) Running() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Pool) Pause() error  { return p.pause.Pause() }
func (p *Pool) Resume() error { return p.pause.Resume() }

func (p *Pool) Status(ctx context.Context) (Status, error) {
	depth, err := p.queue.Depth(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Workers:    p.opts.PoolSize,
		Busy:       int(p.busy.Load()),
		Paused:     p.pause.Paused(),
		QueueDepth: depth,
		Running:    p.Running(),
	}, nil
}

// Cancel cancels a PENDING task directly, or asks the executor to stop a
// running one before its next step.
func (p *Pool) Cancel(ctx context.Context, id int64) error {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	ok, err := p.queue.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if ok || p.runner.Cancel(id) {
		logging.Info(ctx, "task cancel requested", zap.Int64("task_id", id), zap.Bool("was_pending", ok))
		return nil
	}
	return ErrNotCancelable
}
