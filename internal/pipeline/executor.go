package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	infraConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/prometheus"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/workspace"
)

// Completer records the terminal state of a task.
type Completer interface {
	Complete(ctx context.Context, id int64, status consts.TaskStatus, outcomes []model.StepOutcome, errMsg string) error
}

// Workspaces allocates per-task scratch directories.
type Workspaces interface {
	Acquire(taskID int64) (*workspace.Handle, error)
	Release(taskID int64) error
}

// Report describes how one Run ended.
type Report struct {
	TaskID       int64
	Status       consts.TaskStatus
	Outcomes     []model.StepOutcome
	ErrorMessage string
	// Abandoned: the run context ended between steps; nothing was written and
	// the task stays IN_PROGRESS until orphan recovery.
	Abandoned bool
	// Err is set when the terminal write itself failed.
	Err error
}

type Executor struct {
	*core.BaseComponent
	registry        *Registry
	queue           Completer
	workspaces      Workspaces
	metrics         *metrics
	tracer          trace.Tracer
	now             func() time.Time
	completeTimeout time.Duration

	mu      sync.Mutex
	running map[int64]*atomic.Bool // taskID -> cancel requested
}

func NewExecutor(reg *Registry, q Completer, ws Workspaces, pc *prometheus.Component) *Executor {
	return &Executor{
		BaseComponent: core.NewBaseComponent(consts.COMP_EXECUTOR,
			consts.COMP_QUEUE, consts.COMP_WORKSPACE, infraConsts.COMPONENT_LOGGING),
		registry:        reg,
		queue:           q,
		workspaces:      ws,
		metrics:         newMetrics(pc),
		tracer:          otel.Tracer("ceworker/pipeline"),
		now:             time.Now,
		completeTimeout: 10 * time.Second,
		running:         make(map[int64]*atomic.Bool),
	}
}

func (e *Executor) Start(ctx context.Context) error {
	if err := e.BaseComponent.Start(ctx); err != nil {
		return err
	}
	logging.Info(ctx, "pipeline ready", zap.Strings("steps", e.registry.Names()))
	return nil
}

// Cancel requests cooperative cancellation of a running task; it takes
// effect before the next step starts. Returns false if the task is not running here.
func (e *Executor) Cancel(taskID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	flag, ok := e.running[taskID]
	if !ok {
		return false
	}
	flag.Store(true)
	return true
}

// Running returns the ids of tasks currently executing, sorted.
func (e *Executor) Running() []int64 {
	e.mu.Lock()
	ids := make([]int64, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Reserve makes a just-claimed task cancelable before Run picks it up.
func (e *Executor) Reserve(taskID int64) {
	e.track(taskID)
}

func (e *Executor) track(taskID int64) *atomic.Bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	flag, ok := e.running[taskID]
	if !ok {
		flag = &atomic.Bool{}
		e.running[taskID] = flag
	}
	return flag
}

func (e *Executor) untrack(taskID int64) {
	e.mu.Lock()
	delete(e.running, taskID)
	e.mu.Unlock()
}

// Run executes every registered step for task, in order, inside a fresh
// workspace, then writes the terminal record. Steps after an ERROR are
// neither executed nor recorded.
func (e *Executor) Run(ctx context.Context, task *model.Task) Report {
	ctx, span := e.tracer.Start(ctx, "pipeline.task", trace.WithAttributes(
		attribute.Int64("task.id", task.ID),
		attribute.String("task.unit_ref", task.UnitRef),
	))
	defer span.End()
	ctx = logging.WithTraceID(ctx)

	canceled := e.track(task.ID)
	defer e.untrack(task.ID)

	rep := Report{TaskID: task.ID}
	h, err := e.workspaces.Acquire(task.ID)
	if err != nil {
		rep.Status = consts.Failed
		rep.ErrorMessage = fmt.Sprintf("workspace acquire: %v", err)
		return e.finish(ctx, span, rep)
	}

	status, abandoned, outcomes := e.runSteps(ctx, task, h, canceled)
	rep.Status, rep.Outcomes = status, outcomes

	if err := e.workspaces.Release(task.ID); err != nil {
		logging.Error(ctx, "workspace release failed", zap.Int64("task_id", task.ID), zap.Error(err))
		if rep.Status == consts.Success {
			rep.Status = consts.Failed
		}
		rep.ErrorMessage = fmt.Sprintf("workspace release: %v", err)
	}

	if abandoned {
		rep.Abandoned = true
		span.SetStatus(codes.Error, "abandoned")
		logging.Warn(ctx, "task abandoned at step boundary, left in progress",
			zap.Int64("task_id", task.ID), zap.Int("steps_done", len(outcomes)))
		return rep
	}
	return e.finish(ctx, span, rep)
}

func (e *Executor) runSteps(ctx context.Context, task *model.Task, h *workspace.Handle, canceled *atomic.Bool) (consts.TaskStatus, bool, []model.StepOutcome) {
	sc := &StepContext{
		TaskID:    task.ID,
		UnitRef:   task.UnitRef,
		Payload:   task.Payload,
		Workspace: h,
	}
	for i, step := range e.registry.steps {
		if ctx.Err() != nil {
			return "", true, sc.prior
		}
		if canceled.Load() {
			return consts.Canceled, false, sc.prior
		}
		o := e.runStep(ctx, i, step, sc)
		if o.Result == consts.StepError && ctx.Err() != nil {
			// interrupted by shutdown, not a step failure
			return "", true, sc.prior
		}
		sc.prior = append(sc.prior, o)
		if o.Result == consts.StepError {
			return consts.Failed, false, sc.prior
		}
	}
	if canceled.Load() {
		// 最后一步运行期间收到的取消
		return consts.Canceled, false, sc.prior
	}
	return consts.Success, false, sc.prior
}

func (e *Executor) runStep(ctx context.Context, seq int, step Step, sc *StepContext) model.StepOutcome {
	ctx, span := e.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("step.name", step.Name()),
		attribute.Int("step.seq", seq),
	))
	defer span.End()

	o := model.StepOutcome{Seq: seq, StepName: step.Name(), StartedAt: e.now()}
	res := invoke(ctx, step, sc)
	o.FinishedAt = e.now()
	o.Result, o.Message = res.Status, res.Message

	e.metrics.observeStep(step.Name(), string(res.Status), o.FinishedAt.Sub(o.StartedAt).Seconds())
	span.SetAttributes(attribute.String("step.result", string(res.Status)))
	if res.Status == consts.StepError {
		span.SetStatus(codes.Error, res.Message)
	}
	logging.Debug(ctx, "step finished",
		zap.Int64("task_id", sc.TaskID),
		zap.String("step", step.Name()),
		zap.String("result", string(res.Status)),
		zap.String("message", res.Message))
	return o
}

// invoke runs one step; errors, panics and malformed results become ERROR.
func invoke(ctx context.Context, step Step, sc *StepContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Sprintf("panic: %v", r))
		}
	}()
	out, err := step.Execute(ctx, sc)
	if err != nil {
		return Failed(err.Error())
	}
	switch out.Status {
	case consts.StepOK, consts.StepSkipped, consts.StepError:
		return out
	}
	return Failed(fmt.Sprintf("invalid step result %q", out.Status))
}

func (e *Executor) finish(ctx context.Context, span trace.Span, rep Report) Report {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.completeTimeout)
	defer cancel()
	if err := e.queue.Complete(wctx, rep.TaskID, rep.Status, rep.Outcomes, rep.ErrorMessage); err != nil {
		rep.Err = err
		span.RecordError(err)
		logging.Error(ctx, "terminal write failed", zap.Int64("task_id", rep.TaskID), zap.Error(err))
		return rep
	}
	e.metrics.observeTask(string(rep.Status))
	span.SetAttributes(attribute.String("task.status", string(rep.Status)))
	if rep.Status != consts.Success {
		span.SetStatus(codes.Error, string(rep.Status))
	}
	logging.Info(ctx, "task finished",
		zap.Int64("task_id", rep.TaskID),
		zap.String("status", string(rep.Status)),
		zap.Int("steps", len(rep.Outcomes)),
		zap.String("error", rep.ErrorMessage))
	return rep
}
