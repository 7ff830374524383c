package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/workspace"
)

type fakeStep struct {
	name string
	run  func(ctx context.Context, sc *StepContext) (Result, error)
}

func (s *fakeStep) Name() string        { return s.name }
func (s *fakeStep) Description() string { return "test step " + s.name }
func (s *fakeStep) Execute(ctx context.Context, sc *StepContext) (Result, error) {
	return s.run(ctx, sc)
}

func okStep(name string) *fakeStep {
	return &fakeStep{name: name, run: func(context.Context, *StepContext) (Result, error) { return OK(""), nil }}
}

type completion struct {
	id       int64
	status   consts.TaskStatus
	outcomes []model.StepOutcome
	errMsg   string
}

type recordingQueue struct {
	mu    sync.Mutex
	calls []completion
	err   error
}

func (q *recordingQueue) Complete(_ context.Context, id int64, status consts.TaskStatus, outcomes []model.StepOutcome, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, completion{id: id, status: status, outcomes: outcomes, errMsg: errMsg})
	return q.err
}

type failingWorkspaces struct{}

func (failingWorkspaces) Acquire(int64) (*workspace.Handle, error) {
	return nil, errors.New("no space left on device")
}
func (failingWorkspaces) Release(int64) error { return nil }

func newExecutor(t *testing.T, steps ...Step) (*Executor, *recordingQueue, *workspace.Manager) {
	t.Helper()
	reg, err := NewRegistry(steps...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ws := workspace.NewManager(t.TempDir(), false)
	q := &recordingQueue{}
	return NewExecutor(reg, q, ws, nil), q, ws
}

func TestRunHaltsOnError(t *testing.T) {
	var cRan bool
	e, q, _ := newExecutor(t,
		okStep("A"),
		&fakeStep{name: "B", run: func(context.Context, *StepContext) (Result, error) { return Failed("disk full"), nil }},
		&fakeStep{name: "C", run: func(context.Context, *StepContext) (Result, error) { cRan = true; return OK(""), nil }},
	)
	rep := e.Run(context.Background(), &model.Task{ID: 7, UnitRef: "proj"})

	if rep.Status != consts.Failed || rep.Err != nil {
		t.Fatalf("expected FAILED, got %+v", rep)
	}
	if cRan {
		t.Fatalf("step after ERROR must not run")
	}
	if len(q.calls) != 1 {
		t.Fatalf("expected one terminal write, got %d", len(q.calls))
	}
	got := q.calls[0].outcomes
	if len(got) != 2 || got[0].StepName != "A" || got[0].Result != consts.StepOK ||
		got[1].StepName != "B" || got[1].Result != consts.StepError || got[1].Message != "disk full" {
		t.Fatalf("unexpected outcomes %+v", got)
	}
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Fatalf("outcomes out of order: %+v", got)
	}
}

func TestFailureAtStepIRecordsIPlusOneOutcomes(t *testing.T) {
	for i := 0; i < 4; i++ {
		steps := make([]Step, 4)
		for j := range steps {
			name := string(rune('a' + j))
			if j == i {
				steps[j] = &fakeStep{name: name, run: func(context.Context, *StepContext) (Result, error) {
					return Result{}, errors.New("boom")
				}}
				continue
			}
			steps[j] = okStep(name)
		}
		e, q, _ := newExecutor(t, steps...)
		rep := e.Run(context.Background(), &model.Task{ID: int64(i + 1)})
		if rep.Status != consts.Failed || len(q.calls[0].outcomes) != i+1 {
			t.Fatalf("fail at %d: status=%s outcomes=%d", i, rep.Status, len(q.calls[0].outcomes))
		}
		if last := q.calls[0].outcomes[i]; last.Result != consts.StepError || last.Message != "boom" {
			t.Fatalf("fail at %d: last outcome %+v", i, last)
		}
	}
}

func TestPanicBecomesError(t *testing.T) {
	e, q, _ := newExecutor(t,
		&fakeStep{name: "explode", run: func(context.Context, *StepContext) (Result, error) { panic("nil map") }},
		okStep("after"),
	)
	rep := e.Run(context.Background(), &model.Task{ID: 3})
	if rep.Status != consts.Failed {
		t.Fatalf("expected FAILED, got %s", rep.Status)
	}
	o := q.calls[0].outcomes
	if len(o) != 1 || o[0].Result != consts.StepError || o[0].Message != "panic: nil map" {
		t.Fatalf("unexpected outcomes %+v", o)
	}
}

func TestInvalidResultBecomesError(t *testing.T) {
	e, q, _ := newExecutor(t, &fakeStep{name: "odd", run: func(context.Context, *StepContext) (Result, error) {
		return Result{Status: "MAYBE"}, nil
	}})
	if rep := e.Run(context.Background(), &model.Task{ID: 4}); rep.Status != consts.Failed {
		t.Fatalf("expected FAILED, got %s", rep.Status)
	}
	if q.calls[0].outcomes[0].Result != consts.StepError {
		t.Fatalf("invalid status must be recorded as ERROR")
	}
}

func TestSkippedStepStillSucceeds(t *testing.T) {
	e, q, _ := newExecutor(t,
		okStep("A"),
		&fakeStep{name: "D", run: func(context.Context, *StepContext) (Result, error) {
			return Skipped("provider not installed"), nil
		}},
		okStep("E"),
	)
	rep := e.Run(context.Background(), &model.Task{ID: 5})
	if rep.Status != consts.Success {
		t.Fatalf("expected SUCCESS, got %s (%s)", rep.Status, rep.ErrorMessage)
	}
	o := q.calls[0].outcomes
	if len(o) != 3 || o[1].Result != consts.StepSkipped || o[1].Message != "provider not installed" {
		t.Fatalf("unexpected outcomes %+v", o)
	}
}

func TestStepsShareWorkspaceAndPriorOutcomes(t *testing.T) {
	var dir string
	e, q, _ := newExecutor(t,
		&fakeStep{name: "write", run: func(_ context.Context, sc *StepContext) (Result, error) {
			dir = sc.Workspace.Dir()
			return OK("wrote"), sc.Workspace.WriteFile("out.txt", []byte(sc.UnitRef))
		}},
		&fakeStep{name: "read", run: func(_ context.Context, sc *StepContext) (Result, error) {
			if o, ok := sc.Outcome("write"); !ok || o.Message != "wrote" {
				return Failed("prior outcome missing"), nil
			}
			b, err := sc.Workspace.ReadFile("out.txt")
			if err != nil {
				return Result{}, err
			}
			return OK(string(b)), nil
		}},
	)
	rep := e.Run(context.Background(), &model.Task{ID: 9, UnitRef: "proj-x"})
	if rep.Status != consts.Success || q.calls[0].outcomes[1].Message != "proj-x" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace not released: %v", err)
	}
}

func TestCancelBetweenSteps(t *testing.T) {
	var e *Executor
	var secondRan bool
	e, q, _ := newExecutor(t,
		&fakeStep{name: "first", run: func(_ context.Context, sc *StepContext) (Result, error) {
			if !e.Cancel(sc.TaskID) {
				return Failed("task not tracked"), nil
			}
			return OK(""), nil
		}},
		&fakeStep{name: "second", run: func(context.Context, *StepContext) (Result, error) { secondRan = true; return OK(""), nil }},
	)
	rep := e.Run(context.Background(), &model.Task{ID: 11})
	if rep.Status != consts.Canceled || secondRan {
		t.Fatalf("expected CANCELED before second step, got %+v", rep)
	}
	if len(q.calls[0].outcomes) != 1 {
		t.Fatalf("expected outcomes so far, got %+v", q.calls[0].outcomes)
	}
	if e.Cancel(11) || len(e.Running()) != 0 {
		t.Fatalf("finished task still tracked")
	}
}

func TestCancelDuringLastStep(t *testing.T) {
	var e *Executor
	e, q, _ := newExecutor(t,
		okStep("first"),
		&fakeStep{name: "last", run: func(_ context.Context, sc *StepContext) (Result, error) {
			if !e.Cancel(sc.TaskID) {
				return Failed("task not tracked"), nil
			}
			return OK("done"), nil
		}},
	)
	rep := e.Run(context.Background(), &model.Task{ID: 7})
	if rep.Status != consts.Canceled {
		t.Fatalf("accepted cancel must win over SUCCESS, got %+v", rep)
	}
	if len(q.calls) != 1 || q.calls[0].status != consts.Canceled || len(q.calls[0].outcomes) != 2 {
		t.Fatalf("expected CANCELED with both outcomes, got %+v", q.calls)
	}
}

func TestReservedTaskCancelable(t *testing.T) {
	var ran bool
	e, q, _ := newExecutor(t,
		&fakeStep{name: "only", run: func(context.Context, *StepContext) (Result, error) { ran = true; return OK(""), nil }},
	)
	e.Reserve(13)
	if !e.Cancel(13) {
		t.Fatal("reserved task must be cancelable before Run")
	}
	rep := e.Run(context.Background(), &model.Task{ID: 13})
	if rep.Status != consts.Canceled || ran {
		t.Fatalf("expected CANCELED without running steps, got %+v ran=%v", rep, ran)
	}
	if len(q.calls) != 1 || len(q.calls[0].outcomes) != 0 {
		t.Fatalf("unexpected completion %+v", q.calls)
	}
	if len(e.Running()) != 0 {
		t.Fatalf("finished task still tracked")
	}
}

func TestCanceledContextAbandonsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e, q, _ := newExecutor(t,
		&fakeStep{name: "first", run: func(context.Context, *StepContext) (Result, error) { cancel(); return OK(""), nil }},
		okStep("second"),
	)
	rep := e.Run(ctx, &model.Task{ID: 12})
	if !rep.Abandoned {
		t.Fatalf("expected abandoned run, got %+v", rep)
	}
	if len(q.calls) != 0 {
		t.Fatalf("abandoned task must not be completed, got %+v", q.calls)
	}
}

func TestWorkspaceAcquireFailure(t *testing.T) {
	reg, _ := NewRegistry(okStep("A"))
	q := &recordingQueue{}
	e := NewExecutor(reg, q, failingWorkspaces{}, nil)
	rep := e.Run(context.Background(), &model.Task{ID: 13})
	if rep.Status != consts.Failed || len(q.calls) != 1 || len(q.calls[0].outcomes) != 0 {
		t.Fatalf("expected FAILED without outcomes, got %+v", rep)
	}
	if q.calls[0].errMsg == "" {
		t.Fatalf("error message not recorded")
	}
}

func TestCompleteErrorIsReported(t *testing.T) {
	e, q, _ := newExecutor(t, okStep("A"))
	q.err = errors.New("database is locked")
	rep := e.Run(context.Background(), &model.Task{ID: 14})
	if rep.Err == nil {
		t.Fatalf("expected terminal write error in report")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(okStep("A"), okStep("A")); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if _, err := NewRegistry(okStep("")); err == nil {
		t.Fatalf("expected empty name error")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected nil step error")
	}
}

func TestRegistryStepsIsACopy(t *testing.T) {
	reg, err := NewRegistry(okStep("A"), okStep("B"))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	got := reg.Steps()
	got[0] = okStep("Z")
	if names := reg.Names(); names[0] != "A" || names[1] != "B" {
		t.Fatalf("registry mutated through Steps(): %v", names)
	}
}

func TestExecutorStartAndHealth(t *testing.T) {
	e, _, _ := newExecutor(t, okStep("A"), okStep("B"))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.HealthCheck(); err != nil {
		t.Fatalf("health after start: %v", err)
	}
}
