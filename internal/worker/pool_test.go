package worker

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/gormdb"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/prometheus"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/pipeline"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/queue"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/workspace"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	db, err := gormdb.Open(&gormdb.DataSourceConfig{Driver: gormdb.DriverSQLite, Database: filepath.Join(t.TempDir(), "q.db")}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	d := dao.NewTaskDaoWithDB(db)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start dao: %v", err)
	}
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return queue.New(d, queue.Options{})
}

// funcRunner completes each task with whatever fn decides.
type funcRunner struct {
	q  *queue.Queue
	fn func(ctx context.Context, task *model.Task) consts.TaskStatus

	mu   sync.Mutex
	runs map[int64]int
}

func newFuncRunner(q *queue.Queue, fn func(context.Context, *model.Task) consts.TaskStatus) *funcRunner {
	return &funcRunner{q: q, fn: fn, runs: map[int64]int{}}
}

func (r *funcRunner) Run(ctx context.Context, task *model.Task) pipeline.Report {
	r.mu.Lock()
	r.runs[task.ID]++
	r.mu.Unlock()
	status := r.fn(ctx, task)
	err := r.q.Complete(ctx, task.ID, status, nil, "")
	return pipeline.Report{TaskID: task.ID, Status: status, Err: err}
}

func (r *funcRunner) Reserve(int64)     {}
func (r *funcRunner) Cancel(int64) bool { return false }

func (r *funcRunner) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

func succeed(context.Context, *model.Task) consts.TaskStatus { return consts.Success }

func testOptions() Options {
	return Options{PoolSize: 3, PollInterval: 20 * time.Millisecond, ShutdownTimeout: time.Second}
}

func startPool(t *testing.T, p *Pool) {
	t.Helper()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
}

func waitStatus(t *testing.T, q *queue.Queue, id int64, want consts.TaskStatus) *model.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := q.Get(context.Background(), id)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := q.Get(context.Background(), id)
	t.Fatalf("task %d never reached %s, last %+v", id, want, task)
	return nil
}

func TestPoolRunsEveryTaskOnce(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	r := newFuncRunner(q, succeed)
	p := NewPool(testOptions(), q, r, nil, nil)
	startPool(t, p)

	var ids []int64
	for i := 0; i < 20; i++ {
		task, err := q.Enqueue(ctx, "proj", "{}")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, task.ID)
	}
	for _, id := range ids {
		waitStatus(t, q, id, consts.Success)
		if n := r.count(id); n != 1 {
			t.Fatalf("task %d executed %d times", id, n)
		}
	}
}

func TestPauseLetsRunningTaskFinish(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	r := newFuncRunner(q, func(ctx context.Context, task *model.Task) consts.TaskStatus {
		started <- struct{}{}
		<-release
		return consts.Success
	})
	opts := testOptions()
	opts.PoolSize = 1
	p := NewPool(opts, q, r, nil, nil)
	startPool(t, p)

	first, _ := q.Enqueue(ctx, "proj", "{}")
	<-started
	if err := p.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	second, _ := q.Enqueue(ctx, "proj", "{}")
	close(release)
	waitStatus(t, q, first.ID, consts.Success)

	time.Sleep(100 * time.Millisecond)
	if got, _ := q.Get(ctx, second.ID); got.Status != consts.Pending {
		t.Fatalf("task claimed while paused: %s", got.Status)
	}
	st, err := p.Status(ctx)
	if err != nil || !st.Paused || st.QueueDepth != 1 || st.Workers != 1 {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}

	if err := p.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitStatus(t, q, second.ID, consts.Success)
}

func TestStartPausedClaimsNothing(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	opts := testOptions()
	opts.StartPaused = true
	p := NewPool(opts, q, newFuncRunner(q, succeed), nil, nil)
	startPool(t, p)

	task, _ := q.Enqueue(ctx, "proj", "{}")
	time.Sleep(100 * time.Millisecond)
	if got, _ := q.Get(ctx, task.ID); got.Status != consts.Pending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	_ = p.Resume()
	waitStatus(t, q, task.ID, consts.Success)
}

func TestOrphansRecoveredBeforeClaims(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	orphan, _ := q.Enqueue(ctx, "proj", "{}")
	if claimed, err := q.ClaimNext(ctx); err != nil || claimed.ID != orphan.ID {
		t.Fatalf("claim: %v", err)
	}

	stale := t.TempDir()
	ws := workspace.NewManager(stale, false)
	if _, err := ws.Acquire(orphan.ID); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	p := NewPool(testOptions(), q, newFuncRunner(q, succeed), ws, nil)
	startPool(t, p)
	got := waitStatus(t, q, orphan.ID, consts.Success)
	if got.Attempt != 2 {
		t.Fatalf("expected second attempt, got %d", got.Attempt)
	}
	if n, _ := ws.Sweep(); n != 0 {
		t.Fatalf("stale workspace survived start")
	}
}

func TestFaultDoesNotKillWorker(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	bad, _ := q.Enqueue(ctx, "bad", "{}")
	good, _ := q.Enqueue(ctx, "good", "{}")
	r := newFuncRunner(q, func(_ context.Context, task *model.Task) consts.TaskStatus {
		if task.UnitRef == "bad" {
			panic("corrupt state")
		}
		return consts.Success
	})
	opts := testOptions()
	opts.PoolSize = 1
	startPool(t, NewPool(opts, q, r, nil, nil))

	failed := waitStatus(t, q, bad.ID, consts.Failed)
	if failed.ErrorMessage != "worker fault: corrupt state" {
		t.Fatalf("unexpected fault message %q", failed.ErrorMessage)
	}
	waitStatus(t, q, good.ID, consts.Success)
}

type blockingStep struct{ started chan struct{} }

func (s *blockingStep) Name() string        { return "block" }
func (s *blockingStep) Description() string { return "waits for shutdown" }
func (s *blockingStep) Execute(ctx context.Context, _ *pipeline.StepContext) (pipeline.Result, error) {
	close(s.started)
	<-ctx.Done()
	return pipeline.OK("interrupted"), nil
}

type noopStep struct{}

func (noopStep) Name() string        { return "after" }
func (noopStep) Description() string { return "never reached" }
func (noopStep) Execute(context.Context, *pipeline.StepContext) (pipeline.Result, error) {
	return pipeline.OK(""), nil
}

func TestShutdownDeadlineLeavesTaskInProgress(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	step := &blockingStep{started: make(chan struct{})}
	reg, err := pipeline.NewRegistry(step, noopStep{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := pipeline.NewExecutor(reg, q, workspace.NewManager(t.TempDir(), false), nil)
	opts := testOptions()
	opts.ShutdownTimeout = 50 * time.Millisecond
	p := NewPool(opts, q, exec, nil, nil)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	task, _ := q.Enqueue(ctx, "proj", "{}")
	<-step.started
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, _ := q.Get(ctx, task.ID)
	if got.Status != consts.InProgress || len(got.Outcomes) != 0 {
		t.Fatalf("expected abandoned in-progress task, got %+v", got)
	}
	if err := p.Pause(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("toggles after stop must be rejected, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	opts := testOptions()
	opts.StartPaused = true
	p := NewPool(opts, q, newFuncRunner(q, succeed), nil, nil)
	startPool(t, p)

	task, _ := q.Enqueue(ctx, "proj", "{}")
	if err := p.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got, _ := q.Get(ctx, task.ID); got.Status != consts.Canceled {
		t.Fatalf("expected CANCELED, got %s", got.Status)
	}
	if err := p.Cancel(ctx, task.ID); !errors.Is(err, ErrNotCancelable) {
		t.Fatalf("second cancel: %v", err)
	}
}

// heldClaimQueue parks the first successful claim until release is closed.
type heldClaimQueue struct {
	*queue.Queue
	claimed chan int64
	release chan struct{}
	once    sync.Once
}

func (h *heldClaimQueue) ClaimNext(ctx context.Context) (*model.Task, error) {
	task, err := h.Queue.ClaimNext(ctx)
	if err == nil && task != nil {
		h.once.Do(func() {
			h.claimed <- task.ID
			<-h.release
		})
	}
	return task, err
}

type gateStep struct{ release chan struct{} }

func (s *gateStep) Name() string        { return "gate" }
func (s *gateStep) Description() string { return "waits for release" }
func (s *gateStep) Execute(ctx context.Context, _ *pipeline.StepContext) (pipeline.Result, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return pipeline.OK(""), nil
}

func TestCancelRightAfterClaim(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	hq := &heldClaimQueue{Queue: q, claimed: make(chan int64, 1), release: make(chan struct{})}
	step := &gateStep{release: make(chan struct{})}
	reg, err := pipeline.NewRegistry(step, noopStep{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	exec := pipeline.NewExecutor(reg, q, workspace.NewManager(t.TempDir(), false), nil)
	opts := testOptions()
	opts.PoolSize = 1
	p := NewPool(opts, hq, exec, nil, nil)
	startPool(t, p)

	task, _ := q.Enqueue(ctx, "proj", "{}")
	if id := <-hq.claimed; id != task.ID {
		t.Fatalf("claimed %d, want %d", id, task.ID)
	}
	// IN_PROGRESS in storage, not yet handed to the executor
	errc := make(chan error, 1)
	go func() { errc <- p.Cancel(ctx, task.ID) }()
	select {
	case err := <-errc:
		t.Fatalf("cancel returned before the claim was handed over: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(hq.release)
	if err := <-errc; err != nil {
		t.Fatalf("cancel of a freshly claimed task: %v", err)
	}
	close(step.release)
	got := waitStatus(t, q, task.ID, consts.Canceled)
	for _, o := range got.Outcomes {
		if o.StepName == "after" {
			t.Fatalf("step ran after cancel: %+v", got.Outcomes)
		}
	}
}

// flakyDepthQueue fails Depth while down is set.
type flakyDepthQueue struct {
	*queue.Queue
	down atomic.Bool
}

func (f *flakyDepthQueue) Depth(ctx context.Context) (int64, error) {
	if f.down.Load() {
		return 0, queue.ErrQueueUnavailable
	}
	return f.Queue.Depth(ctx)
}

func scrape(t *testing.T, pc *prometheus.Component) string {
	t.Helper()
	rec := httptest.NewRecorder()
	pc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestQueueDepthGaugeKeepsLastValueOnError(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	fq := &flakyDepthQueue{Queue: q}
	no := false
	pc := prometheus.NewComponent(&prometheus.Config{Enabled: true, Namespace: "ce", Subsystem: "worker", CollectGoMetrics: &no, CollectProcess: &no})
	opts := testOptions()
	opts.StartPaused = true
	NewPool(opts, fq, newFuncRunner(q, succeed), nil, pc)

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, "proj", "{}"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if out := scrape(t, pc); !strings.Contains(out, "ce_worker_queue_depth 2") {
		t.Fatalf("depth gauge missing:\n%s", out)
	}
	fq.down.Store(true)
	if out := scrape(t, pc); !strings.Contains(out, "ce_worker_queue_depth 2") {
		t.Fatalf("outage must not report an empty queue:\n%s", out)
	}
}
