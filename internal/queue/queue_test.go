package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/dao"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/gormdb"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
)

func openDao(t *testing.T, path string) dao.TaskDao {
	t.Helper()
	db, err := gormdb.Open(&gormdb.DataSourceConfig{Driver: gormdb.DriverSQLite, Database: path}, nil)
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
	return d
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(openDao(t, filepath.Join(t.TempDir(), "queue.db")), Options{})
}

func TestEnqueueClaimCompleteFlow(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	wake := q.Notifier().Wait()
	first, err := q.Enqueue(ctx, "proj-a", `{"unit":"proj-a"}`)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-wake:
	default:
		t.Fatalf("enqueue did not signal waiters")
	}
	second, _ := q.Enqueue(ctx, "proj-b", `{}`)
	if first.UUID == "" || first.Status != consts.Pending {
		t.Fatalf("unexpected enqueued task %+v", first)
	}
	if depth, _ := q.Depth(ctx); depth != 2 {
		t.Fatalf("depth = %d", depth)
	}

	claimed, err := q.ClaimNext(ctx)
	if err != nil || claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest task, got %+v err=%v", claimed, err)
	}
	if claimed.Status != consts.InProgress || claimed.Payload != `{"unit":"proj-a"}` {
		t.Fatalf("claimed row not in progress: %+v", claimed)
	}

	now := time.Now()
	outcomes := []model.StepOutcome{{Seq: 0, StepName: "extract_report", Result: consts.StepOK, StartedAt: now, FinishedAt: now}}
	if err := q.Complete(ctx, first.ID, consts.Success, outcomes, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err = q.Complete(ctx, first.ID, consts.Failed, nil, "again")
	if !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("second complete must fail with ErrNotInProgress, got %v", err)
	}
	got, _ := q.Get(ctx, first.ID)
	if got.Status != consts.Success || len(got.Outcomes) != 1 {
		t.Fatalf("terminal record overwritten: %+v", got)
	}

	if err := q.Complete(ctx, second.ID, consts.Success, nil, ""); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("completing a pending task must fail, got %v", err)
	}
	if err := q.Complete(ctx, second.ID, consts.Pending, nil, ""); err == nil {
		t.Fatalf("non-terminal status must be rejected")
	}
	if _, err := q.GetByUUID(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestClaimNextEmpty(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.ClaimNext(context.Background())
	if err != nil || task != nil {
		t.Fatalf("empty queue should return (nil, nil), got %+v %v", task, err)
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	q := New(openDao(t, filepath.Join(t.TempDir(), "queue.db")), Options{ClaimBatch: 3})
	const total = 30
	for i := 0; i < total; i++ {
		if _, err := q.Enqueue(ctx, "proj", "{}"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.ClaimNext(ctx)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != total {
		t.Fatalf("claimed %d distinct tasks, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %d claimed %d times", id, n)
		}
	}
}

func TestRequeueOrphanedAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	q := New(openDao(t, path), Options{})
	task, _ := q.Enqueue(ctx, "proj-crash", "{}")
	if _, err := q.ClaimNext(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// simulated restart: a fresh queue over the same database file
	restarted := New(openDao(t, path), Options{})
	n, err := restarted.RequeueOrphaned(ctx)
	if err != nil || n != 1 {
		t.Fatalf("requeue: n=%d err=%v", n, err)
	}
	if n, _ := restarted.RequeueOrphaned(ctx); n != 0 {
		t.Fatalf("orphan recovery must transition a task only once, got %d", n)
	}
	again, err := restarted.ClaimNext(ctx)
	if err != nil || again == nil || again.ID != task.ID {
		t.Fatalf("requeued task not reclaimable: %+v %v", again, err)
	}
	if again.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", again.Attempt)
	}
}

func TestCancelPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	task, _ := q.Enqueue(ctx, "proj", "{}")
	ok, err := q.Cancel(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	if ok, _ := q.Cancel(ctx, task.ID); ok {
		t.Fatalf("cancel of a canceled task must report false")
	}
	if next, _ := q.ClaimNext(ctx); next != nil {
		t.Fatalf("canceled task claimed")
	}
}

type brokenDao struct {
	dao.TaskDao
}

var errDisk = errors.New("disk I/O error")

func (brokenDao) Insert(context.Context, *model.Task) error                       { return errDisk }
func (brokenDao) PendingIDs(context.Context, int) ([]int64, error)                { return nil, errDisk }
func (brokenDao) RequeueInProgress(context.Context) (int64, error)                { return 0, errDisk }
func (brokenDao) CountByStatus(context.Context, consts.TaskStatus) (int64, error) { return 0, errDisk }

func TestStorageErrorsAreQueueUnavailable(t *testing.T) {
	ctx := context.Background()
	q := New(brokenDao{}, Options{})
	if _, err := q.Enqueue(ctx, "p", "{}"); !errors.Is(err, ErrQueueUnavailable) || !errors.Is(err, errDisk) {
		t.Fatalf("enqueue err = %v", err)
	}
	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("claim err = %v", err)
	}
	if _, err := q.RequeueOrphaned(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("requeue err = %v", err)
	}
	if _, err := q.Depth(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("depth err = %v", err)
	}
}

// racingDao loses the CAS on the first candidate, as if another process claimed it.
type racingDao struct {
	dao.TaskDao
	lost map[int64]bool
}

func (r *racingDao) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	if !r.lost[id] {
		r.lost[id] = true
		_, _ = r.TaskDao.Claim(ctx, id, now)
		return false, nil
	}
	return r.TaskDao.Claim(ctx, id, now)
}

func TestClaimNextSkipsLostCandidates(t *testing.T) {
	ctx := context.Background()
	base := openDao(t, filepath.Join(t.TempDir(), "queue.db"))
	seed := New(base, Options{})
	first, _ := seed.Enqueue(ctx, "a", "{}")
	second, _ := seed.Enqueue(ctx, "b", "{}")

	q := New(&racingDao{TaskDao: base, lost: map[int64]bool{second.ID: true}}, Options{})
	got, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("expected fallback to task %d, got %+v (first=%d)", second.ID, got, first.ID)
	}
}

// flakyReadDao fails the first Get after a won claim.
type flakyReadDao struct {
	dao.TaskDao
	fails int
}

var errRead = errors.New("transient read error")

func (f *flakyReadDao) Get(ctx context.Context, id int64) (*model.Task, error) {
	if f.fails > 0 {
		f.fails--
		return nil, errRead
	}
	return f.TaskDao.Get(ctx, id)
}

func TestClaimNextReleasesClaimWhenReadFails(t *testing.T) {
	ctx := context.Background()
	base := openDao(t, filepath.Join(t.TempDir(), "queue.db"))
	task, err := New(base, Options{}).Enqueue(ctx, "a", "{}")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q := New(&flakyReadDao{TaskDao: base, fails: 1}, Options{})
	if _, err := q.ClaimNext(ctx); !errors.Is(err, ErrQueueUnavailable) || !errors.Is(err, errRead) {
		t.Fatalf("first claim err = %v", err)
	}
	row, err := base.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Status != consts.Pending {
		t.Fatalf("task must return to PENDING, got %s", row.Status)
	}

	got, err := q.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if got == nil || got.ID != task.ID || got.Status != consts.InProgress || got.Attempt != 1 {
		t.Fatalf("retry must hand out the task, got %+v", got)
	}
}
