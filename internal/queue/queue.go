package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/dao"
	infraConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/redis"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
)

var (
	// ErrQueueUnavailable wraps every storage failure; the queue never retries.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrNotInProgress is returned by Complete when the task is not held IN_PROGRESS.
	ErrNotInProgress = errors.New("task is not in progress")
	ErrTaskNotFound  = errors.New("task not found")
)

type Options struct {
	ClaimBatch    int
	NotifyChannel string
}

// Queue is the durable FIFO of analysis tasks.
type Queue struct {
	*core.BaseComponent
	Redis *redis.RedisComponent `infra:"dep:redis?"`

	dao      dao.TaskDao
	opts     Options
	notifier *Notifier
	now      func() time.Time
}

func New(d dao.TaskDao, opts Options) *Queue {
	if opts.ClaimBatch <= 0 {
		opts.ClaimBatch = 8
	}
	return &Queue{
		BaseComponent: core.NewBaseComponent(consts.COMP_QUEUE, consts.COMP_DAO_TASK, infraConsts.COMPONENT_LOGGING),
		dao:           d,
		opts:          opts,
		notifier:      NewNotifier(),
		now:           time.Now,
	}
}

func (q *Queue) Start(ctx context.Context) error {
	if err := q.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if q.Redis != nil && q.opts.NotifyChannel != "" {
		q.notifier.Attach(q.Redis.Client(), q.opts.NotifyChannel)
	}
	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	q.notifier.Detach()
	return q.BaseComponent.Stop(ctx)
}

func (q *Queue) Notifier() *Notifier { return q.notifier }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrQueueUnavailable, op, err)
}

// Enqueue durably inserts a PENDING task before returning.
func (q *Queue) Enqueue(ctx context.Context, unitRef string, payload string) (*model.Task, error) {
	t := &model.Task{
		UUID:        uuid.NewString(),
		UnitRef:     unitRef,
		Payload:     payload,
		Status:      consts.Pending,
		SubmittedAt: q.now(),
	}
	if err := q.dao.Insert(ctx, t); err != nil {
		return nil, unavailable("enqueue", err)
	}
	logging.Info(ctx, "task enqueued", zap.Int64("task_id", t.ID), zap.String("unit_ref", unitRef))
	q.notifier.Publish(ctx, strconv.FormatInt(t.ID, 10))
	return t, nil
}

// ClaimNext moves the oldest PENDING task to IN_PROGRESS and returns it; (nil, nil) when empty.
func (q *Queue) ClaimNext(ctx context.Context) (*model.Task, error) {
	for {
		ids, err := q.dao.PendingIDs(ctx, q.opts.ClaimBatch)
		if err != nil {
			return nil, unavailable("claim", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		for _, id := range ids {
			won, err := q.dao.Claim(ctx, id, q.now())
			if err != nil {
				return nil, unavailable("claim", err)
			}
			if !won {
				continue
			}
			t, err := q.dao.Get(ctx, id)
			if err != nil {
				// 认领成功但读取失败: 退回 PENDING, 否则任务无人持有
				if _, uerr := q.dao.Unclaim(context.WithoutCancel(ctx), id); uerr != nil {
					logging.Error(ctx, "unclaim after failed read", zap.Int64("task_id", id), zap.Error(uerr))
					err = errors.Join(err, uerr)
				}
				return nil, unavailable("claim", err)
			}
			return t, nil
		}
	}
}

// Complete writes the terminal status and the outcome log in one transaction.
func (q *Queue) Complete(ctx context.Context, id int64, status consts.TaskStatus, outcomes []model.StepOutcome, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("complete task %d: %s is not a terminal status", id, status)
	}
	won, err := q.dao.Finish(ctx, id, status, outcomes, errMsg, q.now())
	if err != nil {
		return unavailable("complete", err)
	}
	if !won {
		return fmt.Errorf("complete task %d: %w", id, ErrNotInProgress)
	}
	return nil
}

// RequeueOrphaned returns crash-left IN_PROGRESS tasks to PENDING. Call before any claim.
func (q *Queue) RequeueOrphaned(ctx context.Context) (int64, error) {
	n, err := q.dao.RequeueInProgress(ctx)
	if err != nil {
		return 0, unavailable("requeue orphaned", err)
	}
	if n > 0 {
		logging.Warn(ctx, "orphaned tasks requeued", zap.Int64("count", n))
		q.notifier.Signal()
	}
	return n, nil
}

// Cancel moves a PENDING task straight to CANCELED. ok=false when the task is not pending.
func (q *Queue) Cancel(ctx context.Context, id int64) (bool, error) {
	ok, err := q.dao.CancelPending(ctx, id, q.now())
	if err != nil {
		return false, unavailable("cancel", err)
	}
	return ok, nil
}

func (q *Queue) Get(ctx context.Context, id int64) (*model.Task, error) {
	return q.lookup(q.dao.Get(ctx, id))
}

func (q *Queue) GetByUUID(ctx context.Context, id string) (*model.Task, error) {
	return q.lookup(q.dao.GetByUUID(ctx, id))
}

func (q *Queue) lookup(t *model.Task, err error) (*model.Task, error) {
	if errors.Is(err, dao.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return t, nil
}

// Depth is the number of PENDING tasks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.dao.CountByStatus(ctx, consts.Pending)
	if err != nil {
		return 0, unavailable("depth", err)
	}
	return n, nil
}

func (q *Queue) List(ctx context.Context, f *model.TaskFilters) ([]*model.Task, error) {
	list, err := q.dao.List(ctx, f)
	if err != nil {
		return nil, unavailable("list", err)
	}
	return list, nil
}
