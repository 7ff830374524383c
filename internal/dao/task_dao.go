package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	infraConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/gormdb"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
)

// ErrNotFound is returned by Get/GetByUUID when no row matches.
var ErrNotFound = errors.New("task not found")

type TaskDao interface {
	// Embed component so registry builders can return a TaskDao where core.Component is required
	core.Component
	Migrate(ctx context.Context) error
	Insert(ctx context.Context, t *model.Task) error
	// PendingIDs returns up to limit PENDING ids in submission order.
	PendingIDs(ctx context.Context, limit int) ([]int64, error)
	// Claim is the exclusive PENDING -> IN_PROGRESS compare-and-swap.
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)
	// Unclaim reverts a claim this process won but could not hand to a worker.
	Unclaim(ctx context.Context, id int64) (bool, error)
	// Finish writes the terminal status and all outcomes in one transaction,
	// only if the task is still IN_PROGRESS.
	Finish(ctx context.Context, id int64, status consts.TaskStatus, outcomes []model.StepOutcome, errMsg string, now time.Time) (bool, error)
	RequeueInProgress(ctx context.Context) (int64, error)
	CancelPending(ctx context.Context, id int64, now time.Time) (bool, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	GetByUUID(ctx context.Context, uuid string) (*model.Task, error)
	CountByStatus(ctx context.Context, status consts.TaskStatus) (int64, error)
	List(ctx context.Context, f *model.TaskFilters) ([]*model.Task, error)
}

type taskDaoImpl struct {
	*core.BaseComponent
	GormComp    *gormdb.GormComponent `infra:"dep:gorm"`
	db          *gorm.DB
	dsName      string
	autoMigrate bool
}

func NewTaskDao(dsName string, autoMigrate bool) TaskDao {
	return &taskDaoImpl{
		BaseComponent: core.NewBaseComponent(consts.COMP_DAO_TASK, infraConsts.COMPONENT_LOGGING),
		dsName:        dsName,
		autoMigrate:   autoMigrate,
	}
}

// NewTaskDaoWithDB wraps an already opened database; Start does not look up the gorm component.
func NewTaskDaoWithDB(db *gorm.DB) TaskDao {
	d := &taskDaoImpl{
		BaseComponent: core.NewBaseComponent(consts.COMP_DAO_TASK),
		db:            db,
	}
	return d
}

func (d *taskDaoImpl) Start(ctx context.Context) error {
	if err := d.BaseComponent.Start(ctx); err != nil {
		return err
	}
	if d.db == nil {
		if d.GormComp == nil {
			return fmt.Errorf("task_dao: gorm component not injected")
		}
		db, err := d.GormComp.GetDB(d.dsName)
		if err != nil {
			return fmt.Errorf("get gorm db %s failed: %w", d.dsName, err)
		}
		d.db = db
	}
	if d.autoMigrate {
		if err := d.Migrate(ctx); err != nil {
			return err
		}
		logging.Info(ctx, "task tables migrated")
	}
	return nil
}

func (d *taskDaoImpl) Stop(ctx context.Context) error {
	return d.BaseComponent.Stop(ctx)
}

func (d *taskDaoImpl) Migrate(ctx context.Context) error {
	if err := d.db.WithContext(ctx).AutoMigrate(&model.Task{}, &model.StepOutcome{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func (d *taskDaoImpl) Insert(ctx context.Context, t *model.Task) error {
	return d.db.WithContext(ctx).Omit("Outcomes").Create(t).Error
}

func (d *taskDaoImpl) PendingIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	err := d.db.WithContext(ctx).Model(&model.Task{}).
		Where("status = ?", consts.Pending).
		Order("id ASC").Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (d *taskDaoImpl) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, consts.Pending).
		Updates(map[string]any{
			"status":     consts.InProgress,
			"started_at": now,
			"attempt":    gorm.Expr("attempt + 1"),
		})
	return res.RowsAffected == 1 && res.Error == nil, res.Error
}

func (d *taskDaoImpl) Unclaim(ctx context.Context, id int64) (bool, error) {
	res := d.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, consts.InProgress).
		Updates(map[string]any{
			"status":     consts.Pending,
			"started_at": nil,
			"attempt":    gorm.Expr("attempt - 1"),
		})
	return res.RowsAffected == 1 && res.Error == nil, res.Error
}

func (d *taskDaoImpl) Finish(ctx context.Context, id int64, status consts.TaskStatus, outcomes []model.StepOutcome, errMsg string, now time.Time) (bool, error) {
	won := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND status = ?", id, consts.InProgress).
			Updates(map[string]any{
				"status":        status,
				"finished_at":   now,
				"error_message": errMsg,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		won = true
		if len(outcomes) == 0 {
			return nil
		}
		rows := make([]model.StepOutcome, len(outcomes))
		for i, o := range outcomes {
			o.ID = 0
			o.TaskID = id
			rows[i] = o
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (d *taskDaoImpl) RequeueInProgress(ctx context.Context) (int64, error) {
	res := d.db.WithContext(ctx).Model(&model.Task{}).
		Where("status = ?", consts.InProgress).
		Updates(map[string]any{"status": consts.Pending, "started_at": nil})
	return res.RowsAffected, res.Error
}

func (d *taskDaoImpl) CancelPending(ctx context.Context, id int64, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, consts.Pending).
		Updates(map[string]any{"status": consts.Canceled, "finished_at": now})
	return res.RowsAffected == 1 && res.Error == nil, res.Error
}

func (d *taskDaoImpl) Get(ctx context.Context, id int64) (*model.Task, error) {
	return d.first(ctx, "id = ?", id)
}

func (d *taskDaoImpl) GetByUUID(ctx context.Context, uuid string) (*model.Task, error) {
	return d.first(ctx, "uuid = ?", uuid)
}

func (d *taskDaoImpl) first(ctx context.Context, cond string, arg any) (*model.Task, error) {
	var t model.Task
	err := d.db.WithContext(ctx).
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where(cond, arg).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *taskDaoImpl) CountByStatus(ctx context.Context, status consts.TaskStatus) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.Task{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

func (d *taskDaoImpl) List(ctx context.Context, f *model.TaskFilters) ([]*model.Task, error) {
	q := d.db.WithContext(ctx).Model(&model.Task{})
	limit, offset := 100, 0
	if f != nil {
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.UnitRef != "" {
			q = q.Where("unit_ref = ?", f.UnitRef)
		}
		if f.Limit > 0 {
			limit = f.Limit
		}
		if f.Offset > 0 {
			offset = f.Offset
		}
	}
	var list []*model.Task
	err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}
