package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type TaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, task *types.ScheduledTask) error
	Get(ctx context.Context, tx *gorm.DB, id int64) (*types.ScheduledTask, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.ScheduledTask, error)
	ListDue(ctx context.Context, tx *gorm.DB, now time.Time) ([]*types.ScheduledTask, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id int64) error

	CreateResult(ctx context.Context, tx *gorm.DB, result *types.TaskResult) error
	GetResult(ctx context.Context, tx *gorm.DB, resultID int64) (*types.TaskResult, error)
	ListResults(ctx context.Context, tx *gorm.DB, taskID int64, limit int) ([]*types.TaskResult, error)
	RateResult(ctx context.Context, tx *gorm.DB, resultID int64, rating int) error
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *taskRepo) Create(ctx context.Context, tx *gorm.DB, task *types.ScheduledTask) error {
	return r.conn(tx).WithContext(ctx).Create(task).Error
}

func (r *taskRepo) Get(ctx context.Context, tx *gorm.DB, id int64) (*types.ScheduledTask, error) {
	var t types.ScheduledTask
	err := r.conn(tx).WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.ScheduledTask, error) {
	var out []*types.ScheduledTask
	if err := r.conn(tx).WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListDue returns enabled tasks whose next_run_at has passed. Tasks with a
// NULL next_run_at are due as well so that a freshly created or re-enabled
// task runs on the next tick.
func (r *taskRepo) ListDue(ctx context.Context, tx *gorm.DB, now time.Time) ([]*types.ScheduledTask, error) {
	var out []*types.ScheduledTask
	err := r.conn(tx).WithContext(ctx).
		Where("enabled = ? AND (next_run_at IS NULL OR next_run_at <= ?)", true, now).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(&types.ScheduledTask{}).Where("id = ?", id).Updates(fields).Error
}

func (r *taskRepo) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	conn := r.conn(tx).WithContext(ctx)
	if err := conn.Where("task_id = ?", id).Delete(&types.TaskResult{}).Error; err != nil {
		return err
	}
	return conn.Delete(&types.ScheduledTask{}, id).Error
}

func (r *taskRepo) CreateResult(ctx context.Context, tx *gorm.DB, result *types.TaskResult) error {
	return r.conn(tx).WithContext(ctx).Create(result).Error
}

func (r *taskRepo) GetResult(ctx context.Context, tx *gorm.DB, resultID int64) (*types.TaskResult, error) {
	var res types.TaskResult
	err := r.conn(tx).WithContext(ctx).First(&res, resultID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *taskRepo) ListResults(ctx context.Context, tx *gorm.DB, taskID int64, limit int) ([]*types.TaskResult, error) {
	var out []*types.TaskResult
	q := r.conn(tx).WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("executed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) RateResult(ctx context.Context, tx *gorm.DB, resultID int64, rating int) error {
	return r.conn(tx).WithContext(ctx).Model(&types.TaskResult{}).
		Where("id = ?", resultID).
		Update("rating", rating).Error
}
