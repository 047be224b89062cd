package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type SettingRepo interface {
	Get(ctx context.Context, tx *gorm.DB, key string) (*types.PluginSetting, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.PluginSetting, error)
	ListByCategory(ctx context.Context, tx *gorm.DB, category string) ([]*types.PluginSetting, error)
	SetValue(ctx context.Context, tx *gorm.DB, key, value string) error
	InsertIfAbsent(ctx context.Context, tx *gorm.DB, setting *types.PluginSetting) error
}

type settingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingRepo(db *gorm.DB, baseLog *logger.Logger) SettingRepo {
	return &settingRepo{db: db, log: baseLog.With("repo", "SettingRepo")}
}

func (r *settingRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *settingRepo) Get(ctx context.Context, tx *gorm.DB, key string) (*types.PluginSetting, error) {
	var s types.PluginSetting
	err := r.conn(tx).WithContext(ctx).Where("key = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.PluginSetting, error) {
	var out []*types.PluginSetting
	if err := r.conn(tx).WithContext(ctx).Order("category ASC, key ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *settingRepo) ListByCategory(ctx context.Context, tx *gorm.DB, category string) ([]*types.PluginSetting, error) {
	var out []*types.PluginSetting
	err := r.conn(tx).WithContext(ctx).
		Where("category = ?", category).
		Order("key ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *settingRepo) SetValue(ctx context.Context, tx *gorm.DB, key, value string) error {
	return r.conn(tx).WithContext(ctx).Model(&types.PluginSetting{}).
		Where("key = ?", key).
		Update("value", value).Error
}

// InsertIfAbsent registers a setting with its default without overwriting a
// value the user already saved.
func (r *settingRepo) InsertIfAbsent(ctx context.Context, tx *gorm.DB, setting *types.PluginSetting) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(setting).Error
}
