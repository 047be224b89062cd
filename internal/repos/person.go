package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type PersonRepo interface {
	Create(ctx context.Context, tx *gorm.DB, person *types.Person) error
	GetByID(ctx context.Context, tx *gorm.DB, id int64) (*types.Person, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id int64) (*types.Person, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []int64) ([]*types.Person, error)
	GetByCanonicalName(ctx context.Context, tx *gorm.DB, name string) (*types.Person, error)
	GetByWhatsappID(ctx context.Context, tx *gorm.DB, waID string) (*types.Person, error)
	ListWithPhone(ctx context.Context, tx *gorm.DB) ([]*types.Person, error)
	ListWithEmail(ctx context.Context, tx *gorm.DB) ([]*types.Person, error)
	ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Person, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id int64) error
	SearchByNameOrAlias(ctx context.Context, tx *gorm.DB, name string) ([]*types.Person, error)
}

type personRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPersonRepo(db *gorm.DB, baseLog *logger.Logger) PersonRepo {
	return &personRepo{db: db, log: baseLog.With("repo", "PersonRepo")}
}

func (r *personRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *personRepo) Create(ctx context.Context, tx *gorm.DB, person *types.Person) error {
	return r.conn(tx).WithContext(ctx).Create(person).Error
}

func (r *personRepo) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*types.Person, error) {
	var p types.Person
	err := r.conn(tx).WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *personRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id int64) (*types.Person, error) {
	var p types.Person
	err := r.conn(tx).WithContext(ctx).
		Preload("Aliases").
		Preload("Facts").
		Preload("Relationships").
		First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *personRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []int64) ([]*types.Person, error) {
	var out []*types.Person
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.conn(tx).WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *personRepo) GetByCanonicalName(ctx context.Context, tx *gorm.DB, name string) (*types.Person, error) {
	var p types.Person
	err := r.conn(tx).WithContext(ctx).Where("canonical_name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *personRepo) GetByWhatsappID(ctx context.Context, tx *gorm.DB, waID string) (*types.Person, error) {
	var p types.Person
	err := r.conn(tx).WithContext(ctx).Where("whatsapp_id = ?", waID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *personRepo) ListWithPhone(ctx context.Context, tx *gorm.DB) ([]*types.Person, error) {
	var out []*types.Person
	if err := r.conn(tx).WithContext(ctx).Where("phone IS NOT NULL AND phone != ''").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *personRepo) ListWithEmail(ctx context.Context, tx *gorm.DB) ([]*types.Person, error) {
	var out []*types.Person
	if err := r.conn(tx).WithContext(ctx).Where("email IS NOT NULL AND email != ''").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *personRepo) ListAll(ctx context.Context, tx *gorm.DB) ([]*types.Person, error) {
	var out []*types.Person
	if err := r.conn(tx).WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *personRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(&types.Person{}).Where("id = ?", id).Updates(fields).Error
}

func (r *personRepo) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	return r.conn(tx).WithContext(ctx).Select(clause.Associations).Delete(&types.Person{ID: id}).Error
}

func (r *personRepo) SearchByNameOrAlias(ctx context.Context, tx *gorm.DB, name string) ([]*types.Person, error) {
	var out []*types.Person
	err := r.conn(tx).WithContext(ctx).
		Distinct("persons.*").
		Joins("LEFT JOIN person_aliases ON person_aliases.person_id = persons.id").
		Where("LOWER(persons.canonical_name) = LOWER(?) OR LOWER(person_aliases.alias) = LOWER(?)", name, name).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
