package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) error
	Get(ctx context.Context, tx *gorm.DB, id string) (*types.Conversation, error)
	GetWithTurns(ctx context.Context, tx *gorm.DB, id string) (*types.Conversation, error)
	Touch(ctx context.Context, tx *gorm.DB, id string, title string) error
	List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Conversation, error)
	Delete(ctx context.Context, tx *gorm.DB, id string) error
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

	AppendTurn(ctx context.Context, tx *gorm.DB, turn *types.ConversationTurn) error
	ListTurns(ctx context.Context, tx *gorm.DB, conversationID string, limit int) ([]*types.ConversationTurn, error)
	CountTurns(ctx context.Context, tx *gorm.DB, conversationID string) (int64, error)
	NextTurnIndex(ctx context.Context, tx *gorm.DB, conversationID string) (int, error)
	TrimTurns(ctx context.Context, tx *gorm.DB, conversationID string, keep int) (int64, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: baseLog.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *conversationRepo) Create(ctx context.Context, tx *gorm.DB, conv *types.Conversation) error {
	return r.conn(tx).WithContext(ctx).Create(conv).Error
}

func (r *conversationRepo) Get(ctx context.Context, tx *gorm.DB, id string) (*types.Conversation, error) {
	var c types.Conversation
	err := r.conn(tx).WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) GetWithTurns(ctx context.Context, tx *gorm.DB, id string) (*types.Conversation, error) {
	var c types.Conversation
	err := r.conn(tx).WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("turn_index ASC")
		}).
		First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepo) Touch(ctx context.Context, tx *gorm.DB, id string, title string) error {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if title != "" {
		fields["title"] = title
	}
	return r.conn(tx).WithContext(ctx).Model(&types.Conversation{}).Where("id = ?", id).Updates(fields).Error
}

func (r *conversationRepo) List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Conversation, error) {
	var out []*types.Conversation
	q := r.conn(tx).WithContext(ctx).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	conn := r.conn(tx).WithContext(ctx)
	if err := conn.Where("conversation_id = ?", id).Delete(&types.ConversationTurn{}).Error; err != nil {
		return err
	}
	return conn.Delete(&types.Conversation{ID: id}).Error
}

func (r *conversationRepo) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.conn(tx).WithContext(ctx)
	var ids []string
	if err := conn.Model(&types.Conversation{}).
		Where("updated_at < ?", cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := conn.Where("conversation_id IN ?", ids).Delete(&types.ConversationTurn{}).Error; err != nil {
		return 0, err
	}
	res := conn.Where("id IN ?", ids).Delete(&types.Conversation{})
	return res.RowsAffected, res.Error
}

func (r *conversationRepo) AppendTurn(ctx context.Context, tx *gorm.DB, turn *types.ConversationTurn) error {
	return r.conn(tx).WithContext(ctx).Create(turn).Error
}

// ListTurns returns the most recent turns in chronological order.
func (r *conversationRepo) ListTurns(ctx context.Context, tx *gorm.DB, conversationID string, limit int) ([]*types.ConversationTurn, error) {
	var out []*types.ConversationTurn
	q := r.conn(tx).WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("turn_index DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// TrimTurns deletes the oldest turns beyond keep.
func (r *conversationRepo) TrimTurns(ctx context.Context, tx *gorm.DB, conversationID string, keep int) (int64, error) {
	conn := r.conn(tx).WithContext(ctx)
	var cutoffs []int
	err := conn.Model(&types.ConversationTurn{}).
		Where("conversation_id = ?", conversationID).
		Order("turn_index DESC").
		Offset(keep).
		Limit(1).
		Pluck("turn_index", &cutoffs).Error
	if err != nil {
		return 0, err
	}
	if len(cutoffs) == 0 {
		return 0, nil
	}
	res := conn.Where("conversation_id = ? AND turn_index <= ?", conversationID, cutoffs[0]).
		Delete(&types.ConversationTurn{})
	return res.RowsAffected, res.Error
}

func (r *conversationRepo) CountTurns(ctx context.Context, tx *gorm.DB, conversationID string) (int64, error) {
	var n int64
	err := r.conn(tx).WithContext(ctx).Model(&types.ConversationTurn{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}

func (r *conversationRepo) NextTurnIndex(ctx context.Context, tx *gorm.DB, conversationID string) (int, error) {
	var max *int
	err := r.conn(tx).WithContext(ctx).Model(&types.ConversationTurn{}).
		Where("conversation_id = ?", conversationID).
		Select("MAX(turn_index)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max + 1, nil
}
