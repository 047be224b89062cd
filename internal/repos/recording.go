package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type RecordingRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rec *types.RecordingFile) error
	Get(ctx context.Context, tx *gorm.DB, id int64) (*types.RecordingFile, error)
	GetByPath(ctx context.Context, tx *gorm.DB, path string) (*types.RecordingFile, error)
	List(ctx context.Context, tx *gorm.DB) ([]*types.RecordingFile, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status types.RecordingStatus) ([]*types.RecordingFile, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]any) error
	ResetStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.RecordingStatus]int64, error)

	UpsertDocFile(ctx context.Context, tx *gorm.DB, doc *types.DocFile) error
	GetDocFileByPath(ctx context.Context, tx *gorm.DB, path string) (*types.DocFile, error)
	CountDocFiles(ctx context.Context, tx *gorm.DB) (int64, error)
}

type recordingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecordingRepo(db *gorm.DB, baseLog *logger.Logger) RecordingRepo {
	return &recordingRepo{db: db, log: baseLog.With("repo", "RecordingRepo")}
}

func (r *recordingRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *recordingRepo) Create(ctx context.Context, tx *gorm.DB, rec *types.RecordingFile) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoNothing: true,
	}).Create(rec).Error
}

func (r *recordingRepo) Get(ctx context.Context, tx *gorm.DB, id int64) (*types.RecordingFile, error) {
	var rec types.RecordingFile
	err := r.conn(tx).WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordingRepo) GetByPath(ctx context.Context, tx *gorm.DB, path string) (*types.RecordingFile, error) {
	var rec types.RecordingFile
	err := r.conn(tx).WithContext(ctx).Where("path = ?", path).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordingRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.RecordingFile, error) {
	var out []*types.RecordingFile
	if err := r.conn(tx).WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordingRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status types.RecordingStatus) ([]*types.RecordingFile, error) {
	var out []*types.RecordingFile
	err := r.conn(tx).WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordingRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(&types.RecordingFile{}).Where("id = ?", id).Updates(fields).Error
}

// ResetStale returns transcribing rows that started before cutoff back to
// pending. Covers worker crashes mid transcription.
func (r *recordingRepo) ResetStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := r.conn(tx).WithContext(ctx).Model(&types.RecordingFile{}).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", types.RecordingTranscribing, cutoff).
		Updates(map[string]any{"status": types.RecordingPending, "progress": "", "started_at": nil})
	return res.RowsAffected, res.Error
}

func (r *recordingRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[types.RecordingStatus]int64, error) {
	type row struct {
		Status types.RecordingStatus
		N      int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).Model(&types.RecordingFile{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.RecordingStatus]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}

func (r *recordingRepo) UpsertDocFile(ctx context.Context, tx *gorm.DB, doc *types.DocFile) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_hash", "processed", "updated_at"}),
	}).Create(doc).Error
}

func (r *recordingRepo) GetDocFileByPath(ctx context.Context, tx *gorm.DB, path string) (*types.DocFile, error) {
	var doc types.DocFile
	err := r.conn(tx).WithContext(ctx).Where("path = ?", path).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *recordingRepo) CountDocFiles(ctx context.Context, tx *gorm.DB) (int64, error) {
	var n int64
	err := r.conn(tx).WithContext(ctx).Model(&types.DocFile{}).Count(&n).Error
	return n, err
}
