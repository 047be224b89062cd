package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// GraphRepo holds the person graph satellites: aliases, facts, relationships,
// person-to-asset links and asset-to-asset edges.
type GraphRepo interface {
	UpsertAlias(ctx context.Context, tx *gorm.DB, alias *types.PersonAlias) error
	ListAliases(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonAlias, error)
	ListAllAliases(ctx context.Context, tx *gorm.DB) ([]*types.PersonAlias, error)
	DeleteAliasesFor(ctx context.Context, tx *gorm.DB, personID int64) error
	ReassignAliases(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error

	DeleteAlias(ctx context.Context, tx *gorm.DB, personID, aliasID int64) error

	UpsertFact(ctx context.Context, tx *gorm.DB, fact *types.PersonFact) error
	UpdateFactFields(ctx context.Context, tx *gorm.DB, personID int64, key string, fields map[string]any) error
	ListFactsByKey(ctx context.Context, tx *gorm.DB, key string) ([]*types.PersonFact, error)
	ListFacts(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonFact, error)
	GetFact(ctx context.Context, tx *gorm.DB, personID int64, key string) (*types.PersonFact, error)
	DeleteFact(ctx context.Context, tx *gorm.DB, personID int64, key string) error
	ReassignFacts(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error

	UpsertRelationship(ctx context.Context, tx *gorm.DB, rel *types.PersonRelationship) error
	ListRelationships(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonRelationship, error)
	ListRelationshipsInvolving(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonRelationship, error)
	DeleteRelationship(ctx context.Context, tx *gorm.DB, personID, relatedPersonID int64, relType string) error
	ReassignRelationships(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error

	UpsertPersonAsset(ctx context.Context, tx *gorm.DB, link *types.PersonAsset) error
	ListPersonAssets(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonAsset, error)
	ListAssetPersons(ctx context.Context, tx *gorm.DB, assetRef string) ([]*types.PersonAsset, error)
	ReassignPersonAssets(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error

	UpsertAssetEdge(ctx context.Context, tx *gorm.DB, edge *types.AssetAssetEdge) error
	ListAssetEdgesFrom(ctx context.Context, tx *gorm.DB, srcAssetRef string) ([]*types.AssetAssetEdge, error)
	ListAssetEdgesTo(ctx context.Context, tx *gorm.DB, dstAssetRef string) ([]*types.AssetAssetEdge, error)
}

type graphRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGraphRepo(db *gorm.DB, baseLog *logger.Logger) GraphRepo {
	return &graphRepo{db: db, log: baseLog.With("repo", "GraphRepo")}
}

func (r *graphRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *graphRepo) UpsertAlias(ctx context.Context, tx *gorm.DB, alias *types.PersonAlias) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}, {Name: "alias"}},
		DoNothing: true,
	}).Create(alias).Error
}

func (r *graphRepo) ListAliases(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonAlias, error) {
	var out []*types.PersonAlias
	err := r.conn(tx).WithContext(ctx).Where("person_id = ?", personID).Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) ListAllAliases(ctx context.Context, tx *gorm.DB) ([]*types.PersonAlias, error) {
	var out []*types.PersonAlias
	if err := r.conn(tx).WithContext(ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) DeleteAliasesFor(ctx context.Context, tx *gorm.DB, personID int64) error {
	return r.conn(tx).WithContext(ctx).Where("person_id = ?", personID).Delete(&types.PersonAlias{}).Error
}

// ReassignAliases moves aliases from one person to another, dropping rows
// whose text already exists on the target so the unique index holds.
func (r *graphRepo) ReassignAliases(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error {
	conn := r.conn(tx).WithContext(ctx)
	err := conn.Where(
		"person_id = ? AND LOWER(alias) IN (SELECT LOWER(alias) FROM person_aliases WHERE person_id = ?)",
		fromPersonID, toPersonID,
	).Delete(&types.PersonAlias{}).Error
	if err != nil {
		return err
	}
	return conn.Model(&types.PersonAlias{}).
		Where("person_id = ?", fromPersonID).
		Update("person_id", toPersonID).Error
}

func (r *graphRepo) DeleteAlias(ctx context.Context, tx *gorm.DB, personID, aliasID int64) error {
	return r.conn(tx).WithContext(ctx).
		Where("id = ? AND person_id = ?", aliasID, personID).
		Delete(&types.PersonAlias{}).Error
}

func (r *graphRepo) ListFactsByKey(ctx context.Context, tx *gorm.DB, key string) ([]*types.PersonFact, error) {
	var out []*types.PersonFact
	if err := r.conn(tx).WithContext(ctx).Where("fact_key = ?", key).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) UpsertFact(ctx context.Context, tx *gorm.DB, fact *types.PersonFact) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "person_id"}, {Name: "fact_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"fact_value", "confidence", "source_type", "source_ref", "source_quote", "extracted_at",
		}),
	}).Create(fact).Error
}

func (r *graphRepo) UpdateFactFields(ctx context.Context, tx *gorm.DB, personID int64, key string, fields map[string]any) error {
	return r.conn(tx).WithContext(ctx).Model(&types.PersonFact{}).
		Where("person_id = ? AND fact_key = ?", personID, key).
		Updates(fields).Error
}

func (r *graphRepo) ListFacts(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonFact, error) {
	var out []*types.PersonFact
	err := r.conn(tx).WithContext(ctx).Where("person_id = ?", personID).Order("fact_key ASC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) GetFact(ctx context.Context, tx *gorm.DB, personID int64, key string) (*types.PersonFact, error) {
	var f types.PersonFact
	err := r.conn(tx).WithContext(ctx).
		Where("person_id = ? AND fact_key = ?", personID, key).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *graphRepo) DeleteFact(ctx context.Context, tx *gorm.DB, personID int64, key string) error {
	return r.conn(tx).WithContext(ctx).
		Where("person_id = ? AND fact_key = ?", personID, key).
		Delete(&types.PersonFact{}).Error
}

func (r *graphRepo) ReassignFacts(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error {
	conn := r.conn(tx).WithContext(ctx)
	err := conn.Where(
		"person_id = ? AND fact_key IN (SELECT fact_key FROM person_facts WHERE person_id = ?)",
		fromPersonID, toPersonID,
	).Delete(&types.PersonFact{}).Error
	if err != nil {
		return err
	}
	return conn.Model(&types.PersonFact{}).
		Where("person_id = ?", fromPersonID).
		Update("person_id", toPersonID).Error
}

func (r *graphRepo) UpsertRelationship(ctx context.Context, tx *gorm.DB, rel *types.PersonRelationship) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}, {Name: "related_person_id"}, {Name: "rel_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"confidence", "source_ref"}),
	}).Create(rel).Error
}

func (r *graphRepo) ListRelationships(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonRelationship, error) {
	var out []*types.PersonRelationship
	err := r.conn(tx).WithContext(ctx).Where("person_id = ?", personID).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRelationshipsInvolving returns rows where the person appears on either
// side of the edge.
func (r *graphRepo) ListRelationshipsInvolving(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonRelationship, error) {
	var out []*types.PersonRelationship
	err := r.conn(tx).WithContext(ctx).
		Where("person_id = ? OR related_person_id = ?", personID, personID).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) DeleteRelationship(ctx context.Context, tx *gorm.DB, personID, relatedPersonID int64, relType string) error {
	return r.conn(tx).WithContext(ctx).
		Where("person_id = ? AND related_person_id = ? AND rel_type = ?", personID, relatedPersonID, relType).
		Delete(&types.PersonRelationship{}).Error
}

// ReassignRelationships repoints both sides of every edge touching the
// source person, deleting rows that would collide with an existing edge on
// the target and any self loops the move would create.
func (r *graphRepo) ReassignRelationships(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error {
	conn := r.conn(tx).WithContext(ctx)

	err := conn.Where(
		`person_id = ? AND EXISTS (
			SELECT 1 FROM person_relationships pr
			WHERE pr.person_id = ?
			  AND pr.related_person_id = person_relationships.related_person_id
			  AND pr.rel_type = person_relationships.rel_type
		)`, fromPersonID, toPersonID,
	).Delete(&types.PersonRelationship{}).Error
	if err != nil {
		return err
	}
	err = conn.Where(
		`related_person_id = ? AND EXISTS (
			SELECT 1 FROM person_relationships pr
			WHERE pr.related_person_id = ?
			  AND pr.person_id = person_relationships.person_id
			  AND pr.rel_type = person_relationships.rel_type
		)`, fromPersonID, toPersonID,
	).Delete(&types.PersonRelationship{}).Error
	if err != nil {
		return err
	}

	if err := conn.Model(&types.PersonRelationship{}).
		Where("person_id = ?", fromPersonID).
		Update("person_id", toPersonID).Error; err != nil {
		return err
	}
	if err := conn.Model(&types.PersonRelationship{}).
		Where("related_person_id = ?", fromPersonID).
		Update("related_person_id", toPersonID).Error; err != nil {
		return err
	}
	return conn.Where("person_id = related_person_id").Delete(&types.PersonRelationship{}).Error
}

func (r *graphRepo) UpsertPersonAsset(ctx context.Context, tx *gorm.DB, link *types.PersonAsset) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}, {Name: "asset_ref"}, {Name: "role"}},
		DoNothing: true,
	}).Create(link).Error
}

func (r *graphRepo) ListPersonAssets(ctx context.Context, tx *gorm.DB, personID int64) ([]*types.PersonAsset, error) {
	var out []*types.PersonAsset
	err := r.conn(tx).WithContext(ctx).
		Where("person_id = ?", personID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) ListAssetPersons(ctx context.Context, tx *gorm.DB, assetRef string) ([]*types.PersonAsset, error) {
	var out []*types.PersonAsset
	err := r.conn(tx).WithContext(ctx).Where("asset_ref = ?", assetRef).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) ReassignPersonAssets(ctx context.Context, tx *gorm.DB, fromPersonID, toPersonID int64) error {
	conn := r.conn(tx).WithContext(ctx)
	err := conn.Where(
		`person_id = ? AND EXISTS (
			SELECT 1 FROM person_assets pa
			WHERE pa.person_id = ?
			  AND pa.asset_ref = person_assets.asset_ref
			  AND pa.role = person_assets.role
		)`, fromPersonID, toPersonID,
	).Delete(&types.PersonAsset{}).Error
	if err != nil {
		return err
	}
	return conn.Model(&types.PersonAsset{}).
		Where("person_id = ?", fromPersonID).
		Update("person_id", toPersonID).Error
}

func (r *graphRepo) UpsertAssetEdge(ctx context.Context, tx *gorm.DB, edge *types.AssetAssetEdge) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "src_asset_ref"}, {Name: "dst_asset_ref"}, {Name: "relation_type"}},
		DoNothing: true,
	}).Create(edge).Error
}

func (r *graphRepo) ListAssetEdgesFrom(ctx context.Context, tx *gorm.DB, srcAssetRef string) ([]*types.AssetAssetEdge, error) {
	var out []*types.AssetAssetEdge
	err := r.conn(tx).WithContext(ctx).Where("src_asset_ref = ?", srcAssetRef).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) ListAssetEdgesTo(ctx context.Context, tx *gorm.DB, dstAssetRef string) ([]*types.AssetAssetEdge, error) {
	var out []*types.AssetAssetEdge
	err := r.conn(tx).WithContext(ctx).Where("dst_asset_ref = ?", dstAssetRef).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
