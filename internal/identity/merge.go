package identity

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/lifelogd/lifelog-backend/internal/platform/apierr"
	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// MergeResult summarizes what a merge moved.
type MergeResult struct {
	TargetID           int64  `json:"target_id"`
	MergedCount        int    `json:"merged_count"`
	AliasesMoved       int    `json:"aliases_moved"`
	FactsMoved         int    `json:"facts_moved"`
	RelationshipsMoved int    `json:"relationships_moved"`
	AssetLinksMoved    int    `json:"asset_links_moved"`
	DisplayName        string `json:"display_name"`
}

// MergePersons absorbs each source into the target, one transaction per
// source. Aliases, facts, relationships and asset links are re-pointed at
// the target; reverse relationship edges that would collide with an existing
// target tuple are deleted before the update so the unique index holds.
// Identifier columns fill target NULLs only. Sources are deleted last.
func (s *service) MergePersons(ctx context.Context, targetID int64, sourceIDs []int64) (*MergeResult, error) {
	ctx = ctxutil.Default(ctx)

	target, err := s.persons.GetByID(ctx, nil, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, apierr.New(404, "person_not_found", fmt.Errorf("merge target %d not found", targetID))
	}

	result := &MergeResult{TargetID: targetID}
	for _, sourceID := range sourceIDs {
		if sourceID == targetID {
			continue
		}
		if err := s.mergeOne(ctx, targetID, sourceID, result); err != nil {
			return result, err
		}
		result.MergedCount++
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.refreshDisplayName(ctx, tx, targetID)
	})
	if err != nil {
		return result, err
	}

	final, err := s.persons.GetByID(ctx, nil, targetID)
	if err != nil {
		return result, err
	}
	if final != nil {
		result.DisplayName = final.DisplayName
	}
	s.log.Info("merge finished",
		"target_id", targetID,
		"merged", result.MergedCount,
		"aliases_moved", result.AliasesMoved,
		"relationships_moved", result.RelationshipsMoved)
	return result, nil
}

func (s *service) mergeOne(ctx context.Context, targetID, sourceID int64, result *MergeResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := s.persons.GetByID(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		if source == nil {
			return apierr.New(404, "person_not_found", fmt.Errorf("merge source %d not found", sourceID))
		}

		sourceAliases, err := s.graph.ListAliases(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		// The source canonical name survives the merge as an alias.
		if err := s.graph.UpsertAlias(ctx, tx, &types.PersonAlias{
			PersonID: targetID,
			Alias:    source.CanonicalName,
			Script:   DetectScript(source.CanonicalName),
			Source:   "merged",
		}); err != nil {
			return err
		}
		if err := s.graph.ReassignAliases(ctx, tx, sourceID, targetID); err != nil {
			return err
		}
		result.AliasesMoved += len(sourceAliases)

		// Facts obey the confidence arbitration: a source fact lands only
		// when the target has no value or a weaker one.
		sourceFacts, err := s.graph.ListFacts(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		for _, f := range sourceFacts {
			existing, err := s.graph.GetFact(ctx, tx, targetID, f.FactKey)
			if err != nil {
				return err
			}
			if existing != nil && f.Confidence < existing.Confidence {
				continue
			}
			moved := *f
			moved.ID = 0
			moved.PersonID = targetID
			if err := s.graph.UpsertFact(ctx, tx, &moved); err != nil {
				return err
			}
			result.FactsMoved++
		}

		sourceRels, err := s.graph.ListRelationshipsInvolving(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		if err := s.graph.ReassignRelationships(ctx, tx, sourceID, targetID); err != nil {
			return err
		}
		result.RelationshipsMoved += len(sourceRels)

		sourceAssets, err := s.graph.ListPersonAssets(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		if err := s.graph.ReassignPersonAssets(ctx, tx, sourceID, targetID); err != nil {
			return err
		}
		result.AssetLinksMoved += len(sourceAssets)

		// Identifier absorption fills target NULLs only.
		target, err := s.persons.GetByID(ctx, tx, targetID)
		if err != nil {
			return err
		}
		fields := map[string]any{}
		if target.Phone == nil && source.Phone != nil {
			fields["phone"] = *source.Phone
		}
		if target.Email == nil && source.Email != nil {
			fields["email"] = *source.Email
		}
		if target.WhatsappID == nil && source.WhatsappID != nil {
			fields["whatsapp_id"] = *source.WhatsappID
		}
		if err := s.persons.UpdateFields(ctx, tx, targetID, fields); err != nil {
			return err
		}

		return s.persons.Delete(ctx, tx, sourceID)
	})
}
