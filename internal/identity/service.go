package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lifelogd/lifelog-backend/internal/platform/apierr"
	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// GetOrCreateInput carries the identifiers seen on an incoming message or
// contact. Empty strings mean absent.
type GetOrCreateInput struct {
	CanonicalName string
	WhatsappID    string
	Phone         string
	Email         string
	IsGroup       bool
}

// Contact is one entry of a contact-list seed.
type Contact struct {
	Name       string `json:"name"`
	WhatsappID string `json:"whatsapp_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	IsGroup    bool   `json:"is_group,omitempty"`
}

type AliasView struct {
	ID     int64        `json:"id"`
	Alias  string       `json:"alias"`
	Script types.Script `json:"script"`
	Source string       `json:"source"`
}

type FactView struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Confidence  float64   `json:"confidence"`
	SourceType  string    `json:"source_type"`
	SourceRef   string    `json:"source_ref,omitempty"`
	SourceQuote string    `json:"source_quote,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

type RelationshipView struct {
	RelatedPersonID int64   `json:"related_person_id"`
	RelatedName     string  `json:"related_name"`
	Type            string  `json:"type"`
	Confidence      float64 `json:"confidence"`
}

// PersonDetail is the full read model returned by GetPerson.
type PersonDetail struct {
	ID            int64              `json:"id"`
	CanonicalName string             `json:"canonical_name"`
	DisplayName   string             `json:"display_name"`
	WhatsappID    string             `json:"whatsapp_id,omitempty"`
	Phone         string             `json:"phone,omitempty"`
	Email         string             `json:"email,omitempty"`
	IsGroup       bool               `json:"is_group"`
	FirstSeen     time.Time          `json:"first_seen"`
	LastSeen      *time.Time         `json:"last_seen,omitempty"`
	Aliases       []AliasView        `json:"aliases"`
	Facts         map[string]string  `json:"facts"`
	FactDetails   []FactView         `json:"fact_details"`
	Relationships []RelationshipView `json:"relationships"`
	AssetCounts   map[string]int64   `json:"asset_counts"`
}

type SeedResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type Service interface {
	GetOrCreatePerson(ctx context.Context, in GetOrCreateInput) (int64, error)
	GetPerson(ctx context.Context, id int64) (*PersonDetail, error)
	ListPersons(ctx context.Context) ([]*types.Person, error)
	RenamePerson(ctx context.Context, id int64, newName string) error
	DeletePerson(ctx context.Context, id int64) error

	AddAlias(ctx context.Context, personID int64, alias, source string) error
	DeleteAlias(ctx context.Context, personID, aliasID int64) error
	SetFact(ctx context.Context, personID int64, fact FactView) error
	DeleteFact(ctx context.Context, personID int64, key string) error
	AddRelationship(ctx context.Context, personID, relatedPersonID int64, relType string, confidence float64, sourceRef string) error

	FindPersonByPhone(ctx context.Context, phone string) (*types.Person, error)
	FindPersonByEmail(ctx context.Context, email string) (*types.Person, error)
	ResolveName(ctx context.Context, name string) ([]*types.Person, error)
	ExpandPersonIDs(ctx context.Context, ids []int64, depth int) ([]int64, error)

	MergePersons(ctx context.Context, targetID int64, sourceIDs []int64) (*MergeResult, error)
	FindMergeCandidates(ctx context.Context, limit int) ([]MergeCandidate, error)
	CleanupGarbagePersons(ctx context.Context) (int, error)
	SeedFromContacts(ctx context.Context, contacts []Contact) (*SeedResult, error)
	RefreshDisplayNames(ctx context.Context) (int, error)

	LinkPersonAsset(ctx context.Context, personID int64, assetType, assetRef, role string, confidence float64) error
	LinkAssets(ctx context.Context, srcAssetRef, dstAssetRef, relationType string, confidence float64, provenance string) error

	PersonGraph(ctx context.Context) (*Graph, error)
	FullGraph(ctx context.Context) (*Graph, error)
}

type service struct {
	db      *gorm.DB
	persons repos.PersonRepo
	graph   repos.GraphRepo
	log     *logger.Logger
}

func NewService(db *gorm.DB, persons repos.PersonRepo, graph repos.GraphRepo, baseLog *logger.Logger) Service {
	return &service{
		db:      db,
		persons: persons,
		graph:   graph,
		log:     baseLog.With("service", "IdentityService"),
	}
}

func (s *service) GetOrCreatePerson(ctx context.Context, in GetOrCreateInput) (int64, error) {
	ctx = ctxutil.Default(ctx)

	name := strings.TrimSpace(in.CanonicalName)
	if name == "" {
		return 0, apierr.New(400, "invalid_person", fmt.Errorf("canonical name is required"))
	}
	phone := strings.TrimSpace(in.Phone)
	if IsLinkedIDImpostor(in.WhatsappID, phone) {
		phone = ""
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	var personID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.lookupCascade(ctx, tx, name, phone, email)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		if existing != nil {
			fields := map[string]any{"last_seen": now}
			if existing.Phone == nil && phone != "" {
				fields["phone"] = phone
			}
			if existing.Email == nil && email != "" {
				fields["email"] = email
			}
			if existing.WhatsappID == nil && in.WhatsappID != "" {
				fields["whatsapp_id"] = in.WhatsappID
			}
			if err := s.persons.UpdateFields(ctx, tx, existing.ID, fields); err != nil {
				return err
			}
			if !strings.EqualFold(name, existing.CanonicalName) {
				alias := &types.PersonAlias{
					PersonID: existing.ID,
					Alias:    name,
					Script:   DetectScript(name),
					Source:   "observed",
				}
				if err := s.graph.UpsertAlias(ctx, tx, alias); err != nil {
					return err
				}
			}
			if err := s.refreshDisplayName(ctx, tx, existing.ID); err != nil {
				return err
			}
			personID = existing.ID
			return nil
		}

		person := &types.Person{
			CanonicalName: name,
			DisplayName:   name,
			IsGroup:       in.IsGroup,
			Confidence:    1,
			FirstSeen:     now,
			LastSeen:      &now,
		}
		if phone != "" {
			person.Phone = &phone
		}
		if email != "" {
			person.Email = &email
		}
		if in.WhatsappID != "" {
			waID := in.WhatsappID
			person.WhatsappID = &waID
		}
		if err := s.persons.Create(ctx, tx, person); err != nil {
			return err
		}
		alias := &types.PersonAlias{
			PersonID: person.ID,
			Alias:    name,
			Script:   DetectScript(name),
			Source:   "canonical",
		}
		if err := s.graph.UpsertAlias(ctx, tx, alias); err != nil {
			return err
		}
		// First-name lookups resolve through the alias table, so the first
		// token gets its own row.
		if first := firstToken(name); first != "" && first != name {
			firstAlias := &types.PersonAlias{
				PersonID: person.ID,
				Alias:    first,
				Script:   DetectScript(first),
				Source:   "first_name",
			}
			if err := s.graph.UpsertAlias(ctx, tx, firstAlias); err != nil {
				return err
			}
		}
		personID = person.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return personID, nil
}

// lookupCascade resolves an existing person by phone, then email, then exact
// canonical name.
func (s *service) lookupCascade(ctx context.Context, tx *gorm.DB, name, phone, email string) (*types.Person, error) {
	if phone != "" {
		p, err := s.findByPhone(ctx, tx, phone)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	if email != "" {
		p, err := s.findByEmail(ctx, tx, email)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return s.persons.GetByCanonicalName(ctx, tx, name)
}

func (s *service) GetPerson(ctx context.Context, id int64) (*PersonDetail, error) {
	ctx = ctxutil.Default(ctx)

	person, err := s.persons.GetByIDWithDetails(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apierr.New(404, "person_not_found", fmt.Errorf("person %d not found", id))
	}

	detail := &PersonDetail{
		ID:            person.ID,
		CanonicalName: person.CanonicalName,
		DisplayName:   person.DisplayName,
		IsGroup:       person.IsGroup,
		FirstSeen:     person.FirstSeen,
		LastSeen:      person.LastSeen,
		Facts:         make(map[string]string),
		AssetCounts:   make(map[string]int64),
	}
	if person.WhatsappID != nil {
		detail.WhatsappID = *person.WhatsappID
	}
	if person.Phone != nil {
		detail.Phone = *person.Phone
	}
	if person.Email != nil {
		detail.Email = *person.Email
	}
	for _, a := range person.Aliases {
		detail.Aliases = append(detail.Aliases, AliasView{ID: a.ID, Alias: a.Alias, Script: a.Script, Source: a.Source})
	}
	for _, f := range person.Facts {
		detail.Facts[f.FactKey] = f.FactValue
		detail.FactDetails = append(detail.FactDetails, FactView{
			Key:         f.FactKey,
			Value:       f.FactValue,
			Confidence:  f.Confidence,
			SourceType:  f.SourceType,
			SourceRef:   f.SourceRef,
			SourceQuote: f.SourceQuote,
			ExtractedAt: f.ExtractedAt,
		})
	}
	for _, rel := range person.Relationships {
		related, err := s.persons.GetByID(ctx, nil, rel.RelatedPersonID)
		if err != nil {
			return nil, err
		}
		view := RelationshipView{
			RelatedPersonID: rel.RelatedPersonID,
			Type:            rel.RelType,
			Confidence:      rel.Confidence,
		}
		if related != nil {
			view.RelatedName = related.CanonicalName
		}
		detail.Relationships = append(detail.Relationships, view)
	}

	assets, err := s.graph.ListPersonAssets(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	for _, link := range assets {
		detail.AssetCounts[link.AssetType]++
	}

	aliases := make([]*types.PersonAlias, len(person.Aliases))
	for i := range person.Aliases {
		aliases[i] = &person.Aliases[i]
	}
	if synth := SynthesizeDisplayName(person.CanonicalName, aliases); synth != "" {
		detail.DisplayName = synth
	}
	return detail, nil
}

func (s *service) ListPersons(ctx context.Context) ([]*types.Person, error) {
	return s.persons.ListAll(ctxutil.Default(ctx), nil)
}

func (s *service) RenamePerson(ctx context.Context, id int64, newName string) error {
	ctx = ctxutil.Default(ctx)
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return apierr.New(400, "invalid_person", fmt.Errorf("new name is required"))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		person, err := s.persons.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if person == nil {
			return apierr.New(404, "person_not_found", fmt.Errorf("person %d not found", id))
		}
		alias := &types.PersonAlias{
			PersonID: id,
			Alias:    person.CanonicalName,
			Script:   DetectScript(person.CanonicalName),
			Source:   "renamed",
		}
		if err := s.graph.UpsertAlias(ctx, tx, alias); err != nil {
			return err
		}
		if err := s.persons.UpdateFields(ctx, tx, id, map[string]any{"canonical_name": newName}); err != nil {
			return err
		}
		return s.refreshDisplayName(ctx, tx, id)
	})
}

func (s *service) DeletePerson(ctx context.Context, id int64) error {
	ctx = ctxutil.Default(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.graph.DeleteAliasesFor(ctx, tx, id); err != nil {
			return err
		}
		return s.persons.Delete(ctx, tx, id)
	})
}

func (s *service) AddAlias(ctx context.Context, personID int64, alias, source string) error {
	ctx = ctxutil.Default(ctx)
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return apierr.New(400, "invalid_alias", fmt.Errorf("alias is required"))
	}
	if source == "" {
		source = "manual"
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &types.PersonAlias{
			PersonID: personID,
			Alias:    alias,
			Script:   DetectScript(alias),
			Source:   source,
		}
		if err := s.graph.UpsertAlias(ctx, tx, row); err != nil {
			return err
		}
		return s.refreshDisplayName(ctx, tx, personID)
	})
}

func (s *service) DeleteAlias(ctx context.Context, personID, aliasID int64) error {
	return s.graph.DeleteAlias(ctxutil.Default(ctx), nil, personID, aliasID)
}

// SetFact upserts under the monotonic confidence rule: an incoming write
// lands only when its confidence is >= the stored one.
func (s *service) SetFact(ctx context.Context, personID int64, fact FactView) error {
	ctx = ctxutil.Default(ctx)
	if fact.Key == "" {
		return apierr.New(400, "invalid_fact", fmt.Errorf("fact key is required"))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.graph.GetFact(ctx, tx, personID, fact.Key)
		if err != nil {
			return err
		}
		if existing != nil && fact.Confidence < existing.Confidence {
			return nil
		}
		extractedAt := fact.ExtractedAt
		if extractedAt.IsZero() {
			extractedAt = time.Now().UTC()
		}
		// A tie on confidence refreshes the value only; the stored
		// provenance stays.
		if existing != nil && fact.Confidence == existing.Confidence {
			return s.graph.UpdateFactFields(ctx, tx, personID, fact.Key, map[string]any{
				"fact_value":   fact.Value,
				"extracted_at": extractedAt,
			})
		}
		return s.graph.UpsertFact(ctx, tx, &types.PersonFact{
			PersonID:    personID,
			FactKey:     fact.Key,
			FactValue:   fact.Value,
			Confidence:  fact.Confidence,
			SourceType:  defaultString(fact.SourceType, "manual"),
			SourceRef:   fact.SourceRef,
			SourceQuote: fact.SourceQuote,
			ExtractedAt: extractedAt,
		})
	})
}

func (s *service) DeleteFact(ctx context.Context, personID int64, key string) error {
	return s.graph.DeleteFact(ctxutil.Default(ctx), nil, personID, key)
}

func (s *service) AddRelationship(ctx context.Context, personID, relatedPersonID int64, relType string, confidence float64, sourceRef string) error {
	ctx = ctxutil.Default(ctx)
	if personID == relatedPersonID {
		return apierr.New(400, "invalid_relationship", fmt.Errorf("self relationship"))
	}
	if relType == "" {
		return apierr.New(400, "invalid_relationship", fmt.Errorf("relationship type is required"))
	}
	return s.graph.UpsertRelationship(ctx, nil, &types.PersonRelationship{
		PersonID:        personID,
		RelatedPersonID: relatedPersonID,
		RelType:         relType,
		Confidence:      confidence,
		SourceRef:       sourceRef,
	})
}

func (s *service) FindPersonByPhone(ctx context.Context, phone string) (*types.Person, error) {
	return s.findByPhone(ctxutil.Default(ctx), nil, phone)
}

func (s *service) findByPhone(ctx context.Context, tx *gorm.DB, phone string) (*types.Person, error) {
	want := NormalizePhone(phone)
	if want == "" {
		return nil, nil
	}
	withPhone, err := s.persons.ListWithPhone(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, p := range withPhone {
		if p.Phone != nil && NormalizePhone(*p.Phone) == want {
			return p, nil
		}
	}
	// Fall back to numeric aliases recorded from contact seeds.
	aliases, err := s.graph.ListAllAliases(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, a := range aliases {
		if a.Script == types.ScriptNumeric && NormalizePhone(a.Alias) == want {
			return s.persons.GetByID(ctx, tx, a.PersonID)
		}
	}
	return nil, nil
}

func (s *service) FindPersonByEmail(ctx context.Context, email string) (*types.Person, error) {
	return s.findByEmail(ctxutil.Default(ctx), nil, email)
}

func (s *service) findByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.Person, error) {
	want := strings.ToLower(strings.TrimSpace(email))
	if want == "" {
		return nil, nil
	}
	withEmail, err := s.persons.ListWithEmail(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, p := range withEmail {
		if p.Email != nil && strings.ToLower(*p.Email) == want {
			return p, nil
		}
	}
	facts, err := s.graph.ListFactsByKey(ctx, tx, "email")
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		if strings.ToLower(strings.TrimSpace(f.FactValue)) == want {
			return s.persons.GetByID(ctx, tx, f.PersonID)
		}
	}
	return nil, nil
}

func (s *service) ResolveName(ctx context.Context, name string) ([]*types.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return s.persons.SearchByNameOrAlias(ctxutil.Default(ctx), nil, name)
}

// ExpandPersonIDs walks relationship edges in both directions up to depth
// hops and returns the de-duplicated closure including the originals.
func (s *service) ExpandPersonIDs(ctx context.Context, ids []int64, depth int) ([]int64, error) {
	ctx = ctxutil.Default(ctx)

	seen := make(map[int64]bool, len(ids))
	frontier := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			frontier = append(frontier, id)
		}
	}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []int64
		for _, id := range frontier {
			rels, err := s.graph.ListRelationshipsInvolving(ctx, nil, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				for _, other := range []int64{rel.PersonID, rel.RelatedPersonID} {
					if !seen[other] {
						seen[other] = true
						next = append(next, other)
					}
				}
			}
		}
		frontier = next
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *service) CleanupGarbagePersons(ctx context.Context) (int, error) {
	ctx = ctxutil.Default(ctx)
	persons, err := s.persons.ListAll(ctx, nil)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, p := range persons {
		if IsValidName(p.CanonicalName) {
			continue
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.graph.DeleteAliasesFor(ctx, tx, p.ID); err != nil {
				return err
			}
			return s.persons.Delete(ctx, tx, p.ID)
		})
		if err != nil {
			return deleted, err
		}
		deleted++
	}
	s.log.Info("garbage person cleanup finished", "deleted", deleted)
	return deleted, nil
}

func (s *service) SeedFromContacts(ctx context.Context, contacts []Contact) (*SeedResult, error) {
	ctx = ctxutil.Default(ctx)
	res := &SeedResult{}
	for _, c := range contacts {
		name := strings.TrimSpace(c.Name)
		if name == "" || isSystemContact(name, c.WhatsappID) {
			res.Skipped++
			continue
		}
		if !IsValidName(name) {
			res.Skipped++
			continue
		}
		existedBefore, err := s.persons.GetByCanonicalName(ctx, nil, name)
		if err != nil {
			return res, err
		}
		_, err = s.GetOrCreatePerson(ctx, GetOrCreateInput{
			CanonicalName: name,
			WhatsappID:    c.WhatsappID,
			Phone:         c.Phone,
			Email:         c.Email,
			IsGroup:       c.IsGroup,
		})
		if err != nil {
			s.log.Warn("contact seed failed for entry", "error", err)
			res.Skipped++
			continue
		}
		if existedBefore != nil {
			res.Updated++
		} else {
			res.Created++
		}
	}
	s.log.Info("contact seeding finished", "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// RefreshDisplayNames recomputes bilingual display names for everyone.
// Returns how many rows changed.
func (s *service) RefreshDisplayNames(ctx context.Context) (int, error) {
	ctx = ctxutil.Default(ctx)
	persons, err := s.persons.ListAll(ctx, nil)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, p := range persons {
		var updated bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			updated, err = s.applyDisplayName(ctx, tx, p.ID)
			return err
		})
		if err != nil {
			return changed, err
		}
		if updated {
			changed++
		}
	}
	return changed, nil
}

func (s *service) refreshDisplayName(ctx context.Context, tx *gorm.DB, personID int64) error {
	_, err := s.applyDisplayName(ctx, tx, personID)
	return err
}

// applyDisplayName persists the synthesized bilingual form unless another
// person already carries that exact string as canonical name.
func (s *service) applyDisplayName(ctx context.Context, tx *gorm.DB, personID int64) (bool, error) {
	person, err := s.persons.GetByIDWithDetails(ctx, tx, personID)
	if err != nil || person == nil {
		return false, err
	}
	aliases := make([]*types.PersonAlias, 0, len(person.Aliases))
	for i := range person.Aliases {
		aliases = append(aliases, &person.Aliases[i])
	}
	synth := SynthesizeDisplayName(person.CanonicalName, aliases)
	if synth == "" || synth == person.DisplayName {
		return false, nil
	}
	other, err := s.persons.GetByCanonicalName(ctx, tx, synth)
	if err != nil {
		return false, err
	}
	if other != nil && other.ID != personID {
		return false, nil
	}
	if err := s.persons.UpdateFields(ctx, tx, personID, map[string]any{"display_name": synth}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) LinkPersonAsset(ctx context.Context, personID int64, assetType, assetRef, role string, confidence float64) error {
	return s.graph.UpsertPersonAsset(ctxutil.Default(ctx), nil, &types.PersonAsset{
		PersonID:   personID,
		AssetType:  assetType,
		AssetRef:   assetRef,
		Role:       role,
		Confidence: confidence,
	})
}

func (s *service) LinkAssets(ctx context.Context, srcAssetRef, dstAssetRef, relationType string, confidence float64, provenance string) error {
	return s.graph.UpsertAssetEdge(ctxutil.Default(ctx), nil, &types.AssetAssetEdge{
		SrcAssetRef:  srcAssetRef,
		DstAssetRef:  dstAssetRef,
		RelationType: relationType,
		Confidence:   confidence,
		Provenance:   provenance,
	})
}

// isSystemContact filters broadcast/status pseudo contacts out of seeds.
func isSystemContact(name, whatsappID string) bool {
	if strings.HasSuffix(whatsappID, "@broadcast") || whatsappID == "status@broadcast" {
		return true
	}
	lower := strings.ToLower(name)
	return lower == "status" || lower == "whatsapp"
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
