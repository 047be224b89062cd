package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// MergeCandidate is a suggested duplicate pair with the signal that
// produced it.
type MergeCandidate struct {
	PersonIDs []int64  `json:"person_ids"`
	Names     []string `json:"names"`
	Reason    string   `json:"reason"`
	Signal    string   `json:"signal"`
	Priority  int      `json:"priority"`
}

// FindMergeCandidates suggests likely duplicates, strongest signal first:
// shared phone, shared whatsapp id, shared email (column or fact), shared
// multi-token alias, shared full-name alias. Pairs are de-duplicated by
// their id set across signals. Single-token alias matches are excluded;
// shared first names are not evidence of identity.
func (s *service) FindMergeCandidates(ctx context.Context, limit int) ([]MergeCandidate, error) {
	ctx = ctxutil.Default(ctx)

	persons, err := s.persons.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	aliases, err := s.graph.ListAllAliases(ctx, nil)
	if err != nil {
		return nil, err
	}
	emailFacts, err := s.graph.ListFactsByKey(ctx, nil, "email")
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*types.Person, len(persons))
	for _, p := range persons {
		byID[p.ID] = p
	}

	var out []MergeCandidate
	seen := make(map[string]bool)

	add := func(ids []int64, priority int, signal, reason string) {
		if len(ids) < 2 {
			return
		}
		key := idSetKey(ids)
		if seen[key] {
			return
		}
		seen[key] = true
		names := make([]string, 0, len(ids))
		for _, id := range ids {
			if p := byID[id]; p != nil {
				names = append(names, p.CanonicalName)
			}
		}
		out = append(out, MergeCandidate{
			PersonIDs: ids,
			Names:     names,
			Reason:    reason,
			Signal:    signal,
			Priority:  priority,
		})
	}

	// 1: same normalized phone.
	byPhone := make(map[string][]int64)
	for _, p := range persons {
		if p.Phone == nil {
			continue
		}
		if norm := NormalizePhone(*p.Phone); norm != "" {
			byPhone[norm] = append(byPhone[norm], p.ID)
		}
	}
	forEachGroup(byPhone, func(phone string, ids []int64) {
		add(ids, 1, "phone", fmt.Sprintf("same phone %s", phone))
	})

	// 2: same whatsapp id.
	byWaID := make(map[string][]int64)
	for _, p := range persons {
		if p.WhatsappID != nil && *p.WhatsappID != "" {
			byWaID[*p.WhatsappID] = append(byWaID[*p.WhatsappID], p.ID)
		}
	}
	forEachGroup(byWaID, func(waID string, ids []int64) {
		add(ids, 2, "whatsapp_id", fmt.Sprintf("same whatsapp id %s", waID))
	})

	// 3: same email from the column or the email fact.
	byEmail := make(map[string][]int64)
	appendEmail := func(id int64, email string) {
		e := strings.ToLower(strings.TrimSpace(email))
		if e == "" {
			return
		}
		for _, existing := range byEmail[e] {
			if existing == id {
				return
			}
		}
		byEmail[e] = append(byEmail[e], id)
	}
	for _, p := range persons {
		if p.Email != nil {
			appendEmail(p.ID, *p.Email)
		}
	}
	for _, f := range emailFacts {
		appendEmail(f.PersonID, f.FactValue)
	}
	forEachGroup(byEmail, func(email string, ids []int64) {
		add(ids, 3, "email", fmt.Sprintf("same email %s", email))
	})

	// 4 and 5: shared aliases of at least two tokens. Latin comparison is
	// case-insensitive, Hebrew exact.
	byAlias := make(map[string][]int64)
	for _, a := range aliases {
		if a.Script == types.ScriptNumeric {
			continue
		}
		text := strings.TrimSpace(a.Alias)
		if len(nameTokens(text)) < 2 {
			continue
		}
		key := text
		if DetectScript(text) != types.ScriptHebrew {
			key = strings.ToLower(text)
		}
		found := false
		for _, existing := range byAlias[key] {
			if existing == a.PersonID {
				found = true
				break
			}
		}
		if !found {
			byAlias[key] = append(byAlias[key], a.PersonID)
		}
	}
	forEachGroup(byAlias, func(alias string, ids []int64) {
		add(ids, 4, "alias", fmt.Sprintf("shared alias %q", alias))
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// idSetKey builds an order-independent key for a group of person ids.
func idSetKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// forEachGroup visits non-singleton groups in sorted key order so the
// candidate list is deterministic.
func forEachGroup(groups map[string][]int64, fn func(key string, ids []int64)) {
	keys := make([]string, 0, len(groups))
	for key, ids := range groups {
		if len(ids) >= 2 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		ids := append([]int64(nil), groups[key]...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		fn(key, ids)
	}
}
