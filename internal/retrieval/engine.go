package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/platform/redisx"
)

// Per-field lexical weights. A sender hit is near-certain identity signal,
// a chat name slightly less, free text least.
const (
	senderFieldScore   = 0.95
	chatNameFieldScore = 0.85
	messageFieldScore  = 0.75

	contextExpansionScore = 0.5
)

const (
	labelKeyChats   = "chats"
	labelKeySenders = "senders"
)

// Filters is the user-facing retrieval filter surface.
type Filters struct {
	ChatName     string   `json:"chat_name,omitempty"`
	Sender       string   `json:"sender,omitempty"`
	Days         int      `json:"days,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	DateFrom     int64    `json:"date_from,omitempty"`
	DateTo       int64    `json:"date_to,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
}

func (f Filters) IsZero() bool {
	return f.ChatName == "" && f.Sender == "" && f.Days == 0 &&
		len(f.Sources) == 0 && f.DateFrom == 0 && f.DateTo == 0 && len(f.ContentTypes) == 0
}

// Engine owns hybrid retrieval over the vector store.
type Engine struct {
	store  qdrant.Store
	ai     openai.Client
	labels *redisx.LabelCache
	log    *logger.Logger

	minSimilarity float64
	recencyCount  int
	contextWindow int64
	maxTotalRatio int
}

func NewEngine(store qdrant.Store, ai openai.Client, labels *redisx.LabelCache, baseLog *logger.Logger) *Engine {
	log := baseLog.With("service", "RetrievalEngine")
	return &Engine{
		store:         store,
		ai:            ai,
		labels:        labels,
		log:           log,
		minSimilarity: envutil.GetEnvAsFloat("MIN_SIMILARITY", 0.3, baseLog),
		recencyCount:  envutil.GetEnvAsInt("RECENCY_SUPPLEMENT_COUNT", 5, baseLog),
		contextWindow: int64(envutil.GetEnvAsInt("CONTEXT_WINDOW_SECONDS", 1800, baseLog)),
		maxTotalRatio: 3,
	}
}

// buildFilter converts the user filter surface into vector store conditions.
// Date-based filters force timestamp > 0 so synthetic conversation chunks
// never satisfy a date query.
func (e *Engine) buildFilter(f Filters) *qdrant.Filter {
	out := &qdrant.Filter{}
	if f.ChatName != "" {
		out.And(qdrant.Match(qdrant.FieldChatName, f.ChatName))
	}
	if f.Sender != "" {
		out.And(qdrant.Match(qdrant.FieldSender, f.Sender))
	}
	if len(f.Sources) > 0 {
		vals := make([]any, len(f.Sources))
		for i, s := range f.Sources {
			vals[i] = s
		}
		out.And(qdrant.MatchAny(qdrant.FieldSource, vals...))
	}
	if len(f.ContentTypes) > 0 {
		vals := make([]any, len(f.ContentTypes))
		for i, ct := range f.ContentTypes {
			vals[i] = ct
		}
		out.And(qdrant.MatchAny(qdrant.FieldContentType, vals...))
	}

	spec := qdrant.RangeSpec{}
	ranged := false
	if f.Days > 0 {
		cutoff := time.Now().Unix() - int64(f.Days)*86400
		spec.GTE = qdrant.Int64Ptr(cutoff)
		ranged = true
	}
	if f.DateFrom > 0 {
		if spec.GTE == nil || f.DateFrom > *spec.GTE {
			spec.GTE = qdrant.Int64Ptr(f.DateFrom)
		}
		ranged = true
	}
	if f.DateTo > 0 {
		spec.LTE = qdrant.Int64Ptr(f.DateTo)
		ranged = true
	}
	if ranged {
		if spec.GTE == nil {
			spec.GT = qdrant.Int64Ptr(0)
		}
		out.And(qdrant.RangeInt(qdrant.FieldTimestamp, spec))
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

// Retrieve runs the full pipeline: hybrid (or metadata-only) search, the
// recency supplement, context expansion, and the non-empty guarantee.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, filters Filters) ([]Node, error) {
	ctx = ctxutil.Default(ctx)
	if k <= 0 {
		k = 10
	}
	query = strings.TrimSpace(query)
	filter := e.buildFilter(filters)

	var results []Node
	var err error
	if query == "" {
		results, err = e.metadataOnly(ctx, filter, k)
	} else {
		results, err = e.hybrid(ctx, query, k, filters, filter)
	}
	if err != nil {
		return nil, err
	}

	results = e.recencySupplement(ctx, results, filter)
	results = e.contextExpansion(ctx, results, k)

	if len(results) == 0 {
		results = []Node{placeholderNode(query)}
	}
	return results, nil
}

func (e *Engine) metadataOnly(ctx context.Context, filter *qdrant.Filter, k int) ([]Node, error) {
	points, _, err := e.store.Scroll(ctx, qdrant.ScrollRequest{
		Filter:      filter,
		Limit:       k,
		WithPayload: true,
		OrderBy:     &qdrant.OrderBy{Key: qdrant.FieldTimestamp, Direction: qdrant.OrderDesc},
	})
	if err != nil {
		return nil, fmt.Errorf("metadata scroll: %w", err)
	}
	out := make([]Node, 0, len(points))
	for _, p := range points {
		out = append(out, Node{ID: p.ID, Score: 1.0, Payload: p.Payload, Origin: "metadata"})
	}
	return out, nil
}

// hybrid runs the vector and lexical legs concurrently and fuses them with
// reciprocal rank fusion.
func (e *Engine) hybrid(ctx context.Context, query string, k int, filters Filters, filter *qdrant.Filter) ([]Node, error) {
	var semantic, lexical []Node

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = e.vectorLeg(gctx, query, k, filter)
		return err
	})
	// A sender filter already pins identity; lexical token matching on top
	// of it only re-finds the same points.
	if filters.Sender == "" {
		g.Go(func() error {
			var err error
			lexical, err = e.lexicalLeg(gctx, query, k, filter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := FuseRRF(RRFK, semantic, lexical)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// vectorLeg embeds the query and fetches 2k candidates, then culls below
// the similarity floor. Overfetching compensates for threshold losses on
// morphologically rich queries.
func (e *Engine) vectorLeg(ctx context.Context, query string, k int, filter *qdrant.Filter) ([]Node, error) {
	vector, err := e.ai.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	points, err := e.store.Query(ctx, vector, filter, 2*k)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	out := make([]Node, 0, len(points))
	for _, p := range points {
		if p.Score < e.minSimilarity {
			continue
		}
		out = append(out, Node{ID: p.ID, Score: p.Score, Payload: p.Payload, Origin: "semantic"})
	}
	return out, nil
}

// lexicalLeg searches each fulltext field with an OR of the expanded query
// tokens, then merges per-field hits keeping the max field score.
func (e *Engine) lexicalLeg(ctx context.Context, query string, k int, filter *qdrant.Filter) ([]Node, error) {
	tokens := ExpandTokens(TokenizeQuery(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	fields := []struct {
		name  string
		score float64
	}{
		{qdrant.FieldSender, senderFieldScore},
		{qdrant.FieldChatName, chatNameFieldScore},
		{qdrant.FieldMessage, messageFieldScore},
	}

	best := make(map[string]Node)
	for _, field := range fields {
		fieldFilter := &qdrant.Filter{}
		if filter != nil {
			fieldFilter = filter.Clone()
		}
		for _, tok := range tokens {
			fieldFilter.Or(qdrant.MatchText(field.name, tok))
		}
		points, _, err := e.store.Scroll(ctx, qdrant.ScrollRequest{
			Filter:      fieldFilter,
			Limit:       2 * k,
			WithPayload: true,
		})
		if err != nil {
			return nil, fmt.Errorf("lexical scroll on %s: %w", field.name, err)
		}
		for _, p := range points {
			existing, ok := best[p.ID]
			if !ok || field.score > existing.Score {
				best[p.ID] = Node{ID: p.ID, Score: field.score, Payload: p.Payload, Origin: "lexical"}
			}
		}
	}

	out := make([]Node, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// recencySupplement appends the newest real messages so temporally worded
// queries always reach recent content. Synthetic timestamp=0 chunks are
// excluded. When the semantic set is empty, recency becomes the result.
func (e *Engine) recencySupplement(ctx context.Context, current []Node, filter *qdrant.Filter) []Node {
	recencyFilter := &qdrant.Filter{}
	if filter != nil {
		recencyFilter = filter.Clone()
	}
	recencyFilter.And(qdrant.RangeInt(qdrant.FieldTimestamp, qdrant.RangeSpec{GT: qdrant.Int64Ptr(0)}))

	points, _, err := e.store.Scroll(ctx, qdrant.ScrollRequest{
		Filter:      recencyFilter,
		Limit:       e.recencyCount,
		WithPayload: true,
		OrderBy:     &qdrant.OrderBy{Key: qdrant.FieldTimestamp, Direction: qdrant.OrderDesc},
	})
	if err != nil {
		// Retrieval still has semantic results to serve.
		e.log.Warn("recency supplement failed", "error", err)
		return current
	}

	seen := make(map[string]bool, len(current))
	for _, n := range current {
		seen[n.ID] = true
	}
	for _, p := range points {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		current = append(current, Node{ID: p.ID, Score: contextExpansionScore, Payload: p.Payload, Origin: "recency"})
	}
	return current
}

// contextExpansion pulls temporally adjacent messages from each matched
// chat so the answerer sees the surrounding exchange. Expansion nodes carry
// a fixed low score and never displace direct matches.
func (e *Engine) contextExpansion(ctx context.Context, current []Node, k int) []Node {
	maxTotal := e.maxTotalRatio * k
	budget := maxTotal - len(current)
	if budget <= 0 || len(current) == 0 {
		return current
	}

	type window struct {
		min int64
		max int64
	}
	windows := make(map[string]*window)
	var chats []string
	for _, n := range current {
		chat, _ := n.Payload[qdrant.FieldChatName].(string)
		ts := payloadTimestamp(n.Payload)
		if chat == "" || ts <= 0 {
			continue
		}
		w, ok := windows[chat]
		if !ok {
			windows[chat] = &window{min: ts, max: ts}
			chats = append(chats, chat)
			continue
		}
		if ts < w.min {
			w.min = ts
		}
		if ts > w.max {
			w.max = ts
		}
	}
	if len(chats) == 0 {
		return current
	}

	seen := make(map[string]bool, len(current))
	for _, n := range current {
		seen[n.ID] = true
	}
	perChat := budget / len(chats)
	if perChat < 1 {
		perChat = 1
	}

	for _, chat := range chats {
		if budget <= 0 {
			break
		}
		w := windows[chat]
		limit := perChat
		if limit > budget {
			limit = budget
		}
		expFilter := (&qdrant.Filter{}).And(
			qdrant.Match(qdrant.FieldChatName, chat),
			qdrant.RangeInt(qdrant.FieldTimestamp, qdrant.RangeSpec{
				GTE: qdrant.Int64Ptr(w.min - e.contextWindow),
				LTE: qdrant.Int64Ptr(w.max + e.contextWindow),
			}),
		)
		points, _, err := e.store.Scroll(ctx, qdrant.ScrollRequest{
			Filter:      expFilter,
			Limit:       limit + len(current),
			WithPayload: true,
			OrderBy:     &qdrant.OrderBy{Key: qdrant.FieldTimestamp, Direction: qdrant.OrderAsc},
		})
		if err != nil {
			e.log.Warn("context expansion failed", "chat", chat, "error", err)
			continue
		}
		added := 0
		for _, p := range points {
			if added >= limit || budget <= 0 {
				break
			}
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			current = append(current, Node{ID: p.ID, Score: contextExpansionScore, Payload: p.Payload, Origin: "context"})
			added++
			budget--
		}
	}
	return current
}

// RefreshLabels scans distinct chat and sender values and caches them for
// the filter UI.
func (e *Engine) RefreshLabels(ctx context.Context) (chats, senders []string, err error) {
	ctx = ctxutil.Default(ctx)
	if e.labels != nil {
		cachedChats, chatsOK := e.labels.Get(ctx, labelKeyChats)
		cachedSenders, sendersOK := e.labels.Get(ctx, labelKeySenders)
		if chatsOK && sendersOK {
			return cachedChats, cachedSenders, nil
		}
	}

	chatSet := make(map[string]bool)
	senderSet := make(map[string]bool)
	var offset any
	for page := 0; page < 20; page++ {
		points, next, err := e.store.Scroll(ctx, qdrant.ScrollRequest{
			Limit:       1000,
			WithPayload: true,
			Offset:      offset,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, p := range points {
			if chat, _ := p.Payload[qdrant.FieldChatName].(string); chat != "" {
				chatSet[chat] = true
			}
			if sender, _ := p.Payload[qdrant.FieldSender].(string); sender != "" {
				senderSet[sender] = true
			}
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	chats = sortedKeys(chatSet)
	senders = sortedKeys(senderSet)
	if e.labels != nil {
		e.labels.Set(ctx, labelKeyChats, chats)
		e.labels.Set(ctx, labelKeySenders, senders)
	}
	return chats, senders, nil
}

// InvalidateLabels drops the cached label sets. Called on collection reset.
func (e *Engine) InvalidateLabels(ctx context.Context) {
	if e.labels != nil {
		e.labels.Invalidate(ctxutil.Default(ctx), labelKeyChats, labelKeySenders)
	}
}

func placeholderNode(query string) Node {
	return Node{
		ID:     "placeholder",
		Score:  0,
		Origin: "placeholder",
		Payload: map[string]any{
			qdrant.FieldMessage: fmt.Sprintf("No archived content matched %q yet.", query),
			qdrant.FieldSource:  "system",
		},
	}
}

func payloadTimestamp(payload map[string]any) int64 {
	switch v := payload[qdrant.FieldTimestamp].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
