package retrieval

import (
	"context"
	"testing"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
)

type fakeStore struct {
	queryFn  func(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]qdrant.ScoredPoint, error)
	scrollFn func(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error)
	upsertFn func(ctx context.Context, points []qdrant.Point) error
	existsFn func(ctx context.Context, sourceID string) (bool, error)
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error { return nil }
func (f *fakeStore) Reset(ctx context.Context) error            { return nil }

func (f *fakeStore) Upsert(ctx context.Context, points []qdrant.Point) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, points)
	}
	return nil
}

func (f *fakeStore) Query(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]qdrant.ScoredPoint, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, vector, filter, limit)
	}
	return nil, nil
}

func (f *fakeStore) Scroll(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
	if f.scrollFn != nil {
		return f.scrollFn(ctx, req)
	}
	return nil, nil, nil
}

func (f *fakeStore) Count(ctx context.Context, filter *qdrant.Filter) (int, error) { return 0, nil }
func (f *fakeStore) Delete(ctx context.Context, filter *qdrant.Filter) error       { return nil }

func (f *fakeStore) PointExists(ctx context.Context, sourceID string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, sourceID)
	}
	return false, nil
}

type fakeAI struct {
	embedQueryFn func(ctx context.Context, text string) ([]float32, error)
	embedDocsFn  func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.embedQueryFn != nil {
		return f.embedQueryFn(ctx, text)
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedDocsFn != nil {
		return f.embedDocsFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeAI) Chat(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
	return openai.ChatResult{Text: "ok"}, nil
}

func (f *fakeAI) ChatModel() string { return "fake" }

func newTestEngine(t *testing.T, store *fakeStore) *Engine {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewEngine(store, &fakeAI{}, nil, log)
}

func point(id string, payload map[string]any) qdrant.ScoredPoint {
	return qdrant.ScoredPoint{ID: id, Payload: payload}
}

func TestRetrieveLexicalRecallOnSenderMatch(t *testing.T) {
	kobi := point("x", map[string]any{
		qdrant.FieldSender:    "Kobi",
		qdrant.FieldMessage:   "hello world",
		qdrant.FieldTimestamp: int64(100),
	})
	store := &fakeStore{
		// Cosine similarity is hopeless for this query; the vector leg
		// returns nothing.
		queryFn: func(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]qdrant.ScoredPoint, error) {
			return nil, nil
		},
		scrollFn: func(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
			if req.OrderBy != nil {
				return nil, nil, nil
			}
			// Lexical leg: token "Kobi" hits the sender field.
			return []qdrant.ScoredPoint{kobi}, nil, nil
		},
	}

	got, err := newTestEngine(t, store).Retrieve(context.Background(), "what is Kobi's last name?", 5, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	found := false
	for _, n := range got {
		if n.ID == "x" {
			found = true
		}
	}
	if !found {
		t.Fatalf("lexical sender match missing from results: %+v", got)
	}
}

func TestRetrieveSenderFilterSkipsLexical(t *testing.T) {
	lexicalScrolls := 0
	store := &fakeStore{
		scrollFn: func(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
			if req.OrderBy == nil {
				lexicalScrolls++
			}
			return nil, nil, nil
		},
	}

	_, err := newTestEngine(t, store).Retrieve(context.Background(), "some question", 5, Filters{Sender: "Kobi"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if lexicalScrolls != 0 {
		t.Errorf("lexical leg ran %d scrolls despite sender filter", lexicalScrolls)
	}
}

func TestRetrieveRecencySupplement(t *testing.T) {
	newest := point("recent", map[string]any{
		qdrant.FieldMessage:   "latest message",
		qdrant.FieldTimestamp: int64(9000),
	})
	store := &fakeStore{
		scrollFn: func(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
			if req.OrderBy != nil && req.OrderBy.Direction == qdrant.OrderDesc {
				return []qdrant.ScoredPoint{newest}, nil, nil
			}
			return nil, nil, nil
		},
	}

	got, err := newTestEngine(t, store).Retrieve(context.Background(), "anything recent?", 5, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) == 0 || got[0].ID != "recent" {
		t.Fatalf("recency supplement should carry the result set, got %+v", got)
	}
	if got[0].Origin != "recency" {
		t.Errorf("origin = %q, want recency", got[0].Origin)
	}
}

func TestRetrievePlaceholderOnEmptyArchive(t *testing.T) {
	got, err := newTestEngine(t, &fakeStore{}).Retrieve(context.Background(), "anything", 5, Filters{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("results = %d, want exactly the placeholder", len(got))
	}
	if got[0].Origin != "placeholder" {
		t.Errorf("origin = %q, want placeholder", got[0].Origin)
	}
}

func TestRetrieveMetadataOnly(t *testing.T) {
	embedCalled := false
	store := &fakeStore{
		scrollFn: func(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
			if req.OrderBy != nil && req.OrderBy.Direction == qdrant.OrderDesc && req.Filter != nil {
				return []qdrant.ScoredPoint{
					point("m1", map[string]any{qdrant.FieldTimestamp: int64(200)}),
					point("m2", map[string]any{qdrant.FieldTimestamp: int64(100)}),
				}, nil, nil
			}
			return nil, nil, nil
		},
	}
	log, _ := logger.New("development")
	ai := &fakeAI{embedQueryFn: func(ctx context.Context, text string) ([]float32, error) {
		embedCalled = true
		return []float32{0.1}, nil
	}}
	engine := NewEngine(store, ai, nil, log)

	got, err := engine.Retrieve(context.Background(), "", 5, Filters{ChatName: "Family"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if embedCalled {
		t.Error("metadata-only retrieval must not call the embedder")
	}
	if len(got) < 2 {
		t.Fatalf("results = %d, want at least 2", len(got))
	}
	if got[0].Score != 1.0 || got[0].Origin != "metadata" {
		t.Errorf("metadata node = %+v, want score 1.0 origin metadata", got[0])
	}
}

func TestRetrieveContextExpansion(t *testing.T) {
	match := point("m", map[string]any{
		qdrant.FieldChatName:  "Family",
		qdrant.FieldMessage:   "We meet at Bistro at 7pm on Friday.",
		qdrant.FieldTimestamp: int64(1000),
	})
	neighbor := point("n", map[string]any{
		qdrant.FieldChatName:  "Family",
		qdrant.FieldMessage:   "Confirmed, see you there.",
		qdrant.FieldTimestamp: int64(1050),
	})
	store := &fakeStore{
		queryFn: func(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]qdrant.ScoredPoint, error) {
			hit := match
			hit.Score = 0.9
			return []qdrant.ScoredPoint{hit}, nil
		},
		scrollFn: func(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
			if req.OrderBy != nil && req.OrderBy.Direction == qdrant.OrderAsc {
				return []qdrant.ScoredPoint{match, neighbor}, nil, nil
			}
			return nil, nil, nil
		},
	}

	got, err := newTestEngine(t, store).Retrieve(context.Background(), "when is the meeting?", 5, Filters{ChatName: "Family"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	var contextNode *Node
	for i := range got {
		if got[i].ID == "n" {
			contextNode = &got[i]
		}
	}
	if contextNode == nil {
		t.Fatalf("adjacent message not expanded into results: %+v", got)
	}
	if contextNode.Score != 0.5 || contextNode.Origin != "context" {
		t.Errorf("context node = %+v, want score 0.5 origin context", *contextNode)
	}
	if got[0].ID != "m" {
		t.Errorf("direct match must rank first, got %q", got[0].ID)
	}
}

func TestBuildFilterDateForcesPositiveTimestamp(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{})

	filter := engine.buildFilter(Filters{DateTo: 5000})
	if filter == nil {
		t.Fatal("expected a filter")
	}
	found := false
	for _, cond := range filter.Must {
		if cond.Field == qdrant.FieldTimestamp && cond.Range != nil {
			if cond.Range.GT != nil && *cond.Range.GT == 0 {
				found = true
			}
		}
	}
	if !found {
		t.Error("date filter must exclude timestamp=0 synthetic chunks")
	}
}
