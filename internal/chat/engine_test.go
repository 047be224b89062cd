package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
)

type fakeRetriever struct {
	retrieveFn func(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Node, error)
	lastQuery  string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Node, error) {
	f.lastQuery = query
	if f.retrieveFn != nil {
		return f.retrieveFn(ctx, query, k, filters)
	}
	return nil, nil
}

type fakeLLM struct {
	chatFn func(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error)
	calls  int
}

func (f *fakeLLM) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (f *fakeLLM) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (f *fakeLLM) Chat(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
	f.calls++
	if f.chatFn != nil {
		return f.chatFn(ctx, system, messages)
	}
	return openai.ChatResult{Text: "answer", Model: "gpt-4o-mini"}, nil
}

func (f *fakeLLM) ChatModel() string { return "gpt-4o-mini" }

func newTestEngine(t *testing.T, retriever Retriever, llm openai.Client) (*Engine, *Store) {
	t.Helper()
	store := newTestStore(t)
	if llm == nil {
		llm = &fakeLLM{}
	}
	provider := func() (openai.Client, error) { return llm, nil }
	return NewEngine(retriever, store, provider, store.log), store
}

func messageNode(id, text string, score float64) retrieval.Node {
	return retrieval.Node{
		ID:    id,
		Score: score,
		Payload: map[string]any{
			qdrant.FieldSource:   "whatsapp",
			qdrant.FieldSender:   "Alice",
			qdrant.FieldChatName: "Family",
			qdrant.FieldMessage:  text,
		},
		Origin: "vector",
	}
}

func TestAskFirstTurnSkipsCondensation(t *testing.T) {
	retriever := &fakeRetriever{
		retrieveFn: func(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Node, error) {
			return []retrieval.Node{messageNode("m1", "dinner at the Bistro at 7pm", 0.9)}, nil
		},
	}
	llm := &fakeLLM{}
	engine, _ := newTestEngine(t, retriever, llm)

	resp, err := engine.Ask(context.Background(), Request{Question: "when is dinner?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	// No history means no condensation call; only the answer call runs.
	if llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1", llm.calls)
	}
	if retriever.lastQuery != "when is dinner?" {
		t.Errorf("retrieval query = %q, want the raw question", retriever.lastQuery)
	}
	if resp.Answer == "" {
		t.Error("answer is empty")
	}
	if len(resp.Sources) != 1 {
		t.Errorf("sources = %d, want 1", len(resp.Sources))
	}
}

func TestAskCondensesFollowUps(t *testing.T) {
	retriever := &fakeRetriever{}
	llm := &fakeLLM{
		chatFn: func(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
			if strings.Contains(system, "standalone search query") {
				return openai.ChatResult{Text: "dinner with Alice time", Model: "gpt-4o-mini"}, nil
			}
			return openai.ChatResult{Text: "7pm", Model: "gpt-4o-mini"}, nil
		},
	}
	engine, _ := newTestEngine(t, retriever, llm)

	first, err := engine.Ask(context.Background(), Request{Question: "did Alice mention dinner?"})
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if _, err := engine.Ask(context.Background(), Request{Question: "what time?", ConversationID: first.ConversationID}); err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if retriever.lastQuery != "dinner with Alice time" {
		t.Errorf("retrieval query = %q, want condensed query", retriever.lastQuery)
	}
}

func TestAskDegradesWhenCondensationFails(t *testing.T) {
	retriever := &fakeRetriever{}
	llm := &fakeLLM{
		chatFn: func(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
			if strings.Contains(system, "standalone search query") {
				return openai.ChatResult{}, errors.New("model overloaded")
			}
			return openai.ChatResult{Text: "answer", Model: "gpt-4o-mini"}, nil
		},
	}
	engine, _ := newTestEngine(t, retriever, llm)

	first, err := engine.Ask(context.Background(), Request{Question: "did Alice mention dinner?"})
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}
	resp, err := engine.Ask(context.Background(), Request{Question: "what time?", ConversationID: first.ConversationID})
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if retriever.lastQuery != "what time?" {
		t.Errorf("retrieval query = %q, want raw question after condense failure", retriever.lastQuery)
	}
	if resp.Answer != "answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestAskAccountsCost(t *testing.T) {
	retriever := &fakeRetriever{}
	llm := &fakeLLM{
		chatFn: func(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
			return openai.ChatResult{
				Text:  "answer",
				Model: "gpt-4o-mini",
				Usage: openai.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000},
			}, nil
		},
	}
	engine, store := newTestEngine(t, retriever, llm)

	resp, err := engine.Ask(context.Background(), Request{Question: "anything?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	// One million of each at gpt-4o-mini prices is 0.15 + 0.60.
	want := 0.75
	if resp.Cost.QueryCostUSD < want-1e-9 || resp.Cost.QueryCostUSD > want+1e-9 {
		t.Errorf("query cost = %v, want %v", resp.Cost.QueryCostUSD, want)
	}
	total, err := store.SessionCost(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("session cost: %v", err)
	}
	if total < want-1e-9 || total > want+1e-9 {
		t.Errorf("session total = %v, want %v", total, want)
	}
}

func TestAskPersistsTurnWithFilters(t *testing.T) {
	retriever := &fakeRetriever{}
	engine, store := newTestEngine(t, retriever, nil)

	resp, err := engine.Ask(context.Background(), Request{
		Question: "what did the family group say?",
		Filters:  retrieval.Filters{ChatName: "Family"},
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	_, turns, err := store.GetConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	if turns[0].Filters == nil || turns[0].Filters.ChatName != "Family" {
		t.Errorf("persisted filters = %+v, want ChatName Family", turns[0].Filters)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeRetriever{}, nil)
	if _, err := engine.Ask(context.Background(), Request{Question: "   "}); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestCostUSDUnknownModelUsesDefaults(t *testing.T) {
	got := CostUSD("mystery-model", openai.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	want := 4.00
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}
}
