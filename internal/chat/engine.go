package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// modelPrices is USD per one million tokens, prompt and completion.
var modelPrices = map[string][2]float64{
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4o":        {2.50, 10.00},
	"gpt-4-turbo":   {10.00, 30.00},
	"gpt-3.5-turbo": {0.50, 1.50},
}

const defaultPromptPrice = 1.00
const defaultCompletionPrice = 3.00

// CostUSD prices a call from its token usage.
func CostUSD(model string, usage openai.Usage) float64 {
	prices, ok := modelPrices[model]
	if !ok {
		prices = [2]float64{defaultPromptPrice, defaultCompletionPrice}
	}
	return float64(usage.PromptTokens)*prices[0]/1e6 + float64(usage.CompletionTokens)*prices[1]/1e6
}

// Request is one question against the archive.
type Request struct {
	Question       string            `json:"question"`
	ConversationID string            `json:"conversation_id,omitempty"`
	K              int               `json:"k,omitempty"`
	Filters        retrieval.Filters `json:"filters"`
}

// Response is the answered turn.
type Response struct {
	Answer         string                  `json:"answer"`
	Sources        []SourceView            `json:"sources"`
	RichContent    []types.RichContentItem `json:"rich_content,omitempty"`
	ConversationID string                  `json:"conversation_id"`
	Cost           CostInfo                `json:"cost"`
}

type CostInfo struct {
	QueryCostUSD    float64 `json:"query_cost_usd"`
	SessionTotalUSD float64 `json:"session_total_usd"`
}

// LLMProvider builds the chat client on first use. Embedding runs eagerly
// during ingestion; the answering LLM stays unopened until the first
// retrieval request.
type LLMProvider func() (openai.Client, error)

// Retriever is the slice of the retrieval engine the chat layer consumes.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filters retrieval.Filters) ([]retrieval.Node, error)
}

// Engine condenses, retrieves and answers.
type Engine struct {
	retriever Retriever
	store     *Store
	provider  LLMProvider
	log       *logger.Logger

	timezone     string
	historyTurns int
	historyChars int

	llmGroup singleflight.Group
	llmMu    sync.RWMutex
	llm      openai.Client
}

func NewEngine(retriever Retriever, store *Store, provider LLMProvider, baseLog *logger.Logger) *Engine {
	return &Engine{
		retriever:    retriever,
		store:        store,
		provider:     provider,
		log:          baseLog.With("service", "ChatEngine"),
		timezone:     envutil.GetEnv("TIMEZONE", "UTC", baseLog),
		historyTurns: envutil.GetEnvAsInt("CHAT_HISTORY_TURNS", 6, baseLog),
		historyChars: envutil.GetEnvAsInt("CHAT_HISTORY_CHARS", 6000, baseLog),
	}
}

// client initializes the LLM handle lazily; concurrent first callers share
// one initialization.
func (e *Engine) client() (openai.Client, error) {
	e.llmMu.RLock()
	cached := e.llm
	e.llmMu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	v, err, _ := e.llmGroup.Do("llm", func() (any, error) {
		e.llmMu.RLock()
		existing := e.llm
		e.llmMu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		c, err := e.provider()
		if err != nil {
			return nil, err
		}
		e.llmMu.Lock()
		e.llm = c
		e.llmMu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(openai.Client), nil
}

// Ask runs one full turn: history, condensation, retrieval, answer,
// persistence.
func (e *Engine) Ask(ctx context.Context, req Request) (*Response, error) {
	ctx = ctxutil.Default(ctx)
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	k := req.K
	if k <= 0 {
		k = 10
	}

	conversationID, err := e.store.EnsureConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.RecentTurns(ctx, conversationID, e.historyTurns)
	if err != nil {
		return nil, err
	}
	history = capHistory(history, e.historyChars)

	llm, err := e.client()
	if err != nil {
		return nil, err
	}

	cost := 0.0
	searchQuery := question
	if len(history) > 0 {
		condensed, condenseCost, err := e.condense(ctx, llm, question, history)
		if err != nil {
			// A failed condensation degrades to the raw question.
			e.log.Warn("query condensation failed", "error", err)
		} else if condensed != "" {
			searchQuery = condensed
			cost += condenseCost
		}
	}

	nodes, err := e.retriever.Retrieve(ctx, searchQuery, k, req.Filters)
	if err != nil {
		return nil, err
	}

	answer, answerCost, err := e.answer(ctx, llm, question, history, nodes)
	if err != nil {
		return nil, err
	}
	cost += answerCost

	sources := sourcesFromNodes(retrieval.FilterSourcesForDisplay(nodes, 0.1, 8))
	retrievedIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		retrievedIDs = append(retrievedIDs, n.ID)
	}

	filters := req.Filters
	turn := TurnView{
		UserText:      question,
		AssistantText: answer,
		Sources:       sources,
		RetrievedIDs:  retrievedIDs,
		CostUSD:       cost,
	}
	if !filters.IsZero() {
		turn.Filters = &filters
	}
	if err := e.store.AppendTurn(ctx, conversationID, turn); err != nil {
		return nil, err
	}

	sessionTotal, err := e.store.SessionCost(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Answer:         answer,
		Sources:        sources,
		ConversationID: conversationID,
		Cost: CostInfo{
			QueryCostUSD:    cost,
			SessionTotalUSD: sessionTotal,
		},
	}, nil
}

// condense folds the running conversation into a standalone search query.
func (e *Engine) condense(ctx context.Context, llm openai.Client, question string, history []TurnView) (string, float64, error) {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString("User: ")
		sb.WriteString(turn.UserText)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn.AssistantText)
		sb.WriteString("\n")
	}

	system := "Rewrite the user's latest question as a standalone search query over a personal message archive. " +
		"Resolve pronouns and references using the conversation. Reply with the query only, in the question's language."
	res, err := llm.Chat(ctx, system, []openai.ChatMessage{
		{Role: "user", Content: fmt.Sprintf("Conversation so far:\n%s\nLatest question: %s", sb.String(), question)},
	})
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(res.Text), CostUSD(res.Model, res.Usage), nil
}

// answer builds the grounded answer prompt and generates the reply.
func (e *Engine) answer(ctx context.Context, llm openai.Client, question string, history []TurnView, nodes []retrieval.Node) (string, float64, error) {
	loc, err := time.LoadLocation(e.timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	var contextBlock strings.Builder
	for i, n := range nodes {
		fmt.Fprintf(&contextBlock, "[%d] %s\n", i+1, formatNode(n, loc))
	}

	var historyBlock strings.Builder
	for _, turn := range history {
		historyBlock.WriteString("User: ")
		historyBlock.WriteString(turn.UserText)
		historyBlock.WriteString("\nAssistant: ")
		historyBlock.WriteString(turn.AssistantText)
		historyBlock.WriteString("\n")
	}

	system := fmt.Sprintf(
		"You answer questions over the user's personal message archive.\n"+
			"Current date and time: %s (%s). Today is %s.\n"+
			"Rules:\n"+
			"- Ground every claim in the numbered context entries and cite them as [n].\n"+
			"- Synthesize across multiple messages when needed.\n"+
			"- Use the conversation history to resolve follow-up questions.\n"+
			"- Answer in the language of the question.\n"+
			"- If the history already covered the topic, build on it; never claim there are no results when a prior turn answered.",
		now.Format("2006-01-02 15:04"), e.timezone, now.Format("Monday"))

	user := fmt.Sprintf("Context:\n%s\nConversation so far:\n%s\nQuestion: %s",
		contextBlock.String(), historyBlock.String(), question)

	res, err := llm.Chat(ctx, system, []openai.ChatMessage{{Role: "user", Content: user}})
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(res.Text), CostUSD(res.Model, res.Usage), nil
}

// capHistory drops oldest turns until the serialized history fits the
// character budget.
func capHistory(history []TurnView, maxChars int) []TurnView {
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += len(history[i].UserText) + len(history[i].AssistantText)
		if total > maxChars {
			return history[i+1:]
		}
	}
	return history
}

func sourcesFromNodes(nodes []retrieval.Node) []SourceView {
	out := make([]SourceView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, SourceView{
			ID:       n.ID,
			Source:   payloadString(n.Payload, qdrant.FieldSource),
			ChatName: payloadString(n.Payload, qdrant.FieldChatName),
			Sender:   payloadString(n.Payload, qdrant.FieldSender),
			Snippet:  snippet(payloadString(n.Payload, qdrant.FieldMessage), 200),
			Score:    n.Score,
			Date:     payloadDate(n.Payload),
		})
	}
	return out
}

func formatNode(n retrieval.Node, loc *time.Location) string {
	var parts []string
	if sender := payloadString(n.Payload, qdrant.FieldSender); sender != "" {
		parts = append(parts, "from "+sender)
	}
	if chat := payloadString(n.Payload, qdrant.FieldChatName); chat != "" {
		parts = append(parts, "in "+chat)
	}
	if ts := payloadInt64(n.Payload, qdrant.FieldTimestamp); ts > 0 {
		parts = append(parts, time.Unix(ts, 0).In(loc).Format("2006-01-02 15:04"))
	}
	meta := ""
	if len(parts) > 0 {
		meta = "(" + strings.Join(parts, ", ") + ") "
	}
	return meta + payloadString(n.Payload, qdrant.FieldMessage)
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func payloadInt64(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
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

func payloadDate(payload map[string]any) string {
	ts := payloadInt64(payload, qdrant.FieldTimestamp)
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

func snippet(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
