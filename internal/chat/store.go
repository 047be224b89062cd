package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lifelogd/lifelog-backend/internal/platform/apierr"
	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// SourceView is one citation as stored and rendered.
type SourceView struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	ChatName string  `json:"chat_name,omitempty"`
	Sender   string  `json:"sender,omitempty"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
	Date     string  `json:"date,omitempty"`
}

// TurnView is a restored turn with rich content flattened back into
// presentation-ready items.
type TurnView struct {
	TurnIndex     int                         `json:"turn_index"`
	UserText      string                      `json:"user_text"`
	AssistantText string                      `json:"assistant_text"`
	Sources       []SourceView                `json:"sources,omitempty"`
	RichContent   []types.RichContentItem     `json:"rich_content,omitempty"`
	RetrievedIDs  []string                    `json:"retrieved_ids,omitempty"`
	Filters       *retrieval.Filters          `json:"filters,omitempty"`
	CostUSD       float64                     `json:"cost_usd"`
	CreatedAt     time.Time                   `json:"created_at"`
}

// Store is the durable conversation map: session id to ordered turns, with
// a TTL and a hard cap that trims oldest turns.
type Store struct {
	repo repos.ConversationRepo
	log  *logger.Logger

	maxTurns int
	ttl      time.Duration
}

func NewStore(repo repos.ConversationRepo, baseLog *logger.Logger) *Store {
	return &Store{
		repo:     repo,
		log:      baseLog.With("service", "ConversationStore"),
		maxTurns: envutil.GetEnvAsInt("CONVERSATION_MAX_TURNS", 20, baseLog),
		ttl:      time.Duration(envutil.GetEnvAsInt("CONVERSATION_TTL_HOURS", 24*30, baseLog)) * time.Hour,
	}
}

// EnsureConversation returns the existing session or creates one. An empty
// id allocates a fresh session.
func (s *Store) EnsureConversation(ctx context.Context, id string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	existing, err := s.repo.Get(ctx, nil, id)
	if err != nil {
		return "", err
	}
	if existing == nil {
		err = s.repo.Create(ctx, nil, &types.Conversation{ID: id})
		if err != nil {
			return "", err
		}
	}
	return id, nil
}

// AppendTurn persists a completed turn and trims beyond the cap.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, turn TurnView) error {
	ctx = ctxutil.Default(ctx)

	index, err := s.repo.NextTurnIndex(ctx, nil, conversationID)
	if err != nil {
		return err
	}
	row := &types.ConversationTurn{
		ConversationID: conversationID,
		TurnIndex:      index,
		UserText:       turn.UserText,
		AssistantText:  turn.AssistantText,
		CostUSD:        turn.CostUSD,
	}
	if row.Sources, err = marshalJSON(turn.Sources); err != nil {
		return err
	}
	if row.RichContent, err = marshalJSON(turn.RichContent); err != nil {
		return err
	}
	if row.RetrievedIDs, err = marshalJSON(turn.RetrievedIDs); err != nil {
		return err
	}
	if turn.Filters != nil {
		if row.Filters, err = marshalJSON(turn.Filters); err != nil {
			return err
		}
	}
	if err := s.repo.AppendTurn(ctx, nil, row); err != nil {
		return err
	}

	title := turn.UserText
	if len([]rune(title)) > 80 {
		title = string([]rune(title)[:80])
	}
	if index > 0 {
		title = ""
	}
	if err := s.repo.Touch(ctx, nil, conversationID, title); err != nil {
		return err
	}

	trimmed, err := s.repo.TrimTurns(ctx, nil, conversationID, s.maxTurns)
	if err != nil {
		return err
	}
	if trimmed > 0 {
		s.log.Debug("trimmed old turns", "conversation_id", conversationID, "trimmed", trimmed)
	}
	return nil
}

// RecentTurns returns up to maxTurns latest turns, oldest first, with the
// stored JSON flattened back into views.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, maxTurns int) ([]TurnView, error) {
	ctx = ctxutil.Default(ctx)
	if maxTurns <= 0 || maxTurns > s.maxTurns {
		maxTurns = s.maxTurns
	}
	rows, err := s.repo.ListTurns(ctx, nil, conversationID, maxTurns)
	if err != nil {
		return nil, err
	}
	out := make([]TurnView, 0, len(rows))
	for _, row := range rows {
		view, err := flattenTurn(row)
		if err != nil {
			s.log.Warn("corrupt turn row skipped", "conversation_id", conversationID, "turn", row.TurnIndex, "error", err)
			continue
		}
		out = append(out, view)
	}
	return out, nil
}

// GetConversation restores a full session.
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, []TurnView, error) {
	ctx = ctxutil.Default(ctx)
	conv, err := s.repo.GetWithTurns(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, apierr.New(404, "conversation_not_found", fmt.Errorf("conversation %s not found", id))
	}
	turns := make([]TurnView, 0, len(conv.Turns))
	for i := range conv.Turns {
		view, err := flattenTurn(&conv.Turns[i])
		if err != nil {
			continue
		}
		turns = append(turns, view)
	}
	return conv, turns, nil
}

func (s *Store) ListConversations(ctx context.Context, limit int) ([]*types.Conversation, error) {
	return s.repo.List(ctxutil.Default(ctx), nil, limit)
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.repo.Delete(ctxutil.Default(ctx), nil, id)
}

// SessionCost sums the stored per-turn costs.
func (s *Store) SessionCost(ctx context.Context, conversationID string) (float64, error) {
	rows, err := s.repo.ListTurns(ctxutil.Default(ctx), nil, conversationID, 0)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, row := range rows {
		total += row.CostUSD
	}
	return total, nil
}

// Sweep deletes sessions idle past the TTL. Called from the scheduler tick.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	return s.repo.DeleteOlderThan(ctxutil.Default(ctx), nil, cutoff)
}

func flattenTurn(row *types.ConversationTurn) (TurnView, error) {
	view := TurnView{
		TurnIndex:     row.TurnIndex,
		UserText:      row.UserText,
		AssistantText: row.AssistantText,
		CostUSD:       row.CostUSD,
		CreatedAt:     row.CreatedAt,
	}
	if len(row.Sources) > 0 {
		if err := json.Unmarshal(row.Sources, &view.Sources); err != nil {
			return view, fmt.Errorf("sources: %w", err)
		}
	}
	if len(row.RichContent) > 0 {
		if err := json.Unmarshal(row.RichContent, &view.RichContent); err != nil {
			return view, fmt.Errorf("rich content: %w", err)
		}
	}
	if len(row.RetrievedIDs) > 0 {
		if err := json.Unmarshal(row.RetrievedIDs, &view.RetrievedIDs); err != nil {
			return view, fmt.Errorf("retrieved ids: %w", err)
		}
	}
	if len(row.Filters) > 0 {
		view.Filters = &retrieval.Filters{}
		if err := json.Unmarshal(row.Filters, view.Filters); err != nil {
			return view, fmt.Errorf("filters: %w", err)
		}
	}
	return view, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
