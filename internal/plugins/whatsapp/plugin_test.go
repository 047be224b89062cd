package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/db"
	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

type captureStore struct {
	points []qdrant.Point
}

func (c *captureStore) EnsureCollection(ctx context.Context) error { return nil }
func (c *captureStore) Reset(ctx context.Context) error            { return nil }

func (c *captureStore) Upsert(ctx context.Context, points []qdrant.Point) error {
	c.points = append(c.points, points...)
	return nil
}

func (c *captureStore) Query(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]qdrant.ScoredPoint, error) {
	return nil, nil
}

func (c *captureStore) Scroll(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
	return nil, nil, nil
}

func (c *captureStore) Count(ctx context.Context, filter *qdrant.Filter) (int, error) {
	return len(c.points), nil
}

func (c *captureStore) Delete(ctx context.Context, filter *qdrant.Filter) error { return nil }

func (c *captureStore) PointExists(ctx context.Context, sourceID string) (bool, error) {
	for _, p := range c.points {
		if p.Payload[qdrant.FieldSourceID] == sourceID {
			return true, nil
		}
	}
	return false, nil
}

type embedStub struct{}

func (embedStub) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (embedStub) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (embedStub) Chat(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
	return openai.ChatResult{}, nil
}

func (embedStub) ChatModel() string { return "test" }

func newTestPlugin(t *testing.T) (*Plugin, *captureStore, identity.Service) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	sqlite, err := db.NewInMemory(log)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := sqlite.AutoMigrateAll(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	idsvc := identity.NewService(sqlite.DB(), repos.NewPersonRepo(sqlite.DB(), log), repos.NewGraphRepo(sqlite.DB(), log), log)
	sv := settings.NewService(repos.NewSettingRepo(sqlite.DB(), log), log)
	store := &captureStore{}
	ing := retrieval.NewIngestor(store, embedStub{}, idsvc, log)
	return New(ing, idsvc, sv, log), store, idsvc
}

func newTestRouter(p *Plugin) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	p.Routes(router.Group("/plugins/whatsapp"))
	return router
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookIngestsMessageAndResolvesSender(t *testing.T) {
	p, store, idsvc := newTestPlugin(t)
	router := newTestRouter(p)

	rec := postJSON(router, "/plugins/whatsapp/webhook", WebhookMessage{
		MessageID:   "1000",
		ChatID:      "chat_A",
		ChatName:    "Family",
		SenderName:  "Alice Cohen",
		SenderPhone: "+972-50-123-4567",
		Message:     "We meet at Bistro at 7pm on Friday.",
		Timestamp:   1000,
		IsGroup:     true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(store.points) != 1 {
		t.Fatalf("points = %d, want 1", len(store.points))
	}
	payload := store.points[0].Payload
	if payload[qdrant.FieldSourceID] != "chat_A:1000" {
		t.Errorf("source_id = %v", payload[qdrant.FieldSourceID])
	}
	if payload[qdrant.FieldChatName] != "Family" {
		t.Errorf("chat_name = %v", payload[qdrant.FieldChatName])
	}

	person, err := idsvc.FindPersonByPhone(context.Background(), "+972501234567")
	if err != nil || person == nil {
		t.Fatalf("sender not resolvable by phone: %v", err)
	}
	if person.CanonicalName != "Alice Cohen" {
		t.Errorf("canonical = %q", person.CanonicalName)
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	p, store, _ := newTestPlugin(t)
	t.Setenv("WHATSAPP_WEBHOOK_SECRET", "topsecret")
	router := newTestRouter(p)

	rec := postJSON(router, "/plugins/whatsapp/webhook", WebhookMessage{
		MessageID: "1", ChatID: "c", SenderName: "A", Message: "hello there everyone",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(store.points) != 0 {
		t.Error("unauthorized webhook must not ingest")
	}
}

func TestWebhookIgnoresEmptyMessage(t *testing.T) {
	p, store, _ := newTestPlugin(t)
	router := newTestRouter(p)

	rec := postJSON(router, "/plugins/whatsapp/webhook", WebhookMessage{
		MessageID: "2", ChatID: "chat_A", SenderName: "Alice", Message: "   ",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.points) != 0 {
		t.Errorf("points = %d, want 0", len(store.points))
	}
}

func TestWebhookFlushesConversationChunkAtFive(t *testing.T) {
	p, store, _ := newTestPlugin(t)
	router := newTestRouter(p)

	texts := []string{
		"did you see the game last night",
		"yes what a finish",
		"we should go to one together",
		"next month maybe",
		"deal, I will check tickets",
	}
	for i, text := range texts {
		rec := postJSON(router, "/plugins/whatsapp/webhook", WebhookMessage{
			MessageID:  "m" + string(rune('0'+i)),
			ChatID:     "chat_A",
			ChatName:   "Family",
			SenderName: "Alice",
			Message:    text,
			Timestamp:  int64(1000 + i),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("message %d status = %d", i, rec.Code)
		}
	}

	chunkFound := false
	for _, pt := range store.points {
		if pt.Payload[qdrant.FieldContentType] == retrieval.ContentTypeConversationChunk {
			chunkFound = true
			if ts, _ := pt.Payload[qdrant.FieldTimestamp].(int64); ts != 0 {
				t.Errorf("conversation chunk timestamp = %d, want 0", ts)
			}
		}
	}
	if !chunkFound {
		t.Errorf("no conversation chunk after %d messages, points = %d", len(texts), len(store.points))
	}
}

func TestProcessWebhookLIDGuardDropsFakePhone(t *testing.T) {
	p, _, idsvc := newTestPlugin(t)
	router := newTestRouter(p)

	rec := postJSON(router, "/plugins/whatsapp/webhook", WebhookMessage{
		MessageID:   "9",
		ChatID:      "chat_B",
		ChatName:    "Direct",
		SenderID:    "123456789@lid",
		SenderName:  "Linked Contact",
		SenderPhone: "123456789",
		Message:     "message through a linked device session",
		Timestamp:   2000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	person, err := idsvc.FindPersonByPhone(context.Background(), "123456789")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if person != nil {
		t.Error("linked-id pseudo phone must not be stored as a real phone")
	}
}

func TestSeedContactsEndpoint(t *testing.T) {
	p, _, idsvc := newTestPlugin(t)
	router := newTestRouter(p)

	rec := postJSON(router, "/plugins/whatsapp/seed-contacts", ContactPayload{
		Contacts: []identity.Contact{
			{Name: "Alice Cohen", Phone: "+972501234567"},
			{Name: "status", WhatsappID: "status@broadcast"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	persons, err := idsvc.ListPersons(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(persons) != 1 {
		t.Errorf("persons = %d, want 1 (system contact skipped)", len(persons))
	}
}
