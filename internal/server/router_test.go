package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/chat"
	"github.com/lifelogd/lifelog-backend/internal/db"
	"github.com/lifelogd/lifelog-backend/internal/handlers"
	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/middleware"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/platform/redisx"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/scheduler"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

type fakeStore struct {
	points []qdrant.Point
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error { return nil }
func (f *fakeStore) Reset(ctx context.Context) error            { return nil }

func (f *fakeStore) Upsert(ctx context.Context, points []qdrant.Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]qdrant.ScoredPoint, error) {
	return nil, nil
}

func (f *fakeStore) Scroll(ctx context.Context, req qdrant.ScrollRequest) ([]qdrant.ScoredPoint, any, error) {
	return nil, nil, nil
}

func (f *fakeStore) Count(ctx context.Context, filter *qdrant.Filter) (int, error) {
	return len(f.points), nil
}

func (f *fakeStore) Delete(ctx context.Context, filter *qdrant.Filter) error { return nil }

func (f *fakeStore) PointExists(ctx context.Context, sourceID string) (bool, error) {
	return false, nil
}

type aiStub struct{}

func (aiStub) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (aiStub) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (aiStub) Chat(ctx context.Context, system string, messages []openai.ChatMessage) (openai.ChatResult, error) {
	return openai.ChatResult{Text: "stub answer", Model: "test"}, nil
}

func (aiStub) ChatModel() string { return "test" }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
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
	theDB := sqlite.DB()

	store := &fakeStore{}
	settingsService := settings.NewService(repos.NewSettingRepo(theDB, log), log)
	identityService := identity.NewService(theDB, repos.NewPersonRepo(theDB, log), repos.NewGraphRepo(theDB, log), log)
	retrievalEngine := retrieval.NewEngine(store, aiStub{}, nil, log)
	chatStore := chat.NewStore(repos.NewConversationRepo(theDB, log), log)
	chatEngine := chat.NewEngine(retrievalEngine, chatStore, func() (openai.Client, error) {
		return aiStub{}, nil
	}, log)
	schedulerService := scheduler.NewService(repos.NewTaskRepo(theDB, log), chatEngine, log)
	registry := plugins.NewRegistry(settingsService, log)
	registry.Load(context.Background(), nil)

	rateLimiter := redisx.NewRateLimiter(log, nil, 100, time.Minute)

	return NewRouter(RouterConfig{
		HealthHandler:       handlers.NewHealthHandler(theDB, store, nil, registry, log),
		RAGHandler:          handlers.NewRAGHandler(chatEngine, retrievalEngine, log),
		ConversationHandler: handlers.NewConversationHandler(chatStore, log),
		EntityHandler:       handlers.NewEntityHandler(identityService, log),
		ScheduledHandler:    handlers.NewScheduledHandler(schedulerService, log),
		PluginAdminHandler:  handlers.NewPluginAdminHandler(registry, store, retrievalEngine, settingsService, log),
		RateLimit:           middleware.NewRateLimitMiddleware(rateLimiter, log),
		Registry:            registry,
	})
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointReportsDependencies(t *testing.T) {
	router := newTestRouter(t)
	rec := do(router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Dependencies["sqlite"] != "up" || body.Dependencies["qdrant"] != "up" {
		t.Errorf("dependencies = %v", body.Dependencies)
	}
	if body.Dependencies["redis"] != "degraded" {
		t.Errorf("redis without a client = %q, want degraded", body.Dependencies["redis"])
	}
}

func TestScheduledTaskLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/scheduled", map[string]any{
		"name":           "daily digest",
		"prompt":         "what happened yesterday?",
		"schedule_type":  "daily",
		"schedule_value": "08:00",
		"timezone":       "Asia/Jerusalem",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(router, http.MethodGet, "/scheduled", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = do(router, http.MethodPost, "/scheduled/1/toggle", map[string]any{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(router, http.MethodPost, "/scheduled", map[string]any{
		"name": "broken", "prompt": "x",
		"schedule_type": "daily", "schedule_value": "99:00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid schedule status = %d, want 400", rec.Code)
	}
}

func TestEntitySeedAndSearchOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/entities/seed", map[string]any{
		"contacts": []map[string]any{
			{"name": "Alice Cohen", "phone": "+972501234567"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = do(router, http.MethodGet, "/entities/search?q=Alice+Cohen", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	var body struct {
		Persons []struct {
			CanonicalName string `json:"canonical_name"`
		} `json:"persons"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Persons) != 1 || body.Persons[0].CanonicalName != "Alice Cohen" {
		t.Errorf("persons = %+v", body.Persons)
	}
}

func TestPluginAdminListsEmptyRegistry(t *testing.T) {
	router := newTestRouter(t)
	rec := do(router, http.MethodGet, "/plugins", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = do(router, http.MethodPost, "/plugins/enable/nope", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("unknown plugin enable status = %d, want 409", rec.Code)
	}
}
