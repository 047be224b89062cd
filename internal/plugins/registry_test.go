package plugins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/db"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

type fakePlugin struct {
	name   string
	initFn func(ctx context.Context) error

	initCalls     int
	shutdownCalls int
}

func (f *fakePlugin) Name() string                           { return f.name }
func (f *fakePlugin) DisplayName() string                    { return f.name }
func (f *fakePlugin) Icon() string                           { return "box" }
func (f *fakePlugin) Version() string                        { return "0.0.1" }
func (f *fakePlugin) Categories() []string                   { return nil }
func (f *fakePlugin) DefaultSettings() []settings.Definition { return nil }

func (f *fakePlugin) Initialize(ctx context.Context) error {
	f.initCalls++
	if f.initFn != nil {
		return f.initFn(ctx)
	}
	return nil
}

func (f *fakePlugin) Shutdown(ctx context.Context) error {
	f.shutdownCalls++
	return nil
}

func (f *fakePlugin) Routes(group *gin.RouterGroup) {
	group.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": f.name})
	})
}

func (f *fakePlugin) HealthCheck(ctx context.Context) map[string]string {
	return map[string]string{"self": "ok"}
}

func newTestRegistry(t *testing.T) *Registry {
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
	sv := settings.NewService(repos.NewSettingRepo(sqlite.DB(), log), log)
	return NewRegistry(sv, log)
}

func TestRegistryLoadsAndSurvivesBadPlugin(t *testing.T) {
	reg := newTestRegistry(t)
	good := &fakePlugin{name: "good"}
	bad := &fakePlugin{name: "bad", initFn: func(ctx context.Context) error {
		return errors.New("missing credentials")
	}}

	reg.Load(context.Background(), []Plugin{bad, good})

	if reg.IsEnabled("bad") {
		t.Error("failed plugin must stay disabled")
	}
	if !reg.IsEnabled("good") {
		t.Error("healthy plugin must load despite a failing sibling")
	}
	if _, ok := reg.Get("bad"); !ok {
		t.Error("failed plugin must stay discoverable")
	}
}

func TestRegistryDisabledRouteNoOps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := newTestRegistry(t)
	p := &fakePlugin{name: "chan"}
	reg.Load(context.Background(), []Plugin{p})

	router := gin.New()
	reg.Mount(router.Group("/plugins"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins/chan/ping", nil))
	if rec.Code != http.StatusOK || rec.Body.String() == "" {
		t.Fatalf("enabled route status = %d", rec.Code)
	}

	if err := reg.Disable(context.Background(), "chan"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins/chan/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled route status = %d, want 200 no-op", rec.Code)
	}
	if want := `"disabled"`; !strings.Contains(rec.Body.String(), want) {
		t.Errorf("disabled route body = %s, want %s marker", rec.Body.String(), want)
	}
	if p.shutdownCalls != 1 {
		t.Errorf("shutdown calls = %d, want 1", p.shutdownCalls)
	}
}

func TestRegistryEnableReinitializes(t *testing.T) {
	reg := newTestRegistry(t)
	p := &fakePlugin{name: "chan"}
	ctx := context.Background()
	reg.Load(ctx, []Plugin{p})

	if err := reg.Disable(ctx, "chan"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := reg.Enable(ctx, "chan"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !reg.IsEnabled("chan") {
		t.Error("plugin must be enabled again")
	}
	if p.initCalls != 2 {
		t.Errorf("init calls = %d, want 2", p.initCalls)
	}
}

func TestRegistryDisabledFlagSkipsInitialize(t *testing.T) {
	reg := newTestRegistry(t)
	t.Setenv("PLUGIN_CHAN_ENABLED", "false")
	p := &fakePlugin{name: "chan"}
	reg.Load(context.Background(), []Plugin{p})

	if reg.IsEnabled("chan") {
		t.Error("env-disabled plugin must not be enabled")
	}
	if p.initCalls != 0 {
		t.Errorf("init calls = %d, want 0", p.initCalls)
	}
}

func TestRegistryHealthReportsDisabled(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	reg.Load(ctx, []Plugin{&fakePlugin{name: "chan"}})
	if err := reg.Disable(ctx, "chan"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	health := reg.Health(ctx)
	if got := health["chan"]["plugin"]; got != "disabled" {
		t.Errorf("health = %q, want disabled", got)
	}
}
