package plugins

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/settings"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// PluginView is the admin API shape of one registered channel.
type PluginView struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Icon        string   `json:"icon"`
	Version     string   `json:"version"`
	Categories  []string `json:"categories,omitempty"`
	Enabled     bool     `json:"enabled"`
	Kind        string   `json:"kind"`
}

// Registry owns the channel set: settings registration, enable flags,
// lifecycle, route mounting and health aggregation. The set is fixed at
// build time; Load never fails on a single bad plugin.
type Registry struct {
	settings settings.Service
	log      *logger.Logger

	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	enabled map[string]bool
}

func NewRegistry(sv settings.Service, baseLog *logger.Logger) *Registry {
	return &Registry{
		settings: sv,
		log:      baseLog.With("service", "PluginRegistry"),
		plugins:  make(map[string]Plugin),
		enabled:  make(map[string]bool),
	}
}

// Load registers every plugin's settings and initializes the enabled ones.
// A plugin that fails to initialize stays registered and disabled; the rest
// of the set keeps loading.
func (r *Registry) Load(ctx context.Context, all []Plugin) {
	ctx = ctxutil.Default(ctx)
	for _, p := range all {
		name := p.Name()
		r.mu.Lock()
		if _, dup := r.plugins[name]; dup {
			r.mu.Unlock()
			r.log.Error("duplicate plugin name, skipping", "plugin", name)
			continue
		}
		r.plugins[name] = p
		r.order = append(r.order, name)
		r.mu.Unlock()

		defs := append([]settings.Definition{{
			Key:         EnabledKey(name),
			Default:     "true",
			Category:    name,
			Type:        types.SettingBool,
			Description: "Enable the " + p.DisplayName() + " channel",
		}}, p.DefaultSettings()...)
		if err := r.settings.Register(ctx, defs); err != nil {
			r.log.Error("settings registration failed", "plugin", name, "error", err)
			continue
		}

		if !r.settings.GetBool(ctx, EnabledKey(name), true) {
			r.log.Info("plugin disabled by settings", "plugin", name)
			continue
		}
		if err := p.Initialize(ctx); err != nil {
			r.log.Error("plugin initialization failed", "plugin", name, "error", err)
			continue
		}
		r.mu.Lock()
		r.enabled[name] = true
		r.mu.Unlock()
		r.log.Info("plugin loaded", "plugin", name, "version", p.Version())
	}
}

// Mount attaches every plugin's routes under /<name>/. Routes are mounted
// once regardless of the enabled flag; a guard turns requests to disabled
// channels into no-ops.
func (r *Registry) Mount(group *gin.RouterGroup) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		p := r.plugins[name]
		sub := group.Group("/" + name)
		sub.Use(r.enabledGuard(name))
		p.Routes(sub)
	}
}

func (r *Registry) enabledGuard(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.IsEnabled(name) {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{"status": "disabled", "plugin": name})
			return
		}
		c.Next()
	}
}

// Enable initializes the plugin and persists the flag.
func (r *Registry) Enable(ctx context.Context, name string) error {
	ctx = ctxutil.Default(ctx)
	p, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}
	if r.IsEnabled(name) {
		return nil
	}
	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", name, err)
	}
	if err := r.settings.Set(ctx, EnabledKey(name), "true"); err != nil {
		return err
	}
	r.mu.Lock()
	r.enabled[name] = true
	r.mu.Unlock()
	return nil
}

// Disable shuts the plugin down and persists the flag. Routes stay mounted
// and start answering with a disabled status.
func (r *Registry) Disable(ctx context.Context, name string) error {
	ctx = ctxutil.Default(ctx)
	p, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}
	if !r.IsEnabled(name) {
		return nil
	}
	if err := p.Shutdown(ctx); err != nil {
		r.log.Warn("plugin shutdown reported error", "plugin", name, "error", err)
	}
	if err := r.settings.Set(ctx, EnabledKey(name), "false"); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.enabled, name)
	r.mu.Unlock()
	return nil
}

func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns the registered set in registration order.
func (r *Registry) List() []PluginView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PluginView, 0, len(r.order))
	for _, name := range r.order {
		p := r.plugins[name]
		kind := "pull"
		if _, push := p.(PushPlugin); push {
			kind = "push"
		}
		out = append(out, PluginView{
			Name:        name,
			DisplayName: p.DisplayName(),
			Icon:        p.Icon(),
			Version:     p.Version(),
			Categories:  p.Categories(),
			Enabled:     r.enabled[name],
			Kind:        kind,
		})
	}
	return out
}

// Health aggregates per-plugin health checks for the enabled set. Disabled
// plugins report a single "disabled" status.
func (r *Registry) Health(ctx context.Context) map[string]map[string]string {
	ctx = ctxutil.Default(ctx)
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string]map[string]string, len(names))
	for _, name := range names {
		p, _ := r.Get(name)
		if !r.IsEnabled(name) {
			out[name] = map[string]string{"plugin": "disabled"}
			continue
		}
		out[name] = p.HealthCheck(ctx)
	}
	return out
}

// Shutdown stops every enabled plugin. Called on server drain.
func (r *Registry) Shutdown(ctx context.Context) {
	ctx = ctxutil.Default(ctx)
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()
	for _, name := range names {
		if !r.IsEnabled(name) {
			continue
		}
		p, _ := r.Get(name)
		if err := p.Shutdown(ctx); err != nil {
			r.log.Warn("plugin shutdown reported error", "plugin", name, "error", err)
		}
	}
}
