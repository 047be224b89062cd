package settings

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// Definition declares a setting a plugin or service owns: its key, default,
// category and how the value parses.
type Definition struct {
	Key         string
	Default     string
	Category    string
	Type        types.SettingType
	Description string
	Options     []string
}

// Service resolves configuration with env-over-db precedence: an environment
// variable named after the key (uppercased, dots to underscores) always wins
// over the stored row.
type Service interface {
	Register(ctx context.Context, defs []Definition) error
	Get(ctx context.Context, key string) string
	GetInt(ctx context.Context, key string, fallback int) int
	GetFloat(ctx context.Context, key string, fallback float64) float64
	GetBool(ctx context.Context, key string, fallback bool) bool
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]SettingView, error)
	Options(key string) []string
}

// SettingView is the API shape of a setting. Secret values are masked.
type SettingView struct {
	Key         string            `json:"key"`
	Value       string            `json:"value"`
	Category    string            `json:"category"`
	Type        types.SettingType `json:"type"`
	Description string            `json:"description,omitempty"`
	Options     []string          `json:"options,omitempty"`
	FromEnv     bool              `json:"from_env"`
}

type service struct {
	repo repos.SettingRepo
	log  *logger.Logger

	mu      sync.RWMutex
	options map[string][]string
}

func NewService(repo repos.SettingRepo, baseLog *logger.Logger) Service {
	return &service{
		repo:    repo,
		log:     baseLog.With("service", "SettingsService"),
		options: make(map[string][]string),
	}
}

// EnvKey maps a setting key to its environment override name:
// "whatsapp.webhook_secret" becomes "WHATSAPP_WEBHOOK_SECRET".
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func (s *service) Register(ctx context.Context, defs []Definition) error {
	ctx = ctxutil.Default(ctx)
	for _, def := range defs {
		if def.Key == "" {
			return fmt.Errorf("settings: definition with empty key")
		}
		category := def.Category
		if category == "" {
			category = "general"
		}
		settingType := def.Type
		if settingType == "" {
			settingType = types.SettingText
		}
		err := s.repo.InsertIfAbsent(ctx, nil, &types.PluginSetting{
			Key:         def.Key,
			Value:       def.Default,
			Category:    category,
			Type:        settingType,
			Description: def.Description,
		})
		if err != nil {
			return fmt.Errorf("register setting %q: %w", def.Key, err)
		}
		if len(def.Options) > 0 {
			s.mu.Lock()
			s.options[def.Key] = append([]string(nil), def.Options...)
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, key string) string {
	if v, ok := os.LookupEnv(EnvKey(key)); ok {
		return v
	}
	row, err := s.repo.Get(ctxutil.Default(ctx), nil, key)
	if err != nil {
		s.log.Warn("setting lookup failed", "key", key, "error", err)
		return ""
	}
	if row == nil {
		return ""
	}
	return row.Value
}

func (s *service) GetInt(ctx context.Context, key string, fallback int) int {
	raw := s.Get(ctx, key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn("setting is not an integer, using fallback", "key", key, "value", raw)
		return fallback
	}
	return v
}

func (s *service) GetFloat(ctx context.Context, key string, fallback float64) float64 {
	raw := s.Get(ctx, key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		s.log.Warn("setting is not a float, using fallback", "key", key, "value", raw)
		return fallback
	}
	return v
}

func (s *service) GetBool(ctx context.Context, key string, fallback bool) bool {
	raw := s.Get(ctx, key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn("setting is not a bool, using fallback", "key", key, "value", raw)
		return fallback
	}
	return v
}

func (s *service) Set(ctx context.Context, key, value string) error {
	ctx = ctxutil.Default(ctx)
	row, err := s.repo.Get(ctx, nil, key)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("settings: unknown key %q", key)
	}
	if row.Type == types.SettingSelect {
		if opts := s.Options(key); len(opts) > 0 && !contains(opts, value) {
			return fmt.Errorf("settings: %q is not a valid option for %q", value, key)
		}
	}
	return s.repo.SetValue(ctx, nil, key, value)
}

func (s *service) List(ctx context.Context) ([]SettingView, error) {
	ctx = ctxutil.Default(ctx)
	rows, err := s.repo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]SettingView, 0, len(rows))
	for _, row := range rows {
		view := SettingView{
			Key:         row.Key,
			Value:       row.Value,
			Category:    row.Category,
			Type:        row.Type,
			Description: row.Description,
			Options:     s.Options(row.Key),
		}
		if env, ok := os.LookupEnv(EnvKey(row.Key)); ok {
			view.Value = env
			view.FromEnv = true
		}
		if row.Type == types.SettingSecret && view.Value != "" {
			view.Value = mask(view.Value)
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *service) Options(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options[key]
}

func mask(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
