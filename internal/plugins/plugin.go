package plugins

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

// Plugin is one ingestion channel. The registry owns its lifecycle; routes
// are mounted once under /plugins/<name>/ and stay mounted across
// enable/disable toggles.
type Plugin interface {
	Name() string
	DisplayName() string
	Icon() string
	Version() string
	Categories() []string

	// DefaultSettings are registered insert-if-absent at startup so edited
	// values survive restarts and upgrades.
	DefaultSettings() []settings.Definition

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Routes(group *gin.RouterGroup)

	// HealthCheck maps each dependency the channel needs to a status string:
	// "ok" or "error: <reason>".
	HealthCheck(ctx context.Context) map[string]string
}

// PushPlugin receives external events over a webhook.
type PushPlugin interface {
	Plugin

	// ProcessWebhook normalizes one webhook payload into a document. A nil
	// document with nil error means the event carried nothing indexable.
	ProcessWebhook(ctx context.Context, payload []byte) (*retrieval.Document, error)
}

// PullPlugin scans an external source on demand.
type PullPlugin interface {
	Plugin

	Sync(ctx context.Context, force bool) (*SyncReport, error)
	SyncStatus() SyncStatus
	CancelSync()
}

// EnabledKey is the settings flag that toggles a channel.
func EnabledKey(name string) string {
	return "plugin_" + name + "_enabled"
}
