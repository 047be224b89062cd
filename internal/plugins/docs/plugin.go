package docs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

const (
	sourceName  = "docs"
	contentType = "document"
)

var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
	".log": true,
}

// Plugin is the pull channel over a local document folder. Files are
// content-addressed so a renamed file is not re-indexed and an edited file
// is.
type Plugin struct {
	ingestor *retrieval.Ingestor
	files    repos.RecordingRepo
	settings settings.Service
	pipeline *plugins.Pipeline
	log      *logger.Logger
}

func New(store qdrant.Store, ingestor *retrieval.Ingestor, files repos.RecordingRepo, sv settings.Service, baseLog *logger.Logger) *Plugin {
	return &Plugin{
		ingestor: ingestor,
		files:    files,
		settings: sv,
		pipeline: plugins.NewPipeline(sourceName, store, ingestor, baseLog),
		log:      baseLog.With("service", "DocsPlugin"),
	}
}

func (p *Plugin) Name() string         { return sourceName }
func (p *Plugin) DisplayName() string  { return "Documents" }
func (p *Plugin) Icon() string         { return "file-text" }
func (p *Plugin) Version() string      { return "1.0.2" }
func (p *Plugin) Categories() []string { return []string{"files"} }

func (p *Plugin) DefaultSettings() []settings.Definition {
	return []settings.Definition{
		{Key: "docs.folder", Category: sourceName, Type: types.SettingText,
			Description: "Folder scanned for text documents"},
		{Key: "docs.max_items", Default: "200", Category: sourceName, Type: types.SettingInt,
			Description: "Maximum files processed per sync run"},
	}
}

func (p *Plugin) Initialize(ctx context.Context) error {
	folder := p.settings.Get(ctx, "docs.folder")
	if folder == "" {
		p.log.Warn("document folder not configured, channel stays idle")
	}
	return nil
}

func (p *Plugin) Shutdown(ctx context.Context) error {
	p.pipeline.Cancel()
	return nil
}

func (p *Plugin) Routes(group *gin.RouterGroup) {
	group.POST("/sync", p.handleSync)
	group.GET("/sync/status", p.handleSyncStatus)
	group.POST("/sync/cancel", p.handleSyncCancel)
	group.GET("/test", p.handleTest)
}

func (p *Plugin) HealthCheck(ctx context.Context) map[string]string {
	folder := p.settings.Get(ctx, "docs.folder")
	if folder == "" {
		return map[string]string{"folder": "error: not configured"}
	}
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return map[string]string{"folder": "error: not a readable directory"}
	}
	return map[string]string{"folder": "ok"}
}

func (p *Plugin) Sync(ctx context.Context, force bool) (*plugins.SyncReport, error) {
	folder := p.settings.Get(ctx, "docs.folder")
	if folder == "" {
		return nil, fmt.Errorf("docs: folder not configured")
	}
	maxItems := p.settings.GetInt(ctx, "docs.max_items", 200)
	return p.pipeline.Run(ctx, &source{plugin: p, folder: folder}, maxItems, force)
}

func (p *Plugin) SyncStatus() plugins.SyncStatus { return p.pipeline.Status() }
func (p *Plugin) CancelSync()                    { p.pipeline.Cancel() }

type source struct {
	plugin *Plugin
	folder string
}

// Discover walks the folder and returns files whose content hash is new or
// changed. The hash is the source identity; the tracking row only avoids
// re-reading unchanged paths.
func (s *source) Discover(ctx context.Context, maxItems int) ([]plugins.Item, error) {
	p := s.plugin
	var items []plugins.Item

	err := filepath.WalkDir(s.folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || len(items) >= maxItems {
			return nil
		}
		if !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			p.log.Warn("hashing failed", "path", path, "error", err)
			return nil
		}
		tracked, err := p.files.GetDocFileByPath(ctx, nil, path)
		if err != nil {
			return err
		}
		if tracked != nil && tracked.Processed && tracked.ContentHash == hash {
			return nil
		}

		filePath := path
		items = append(items, plugins.Item{
			SourceID: fmt.Sprintf("%s:%s", contentType, hash),
			Fetch: func(ctx context.Context) ([]retrieval.Document, []retrieval.PersonLink, error) {
				return p.fetchFile(filePath, hash)
			},
			Mark: func(ctx context.Context) error {
				return p.files.UpsertDocFile(ctx, nil, &types.DocFile{
					Path:        filePath,
					ContentHash: hash,
					Processed:   true,
				})
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.folder, err)
	}
	return items, nil
}

func (p *Plugin) fetchFile(path, hash string) ([]retrieval.Document, []retrieval.PersonLink, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	doc := retrieval.Document{
		Common: retrieval.CommonMeta{
			Source:      sourceName,
			SourceID:    fmt.Sprintf("%s:%s", contentType, hash),
			ContentType: contentType,
			ChatName:    filepath.Base(path),
			Timestamp:   info.ModTime().Unix(),
		},
		Body:   retrieval.TextBody{Content: text},
		Extras: map[string]any{"path": path, "filename": filepath.Base(path)},
	}
	return []retrieval.Document{doc}, nil, nil
}

// hashFile streams SHA-256 over the file bytes.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Plugin) handleSync(c *gin.Context) {
	force := c.Query("force") == "true"
	if p.settings.Get(c.Request.Context(), "docs.folder") == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "folder not configured"})
		return
	}
	go func() {
		if _, err := p.Sync(context.Background(), force); err != nil {
			p.log.Error("sync failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "force": force})
}

func (p *Plugin) handleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, p.SyncStatus())
}

func (p *Plugin) handleSyncCancel(c *gin.Context) {
	p.CancelSync()
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (p *Plugin) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, p.HealthCheck(c.Request.Context()))
}

var _ plugins.PullPlugin = (*Plugin)(nil)
