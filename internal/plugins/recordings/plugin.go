package recordings

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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

const (
	sourceName  = "recordings"
	contentType = "call_recording"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
	".amr":  true,
}

// Plugin is the call-recording channel: folder scan into a status table,
// single-worker transcription, then an explicit approve step that ingests
// the reviewed transcript.
type Plugin struct {
	ingestor *retrieval.Ingestor
	repo     repos.RecordingRepo
	settings settings.Service
	worker   *Worker
	log      *logger.Logger

	mu      sync.Mutex
	syncing bool
	last    *plugins.SyncReport
}

func New(ingestor *retrieval.Ingestor, repo repos.RecordingRepo, worker *Worker, sv settings.Service, baseLog *logger.Logger) *Plugin {
	return &Plugin{
		ingestor: ingestor,
		repo:     repo,
		settings: sv,
		worker:   worker,
		log:      baseLog.With("service", "RecordingsPlugin"),
	}
}

func (p *Plugin) Name() string         { return sourceName }
func (p *Plugin) DisplayName() string  { return "Call Recordings" }
func (p *Plugin) Icon() string         { return "phone" }
func (p *Plugin) Version() string      { return "1.3.1" }
func (p *Plugin) Categories() []string { return []string{"audio"} }

func (p *Plugin) DefaultSettings() []settings.Definition {
	return []settings.Definition{
		{Key: "recordings.folder", Category: sourceName, Type: types.SettingText,
			Description: "Folder scanned for call recordings"},
		{Key: "recordings.max_items", Default: "50", Category: sourceName, Type: types.SettingInt,
			Description: "Maximum new recordings queued per scan"},
	}
}

func (p *Plugin) Initialize(ctx context.Context) error {
	p.worker.Start()
	return nil
}

func (p *Plugin) Shutdown(ctx context.Context) error {
	p.worker.Stop()
	return nil
}

func (p *Plugin) Routes(group *gin.RouterGroup) {
	group.POST("/sync", p.handleSync)
	group.GET("/sync/status", p.handleSyncStatus)
	group.GET("/recordings", p.handleList)
	group.POST("/recordings/:id/approve", p.handleApprove)
	group.POST("/recordings/:id/retry", p.handleRetry)
	group.GET("/test", p.handleTest)
}

func (p *Plugin) HealthCheck(ctx context.Context) map[string]string {
	out := map[string]string{}
	folder := p.settings.Get(ctx, "recordings.folder")
	if folder == "" {
		out["folder"] = "error: not configured"
	} else if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		out["folder"] = "error: not a readable directory"
	} else {
		out["folder"] = "ok"
	}
	counts, err := p.repo.CountByStatus(ctx, nil)
	if err != nil {
		out["status_table"] = "error: " + err.Error()
	} else {
		out["status_table"] = "ok"
		out["pending"] = strconv.FormatInt(counts[types.RecordingPending], 10)
		out["errors"] = strconv.FormatInt(counts[types.RecordingError], 10)
	}
	return out
}

// Sync scans the folder, registers new files as pending and queues every
// pending row on the worker. Stale transcribing rows are reset first.
func (p *Plugin) Sync(ctx context.Context, force bool) (*plugins.SyncReport, error) {
	folder := p.settings.Get(ctx, "recordings.folder")
	if folder == "" {
		return nil, fmt.Errorf("recordings: folder not configured")
	}

	p.mu.Lock()
	if p.syncing {
		p.mu.Unlock()
		return nil, fmt.Errorf("recordings: sync already running")
	}
	p.syncing = true
	p.mu.Unlock()

	report := &plugins.SyncReport{StartedAt: time.Now().UTC(), Force: force}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		p.mu.Lock()
		p.syncing = false
		p.last = report
		p.mu.Unlock()
	}()

	reset, err := p.repo.ResetStale(ctx, nil, time.Now().UTC().Add(-StaleAfter))
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	if reset > 0 {
		p.log.Warn("reset stale transcribing rows", "reset", reset)
	}

	maxItems := p.settings.GetInt(ctx, "recordings.max_items", 50)
	if err := p.scanFolder(ctx, folder, maxItems, &report.Counts); err != nil {
		report.Error = err.Error()
		return report, err
	}

	pending, err := p.repo.ListByStatus(ctx, nil, types.RecordingPending)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	for _, rec := range pending {
		p.worker.Enqueue(rec.ID)
	}
	p.log.Info("recording scan finished", "new", report.Counts.Synced, "queued", len(pending))
	return report, nil
}

func (p *Plugin) SyncStatus() plugins.SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return plugins.SyncStatus{Syncing: p.syncing, Last: p.last}
}

func (p *Plugin) CancelSync() {}

func (p *Plugin) scanFolder(ctx context.Context, folder string, maxItems int, counts *plugins.SyncCounts) error {
	found := 0
	return filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || found >= maxItems {
			return nil
		}
		if !audioExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		existing, err := p.repo.GetByPath(ctx, nil, path)
		if err != nil {
			return err
		}
		if existing != nil {
			counts.Skipped++
			return nil
		}

		hash, size, err := hashAudio(path)
		if err != nil {
			counts.Errors++
			p.log.Warn("hashing failed", "path", path, "error", err)
			return nil
		}
		err = p.repo.Create(ctx, nil, &types.RecordingFile{
			Path:        path,
			ContentHash: hash,
			SizeBytes:   size,
			Status:      types.RecordingPending,
		})
		if err != nil {
			counts.Errors++
			p.log.Warn("recording registration failed", "path", path, "error", err)
			return nil
		}
		counts.Synced++
		found++
		return nil
	})
}

// Approve ingests the reviewed transcript and flips the row to approved.
func (p *Plugin) Approve(ctx context.Context, id int64) error {
	rec, err := p.repo.Get(ctx, nil, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("recording %d not found", id)
	}
	if rec.Status != types.RecordingTranscribed {
		return fmt.Errorf("recording %d is %s, only transcribed recordings can be approved", id, rec.Status)
	}
	if strings.TrimSpace(rec.Transcript) == "" {
		return fmt.Errorf("recording %d has an empty transcript", id)
	}

	doc := retrieval.Document{
		Common: retrieval.CommonMeta{
			Source:      sourceName,
			SourceID:    fmt.Sprintf("%s:%s", contentType, rec.ContentHash),
			ContentType: contentType,
			ChatName:    filepath.Base(rec.Path),
			Timestamp:   rec.CreatedAt.Unix(),
		},
		Body:   retrieval.TranscriptBody{Content: rec.Transcript},
		Extras: map[string]any{"path": rec.Path},
	}
	if _, err := p.ingestor.Ingest(ctx, doc, nil, false); err != nil {
		return fmt.Errorf("ingest transcript: %w", err)
	}
	return p.repo.UpdateFields(ctx, nil, id, map[string]any{
		"status": types.RecordingApproved,
	})
}

// Retry puts an errored recording back on the queue.
func (p *Plugin) Retry(ctx context.Context, id int64) error {
	rec, err := p.repo.Get(ctx, nil, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("recording %d not found", id)
	}
	if rec.Status != types.RecordingError {
		return fmt.Errorf("recording %d is %s, only errored recordings can be retried", id, rec.Status)
	}
	err = p.repo.UpdateFields(ctx, nil, id, map[string]any{
		"status":        types.RecordingPending,
		"error_message": "",
		"error_type":    "",
		"progress":      "",
	})
	if err != nil {
		return err
	}
	p.worker.Enqueue(id)
	return nil
}

func hashAudio(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func (p *Plugin) handleSync(c *gin.Context) {
	force := c.Query("force") == "true"
	if p.settings.Get(c.Request.Context(), "recordings.folder") == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "folder not configured"})
		return
	}
	go func() {
		if _, err := p.Sync(context.Background(), force); err != nil {
			p.log.Error("scan failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (p *Plugin) handleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, p.SyncStatus())
}

func (p *Plugin) handleList(c *gin.Context) {
	recs, err := p.repo.List(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

func (p *Plugin) handleApprove(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}
	if err := p.Approve(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved", "id": id})
}

func (p *Plugin) handleRetry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recording id"})
		return
	}
	if err := p.Retry(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "id": id})
}

func (p *Plugin) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, p.HealthCheck(c.Request.Context()))
}

var _ plugins.PullPlugin = (*Plugin)(nil)
