package plugins

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
)

// Item is one candidate a pull source discovered. Fetch is deferred so the
// pipeline can skip already-indexed items without touching the source again.
type Item struct {
	SourceID string

	// Fetch loads and normalizes the item. The first document is the item
	// itself; any further documents are attachments.
	Fetch func(ctx context.Context) ([]retrieval.Document, []retrieval.PersonLink, error)

	// Mark flags the item processed at the source so the next discovery
	// excludes it. Nil when the source has no processed marker.
	Mark func(ctx context.Context) error
}

// Source discovers unprocessed candidates, newest first, already filtered by
// the channel's own criteria.
type Source interface {
	Discover(ctx context.Context, maxItems int) ([]Item, error)
}

// SyncCounts is the outcome tally of one sync run.
type SyncCounts struct {
	Synced      int `json:"synced"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
	Marked      int `json:"marked"`
	Attachments int `json:"attachments"`
}

// SyncReport describes one finished (or failed) run.
type SyncReport struct {
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Force      bool       `json:"force"`
	Counts     SyncCounts `json:"counts"`
	Error      string     `json:"error,omitempty"`
}

// SyncStatus is the live view polled by /sync/status.
type SyncStatus struct {
	Syncing bool        `json:"syncing"`
	Last    *SyncReport `json:"last,omitempty"`
}

// Pipeline runs the shared sync template for one channel: discover, dedup,
// fetch, ingest, mark processed. One run at a time per channel.
type Pipeline struct {
	name     string
	store    qdrant.Store
	ingestor *retrieval.Ingestor
	log      *logger.Logger

	mu      sync.Mutex
	syncing bool
	cancel  context.CancelFunc
	last    *SyncReport
}

func NewPipeline(name string, store qdrant.Store, ingestor *retrieval.Ingestor, baseLog *logger.Logger) *Pipeline {
	return &Pipeline{
		name:     name,
		store:    store,
		ingestor: ingestor,
		log:      baseLog.With("service", "SyncPipeline", "channel", name),
	}
}

// Status reports whether a run is in flight plus the last finished report.
func (p *Pipeline) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SyncStatus{Syncing: p.syncing, Last: p.last}
}

// Cancel asks an in-flight run to stop at the next item boundary.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Run executes one sync. An empty collection turns force on so a wiped index
// rebuilds even though the source still carries processed markers.
func (p *Pipeline) Run(ctx context.Context, source Source, maxItems int, force bool) (*SyncReport, error) {
	p.mu.Lock()
	if p.syncing {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: sync already running", p.name)
	}
	ctx, cancel := context.WithCancel(ctxutil.Default(ctx))
	p.syncing = true
	p.cancel = cancel
	p.mu.Unlock()

	report := &SyncReport{StartedAt: time.Now().UTC(), Force: force}
	defer func() {
		cancel()
		report.FinishedAt = time.Now().UTC()
		p.mu.Lock()
		p.syncing = false
		p.cancel = nil
		p.last = report
		p.mu.Unlock()
	}()

	if !force {
		count, err := p.store.Count(ctx, nil)
		if err != nil {
			report.Error = err.Error()
			return report, fmt.Errorf("%s: count collection: %w", p.name, err)
		}
		if count == 0 {
			p.log.Info("collection is empty, forcing full sync")
			force = true
			report.Force = true
		}
	}

	items, err := source.Discover(ctx, maxItems)
	if err != nil {
		report.Error = err.Error()
		return report, fmt.Errorf("%s: discover: %w", p.name, err)
	}
	p.log.Info("sync discovered items", "items", len(items), "force", force)

	for _, item := range items {
		if ctx.Err() != nil {
			report.Error = "cancelled"
			p.log.Warn("sync cancelled", "counts", report.Counts)
			return report, nil
		}
		p.syncOne(ctx, item, force, &report.Counts)
	}

	p.log.Info("sync finished",
		"synced", report.Counts.Synced,
		"skipped", report.Counts.Skipped,
		"errors", report.Counts.Errors,
		"marked", report.Counts.Marked,
		"attachments", report.Counts.Attachments)
	return report, nil
}

func (p *Pipeline) syncOne(ctx context.Context, item Item, force bool, counts *SyncCounts) {
	if !force {
		exists, err := p.store.PointExists(ctx, item.SourceID)
		if err != nil {
			counts.Errors++
			p.log.Warn("dedup check failed", "source_id", item.SourceID, "error", err)
			return
		}
		if exists {
			// Already indexed but the source never learned; mark so the next
			// discovery stops returning it.
			counts.Skipped++
			p.mark(ctx, item, counts)
			return
		}
	}

	docs, links, err := item.Fetch(ctx)
	if err != nil {
		counts.Errors++
		p.log.Warn("fetch failed", "source_id", item.SourceID, "error", err)
		return
	}
	if len(docs) == 0 {
		counts.Skipped++
		p.mark(ctx, item, counts)
		return
	}

	failed := false
	for i, doc := range docs {
		outcome, err := p.ingestor.Ingest(ctx, doc, links, force)
		if err != nil {
			counts.Errors++
			p.log.Warn("ingest failed", "source_id", doc.Common.SourceID, "error", err)
			failed = true
			continue
		}
		switch {
		case outcome != retrieval.OutcomeInserted:
			counts.Skipped++
		case i == 0:
			counts.Synced++
		default:
			counts.Attachments++
		}
	}
	if !failed {
		p.mark(ctx, item, counts)
	}
}

func (p *Pipeline) mark(ctx context.Context, item Item, counts *SyncCounts) {
	if item.Mark == nil {
		return
	}
	if err := item.Mark(ctx); err != nil {
		counts.Errors++
		p.log.Warn("mark processed failed", "source_id", item.SourceID, "error", err)
		return
	}
	counts.Marked++
}
