package recordings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/db"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/platform/transcribe"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type fakeTranscriber struct {
	transcribeFn func(ctx context.Context, path string) (*transcribe.Result, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*transcribe.Result, error) {
	if f.transcribeFn != nil {
		return f.transcribeFn(ctx, path)
	}
	return &transcribe.Result{Text: "hello world", DurationSec: 3}, nil
}

func (f *fakeTranscriber) Close() error { return nil }

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

func newTestSetup(t *testing.T, tr transcribe.Transcriber) (*Plugin, *Worker, repos.RecordingRepo, *captureStore) {
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
	repo := repos.NewRecordingRepo(sqlite.DB(), log)
	sv := settings.NewService(repos.NewSettingRepo(sqlite.DB(), log), log)
	store := &captureStore{}
	ing := retrieval.NewIngestor(store, embedStub{}, nil, log)
	if tr == nil {
		tr = &fakeTranscriber{}
	}
	worker := NewWorker(repo, tr, log)
	return New(ing, repo, worker, sv, log), worker, repo, store
}

func writeAudio(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not really audio but good enough"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestSyncRegistersNewRecordings(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "call1.mp3")
	writeAudio(t, dir, "call2.wav")
	writeAudio(t, dir, "notes.txt")

	p, _, repo, _ := newTestSetup(t, nil)
	t.Setenv("RECORDINGS_FOLDER", dir)

	report, err := p.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Counts.Synced != 2 {
		t.Errorf("synced = %d, want 2 audio files", report.Counts.Synced)
	}

	pending, err := repo.ListByStatus(context.Background(), nil, types.RecordingPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
	for _, rec := range pending {
		if rec.ContentHash == "" {
			t.Errorf("recording %s has no content hash", rec.Path)
		}
	}
}

func TestSyncSkipsKnownPaths(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "call1.mp3")

	p, _, _, _ := newTestSetup(t, nil)
	t.Setenv("RECORDINGS_FOLDER", dir)

	if _, err := p.Sync(context.Background(), false); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	report, err := p.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.Counts.Synced != 0 || report.Counts.Skipped != 1 {
		t.Errorf("synced/skipped = %d/%d, want 0/1", report.Counts.Synced, report.Counts.Skipped)
	}
}

func TestWorkerTranscribesWithSpeakerLabels(t *testing.T) {
	dir := t.TempDir()
	path := writeAudio(t, dir, "call1.mp3")

	tr := &fakeTranscriber{
		transcribeFn: func(ctx context.Context, p string) (*transcribe.Result, error) {
			return &transcribe.Result{
				Text: "hi how are you fine thanks",
				Segments: []transcribe.Segment{
					{Speaker: 1, Text: "hi how are you", StartSec: 0, EndSec: 2},
					{Speaker: 2, Text: "fine thanks", StartSec: 2, EndSec: 3},
				},
				DurationSec: 3,
			}, nil
		},
	}
	_, worker, repo, _ := newTestSetup(t, tr)

	ctx := context.Background()
	if err := repo.Create(ctx, nil, &types.RecordingFile{Path: path, ContentHash: "h1", Status: types.RecordingPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := repo.GetByPath(ctx, nil, path)
	worker.transcribeOne(ctx, rec.ID)

	got, _ := repo.Get(ctx, nil, rec.ID)
	if got.Status != types.RecordingTranscribed {
		t.Fatalf("status = %s, want transcribed (error: %s)", got.Status, got.ErrorMessage)
	}
	want := "Speaker 1: hi how are you\nSpeaker 2: fine thanks\n"
	if got.Transcript != want {
		t.Errorf("transcript = %q, want %q", got.Transcript, want)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestWorkerMarksErrorOnTranscribeFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeAudio(t, dir, "call1.mp3")

	tr := &fakeTranscriber{
		transcribeFn: func(ctx context.Context, p string) (*transcribe.Result, error) {
			return nil, errors.New("unsupported sample rate")
		},
	}
	_, worker, repo, _ := newTestSetup(t, tr)

	ctx := context.Background()
	_ = repo.Create(ctx, nil, &types.RecordingFile{Path: path, ContentHash: "h1", Status: types.RecordingPending})
	rec, _ := repo.GetByPath(ctx, nil, path)
	worker.transcribeOne(ctx, rec.ID)

	got, _ := repo.Get(ctx, nil, rec.ID)
	if got.Status != types.RecordingError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorType != types.RecordingErrorGeneric {
		t.Errorf("error_type = %s, want generic", got.ErrorType)
	}
}

func TestWorkerCopiesLockedFileAfterRetry(t *testing.T) {
	dir := t.TempDir()
	path := writeAudio(t, dir, "call1.mp3")

	var gotPath string
	tr := &fakeTranscriber{
		transcribeFn: func(ctx context.Context, p string) (*transcribe.Result, error) {
			gotPath = p
			return &transcribe.Result{Text: "hello", DurationSec: 1}, nil
		},
	}
	_, worker, repo, _ := newTestSetup(t, tr)
	worker.retryWait = time.Millisecond
	failures := 3
	worker.openFile = func(p string) (*os.File, error) {
		if failures > 0 {
			failures--
			return nil, &os.PathError{Op: "open", Path: p, Err: syscall.EBUSY}
		}
		return os.Open(p)
	}

	ctx := context.Background()
	_ = repo.Create(ctx, nil, &types.RecordingFile{Path: path, ContentHash: "h1", Status: types.RecordingPending})
	rec, _ := repo.GetByPath(ctx, nil, path)
	worker.transcribeOne(ctx, rec.ID)

	got, _ := repo.Get(ctx, nil, rec.ID)
	if got.Status != types.RecordingTranscribed {
		t.Fatalf("status = %s, want transcribed (error: %s)", got.Status, got.ErrorMessage)
	}
	if gotPath == "" {
		t.Fatal("transcriber never ran")
	}
	if gotPath == path {
		t.Error("transcriber got the locked path, want a temp copy")
	}
}

func TestWorkerCategorizesPersistentLock(t *testing.T) {
	dir := t.TempDir()
	path := writeAudio(t, dir, "call1.mp3")

	_, worker, repo, _ := newTestSetup(t, nil)
	worker.retryWait = time.Millisecond
	worker.openFile = func(p string) (*os.File, error) {
		return nil, &os.PathError{Op: "open", Path: p, Err: syscall.EBUSY}
	}

	ctx := context.Background()
	_ = repo.Create(ctx, nil, &types.RecordingFile{Path: path, ContentHash: "h1", Status: types.RecordingPending})
	rec, _ := repo.GetByPath(ctx, nil, path)
	worker.transcribeOne(ctx, rec.ID)

	got, _ := repo.Get(ctx, nil, rec.ID)
	if got.Status != types.RecordingError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.ErrorType != types.RecordingErrorFileLocked {
		t.Errorf("error_type = %s, want file_locked", got.ErrorType)
	}
}

func TestApproveIngestsTranscriptAndFlipsStatus(t *testing.T) {
	p, _, repo, store := newTestSetup(t, nil)

	ctx := context.Background()
	err := repo.Create(ctx, nil, &types.RecordingFile{
		Path:        "/audio/call1.mp3",
		ContentHash: "abc123",
		Status:      types.RecordingTranscribed,
		Transcript:  "Speaker 1: let us schedule the handover for Tuesday morning\n",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := repo.GetByPath(ctx, nil, "/audio/call1.mp3")

	if err := p.Approve(ctx, rec.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, _ := repo.Get(ctx, nil, rec.ID)
	if got.Status != types.RecordingApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if len(store.points) != 1 {
		t.Fatalf("points = %d, want 1", len(store.points))
	}
	if store.points[0].Payload[qdrant.FieldSourceID] != "call_recording:abc123" {
		t.Errorf("source_id = %v", store.points[0].Payload[qdrant.FieldSourceID])
	}
}

func TestApproveRejectsPendingRecording(t *testing.T) {
	p, _, repo, _ := newTestSetup(t, nil)

	ctx := context.Background()
	_ = repo.Create(ctx, nil, &types.RecordingFile{Path: "/audio/x.mp3", Status: types.RecordingPending})
	rec, _ := repo.GetByPath(ctx, nil, "/audio/x.mp3")
	if err := p.Approve(ctx, rec.ID); err == nil {
		t.Fatal("approving a pending recording must fail")
	}
}

func TestStaleTranscribingResetOnSync(t *testing.T) {
	dir := t.TempDir()
	p, _, repo, _ := newTestSetup(t, nil)
	t.Setenv("RECORDINGS_FOLDER", dir)

	ctx := context.Background()
	stale := time.Now().UTC().Add(-time.Hour)
	_ = repo.Create(ctx, nil, &types.RecordingFile{Path: "/audio/stuck.mp3", Status: types.RecordingPending})
	rec, _ := repo.GetByPath(ctx, nil, "/audio/stuck.mp3")
	_ = repo.UpdateFields(ctx, nil, rec.ID, map[string]any{
		"status":     types.RecordingTranscribing,
		"started_at": &stale,
	})

	if _, err := p.Sync(ctx, false); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, _ := repo.Get(ctx, nil, rec.ID)
	if got.Status != types.RecordingPending {
		t.Errorf("status = %s, want pending after stale reset", got.Status)
	}
}
