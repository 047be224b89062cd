package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/transcribe"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

// StaleAfter resets transcribing rows that stopped making progress; the
// worker died or the process restarted mid-job.
const StaleAfter = 30 * time.Minute

// lockOpenAttempts bounds the reopen retries on a locked file.
const lockOpenAttempts = 3

// Worker runs transcription jobs one at a time. Audio transcription is the
// bottleneck resource, so the pool size is fixed at one.
type Worker struct {
	repo        repos.RecordingRepo
	transcriber transcribe.Transcriber
	log         *logger.Logger

	jobs chan int64
	stop chan struct{}
	done chan struct{}

	openFile  func(string) (*os.File, error)
	retryWait time.Duration
}

func NewWorker(repo repos.RecordingRepo, tr transcribe.Transcriber, baseLog *logger.Logger) *Worker {
	return &Worker{
		repo:        repo,
		transcriber: tr,
		log:         baseLog.With("service", "TranscriptionWorker"),
		jobs:        make(chan int64, 64),
		openFile:    os.Open,
		retryWait:   2 * time.Second,
	}
}

func (w *Worker) Start() {
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop()
}

func (w *Worker) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	w.stop = nil
}

// Enqueue queues one recording. A full queue is not an error; the next scan
// re-enqueues everything still pending.
func (w *Worker) Enqueue(id int64) bool {
	select {
	case w.jobs <- id:
		return true
	default:
		w.log.Warn("transcription queue full, job deferred to next scan", "recording_id", id)
		return false
	}
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case id := <-w.jobs:
			w.transcribeOne(context.Background(), id)
		}
	}
}

func (w *Worker) transcribeOne(ctx context.Context, id int64) {
	rec, err := w.repo.Get(ctx, nil, id)
	if err != nil || rec == nil {
		w.log.Warn("job lookup failed", "recording_id", id, "error", err)
		return
	}
	if rec.Status != types.RecordingPending {
		return
	}
	if w.transcriber == nil {
		w.fail(ctx, id, errors.New("transcriber not configured"))
		return
	}

	now := time.Now().UTC()
	err = w.repo.UpdateFields(ctx, nil, id, map[string]any{
		"status":     types.RecordingTranscribing,
		"started_at": &now,
		"progress":   "preparing",
	})
	if err != nil {
		w.log.Error("status update failed", "recording_id", id, "error", err)
		return
	}

	path, cleanup, err := w.prepare(rec.Path)
	if err != nil {
		w.fail(ctx, id, err)
		return
	}
	defer cleanup()

	_ = w.repo.UpdateFields(ctx, nil, id, map[string]any{"progress": "transcribing"})
	result, err := w.transcriber.Transcribe(ctx, path)
	if err != nil {
		w.fail(ctx, id, err)
		return
	}

	transcript := FormatDiarized(result)
	done := time.Now().UTC()
	err = w.repo.UpdateFields(ctx, nil, id, map[string]any{
		"status":       types.RecordingTranscribed,
		"transcript":   transcript,
		"progress":     "done",
		"completed_at": &done,
	})
	if err != nil {
		w.log.Error("transcript persist failed", "recording_id", id, "error", err)
		return
	}
	w.log.Info("recording transcribed", "recording_id", id, "duration_sec", result.DurationSec)
}

func (w *Worker) fail(ctx context.Context, id int64, cause error) {
	w.log.Warn("transcription failed", "recording_id", id, "error", cause)
	_ = w.repo.UpdateFields(ctx, nil, id, map[string]any{
		"status":        types.RecordingError,
		"error_message": cause.Error(),
		"error_type":    categorize(cause),
	})
}

func categorize(err error) string {
	switch {
	case isLocked(err):
		return types.RecordingErrorFileLocked
	case transcribe.IsBadAudio(err):
		return types.RecordingErrorBadAudio
	default:
		return types.RecordingErrorGeneric
	}
}

// prepare hands back a readable path for the transcriber. A file held by a
// cloud-sync client is copied to a temp location first.
func (w *Worker) prepare(path string) (string, func(), error) {
	f, err := w.openFile(path)
	if err == nil {
		f.Close()
		return path, func() {}, nil
	}
	if !isLocked(err) {
		return "", nil, err
	}

	w.log.Info("recording is locked, copying to temp", "path", path)
	tmpPath, err := w.copyToTemp(path)
	if err != nil {
		return "", nil, fmt.Errorf("copy locked file: %w", err)
	}
	return tmpPath, func() { _ = os.Remove(tmpPath) }, nil
}

// openLocked waits out a lock held by a cloud-sync client; the handle is
// usually released within seconds.
func (w *Worker) openLocked(path string) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < lockOpenAttempts; attempt++ {
		time.Sleep(w.retryWait)
		f, err := w.openFile(path)
		if err == nil {
			return f, nil
		}
		if !isLocked(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (w *Worker) copyToTemp(path string) (string, error) {
	src, err := w.openLocked(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "recording-*"+filepath.Ext(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func isLocked(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ETXTBSY)
}

// FormatDiarized renders the transcript with speaker labels, one segment
// per line. An undiarized result falls back to the flat text.
func FormatDiarized(result *transcribe.Result) string {
	if result == nil {
		return ""
	}
	if len(result.Segments) == 0 {
		return result.Text
	}
	var out []byte
	for _, seg := range result.Segments {
		out = append(out, fmt.Sprintf("Speaker %d: %s\n", seg.Speaker, seg.Text)...)
	}
	return string(out)
}
