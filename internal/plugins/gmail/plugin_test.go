package gmail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lifelogd/lifelog-backend/internal/db"
	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/openai"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/repos"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
)

type fakeMailbox struct {
	messages map[string]*Message
	attached map[string][]byte
	marked   []string
}

func (f *fakeMailbox) Profile(ctx context.Context) (string, error) { return "me@example.com", nil }

func (f *fakeMailbox) ListUnprocessed(ctx context.Context, query string, max int64) ([]string, error) {
	var ids []string
	for id := range f.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*Message, error) {
	return f.messages[id], nil
}

func (f *fakeMailbox) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	return f.attached[attachmentID], nil
}

func (f *fakeMailbox) MarkProcessed(ctx context.Context, id string) error {
	f.marked = append(f.marked, id)
	return nil
}

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

func newTestPlugin(t *testing.T, mb Mailbox) (*Plugin, *captureStore, identity.Service) {
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
	idsvc := identity.NewService(sqlite.DB(), repos.NewPersonRepo(sqlite.DB(), log), repos.NewGraphRepo(sqlite.DB(), log), log)
	sv := settings.NewService(repos.NewSettingRepo(sqlite.DB(), log), log)
	store := &captureStore{}
	ing := retrieval.NewIngestor(store, embedStub{}, idsvc, log)

	p := New(store, ing, idsvc, sv, log)
	p.mailbox = mb
	return p, store, idsvc
}

func TestSyncIngestsMessageAndLinksSender(t *testing.T) {
	mb := &fakeMailbox{
		messages: map[string]*Message{
			"m1": {
				ID:       "m1",
				Subject:  "Dinner plans",
				From:     "Alice Cohen <alice@example.com>",
				Date:     time.Unix(1700000000, 0).UTC(),
				BodyText: "Let's meet at the Bistro at 7pm on Friday evening.",
			},
		},
	}
	p, store, idsvc := newTestPlugin(t, mb)

	report, err := p.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Counts.Synced != 1 {
		t.Fatalf("synced = %d, want 1", report.Counts.Synced)
	}
	if len(mb.marked) != 1 || mb.marked[0] != "m1" {
		t.Errorf("marked = %v, want [m1]", mb.marked)
	}
	if len(store.points) != 1 {
		t.Fatalf("points = %d, want 1", len(store.points))
	}
	payload := store.points[0].Payload
	if payload[qdrant.FieldSourceID] != "gmail:m1" {
		t.Errorf("source_id = %v", payload[qdrant.FieldSourceID])
	}
	if got, _ := payload[qdrant.FieldMessage].(string); strings.Contains(got, "Email: Dinner plans") {
		t.Error("payload must not carry the embedding header")
	}

	persons, err := idsvc.ResolveName(context.Background(), "Alice Cohen")
	if err != nil || len(persons) != 1 {
		t.Fatalf("sender person not created: %v %d", err, len(persons))
	}
	if persons[0].Email == nil || *persons[0].Email != "alice@example.com" {
		t.Errorf("sender email not stored: %+v", persons[0].Email)
	}
}

func TestSyncSkipsShortBodiesButMarks(t *testing.T) {
	mb := &fakeMailbox{
		messages: map[string]*Message{
			"m2": {ID: "m2", Subject: "ok", From: "bob@example.com", Date: time.Now(), BodyText: "ok thx"},
		},
	}
	p, store, _ := newTestPlugin(t, mb)

	report, err := p.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Counts.Synced != 0 {
		t.Errorf("synced = %d, want 0", report.Counts.Synced)
	}
	if len(mb.marked) != 1 {
		t.Errorf("short mail must still be marked, marked = %v", mb.marked)
	}
	if len(store.points) != 0 {
		t.Errorf("points = %d, want 0", len(store.points))
	}
}

func TestSyncIndexesTextAttachments(t *testing.T) {
	mb := &fakeMailbox{
		messages: map[string]*Message{
			"m3": {
				ID:       "m3",
				Subject:  "Meeting notes",
				From:     "Alice Cohen <alice@example.com>",
				Date:     time.Unix(1700000000, 0).UTC(),
				BodyText: "Attached are the notes from today's planning meeting.",
				Attachments: []Attachment{
					{Filename: "notes.txt", MimeType: "text/plain", AttachmentID: "a1"},
					{Filename: "photo.jpg", MimeType: "image/jpeg", AttachmentID: "a2"},
				},
			},
		},
		attached: map[string][]byte{
			"a1": []byte("Decisions: ship the retrieval change next week."),
			"a2": {0xff, 0xd8},
		},
	}
	p, store, _ := newTestPlugin(t, mb)

	report, err := p.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Counts.Attachments != 1 {
		t.Fatalf("attachments = %d, want 1 (image excluded)", report.Counts.Attachments)
	}
	foundAtt := false
	for _, pt := range store.points {
		if pt.Payload[qdrant.FieldSourceID] == "gmail:m3:att:notes.txt" {
			foundAtt = true
		}
	}
	if !foundAtt {
		t.Errorf("attachment point missing, points = %d", len(store.points))
	}
}
