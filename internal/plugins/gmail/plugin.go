package gmail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

const (
	sourceName  = "gmail"
	contentType = "gmail"

	// MinBodyChars drops boilerplate-only mails (delivery receipts, empty
	// calendar responses) after sanitization.
	MinBodyChars = 20
)

// Plugin is the pull channel for a Gmail mailbox.
type Plugin struct {
	ingestor *retrieval.Ingestor
	identity identity.Service
	settings settings.Service
	pipeline *plugins.Pipeline
	log      *logger.Logger

	mailbox Mailbox
}

func New(store qdrant.Store, ingestor *retrieval.Ingestor, idsvc identity.Service, sv settings.Service, baseLog *logger.Logger) *Plugin {
	return &Plugin{
		ingestor: ingestor,
		identity: idsvc,
		settings: sv,
		pipeline: plugins.NewPipeline(sourceName, store, ingestor, baseLog),
		log:      baseLog.With("service", "GmailPlugin"),
	}
}

func (p *Plugin) Name() string         { return sourceName }
func (p *Plugin) DisplayName() string  { return "Gmail" }
func (p *Plugin) Icon() string         { return "mail" }
func (p *Plugin) Version() string      { return "1.1.0" }
func (p *Plugin) Categories() []string { return []string{"email"} }

func (p *Plugin) DefaultSettings() []settings.Definition {
	return []settings.Definition{
		{Key: "gmail.credentials_json", Category: sourceName, Type: types.SettingSecret,
			Description: "OAuth client credentials JSON"},
		{Key: "gmail.token_json", Category: sourceName, Type: types.SettingSecret,
			Description: "OAuth token JSON from the consent flow"},
		{Key: "gmail.query", Default: "-category:promotions -category:social", Category: sourceName, Type: types.SettingText,
			Description: "Extra Gmail search query applied on discovery"},
		{Key: "gmail.max_items", Default: "100", Category: sourceName, Type: types.SettingInt,
			Description: "Maximum messages fetched per sync run"},
		{Key: "gmail.index_attachments", Default: "true", Category: sourceName, Type: types.SettingBool,
			Description: "Index text attachments alongside the message body"},
	}
}

// Initialize builds the mailbox when credentials are configured. Missing
// credentials leave the plugin discovered but inert; health reports why.
func (p *Plugin) Initialize(ctx context.Context) error {
	creds := p.settings.Get(ctx, "gmail.credentials_json")
	token := p.settings.Get(ctx, "gmail.token_json")
	if creds == "" || token == "" {
		p.log.Warn("gmail credentials not configured, channel stays idle")
		return nil
	}
	mb, err := NewMailbox(ctx, creds, token, p.log)
	if err != nil {
		return fmt.Errorf("gmail mailbox: %w", err)
	}
	p.mailbox = mb
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
	if p.mailbox == nil {
		return map[string]string{"mailbox": "error: credentials not configured"}
	}
	if _, err := p.mailbox.Profile(ctx); err != nil {
		return map[string]string{"mailbox": "error: " + err.Error()}
	}
	return map[string]string{"mailbox": "ok"}
}

// Sync runs one pull over the mailbox.
func (p *Plugin) Sync(ctx context.Context, force bool) (*plugins.SyncReport, error) {
	if p.mailbox == nil {
		return nil, fmt.Errorf("gmail: credentials not configured")
	}
	maxItems := p.settings.GetInt(ctx, "gmail.max_items", 100)
	return p.pipeline.Run(ctx, &source{plugin: p}, maxItems, force)
}

func (p *Plugin) SyncStatus() plugins.SyncStatus { return p.pipeline.Status() }
func (p *Plugin) CancelSync()                    { p.pipeline.Cancel() }

type source struct {
	plugin *Plugin
}

func (s *source) Discover(ctx context.Context, maxItems int) ([]plugins.Item, error) {
	p := s.plugin
	query := p.settings.Get(ctx, "gmail.query")
	ids, err := p.mailbox.ListUnprocessed(ctx, query, int64(maxItems))
	if err != nil {
		return nil, err
	}
	items := make([]plugins.Item, 0, len(ids))
	for _, id := range ids {
		msgID := id
		items = append(items, plugins.Item{
			SourceID: fmt.Sprintf("%s:%s", sourceName, msgID),
			Fetch: func(ctx context.Context) ([]retrieval.Document, []retrieval.PersonLink, error) {
				return p.fetchMessage(ctx, msgID)
			},
			Mark: func(ctx context.Context) error {
				return p.mailbox.MarkProcessed(ctx, msgID)
			},
		})
	}
	return items, nil
}

// fetchMessage normalizes one mail into a document plus text attachments.
func (p *Plugin) fetchMessage(ctx context.Context, id string) ([]retrieval.Document, []retrieval.PersonLink, error) {
	msg, err := p.mailbox.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	body := SanitizeBody(msg.BodyText, msg.BodyHTML)
	if len([]rune(body)) < MinBodyChars {
		return nil, nil, nil
	}

	senderName, senderEmail := ParseAddress(msg.From)
	sender := senderName
	if sender == "" {
		sender = senderEmail
	}
	baseID := fmt.Sprintf("%s:%s", sourceName, msg.ID)
	docs := []retrieval.Document{{
		Common: retrieval.CommonMeta{
			Source:      sourceName,
			SourceID:    baseID,
			ContentType: contentType,
			ChatName:    msg.Subject,
			Sender:      sender,
			Timestamp:   msg.Date.Unix(),
		},
		Body: retrieval.EmailBody{Subject: msg.Subject, From: msg.From, Content: body},
		Extras: map[string]any{
			"thread_id": msg.ThreadID,
			"to":        msg.To,
		},
	}}

	if p.settings.GetBool(ctx, "gmail.index_attachments", true) {
		docs = append(docs, p.fetchAttachments(ctx, msg, baseID)...)
	}

	var links []retrieval.PersonLink
	if senderName != "" || senderEmail != "" {
		personID, err := p.identity.GetOrCreatePerson(ctx, identity.GetOrCreateInput{
			CanonicalName: sender,
			Email:         senderEmail,
		})
		if err != nil {
			p.log.Warn("sender resolution failed", "from", msg.From, "error", err)
		} else {
			links = append(links, retrieval.PersonLink{PersonID: personID, Role: types.RoleSender, Confidence: 1})
		}
	}
	return docs, links, nil
}

func (p *Plugin) fetchAttachments(ctx context.Context, msg *Message, baseID string) []retrieval.Document {
	var docs []retrieval.Document
	for _, att := range msg.Attachments {
		if !indexableAttachment(att) {
			continue
		}
		data, err := p.mailbox.GetAttachment(ctx, msg.ID, att.AttachmentID)
		if err != nil {
			p.log.Warn("attachment fetch failed", "message", msg.ID, "filename", att.Filename, "error", err)
			continue
		}
		text := string(data)
		if strings.HasPrefix(att.MimeType, "text/html") {
			text = HTMLToText(text)
		}
		if len([]rune(strings.TrimSpace(text))) < MinBodyChars {
			continue
		}
		docs = append(docs, retrieval.Document{
			Common: retrieval.CommonMeta{
				Source:      sourceName,
				SourceID:    fmt.Sprintf("%s:att:%s", baseID, att.Filename),
				ContentType: contentType,
				ChatName:    msg.Subject,
				Sender:      msg.From,
				Timestamp:   msg.Date.Unix(),
			},
			Body:   retrieval.TextBody{Content: text},
			Extras: map[string]any{"attachment": att.Filename},
		})
	}
	return docs
}

// indexableAttachment keeps text formats the chunker can use directly.
func indexableAttachment(att Attachment) bool {
	if strings.HasPrefix(att.MimeType, "text/") {
		return true
	}
	lower := strings.ToLower(att.Filename)
	for _, ext := range []string{".txt", ".md", ".csv", ".log"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (p *Plugin) handleSync(c *gin.Context) {
	force := c.Query("force") == "true"
	if p.mailbox == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "credentials not configured"})
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
