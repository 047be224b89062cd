package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelogd/lifelog-backend/internal/identity"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/plugins"
	"github.com/lifelogd/lifelog-backend/internal/retrieval"
	"github.com/lifelogd/lifelog-backend/internal/settings"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

const (
	sourceName  = "whatsapp"
	contentType = "whatsapp_msg"
)

// WebhookMessage is one inbound message event from the bridge.
type WebhookMessage struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	ChatName    string `json:"chat_name"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	SenderPhone string `json:"sender_phone"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	IsGroup     bool   `json:"is_group"`
}

// ContactPayload is the bridge's contact export used for seeding.
type ContactPayload struct {
	Contacts []identity.Contact `json:"contacts"`
}

// Plugin is the push channel for the WhatsApp bridge: webhook ingestion,
// person resolution and the rolling conversation buffer.
type Plugin struct {
	ingestor *retrieval.Ingestor
	identity identity.Service
	buffer   *retrieval.ConversationBuffer
	settings settings.Service
	log      *logger.Logger

	stop chan struct{}
	done chan struct{}
}

func New(ingestor *retrieval.Ingestor, idsvc identity.Service, sv settings.Service, baseLog *logger.Logger) *Plugin {
	return &Plugin{
		ingestor: ingestor,
		identity: idsvc,
		buffer:   retrieval.NewConversationBuffer(sourceName),
		settings: sv,
		log:      baseLog.With("service", "WhatsAppPlugin"),
	}
}

func (p *Plugin) Name() string         { return sourceName }
func (p *Plugin) DisplayName() string  { return "WhatsApp" }
func (p *Plugin) Icon() string         { return "message-circle" }
func (p *Plugin) Version() string      { return "1.2.0" }
func (p *Plugin) Categories() []string { return []string{"messaging"} }

func (p *Plugin) DefaultSettings() []settings.Definition {
	return []settings.Definition{
		{Key: "whatsapp.webhook_secret", Category: sourceName, Type: types.SettingSecret,
			Description: "Shared secret the bridge sends in X-Webhook-Secret"},
		{Key: "whatsapp.buffer_enabled", Default: "true", Category: sourceName, Type: types.SettingBool,
			Description: "Emit conversation_chunk context points from short message runs"},
	}
}

// Initialize starts the buffer TTL flusher.
func (p *Plugin) Initialize(ctx context.Context) error {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.flushLoop()
	return nil
}

// Shutdown stops the flusher and drains pending buffers.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.stop != nil {
		close(p.stop)
		<-p.done
		p.stop = nil
	}
	for _, doc := range p.buffer.FlushAll() {
		if _, err := p.ingestor.Ingest(ctx, *doc, nil, false); err != nil {
			p.log.Warn("buffer drain ingest failed", "source_id", doc.Common.SourceID, "error", err)
		}
	}
	return nil
}

func (p *Plugin) flushLoop() {
	defer close(p.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			for _, doc := range p.buffer.FlushExpired() {
				if _, err := p.ingestor.Ingest(ctx, *doc, nil, false); err != nil {
					p.log.Warn("buffer flush ingest failed", "source_id", doc.Common.SourceID, "error", err)
				}
			}
		}
	}
}

func (p *Plugin) Routes(group *gin.RouterGroup) {
	group.POST("/webhook", p.handleWebhook)
	group.POST("/seed-contacts", p.handleSeedContacts)
	group.GET("/test", p.handleTest)
}

func (p *Plugin) HealthCheck(ctx context.Context) map[string]string {
	out := map[string]string{"ingestor": "ok"}
	if p.settings.Get(ctx, "whatsapp.webhook_secret") == "" {
		out["webhook_secret"] = "error: not configured"
	} else {
		out["webhook_secret"] = "ok"
	}
	return out
}

// ProcessWebhook normalizes one bridge event into a document and resolves
// the sender in the person graph.
func (p *Plugin) ProcessWebhook(ctx context.Context, payload []byte) (*retrieval.Document, error) {
	var msg WebhookMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if strings.TrimSpace(msg.Message) == "" || msg.MessageID == "" {
		return nil, nil
	}
	doc := &retrieval.Document{
		Common: retrieval.CommonMeta{
			Source:      sourceName,
			SourceID:    fmt.Sprintf("%s:%s", msg.ChatID, msg.MessageID),
			ContentType: contentType,
			ChatName:    msg.ChatName,
			Sender:      msg.SenderName,
			Timestamp:   msg.Timestamp,
			IsGroup:     msg.IsGroup,
		},
		Body: retrieval.TextBody{Content: msg.Message},
	}
	return doc, nil
}

func (p *Plugin) handleWebhook(c *gin.Context) {
	if !p.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ctx := c.Request.Context()

	doc, err := p.ProcessWebhook(ctx, payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if doc == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var msg WebhookMessage
	_ = json.Unmarshal(payload, &msg)
	links := p.resolveSender(ctx, msg)

	outcome, err := p.ingestor.Ingest(ctx, *doc, links, false)
	if err != nil {
		p.log.Error("webhook ingest failed", "source_id", doc.Common.SourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}

	if p.settings.GetBool(ctx, "whatsapp.buffer_enabled", true) {
		if chunk := p.buffer.Add(msg.ChatName, msg.SenderName, msg.Message, msg.Timestamp); chunk != nil {
			if _, err := p.ingestor.Ingest(ctx, *chunk, nil, false); err != nil {
				p.log.Warn("conversation chunk ingest failed", "source_id", chunk.Common.SourceID, "error", err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome), "source_id": doc.Common.SourceID})
}

// resolveSender maps the sender onto the person graph. Resolution failures
// never reject the message.
func (p *Plugin) resolveSender(ctx context.Context, msg WebhookMessage) []retrieval.PersonLink {
	if msg.SenderName == "" {
		return nil
	}
	personID, err := p.identity.GetOrCreatePerson(ctx, identity.GetOrCreateInput{
		CanonicalName: msg.SenderName,
		WhatsappID:    msg.SenderID,
		Phone:         msg.SenderPhone,
		IsGroup:       false,
	})
	if err != nil {
		p.log.Warn("sender resolution failed", "sender", msg.SenderName, "error", err)
		return nil
	}
	return []retrieval.PersonLink{{PersonID: personID, Role: types.RoleSender, Confidence: 1}}
}

func (p *Plugin) handleSeedContacts(c *gin.Context) {
	if !p.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}
	var payload ContactPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := p.identity.SeedFromContacts(c.Request.Context(), payload.Contacts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (p *Plugin) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, p.HealthCheck(c.Request.Context()))
}

func (p *Plugin) authorized(c *gin.Context) bool {
	secret := p.settings.Get(c.Request.Context(), "whatsapp.webhook_secret")
	if secret == "" {
		// Unconfigured secret means the bridge runs on a trusted network.
		return true
	}
	return c.GetHeader("X-Webhook-Secret") == secret
}

var _ plugins.PushPlugin = (*Plugin)(nil)
