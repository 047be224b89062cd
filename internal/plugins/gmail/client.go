package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/lifelogd/lifelog-backend/internal/platform/ctxutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
)

const processedLabel = "lifelog-processed"

// Attachment is one downloadable part of a message. Data is nil until the
// part is fetched through GetAttachment.
type Attachment struct {
	Filename     string
	MimeType     string
	AttachmentID string
	Data         []byte
}

// Message is the normalized shape of one mail.
type Message struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	To          string
	Date        time.Time
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
}

// Mailbox is the slice of the Gmail API the channel consumes.
type Mailbox interface {
	Profile(ctx context.Context) (string, error)
	ListUnprocessed(ctx context.Context, query string, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	MarkProcessed(ctx context.Context, id string) error
}

type mailbox struct {
	svc            *gmailapi.Service
	log            *logger.Logger
	processedLabel string
	labelID        string
}

// NewMailbox builds the Gmail service from OAuth credentials and a stored
// token, both JSON blobs from settings.
func NewMailbox(ctx context.Context, credentialsJSON, tokenJSON string, baseLog *logger.Logger) (Mailbox, error) {
	ctx = ctxutil.Default(ctx)
	cfg, err := google.ConfigFromJSON([]byte(credentialsJSON), gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(tokenJSON), &token); err != nil {
		return nil, fmt.Errorf("parse gmail token: %w", err)
	}
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &mailbox{
		svc:            svc,
		log:            baseLog.With("service", "GmailMailbox"),
		processedLabel: processedLabel,
	}, nil
}

func (m *mailbox) Profile(ctx context.Context) (string, error) {
	profile, err := m.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return profile.EmailAddress, nil
}

// ListUnprocessed returns message ids matching the query, excluding anything
// already carrying the processed label.
func (m *mailbox) ListUnprocessed(ctx context.Context, query string, max int64) ([]string, error) {
	q := "-label:" + m.processedLabel
	if strings.TrimSpace(query) != "" {
		q += " " + query
	}

	var ids []string
	pageToken := ""
	for {
		call := m.svc.Users.Messages.List("me").Q(q).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		remaining := max - int64(len(ids))
		if remaining <= 0 {
			break
		}
		if remaining < 500 {
			call = call.MaxResults(remaining)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" || int64(len(ids)) >= max {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

func (m *mailbox) GetMessage(ctx context.Context, id string) (*Message, error) {
	raw, err := m.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	msg := &Message{ID: raw.Id, ThreadID: raw.ThreadId}
	if raw.Payload == nil {
		return msg, nil
	}
	for _, h := range raw.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = h.Value
		case "date":
			if t, err := parseMailDate(h.Value); err == nil {
				msg.Date = t
			}
		}
	}
	if msg.Date.IsZero() && raw.InternalDate > 0 {
		msg.Date = time.UnixMilli(raw.InternalDate).UTC()
	}
	collectParts(raw.Payload, msg)
	return msg, nil
}

func (m *mailbox) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := m.svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return base64.URLEncoding.DecodeString(body.Data)
}

// MarkProcessed adds the processed label, creating it on first use.
func (m *mailbox) MarkProcessed(ctx context.Context, id string) error {
	labelID, err := m.ensureLabel(ctx)
	if err != nil {
		return err
	}
	_, err = m.svc.Users.Messages.Modify("me", id, &gmailapi.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	return err
}

func (m *mailbox) ensureLabel(ctx context.Context) (string, error) {
	if m.labelID != "" {
		return m.labelID, nil
	}
	labels, err := m.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels.Labels {
		if l.Name == m.processedLabel {
			m.labelID = l.Id
			return l.Id, nil
		}
	}
	created, err := m.svc.Users.Labels.Create("me", &gmailapi.Label{
		Name:                  m.processedLabel,
		LabelListVisibility:   "labelHide",
		MessageListVisibility: "hide",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label: %w", err)
	}
	m.labelID = created.Id
	return created.Id, nil
}

// collectParts walks the MIME tree accumulating bodies and attachment refs.
func collectParts(part *gmailapi.MessagePart, msg *Message) {
	if part == nil {
		return
	}
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:     part.Filename,
			MimeType:     part.MimeType,
			AttachmentID: part.Body.AttachmentId,
		})
	} else if part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain") && msg.BodyText == "":
				msg.BodyText = string(decoded)
			case strings.HasPrefix(part.MimeType, "text/html") && msg.BodyHTML == "":
				msg.BodyHTML = string(decoded)
			}
		}
	}
	for _, child := range part.Parts {
		collectParts(child, msg)
	}
}

func parseMailDate(v string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	}
	v = strings.TrimSpace(v)
	// Strip a trailing "(UTC)" style comment.
	if idx := strings.Index(v, " ("); idx > 0 {
		v = v[:idx]
	}
	var last error
	for _, layout := range layouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		last = err
	}
	return time.Time{}, last
}
