package retrieval

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lifelogd/lifelog-backend/internal/platform/qdrant"
)

// CommonMeta is the channel-independent half of every document.
type CommonMeta struct {
	Source      string
	SourceID    string
	ContentType string
	ChatName    string
	Sender      string
	Timestamp   int64
	IsGroup     bool
}

// Body is the tagged content variant. Channels construct exactly one kind.
type Body interface {
	// Text returns the primary text to chunk and embed.
	Text() string
	// EmbeddingHeader is prepended to the embedding text only, never stored
	// in the payload. Empty for plain messages.
	EmbeddingHeader() string
}

type TextBody struct {
	Content string
}

func (b TextBody) Text() string            { return b.Content }
func (b TextBody) EmbeddingHeader() string { return "" }

// EmailBody carries a subject and sender that frame the embedding so short
// bodies still retrieve by topic.
type EmailBody struct {
	Subject string
	From    string
	Content string
}

func (b EmailBody) Text() string { return b.Content }

func (b EmailBody) EmbeddingHeader() string {
	return fmt.Sprintf("Email: %s\nFrom: %s\n\n", b.Subject, b.From)
}

// TranscriptBody is a diarized call transcript. Speaker labels are already
// inlined in the content.
type TranscriptBody struct {
	Content  string
	Duration int64
}

func (b TranscriptBody) Text() string            { return b.Content }
func (b TranscriptBody) EmbeddingHeader() string { return "" }

// Document is the unit every channel hands to the ingestor.
type Document struct {
	Common CommonMeta
	Body   Body
	// Extras are channel-specific payload fields stored verbatim.
	Extras map[string]any
}

// nodeNamespace seeds the deterministic point ids.
var nodeNamespace = uuid.MustParse("8c9b2a74-52cd-4a8f-9a34-5d18f0b77f01")

// NodeID derives the stable point id for a chunk. Re-ingesting the same
// (source, source_id, chunk) always yields the same id.
func NodeID(source, sourceID string, chunkIndex int) string {
	return uuid.NewSHA1(nodeNamespace, []byte(fmt.Sprintf("%s|%s|%d", source, sourceID, chunkIndex))).String()
}

// ChunkSourceID is the per-chunk source id: the base for chunk 0, and
// "<base>:chunk:<i>" for the rest.
func ChunkSourceID(base string, chunkIndex int) string {
	if chunkIndex == 0 {
		return base
	}
	return fmt.Sprintf("%s:chunk:%d", base, chunkIndex)
}

// payload projects a document chunk into the vector payload map.
func (d Document) payload(chunkSourceID, chunkText string) map[string]any {
	out := map[string]any{
		qdrant.FieldSource:      d.Common.Source,
		qdrant.FieldSourceID:    chunkSourceID,
		qdrant.FieldContentType: d.Common.ContentType,
		qdrant.FieldTimestamp:   d.Common.Timestamp,
		qdrant.FieldIsGroup:     d.Common.IsGroup,
		qdrant.FieldMessage:     chunkText,
	}
	if d.Common.ChatName != "" {
		out[qdrant.FieldChatName] = d.Common.ChatName
	}
	if d.Common.Sender != "" {
		out[qdrant.FieldSender] = d.Common.Sender
	}
	for k, v := range d.Extras {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	return out
}

// Validate rejects documents the ingestor cannot place.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Common.Source) == "" {
		return fmt.Errorf("document has no source")
	}
	if strings.TrimSpace(d.Common.SourceID) == "" {
		return fmt.Errorf("document has no source_id")
	}
	if d.Body == nil {
		return fmt.Errorf("document has no body")
	}
	return nil
}
