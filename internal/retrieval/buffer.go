package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// ConversationChunkSize is how many messages a chat accumulates before
	// flushing a synthetic context point.
	ConversationChunkSize = 5
	// ConversationBufferTTL flushes a partial buffer that went quiet.
	ConversationBufferTTL = 10 * time.Minute

	ContentTypeConversationChunk = "conversation_chunk"
)

type bufferedMessage struct {
	Sender    string
	Text      string
	Timestamp int64
}

type chatBuffer struct {
	messages  []bufferedMessage
	lastWrite time.Time
}

// ConversationBuffer accumulates the last few messages per chat and emits a
// combined "conversation_chunk" document once a chat reaches
// ConversationChunkSize messages or goes quiet past the TTL. The emitted
// document carries timestamp 0 so it never answers recency or date queries.
type ConversationBuffer struct {
	mu     sync.Mutex
	chats  map[string]*chatBuffer
	size   int
	ttl    time.Duration
	source string
	now    func() time.Time
}

func NewConversationBuffer(source string) *ConversationBuffer {
	return &ConversationBuffer{
		chats:  make(map[string]*chatBuffer),
		size:   ConversationChunkSize,
		ttl:    ConversationBufferTTL,
		source: source,
		now:    time.Now,
	}
}

// Add records a message and returns a flush document when the chat's buffer
// is full. The returned document is ready for the ingestor.
func (b *ConversationBuffer) Add(chatName, sender, text string, timestamp int64) *Document {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.chats[chatName]
	if !ok {
		buf = &chatBuffer{}
		b.chats[chatName] = buf
	}
	buf.messages = append(buf.messages, bufferedMessage{Sender: sender, Text: text, Timestamp: timestamp})
	buf.lastWrite = b.now()

	if len(buf.messages) < b.size {
		return nil
	}
	doc := b.buildDocument(chatName, buf.messages)
	delete(b.chats, chatName)
	return doc
}

// FlushExpired emits documents for chats idle past the TTL.
func (b *ConversationBuffer) FlushExpired() []*Document {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.ttl)
	var out []*Document
	for chat, buf := range b.chats {
		if buf.lastWrite.After(cutoff) || len(buf.messages) == 0 {
			continue
		}
		out = append(out, b.buildDocument(chat, buf.messages))
		delete(b.chats, chat)
	}
	return out
}

// FlushAll drains every pending buffer. Called on shutdown.
func (b *ConversationBuffer) FlushAll() []*Document {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Document
	for chat, buf := range b.chats {
		if len(buf.messages) == 0 {
			continue
		}
		out = append(out, b.buildDocument(chat, buf.messages))
		delete(b.chats, chat)
	}
	return out
}

// buildDocument concatenates the buffered exchange into one embeddable text.
// The source id covers the message span so re-flushing the same span is
// deduplicated.
func (b *ConversationBuffer) buildDocument(chatName string, messages []bufferedMessage) *Document {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Sender)
		sb.WriteString(": ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	first := messages[0].Timestamp
	last := messages[len(messages)-1].Timestamp
	return &Document{
		Common: CommonMeta{
			Source:      b.source,
			SourceID:    fmt.Sprintf("%s:conv:%s:%d:%d", b.source, chatName, first, last),
			ContentType: ContentTypeConversationChunk,
			ChatName:    chatName,
			Timestamp:   0,
		},
		Body: TextBody{Content: sb.String()},
	}
}
