package types

import (
	"time"

	"gorm.io/datatypes"
)

type Conversation struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Turns []ConversationTurn `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConversationID" json:"turns,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

type ConversationTurn struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string         `gorm:"not null;index;uniqueIndex:idx_turn" json:"conversation_id"`
	TurnIndex      int            `gorm:"not null;uniqueIndex:idx_turn" json:"turn_index"`
	UserText       string         `gorm:"not null" json:"user_text"`
	AssistantText  string         `json:"assistant_text"`
	Sources        datatypes.JSON `json:"sources,omitempty"`
	RichContent    datatypes.JSON `json:"rich_content,omitempty"`
	RetrievedIDs   datatypes.JSON `gorm:"column:retrieved_ids" json:"retrieved_ids,omitempty"`
	Filters        datatypes.JSON `json:"filters,omitempty"`
	CostUSD        float64        `gorm:"column:cost_usd" json:"cost_usd"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (ConversationTurn) TableName() string { return "conversation_turns" }

// RichContentItem is an attachment rendered alongside an answer: an image,
// a calendar event, or a button prompt.
type RichContentItem struct {
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	Label    string `json:"label,omitempty"`
	Action   string `json:"action,omitempty"`
}
