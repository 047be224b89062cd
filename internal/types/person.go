package types

import (
	"time"
)

// Script classification of a name or alias.
type Script string

const (
	ScriptHebrew  Script = "hebrew"
	ScriptLatin   Script = "latin"
	ScriptMixed   Script = "mixed"
	ScriptNumeric Script = "numeric"
	ScriptUnknown Script = "unknown"
)

// Roles a person can have on an asset.
const (
	RoleSender      = "sender"
	RoleRecipient   = "recipient"
	RoleMentioned   = "mentioned"
	RoleParticipant = "participant"
	RoleOwner       = "owner"
)

// Asset-to-asset relation types. Edges point from child to parent.
const (
	EdgeThreadMember = "thread_member"
	EdgeAttachmentOf = "attachment_of"
	EdgeChunkOf      = "chunk_of"
	EdgeReplyTo      = "reply_to"
	EdgeReferences   = "references"
	EdgeTranscriptOf = "transcript_of"
)

type Person struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CanonicalName string     `gorm:"not null;index" json:"canonical_name"`
	DisplayName   string     `gorm:"column:display_name" json:"display_name"`
	WhatsappID    *string    `gorm:"column:whatsapp_id;index" json:"whatsapp_id,omitempty"`
	Phone         *string    `gorm:"index" json:"phone,omitempty"`
	Email         *string    `gorm:"index" json:"email,omitempty"`
	IsGroup       bool       `gorm:"not null;default:false" json:"is_group"`
	Confidence    float64    `gorm:"not null;default:1" json:"confidence"`
	FirstSeen     time.Time  `gorm:"not null" json:"first_seen"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`

	Aliases       []PersonAlias        `gorm:"constraint:OnDelete:CASCADE;foreignKey:PersonID" json:"aliases,omitempty"`
	Facts         []PersonFact         `gorm:"constraint:OnDelete:CASCADE;foreignKey:PersonID" json:"facts,omitempty"`
	Relationships []PersonRelationship `gorm:"constraint:OnDelete:CASCADE;foreignKey:PersonID" json:"relationships,omitempty"`
}

func (Person) TableName() string { return "persons" }

type PersonAlias struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonID  int64     `gorm:"not null;index;uniqueIndex:idx_alias_person_text" json:"person_id"`
	Alias     string    `gorm:"not null;uniqueIndex:idx_alias_person_text" json:"alias"`
	Script    Script    `gorm:"not null;default:unknown" json:"script"`
	Source    string    `gorm:"not null;default:manual" json:"source"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (PersonAlias) TableName() string { return "person_aliases" }

type PersonFact struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonID    int64     `gorm:"not null;index;uniqueIndex:idx_fact_person_key" json:"person_id"`
	FactKey     string    `gorm:"column:fact_key;not null;uniqueIndex:idx_fact_person_key" json:"key"`
	FactValue   string    `gorm:"column:fact_value;not null" json:"value"`
	Confidence  float64   `gorm:"not null;default:0.5" json:"confidence"`
	SourceType  string    `gorm:"not null;default:manual" json:"source_type"`
	SourceRef   string    `json:"source_ref,omitempty"`
	SourceQuote string    `json:"source_quote,omitempty"`
	ExtractedAt time.Time `gorm:"not null" json:"extracted_at"`
}

func (PersonFact) TableName() string { return "person_facts" }

type PersonRelationship struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonID        int64     `gorm:"not null;index;uniqueIndex:idx_rel_tuple" json:"person_id"`
	RelatedPersonID int64     `gorm:"not null;index;uniqueIndex:idx_rel_tuple" json:"related_person_id"`
	RelType         string    `gorm:"column:rel_type;not null;uniqueIndex:idx_rel_tuple" json:"type"`
	Confidence      float64   `gorm:"not null;default:0.5" json:"confidence"`
	SourceRef       string    `json:"source_ref,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

func (PersonRelationship) TableName() string { return "person_relationships" }

// PersonAsset links a person to an indexed asset. AssetRef equals the vector
// payload's source_id.
type PersonAsset struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonID   int64     `gorm:"not null;index;uniqueIndex:idx_person_asset" json:"person_id"`
	AssetType  string    `gorm:"not null;index" json:"asset_type"`
	AssetRef   string    `gorm:"not null;index;uniqueIndex:idx_person_asset" json:"asset_ref"`
	Role       string    `gorm:"not null;uniqueIndex:idx_person_asset" json:"role"`
	Confidence float64   `gorm:"not null;default:1" json:"confidence"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (PersonAsset) TableName() string { return "person_assets" }

type AssetAssetEdge struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SrcAssetRef  string    `gorm:"not null;index;uniqueIndex:idx_asset_edge" json:"src_asset_ref"`
	DstAssetRef  string    `gorm:"not null;index;uniqueIndex:idx_asset_edge" json:"dst_asset_ref"`
	RelationType string    `gorm:"not null;uniqueIndex:idx_asset_edge" json:"relation_type"`
	Confidence   float64   `gorm:"not null;default:1" json:"confidence"`
	Provenance   string    `json:"provenance,omitempty"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (AssetAssetEdge) TableName() string { return "asset_asset_edges" }
