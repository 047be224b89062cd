package types

import "time"

// RecordingStatus is the review-and-approve workflow state of a call
// recording: pending → transcribing → transcribed → approved | error.
type RecordingStatus string

const (
	RecordingPending      RecordingStatus = "pending"
	RecordingTranscribing RecordingStatus = "transcribing"
	RecordingTranscribed  RecordingStatus = "transcribed"
	RecordingApproved     RecordingStatus = "approved"
	RecordingError        RecordingStatus = "error"
)

// Transcription error categories surfaced to the UI.
const (
	RecordingErrorFileLocked = "file_locked"
	RecordingErrorBadAudio   = "bad_audio"
	RecordingErrorGeneric    = "generic"
)

type RecordingFile struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Path         string          `gorm:"not null;uniqueIndex" json:"path"`
	ContentHash  string          `gorm:"index" json:"content_hash,omitempty"`
	SizeBytes    int64           `json:"size_bytes"`
	Status       RecordingStatus `gorm:"not null;default:pending;index" json:"status"`
	Progress     string          `json:"progress,omitempty"`
	Transcript   string          `json:"transcript,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorType    string          `json:"error_type,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

func (RecordingFile) TableName() string { return "recording_files" }

// DocFile tracks files seen by the document pull channel so unchanged files
// are not re-read on every sync.
type DocFile struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Path        string    `gorm:"not null;uniqueIndex" json:"path"`
	ContentHash string    `gorm:"index" json:"content_hash"`
	Processed   bool      `gorm:"not null;default:false;index" json:"processed"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (DocFile) TableName() string { return "doc_files" }
