package types

import (
	"time"

	"gorm.io/datatypes"
)

type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

type TaskResultStatus string

const (
	TaskStatusSuccess   TaskResultStatus = "success"
	TaskStatusError     TaskResultStatus = "error"
	TaskStatusNoResults TaskResultStatus = "no_results"
)

type ScheduledTask struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string         `gorm:"not null" json:"name"`
	Prompt        string         `gorm:"not null" json:"prompt"`
	ScheduleType  ScheduleType   `gorm:"not null" json:"schedule_type"`
	ScheduleValue string         `gorm:"not null" json:"schedule_value"`
	Timezone      string         `gorm:"not null;default:UTC" json:"timezone"`
	Enabled       bool           `gorm:"not null;default:true" json:"enabled"`
	Filters       datatypes.JSON `json:"filters,omitempty"`
	NextRunAt     *time.Time     `gorm:"index" json:"next_run_at,omitempty"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`

	Results []TaskResult `gorm:"constraint:OnDelete:CASCADE;foreignKey:TaskID" json:"results,omitempty"`
}

func (ScheduledTask) TableName() string { return "scheduled_tasks" }

type TaskResult struct {
	ID           int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID       int64            `gorm:"not null;index" json:"task_id"`
	Answer       string           `json:"answer"`
	PromptUsed   string           `json:"prompt_used"`
	Sources      datatypes.JSON   `json:"sources,omitempty"`
	CostUSD      float64          `gorm:"column:cost_usd" json:"cost_usd"`
	DurationMS   int64            `gorm:"column:duration_ms" json:"duration_ms"`
	Status       TaskResultStatus `gorm:"not null" json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Rating       int              `gorm:"not null;default:0" json:"rating"`
	ExecutedAt   time.Time        `gorm:"not null;index" json:"executed_at"`
}

func (TaskResult) TableName() string { return "task_results" }
