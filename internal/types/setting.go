package types

import "time"

// SettingType declares how a stored string value parses and renders.
type SettingType string

const (
	SettingText   SettingType = "text"
	SettingSecret SettingType = "secret"
	SettingInt    SettingType = "int"
	SettingFloat  SettingType = "float"
	SettingBool   SettingType = "bool"
	SettingSelect SettingType = "select"
)

// PluginSetting is a single configuration row. All values are strings on
// disk; Type drives parsing on read and UI rendering.
type PluginSetting struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Key         string      `gorm:"not null;uniqueIndex" json:"key"`
	Value       string      `json:"value"`
	Category    string      `gorm:"not null;default:general" json:"category"`
	Type        SettingType `gorm:"not null;default:text" json:"type"`
	Description string      `json:"description,omitempty"`
	UpdatedAt   time.Time   `gorm:"not null" json:"updated_at"`
}

func (PluginSetting) TableName() string { return "plugin_settings" }
