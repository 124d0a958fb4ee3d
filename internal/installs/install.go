package installs

import (
	"strings"
	"time"
)

// Install is one embedded widget instance, identified by the id it echoes on
// every request. It carries the viewer's persisted sort preference.
type Install struct {
	ID         string    `gorm:"column:install_id;primaryKey;size:64;not null"`
	Sorting    string    `gorm:"column:sort;size:16"`
	PostURL    string    `gorm:"column:post_url;size:2048"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing widget installs.
func (Install) TableName() string {
	return "widget_installs"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
