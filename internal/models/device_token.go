package models

import "time"

// DeviceToken is one registered push endpoint. A member can have several
// (phone, tablet, web). Tokens reported permanently invalid by the push
// provider are removed by token hygiene.
type DeviceToken struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Token      string    `gorm:"uniqueIndex;size:512;not null" json:"token"`
	Platform   string    `gorm:"size:16" json:"platform"` // android | ios | web
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (DeviceToken) TableName() string { return "device_tokens" }
