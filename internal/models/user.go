package models

import (
	"time"

	"chamalink/internal/domain"

	"gorm.io/gorm"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	FullName     string         `gorm:"size:128;not null" json:"full_name"`
	Phone        string         `gorm:"uniqueIndex;size:20;not null" json:"phone"`
	Email        *string        `gorm:"uniqueIndex;size:255" json:"email,omitempty"` // nil when the member has no email (avoids duplicate '' on unique index)
	PasswordHash string         `gorm:"size:255" json:"-"`
	Role         string         `gorm:"size:20;not null;index" json:"role"` // ADMIN | TREASURER | SECRETARY | MEMBER
	IsActive     bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	DeviceTokens []DeviceToken `gorm:"foreignKey:UserID" json:"-"`
}

func (User) TableName() string { return "users" }

// IsOfficer reports whether the member holds a role allowed to send
// notifications to other members.
func (u *User) IsOfficer() bool {
	for _, r := range domain.OfficerRoles {
		if u.Role == r {
			return true
		}
	}
	return false
}
