package models

import (
	"time"
)

// MemberUser is a local snapshot of user data needed for session views.
// Mirror table — populated by the profile service, read-only here.
type MemberUser struct {
	ID        string  `json:"id" gorm:"primaryKey;type:uuid"`
	Username  string  `json:"username" gorm:"index;not null"`
	Email     string  `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
