package models

import (
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// Group is a friend group. Mirror table — owned by the social service; the
// session service reads it for leadership checks only. Slug is normalized
// from the name when the mirror row lands.
type Group struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	Name    string `json:"name" gorm:"type:varchar(120);not null"`
	Slug    string `json:"slug" gorm:"type:varchar(140);index"`
	OwnerID string `json:"owner_id" gorm:"type:uuid;not null;index"` // the group leader

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeSave regenerates the slug whenever a mirror row lands without one.
func (g *Group) BeforeSave(tx *gorm.DB) error {
	if g.Slug == "" && g.Name != "" {
		g.Slug = slug.Make(g.Name)
	}
	return nil
}

// GroupMembership links a user to a group. Mirror table — membership checks
// ("is member", "member list") gate every session operation.
type GroupMembership struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	GroupID string `json:"group_id" gorm:"type:uuid;not null;index;uniqueIndex:uq_group_memberships_group_user"`
	UserID  string `json:"user_id" gorm:"type:uuid;not null;index;uniqueIndex:uq_group_memberships_group_user"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
