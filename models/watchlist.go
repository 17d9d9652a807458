package models

import (
	"time"
)

// Title is a cataloged movie/TV title. Mirror table — owned by the watchlist
// service; the session service only reads it, except for the TMDB detail
// backfill worker which fills missing runtime/overview.
type Title struct {
	ID string `json:"id" gorm:"primaryKey;type:uuid"`

	Source   string  `json:"source" gorm:"type:varchar(20);not null"` // tmdb | manual
	SourceID *string `json:"source_id,omitempty" gorm:"type:varchar(50);index"`

	MediaType string `json:"media_type" gorm:"type:varchar(10);not null"` // movie | tv
	Name      string `json:"name" gorm:"type:varchar(300);not null"`

	ReleaseYear *int    `json:"release_year,omitempty"`
	PosterPath  *string `json:"poster_path,omitempty" gorm:"type:varchar(500)"`

	Overview       *string `json:"overview,omitempty" gorm:"type:text"`
	RuntimeMinutes *int    `json:"runtime_minutes,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// WatchlistItem is one title on a group's shared watchlist. Mirror table —
// candidate pools are read from here, never written.
type WatchlistItem struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	GroupID string `json:"group_id" gorm:"type:uuid;not null;index"`
	TitleID string `json:"title_id" gorm:"type:uuid;not null;index"`

	AddedByUserID *string `json:"added_by_user_id,omitempty" gorm:"type:uuid"`

	Status       string     `json:"status" gorm:"type:varchar(20);not null;default:'watchlist'"` // watchlist | watched
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	Title Title `json:"title,omitempty" gorm:"foreignKey:TitleID"`
}
