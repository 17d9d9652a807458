package models

import (
	"time"
)

// TonightSession is one "what do we watch tonight" decision event for a group.
// At most one active session exists per group; a session is never deleted,
// its terminal status is "complete".
type TonightSession struct {
	ID              string `json:"id" gorm:"primaryKey;type:uuid"`
	GroupID         string `json:"group_id" gorm:"type:uuid;not null;index"`
	CreatedByUserID string `json:"created_by_user_id" gorm:"type:uuid;not null;index"`

	// Canonical constraints document (SessionConstraints JSON).
	Constraints string `json:"-" gorm:"type:jsonb;not null;default:'{}'"`

	// State machine working memory (services.RuntimeState JSON). The shape
	// evolves across versions, so it is re-normalized on every load.
	Runtime string `json:"-" gorm:"type:jsonb;not null;default:'{}'"`

	Status                string     `json:"status" gorm:"type:varchar(16);not null;default:'active';index"` // active | complete
	EndsAt                time.Time  `json:"ends_at" gorm:"not null"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ResultWatchlistItemID *string    `json:"result_watchlist_item_id,omitempty" gorm:"type:uuid"`

	DurationSeconds int `json:"duration_seconds" gorm:"not null;default:60"`
	CandidateCount  int `json:"candidate_count" gorm:"not null;default:12"`

	AIUsed bool    `json:"ai_used" gorm:"not null;default:false"`
	AIWhy  *string `json:"ai_why,omitempty" gorm:"type:text"`

	WatchPartyURL         *string    `json:"watch_party_url,omitempty" gorm:"type:text"`
	WatchPartySetAt       *time.Time `json:"watch_party_set_at,omitempty"`
	WatchPartySetByUserID *string    `json:"watch_party_set_by_user_id,omitempty" gorm:"type:uuid"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Candidates []TonightSessionCandidate `json:"candidates,omitempty" gorm:"foreignKey:SessionID"`
}

// TonightSessionCandidate freezes one (session, watchlist item) pairing into
// the session's deck. Rows are written wholesale when the deck is finalized;
// later rounds narrow by id without touching them.
type TonightSessionCandidate struct {
	ID              string  `json:"id" gorm:"primaryKey;type:uuid"`
	SessionID       string  `json:"session_id" gorm:"type:uuid;not null;index;uniqueIndex:uq_session_candidate_item;uniqueIndex:uq_session_candidate_position"`
	WatchlistItemID string  `json:"watchlist_item_id" gorm:"type:uuid;not null;index;uniqueIndex:uq_session_candidate_item"`
	Position        int     `json:"position" gorm:"not null;uniqueIndex:uq_session_candidate_position"` // 0..N-1 in deck order
	AINote          *string `json:"ai_note,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	WatchlistItem WatchlistItem `json:"watchlist_item,omitempty" gorm:"foreignKey:WatchlistItemID"`
}

// TonightVote is the legacy one-row-per-(session,user) vote record, kept in
// sync with the runtime vote maps for reporting. Newest vote wins.
type TonightVote struct {
	ID              string `json:"id" gorm:"primaryKey;type:uuid"`
	SessionID       string `json:"session_id" gorm:"type:uuid;not null;index;uniqueIndex:uq_tonight_votes_session_user"`
	UserID          string `json:"user_id" gorm:"type:uuid;not null;index;uniqueIndex:uq_tonight_votes_session_user"`
	WatchlistItemID string `json:"watchlist_item_id" gorm:"type:uuid;not null;index"`

	Vote string `json:"vote" gorm:"type:varchar(10);not null"` // yes | no

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
