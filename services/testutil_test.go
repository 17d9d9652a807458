package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noelys215/arbiter-api/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Group{},
		&models.GroupMembership{},
		&models.MemberUser{},
		&models.Title{},
		&models.WatchlistItem{},
		&models.TonightSession{},
		&models.TonightSessionCandidate{},
		&models.TonightVote{},
	))
	return db
}

func newTestService(db *gorm.DB) *SessionService {
	return NewSessionService(db, nil, nil)
}

type testGroup struct {
	ID       string
	OwnerID  string
	MemberIDs []string
}

func seedGroup(t *testing.T, db *gorm.DB, memberCount int) testGroup {
	t.Helper()
	groupID := uuid.NewString()
	var memberIDs []string
	for i := 0; i < memberCount; i++ {
		memberIDs = append(memberIDs, uuid.NewString())
	}
	require.NoError(t, db.Create(&models.Group{
		ID:      groupID,
		Name:    "movie night",
		OwnerID: memberIDs[0],
	}).Error)
	for _, userID := range memberIDs {
		require.NoError(t, db.Create(&models.GroupMembership{
			ID:      uuid.NewString(),
			GroupID: groupID,
			UserID:  userID,
		}).Error)
	}
	return testGroup{ID: groupID, OwnerID: memberIDs[0], MemberIDs: memberIDs}
}

type seedTitleOpts struct {
	MediaType      string
	RuntimeMinutes *int
	Name           string
}

func seedWatchlistItem(t *testing.T, db *gorm.DB, groupID string, opts seedTitleOpts) models.WatchlistItem {
	t.Helper()
	if opts.MediaType == "" {
		opts.MediaType = "movie"
	}
	if opts.Name == "" {
		opts.Name = "title " + uuid.NewString()[:8]
	}
	title := models.Title{
		ID:             uuid.NewString(),
		Source:         "manual",
		MediaType:      opts.MediaType,
		Name:           opts.Name,
		RuntimeMinutes: opts.RuntimeMinutes,
	}
	require.NoError(t, db.Create(&title).Error)
	item := models.WatchlistItem{
		ID:      uuid.NewString(),
		GroupID: groupID,
		TitleID: title.ID,
		Status:  "watchlist",
	}
	require.NoError(t, db.Create(&item).Error)
	item.Title = title
	return item
}

func intPtr(v int) *int { return &v }

// rewindUserTimers moves every started timer in the round into the past so
// auto-lock treats the member as expired.
func rewindUserTimers(rt *RuntimeState, round int, by time.Duration) {
	state := rt.roundState(round)
	for userID, raw := range state.UserStartedAt {
		if started := fromISO(raw); started != nil {
			state.UserStartedAt[userID] = toISO(started.Add(-by))
		}
	}
}
