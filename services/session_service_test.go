package services

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noelys215/arbiter-api/models"
)

// startSwipingSession drives a group through collecting into round 1: every
// member joins with minimal preferences so the decks finalize.
func startSwipingSession(t *testing.T, svc *SessionService, group testGroup) (*models.TonightSession, []string) {
	t.Helper()
	ctx := context.Background()

	var sessionID string
	for _, memberID := range group.MemberIDs {
		view, _, err := svc.createTonightSession(ctx, svc.DB, group.ID, memberID, CreateSessionRequest{
			Constraints:    map[string]interface{}{"format": "any"},
			CandidateCount: 12,
		})
		require.NoError(t, err)
		sessionID = view.Session.ID
	}

	session, err := svc.loadSessionWithCandidates(svc.DB, sessionID)
	require.NoError(t, err)
	rt := ensureRuntime(session)
	require.Equal(t, "swiping", rt.Phase)
	return session, rt.InitialCandidateIDs
}

func reloadRuntime(t *testing.T, svc *SessionService, sessionID string) (*models.TonightSession, *RuntimeState) {
	t.Helper()
	session, err := svc.loadSessionWithCandidates(svc.DB, sessionID)
	require.NoError(t, err)
	return session, ensureRuntime(session)
}

func expireUserTimer(t *testing.T, svc *SessionService, sessionID, userID string, round int) {
	t.Helper()
	session, rt := reloadRuntime(t, svc, sessionID)
	state := rt.roundState(round)
	state.UserStartedAt[userID] = toISO(time.Now().UTC().Add(-2 * time.Minute))
	persistRuntime(session, rt)
	require.NoError(t, svc.DB.Save(session).Error)
}

func castVotes(t *testing.T, svc *SessionService, sessionID, userID string, votes map[string]string) {
	t.Helper()
	for itemID, vote := range votes {
		locked, err := svc.castVote(context.Background(), svc.DB, sessionID, userID, itemID, vote)
		require.NoError(t, err)
		require.False(t, locked, "vote rejected as locked")
	}
}

func TestCreateSessionSingleMemberGoesStraightToSwiping(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 1)
	for i := 0; i < 4; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	view, _, err := svc.createTonightSession(context.Background(), db, group.ID, group.MemberIDs[0], CreateSessionRequest{CandidateCount: 12})
	require.NoError(t, err)

	assert.Equal(t, "swiping", view.Phase)
	assert.Equal(t, 1, view.Round)
	assert.Len(t, view.Candidates, 4)
	assert.Equal(t, "active", view.Session.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(roundTimerSeconds*time.Second), view.Session.EndsAt, 5*time.Second)
}

func TestCreateSessionWaitsForAllMembers(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 3; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	ctx := context.Background()
	first, preview, err := svc.createTonightSession(ctx, db, group.ID, group.MemberIDs[0], CreateSessionRequest{
		Constraints:    map[string]interface{}{"format": "any"},
		CandidateCount: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "waiting", first.Phase)
	assert.NotEmpty(t, preview)
	assert.Empty(t, first.Candidates)

	second, _, err := svc.createTonightSession(ctx, db, group.ID, group.MemberIDs[1], CreateSessionRequest{
		Constraints:    map[string]interface{}{"format": "any"},
		CandidateCount: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "swiping", second.Phase)
	assert.NotEmpty(t, second.Candidates)
	assert.Equal(t, first.Session.ID, second.Session.ID, "second member joins the active session")
}

func TestCreateSessionNonMemberRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 1)

	_, _, err := svc.createTonightSession(context.Background(), db, group.ID, "b2a7dd34-0000-4000-8000-000000000000", CreateSessionRequest{})
	assert.ErrorIs(t, err, ErrNotGroupMember)
}

func TestMaxYesWins(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 3; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	require.Len(t, deck, 3)
	x, y, z := deck[0], deck[1], deck[2]

	castVotes(t, svc, session.ID, group.MemberIDs[0], map[string]string{x: "yes", y: "no", z: "no"})
	castVotes(t, svc, session.ID, group.MemberIDs[1], map[string]string{x: "yes", y: "yes", z: "no"})

	final, rt := reloadRuntime(t, svc, session.ID)
	assert.Equal(t, "complete", final.Status)
	require.NotNil(t, final.ResultWatchlistItemID)
	assert.Equal(t, x, *final.ResultWatchlistItemID)
	assert.False(t, rt.TieBreakRequired)
}

func TestYesTieBrokenByFewestNo(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 3)
	for i := 0; i < 2; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	require.Len(t, deck, 2)
	x, y := deck[0], deck[1]

	// two full ballots tie X and Y on yes
	castVotes(t, svc, session.ID, group.MemberIDs[0], map[string]string{x: "yes", y: "yes"})
	castVotes(t, svc, session.ID, group.MemberIDs[1], map[string]string{x: "yes", y: "yes"})
	// third member votes X down, then their window expires
	castVotes(t, svc, session.ID, group.MemberIDs[2], map[string]string{x: "no"})
	expireUserTimer(t, svc, session.ID, group.MemberIDs[2], 1)

	view, err := svc.getSessionState(context.Background(), svc.DB, session.ID, group.MemberIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "complete", view.Phase)

	final, _ := reloadRuntime(t, svc, session.ID)
	require.NotNil(t, final.ResultWatchlistItemID)
	assert.Equal(t, y, *final.ResultWatchlistItemID, "fewest-no candidate wins the yes tie")
}

func TestSharedMoodBreaksFullTie(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)

	// both titles read as cozy; only the cabin also reads as scary
	cabin := seedWatchlistItem(t, db, group.ID, seedTitleOpts{Name: "Haunted Cozy Cabin"})
	evening := seedWatchlistItem(t, db, group.ID, seedTitleOpts{Name: "Cozy Comfort Evening"})

	ctx := context.Background()
	var sessionID string
	for _, memberID := range group.MemberIDs {
		view, _, err := svc.createTonightSession(ctx, db, group.ID, memberID, CreateSessionRequest{
			Constraints:    map[string]interface{}{"moods": []interface{}{"cozy", "scary"}},
			CandidateCount: 12,
		})
		require.NoError(t, err)
		sessionID = view.Session.ID
	}

	session, rt := reloadRuntime(t, svc, sessionID)
	require.Equal(t, "swiping", rt.Phase)
	require.ElementsMatch(t, []string{cabin.ID, evening.ID}, rt.InitialCandidateIDs)

	// everyone likes everything: yes and no counts tie across the deck
	for _, memberID := range group.MemberIDs {
		castVotes(t, svc, sessionID, memberID, map[string]string{
			cabin.ID:   "yes",
			evening.ID: "yes",
		})
	}

	session, _ = reloadRuntime(t, svc, sessionID)
	assert.Equal(t, "complete", session.Status)
	require.NotNil(t, session.ResultWatchlistItemID)
	assert.Equal(t, cabin.ID, *session.ResultWatchlistItemID,
		"the title matching more of the shared moods wins the tie")
}

func TestFullTieEscalatesToTiebreak(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 2; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	x, y := deck[0], deck[1]

	castVotes(t, svc, session.ID, group.MemberIDs[0], map[string]string{x: "yes", y: "yes"})
	castVotes(t, svc, session.ID, group.MemberIDs[1], map[string]string{x: "yes", y: "yes"})

	final, rt := reloadRuntime(t, svc, session.ID)
	assert.Equal(t, "active", final.Status)
	assert.Equal(t, "tiebreak", rt.Phase)
	assert.True(t, rt.TieBreakRequired)
	assert.ElementsMatch(t, deck, rt.TieBreakCandidateIDs)
	assert.ElementsMatch(t, deck, rt.MutualCandidateIDs, "both items were mutually liked")

	view, err := svc.getSessionState(context.Background(), svc.DB, session.ID, group.MemberIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "tiebreak", view.Phase)
	assert.True(t, view.TieBreakRequired)
}

func TestNobodyVotesExpiryResolvesDeterministically(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 4; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)

	// whole session window runs out with zero ballots
	require.NoError(t, svc.DB.Model(&models.TonightSession{}).
		Where("id = ?", session.ID).
		Update("ends_at", time.Now().UTC().Add(-time.Minute)).Error)

	view, err := svc.getSessionState(context.Background(), svc.DB, session.ID, group.MemberIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "complete", view.Phase)

	final, _ := reloadRuntime(t, svc, session.ID)
	require.NotNil(t, final.ResultWatchlistItemID)

	sorted := append([]string{}, deck...)
	sort.Strings(sorted)
	assert.Equal(t, seededChoice(session.ID, sorted), *final.ResultWatchlistItemID)
}

func TestAllLockedByExpiryWithNoVotesGoesToTiebreak(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 3; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	for _, memberID := range group.MemberIDs {
		expireUserTimer(t, svc, session.ID, memberID, 1)
	}

	view, err := svc.getSessionState(context.Background(), svc.DB, session.ID, group.MemberIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "tiebreak", view.Phase)

	_, rt := reloadRuntime(t, svc, session.ID)
	assert.True(t, rt.TieBreakRequired)
	assert.Len(t, rt.TieBreakCandidateIDs, len(deck), "no votes at all ties the full deck")
}

func TestShuffleDuringTiebreakIsLeaderOnly(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 2; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	x, y := deck[0], deck[1]
	castVotes(t, svc, session.ID, group.MemberIDs[0], map[string]string{x: "yes", y: "yes"})
	castVotes(t, svc, session.ID, group.MemberIDs[1], map[string]string{x: "yes", y: "yes"})

	// MemberIDs[0] may or may not be the owner; resolve explicitly
	leader := group.OwnerID
	var follower string
	for _, id := range group.MemberIDs {
		if id != leader {
			follower = id
		}
	}

	_, err := svc.shuffleAndComplete(context.Background(), svc.DB, session.ID, follower)
	assert.ErrorIs(t, err, ErrNotGroupLeader)

	view, err := svc.shuffleAndComplete(context.Background(), svc.DB, session.ID, leader)
	require.NoError(t, err)
	assert.Equal(t, "complete", view.Phase)

	final, _ := reloadRuntime(t, svc, session.ID)
	require.NotNil(t, final.ResultWatchlistItemID)
	assert.Contains(t, deck, *final.ResultWatchlistItemID)
}

func TestShuffleDuringSwipingAllowedForAnyMember(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 3; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	var follower string
	for _, id := range group.MemberIDs {
		if id != group.OwnerID {
			follower = id
		}
	}

	view, err := svc.shuffleAndComplete(context.Background(), svc.DB, session.ID, follower)
	require.NoError(t, err)
	assert.Equal(t, "complete", view.Phase)

	final, _ := reloadRuntime(t, svc, session.ID)
	require.NotNil(t, final.ResultWatchlistItemID)
	assert.Contains(t, deck, *final.ResultWatchlistItemID)
}

func TestRevoteRunsRoundTwoOverMutualDeck(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 3; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	x, y, z := deck[0], deck[1], deck[2]

	// X and Y end tied and mutually liked, Z rejected
	castVotes(t, svc, session.ID, group.MemberIDs[0], map[string]string{x: "yes", y: "yes", z: "no"})
	castVotes(t, svc, session.ID, group.MemberIDs[1], map[string]string{x: "yes", y: "yes", z: "no"})

	_, rt := reloadRuntime(t, svc, session.ID)
	require.Equal(t, "tiebreak", rt.Phase)

	var follower string
	for _, id := range group.MemberIDs {
		if id != group.OwnerID {
			follower = id
		}
	}
	_, err := svc.startRevote(context.Background(), svc.DB, session.ID, follower)
	assert.ErrorIs(t, err, ErrNotGroupLeader)

	view, err := svc.startRevote(context.Background(), svc.DB, session.ID, group.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, "swiping", view.Phase)
	assert.Equal(t, 2, view.Round)
	assert.Len(t, view.Candidates, 2)
	assert.ElementsMatch(t, []string{x, y}, view.MutualCandidateIDs)

	// round 2 ballots now split cleanly
	castVotes(t, svc, session.ID, group.MemberIDs[0], map[string]string{x: "yes", y: "no"})
	castVotes(t, svc, session.ID, group.MemberIDs[1], map[string]string{x: "yes", y: "no"})

	final, _ := reloadRuntime(t, svc, session.ID)
	assert.Equal(t, "complete", final.Status)
	require.NotNil(t, final.ResultWatchlistItemID)
	assert.Equal(t, x, *final.ResultWatchlistItemID)
}

func TestRevoteOutsideTiebreakRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	seedWatchlistItem(t, db, group.ID, seedTitleOpts{})

	session, _ := startSwipingSession(t, svc, group)
	_, err := svc.startRevote(context.Background(), svc.DB, session.ID, group.OwnerID)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestEndSessionLeaderOnly(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	seedWatchlistItem(t, db, group.ID, seedTitleOpts{})

	session, _ := startSwipingSession(t, svc, group)

	var follower string
	for _, id := range group.MemberIDs {
		if id != group.OwnerID {
			follower = id
		}
	}
	_, err := svc.endSession(context.Background(), svc.DB, session.ID, follower)
	assert.ErrorIs(t, err, ErrNotGroupLeader)

	view, err := svc.endSession(context.Background(), svc.DB, session.ID, group.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, "complete", view.Phase)
	assert.True(t, view.EndedByLeader)

	final, _ := reloadRuntime(t, svc, session.ID)
	assert.Equal(t, "complete", final.Status)
	assert.Nil(t, final.ResultWatchlistItemID, "leader end picks no winner")

	// ending again is a no-op
	again, err := svc.endSession(context.Background(), svc.DB, session.ID, group.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, "complete", again.Phase)
}

func TestVoteRules(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 2; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	x, y := deck[0], deck[1]
	voter := group.MemberIDs[0]
	ctx := context.Background()

	t.Run("out of deck", func(t *testing.T) {
		_, err := svc.castVote(ctx, svc.DB, session.ID, voter, "9d1f8a30-0000-4000-8000-000000000001", "yes")
		assert.ErrorIs(t, err, ErrNotInDeck)
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := svc.castVote(ctx, svc.DB, session.ID, voter, x, "maybe")
		assert.ErrorIs(t, err, ErrInvalidVote)
	})

	t.Run("revote overwrites before lock", func(t *testing.T) {
		castVotes(t, svc, session.ID, voter, map[string]string{x: "yes"})
		castVotes(t, svc, session.ID, voter, map[string]string{x: "no"})
		_, rt := reloadRuntime(t, svc, session.ID)
		assert.Equal(t, "no", rt.roundState(1).Votes[voter][x])
	})

	t.Run("locked after expiry", func(t *testing.T) {
		expireUserTimer(t, svc, session.ID, voter, 1)
		locked, err := svc.castVote(ctx, svc.DB, session.ID, voter, y, "yes")
		require.NoError(t, err)
		assert.True(t, locked)
		_, rt := reloadRuntime(t, svc, session.ID)
		assert.True(t, rt.isUserLocked(1, voter))
		_, hasVote := rt.roundState(1).Votes[voter][y]
		assert.False(t, hasVote, "rejected vote must not record")
	})
}

func TestVoteOnCompleteSessionRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 1)
	seedWatchlistItem(t, db, group.ID, seedTitleOpts{})

	session, deck := startSwipingSession(t, svc, group)
	_, err := svc.endSession(context.Background(), svc.DB, session.ID, group.OwnerID)
	require.NoError(t, err)

	_, err = svc.castVote(context.Background(), svc.DB, session.ID, group.OwnerID, deck[0], "yes")
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestLegacyVoteRowUpserts(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	for i := 0; i < 2; i++ {
		seedWatchlistItem(t, db, group.ID, seedTitleOpts{})
	}

	session, deck := startSwipingSession(t, svc, group)
	voter := group.MemberIDs[0]
	castVotes(t, svc, session.ID, voter, map[string]string{deck[0]: "yes"})
	castVotes(t, svc, session.ID, voter, map[string]string{deck[1]: "no"})

	var rows []models.TonightVote
	require.NoError(t, db.Where("session_id = ? AND user_id = ?", session.ID, voter).Find(&rows).Error)
	require.Len(t, rows, 1, "one legacy row per (session, user)")
	assert.Equal(t, deck[1], rows[0].WatchlistItemID)
	assert.Equal(t, "no", rows[0].Vote)
}

func TestSetWatchParty(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	group := seedGroup(t, db, 2)
	seedWatchlistItem(t, db, group.ID, seedTitleOpts{})

	session, _ := startSwipingSession(t, svc, group)

	updated, err := svc.setWatchParty(svc.DB, session.ID, group.OwnerID, "https://meet.example.com/movie-night")
	require.NoError(t, err)
	require.NotNil(t, updated.WatchPartyURL)
	assert.Equal(t, "https://meet.example.com/movie-night", *updated.WatchPartyURL)
	assert.NotNil(t, updated.WatchPartySetAt)
	require.NotNil(t, updated.WatchPartySetByUserID)
	assert.Equal(t, group.OwnerID, *updated.WatchPartySetByUserID)

	// a non-leader member cannot set it
	_, err = svc.setWatchParty(svc.DB, session.ID, group.MemberIDs[1], "https://example.com")
	assert.ErrorIs(t, err, ErrNotGroupLeader)

	_, err = svc.setWatchParty(svc.DB, session.ID, "b2a7dd34-0000-4000-8000-000000000000", "https://example.com")
	assert.ErrorIs(t, err, ErrNotGroupMember)
}

func TestGetSessionStateUnknownSession(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(db)
	_, err := svc.getSessionState(context.Background(), db, "5b7e8c10-0000-4000-8000-00000000aaaa", "b2a7dd34-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
