package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noelys215/arbiter-api/models"
)

func TestEnsureRuntimeRepairsEmptyDocument(t *testing.T) {
	s := &models.TonightSession{}
	rt := ensureRuntime(s)

	assert.Equal(t, 1, rt.Version)
	assert.Equal(t, 1, rt.Round)
	assert.Equal(t, "swiping", rt.Phase)
	assert.NotNil(t, rt.Collecting)
	assert.NotNil(t, rt.Rounds["1"])
	assert.NotNil(t, rt.Rounds["2"])
	assert.NotNil(t, rt.Rounds["1"].Votes)
}

func TestRuntimeRoundTripsThroughSession(t *testing.T) {
	s := &models.TonightSession{}
	rt := newRuntimeState()
	rt.Phase = "swiping"
	rt.InitialCandidateIDs = []string{"item-1", "item-2"}
	now := time.Now().UTC()
	rt.ensureUserTimer(1, "user-1", now)
	rt.userVotesForRound(1, "user-1")["item-1"] = "yes"
	persistRuntime(s, rt)

	restored := ensureRuntime(s)
	assert.Equal(t, []string{"item-1", "item-2"}, restored.InitialCandidateIDs)
	assert.Equal(t, "yes", restored.roundState(1).Votes["user-1"]["item-1"])
	assert.NotEmpty(t, restored.roundState(1).UserStartedAt["user-1"])
}

func TestLockIsMonotonic(t *testing.T) {
	rt := newRuntimeState()
	now := time.Now().UTC()

	rt.lockUser(1, "user-1", now)
	first := rt.roundState(1).UserLockedAt["user-1"]
	require.NotEmpty(t, first)

	rt.lockUser(1, "user-1", now.Add(time.Minute))
	assert.Equal(t, first, rt.roundState(1).UserLockedAt["user-1"])
	assert.True(t, rt.isUserLocked(1, "user-1"))
	assert.Equal(t, 0, rt.secondsLeftForUser(1, "user-1", now))
}

func TestSecondsLeftForUser(t *testing.T) {
	rt := newRuntimeState()
	now := time.Now().UTC()

	// no timer started yet: full window
	assert.Equal(t, roundTimerSeconds, rt.secondsLeftForUser(1, "user-1", now))

	rt.ensureUserTimer(1, "user-1", now.Add(-20*time.Second))
	left := rt.secondsLeftForUser(1, "user-1", now)
	assert.InDelta(t, 40, left, 1)

	rt.ensureUserTimer(1, "user-2", now.Add(-2*time.Minute))
	assert.Equal(t, 0, rt.secondsLeftForUser(1, "user-2", now))
}

func TestApplyUserAutoLock(t *testing.T) {
	deck := []string{"item-1", "item-2"}
	now := time.Now().UTC()

	t.Run("expired timer locks", func(t *testing.T) {
		rt := newRuntimeState()
		rt.ensureUserTimer(1, "user-1", now.Add(-90*time.Second))
		assert.True(t, rt.applyUserAutoLock(1, "user-1", deck, now))
		assert.True(t, rt.isUserLocked(1, "user-1"))
	})

	t.Run("voting on every item locks", func(t *testing.T) {
		rt := newRuntimeState()
		rt.ensureUserTimer(1, "user-1", now)
		votes := rt.userVotesForRound(1, "user-1")
		votes["item-1"] = "yes"
		votes["item-2"] = "no"
		assert.True(t, rt.applyUserAutoLock(1, "user-1", deck, now))
	})

	t.Run("partial votes inside window stay unlocked", func(t *testing.T) {
		rt := newRuntimeState()
		rt.ensureUserTimer(1, "user-1", now)
		rt.userVotesForRound(1, "user-1")["item-1"] = "yes"
		assert.False(t, rt.applyUserAutoLock(1, "user-1", deck, now))
	})

	t.Run("already locked stays locked", func(t *testing.T) {
		rt := newRuntimeState()
		rt.lockUser(1, "user-1", now)
		assert.True(t, rt.applyUserAutoLock(1, "user-1", deck, now))
	})
}

func TestComputeMutualIDsKeepsDeckOrder(t *testing.T) {
	rt := newRuntimeState()
	rt.InitialCandidateIDs = []string{"item-1", "item-2", "item-3"}
	votesA := rt.userVotesForRound(1, "user-a")
	votesA["item-3"] = "yes"
	votesA["item-1"] = "yes"
	votesA["item-2"] = "no"
	votesB := rt.userVotesForRound(1, "user-b")
	votesB["item-1"] = "yes"
	votesB["item-3"] = "yes"

	mutual := rt.computeMutualIDs([]string{"user-a", "user-b"})
	assert.Equal(t, []string{"item-1", "item-3"}, mutual)
}

func TestComputeMutualIDsEmptyWhenNoOverlap(t *testing.T) {
	rt := newRuntimeState()
	rt.InitialCandidateIDs = []string{"item-1", "item-2"}
	rt.userVotesForRound(1, "user-a")["item-1"] = "yes"
	rt.userVotesForRound(1, "user-b")["item-2"] = "yes"

	assert.Empty(t, rt.computeMutualIDs([]string{"user-a", "user-b"}))
}

func TestRound1Shortlist(t *testing.T) {
	rt := newRuntimeState()
	rt.InitialCandidateIDs = []string{"item-1", "item-2", "item-3"}
	rt.userVotesForRound(1, "user-a")["item-3"] = "yes"
	rt.userVotesForRound(1, "user-b")["item-1"] = "yes"
	rt.userVotesForRound(1, "user-b")["item-2"] = "no"

	assert.Equal(t, []string{"item-1", "item-3"}, rt.round1Shortlist())
}

func TestSharedRequestedMoods(t *testing.T) {
	rt := newRuntimeState()
	rt.Collecting.UserConstraints["user-a"] = models.SessionConstraints{Moods: []string{"Cozy", "Scary"}}
	rt.Collecting.UserConstraints["user-b"] = models.SessionConstraints{Moods: []string{"horror", "feel good"}}

	assert.Equal(t, []string{"scary"}, rt.sharedRequestedMoods())
}

func TestSharedRequestedMoodsEmptyWithoutConstraints(t *testing.T) {
	rt := newRuntimeState()
	assert.Empty(t, rt.sharedRequestedMoods())
}
