package services

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/noelys215/arbiter-api/models"
)

const roundTimerSeconds = 60

// RoundState tracks one swipe round. Timer starts, locks and votes are all
// keyed by user id; vote maps are keyed by watchlist item id.
type RoundState struct {
	UserStartedAt map[string]string            `json:"user_started_at"`
	UserLockedAt  map[string]string            `json:"user_locked_at"`
	Votes         map[string]map[string]string `json:"votes"`
}

func newRoundState() *RoundState {
	return &RoundState{
		UserStartedAt: map[string]string{},
		UserLockedAt:  map[string]string{},
		Votes:         map[string]map[string]string{},
	}
}

func (r *RoundState) normalize() {
	if r.UserStartedAt == nil {
		r.UserStartedAt = map[string]string{}
	}
	if r.UserLockedAt == nil {
		r.UserLockedAt = map[string]string{}
	}
	if r.Votes == nil {
		r.Votes = map[string]map[string]string{}
	}
}

// UserAIRecord records whether AI assistance shaped one member's deck.
type UserAIRecord struct {
	Used bool    `json:"used"`
	Why  *string `json:"why"`
}

// CollectingState holds each member's personal deck while the session is
// still gathering preferences.
type CollectingState struct {
	EndsAt          *string                            `json:"ends_at"`
	UserDecks       map[string][]string                `json:"user_decks"`
	UserConstraints map[string]models.SessionConstraints `json:"user_constraints"`
	UserDealtAt     map[string]string                  `json:"user_dealt_at"`
	UserJoinedAt    map[string]string                  `json:"user_joined_at"`
	UserAI          map[string]UserAIRecord            `json:"user_ai"`
}

func newCollectingState() *CollectingState {
	return &CollectingState{
		UserDecks:       map[string][]string{},
		UserConstraints: map[string]models.SessionConstraints{},
		UserDealtAt:     map[string]string{},
		UserJoinedAt:    map[string]string{},
		UserAI:          map[string]UserAIRecord{},
	}
}

func (c *CollectingState) normalize() {
	if c.UserDecks == nil {
		c.UserDecks = map[string][]string{}
	}
	if c.UserConstraints == nil {
		c.UserConstraints = map[string]models.SessionConstraints{}
	}
	if c.UserDealtAt == nil {
		c.UserDealtAt = map[string]string{}
	}
	if c.UserJoinedAt == nil {
		c.UserJoinedAt = map[string]string{}
	}
	if c.UserAI == nil {
		c.UserAI = map[string]UserAIRecord{}
	}
}

// RuntimeState is the session's per-round bookkeeping, stored as a JSON
// document on the session row.
type RuntimeState struct {
	Version             int                    `json:"version"`
	Phase               string                 `json:"phase"`
	Round               int                    `json:"round"`
	SetupEndsAt         *string                `json:"setup_ends_at"`
	InitialCandidateIDs []string               `json:"initial_candidate_ids"`
	MutualCandidateIDs  []string               `json:"mutual_candidate_ids"`
	TieBreakRequired    bool                   `json:"tie_break_required"`
	TieBreakCandidateIDs []string              `json:"tie_break_candidate_ids"`
	EndedByLeader       bool                   `json:"ended_by_leader"`
	Collecting          *CollectingState       `json:"collecting"`
	Rounds              map[string]*RoundState `json:"rounds"`
}

func newRuntimeState() *RuntimeState {
	return &RuntimeState{
		Version:              1,
		Phase:                "collecting",
		Round:                1,
		InitialCandidateIDs:  []string{},
		MutualCandidateIDs:   []string{},
		TieBreakCandidateIDs: []string{},
		Collecting:           newCollectingState(),
		Rounds: map[string]*RoundState{
			"1": newRoundState(),
			"2": newRoundState(),
		},
	}
}

// ensureRuntime decodes the session's runtime document, repairing missing
// fields so callers never see nil maps. An unreadable document resets to the
// default swiping state.
func ensureRuntime(s *models.TonightSession) *RuntimeState {
	rt := &RuntimeState{}
	if s.Runtime != "" {
		if err := json.Unmarshal([]byte(s.Runtime), rt); err != nil {
			rt = &RuntimeState{}
		}
	}

	if rt.Version == 0 {
		rt.Version = 1
	}
	if rt.Round < 1 {
		rt.Round = 1
	}
	if rt.Phase == "" {
		rt.Phase = "swiping"
	}
	if rt.InitialCandidateIDs == nil {
		rt.InitialCandidateIDs = []string{}
	}
	if rt.MutualCandidateIDs == nil {
		rt.MutualCandidateIDs = []string{}
	}
	if rt.TieBreakCandidateIDs == nil {
		rt.TieBreakCandidateIDs = []string{}
	}
	if rt.Collecting == nil {
		rt.Collecting = newCollectingState()
	}
	rt.Collecting.normalize()
	if rt.Rounds == nil {
		rt.Rounds = map[string]*RoundState{}
	}
	rt.roundState(1)
	rt.roundState(2)
	return rt
}

func persistRuntime(s *models.TonightSession, rt *RuntimeState) {
	raw, err := json.Marshal(rt)
	if err != nil {
		return
	}
	s.Runtime = string(raw)
}

func (rt *RuntimeState) roundState(round int) *RoundState {
	key := roundKey(round)
	state, ok := rt.Rounds[key]
	if !ok || state == nil {
		state = newRoundState()
		rt.Rounds[key] = state
	}
	state.normalize()
	return state
}

func roundKey(round int) string {
	if round == 2 {
		return "2"
	}
	return "1"
}

// sessionBaseCandidateIDs returns the persisted candidate rows in position
// order.
func sessionBaseCandidateIDs(s *models.TonightSession) []string {
	rows := make([]models.TonightSessionCandidate, len(s.Candidates))
	copy(rows, s.Candidates)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.WatchlistItemID)
	}
	return out
}

// candidateIDsForRound returns the deck for a round: round 1 is the initial
// deck (candidate rows as fallback), round 2 the mutually-liked narrowing.
func candidateIDsForRound(s *models.TonightSession, rt *RuntimeState, round int) []string {
	if round == 1 {
		if len(rt.InitialCandidateIDs) > 0 {
			return rt.InitialCandidateIDs
		}
		return sessionBaseCandidateIDs(s)
	}
	return rt.MutualCandidateIDs
}

func toISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fromISO(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		if parsed, err = time.Parse(time.RFC3339, value); err != nil {
			return nil
		}
	}
	utc := parsed.UTC()
	return &utc
}

// seedRoundTimers starts the lazy 60 second timer for every member who does
// not already have one running in this round.
func (rt *RuntimeState) seedRoundTimers(round int, memberIDs []string, now time.Time) {
	state := rt.roundState(round)
	nowISO := toISO(now)
	for _, memberID := range memberIDs {
		if _, ok := state.UserStartedAt[memberID]; !ok {
			state.UserStartedAt[memberID] = nowISO
		}
	}
}

func (rt *RuntimeState) ensureUserTimer(round int, userID string, now time.Time) {
	state := rt.roundState(round)
	if _, ok := state.UserStartedAt[userID]; !ok {
		state.UserStartedAt[userID] = toISO(now)
	}
}

func (rt *RuntimeState) lockUser(round int, userID string, now time.Time) {
	state := rt.roundState(round)
	if _, ok := state.UserLockedAt[userID]; !ok {
		state.UserLockedAt[userID] = toISO(now)
	}
}

func (rt *RuntimeState) isUserLocked(round int, userID string) bool {
	_, ok := rt.roundState(round).UserLockedAt[userID]
	return ok
}

func (rt *RuntimeState) userVotesForRound(round int, userID string) map[string]string {
	state := rt.roundState(round)
	votes, ok := state.Votes[userID]
	if !ok || votes == nil {
		votes = map[string]string{}
		state.Votes[userID] = votes
	}
	return votes
}

// secondsLeftForUser reports the remaining window. A member with no started
// timer gets the full window; a locked member gets zero.
func (rt *RuntimeState) secondsLeftForUser(round int, userID string, now time.Time) int {
	if rt.isUserLocked(round, userID) {
		return 0
	}
	started := fromISO(rt.roundState(round).UserStartedAt[userID])
	if started == nil {
		return roundTimerSeconds
	}
	elapsed := int(now.Sub(*started).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	left := roundTimerSeconds - elapsed
	if left < 0 {
		left = 0
	}
	return left
}

// applyUserAutoLock locks the member when their window ran out or they have
// voted on every deck item. Returns the member's lock state after the check.
func (rt *RuntimeState) applyUserAutoLock(round int, userID string, candidateIDs []string, now time.Time) bool {
	if rt.isUserLocked(round, userID) {
		return true
	}
	if rt.secondsLeftForUser(round, userID, now) <= 0 {
		rt.lockUser(round, userID, now)
		return true
	}
	if len(candidateIDs) > 0 {
		votes := rt.userVotesForRound(round, userID)
		voted := true
		for _, id := range candidateIDs {
			if _, ok := votes[id]; !ok {
				voted = false
				break
			}
		}
		if voted {
			rt.lockUser(round, userID, now)
			return true
		}
	}
	return false
}

// computeMutualIDs intersects every member's yes-set for round 1, preserving
// initial deck order. Empty when any member liked nothing in common.
func (rt *RuntimeState) computeMutualIDs(memberIDs []string) []string {
	if len(memberIDs) == 0 {
		return nil
	}
	round1 := rt.roundState(1)

	mutual := map[string]bool{}
	for i, memberID := range memberIDs {
		yes := map[string]bool{}
		for itemID, vote := range round1.Votes[memberID] {
			if vote == "yes" {
				yes[itemID] = true
			}
		}
		if i == 0 {
			mutual = yes
			continue
		}
		for itemID := range mutual {
			if !yes[itemID] {
				delete(mutual, itemID)
			}
		}
	}
	if len(mutual) == 0 {
		return nil
	}

	var ordered []string
	for _, itemID := range rt.InitialCandidateIDs {
		if mutual[itemID] {
			ordered = append(ordered, itemID)
		}
	}
	return ordered
}

// round1Shortlist lists every item anyone liked in round 1, in deck order.
func (rt *RuntimeState) round1Shortlist() []string {
	liked := map[string]bool{}
	for _, userVotes := range rt.roundState(1).Votes {
		for itemID, vote := range userVotes {
			if vote == "yes" {
				liked[itemID] = true
			}
		}
	}
	var ordered []string
	for _, itemID := range rt.InitialCandidateIDs {
		if liked[itemID] {
			ordered = append(ordered, itemID)
		}
	}
	return ordered
}

// sharedRequestedMoods intersects every participating member's canonical
// mood set, sorted for determinism. Empty unless at least one member set
// constraints.
func (rt *RuntimeState) sharedRequestedMoods() []string {
	if rt.Collecting == nil || len(rt.Collecting.UserConstraints) == 0 {
		return nil
	}

	first := true
	shared := map[string]bool{}
	for _, constraints := range rt.Collecting.UserConstraints {
		canonical := map[string]bool{}
		for _, mood := range constraints.Moods {
			if mapped := canonicalizeMood(mood); mapped != "" {
				canonical[mapped] = true
			}
		}
		if first {
			shared = canonical
			first = false
			continue
		}
		for mood := range shared {
			if !canonical[mood] {
				delete(shared, mood)
			}
		}
	}
	if first || len(shared) == 0 {
		return nil
	}

	out := make([]string, 0, len(shared))
	for mood := range shared {
		out = append(out, mood)
	}
	sort.Strings(out)
	return out
}

func dedupeIDs(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
