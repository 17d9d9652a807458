package services

import "errors"

var (
	// ErrNotGroupMember — caller is not a member of the session's group.
	ErrNotGroupMember = errors.New("not a member of this group")
	// ErrNotGroupLeader — action is reserved for the group leader.
	ErrNotGroupLeader = errors.New("only the group leader can do this")
	// ErrSessionNotFound — no such session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionComplete — session already reached its terminal state.
	ErrSessionComplete = errors.New("session is complete")
	// ErrWrongPhase — operation is not valid in the session's current phase.
	ErrWrongPhase = errors.New("deck is not ready for this action yet")
	// ErrVoteLocked — caller's voting window for this round has ended.
	ErrVoteLocked = errors.New("voting window locked for this round")
	// ErrNotInDeck — vote target is not part of the current round's deck.
	ErrNotInDeck = errors.New("watchlist item is not in this session deck")
	// ErrInvalidVote — vote value is not yes/no.
	ErrInvalidVote = errors.New("vote must be yes or no")
	// ErrNoCandidates — the deck is empty where a candidate is required.
	ErrNoCandidates = errors.New("session has no candidates")
)
