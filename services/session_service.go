package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noelys215/arbiter-api/models"
	"github.com/noelys215/arbiter-api/utils"
)

// SessionService owns the tonight-session workflow: deck collection, swipe
// rounds, tie-breaking and resolution.
type SessionService struct {
	DB   *gorm.DB
	AI   AIProvider
	TMDB TaxonomyProvider

	locks sync.Map
}

func NewSessionService(db *gorm.DB, ai AIProvider, tmdb TaxonomyProvider) *SessionService {
	return &SessionService{DB: db, AI: ai, TMDB: tmdb}
}

// lockFor serializes state transitions per session (or per group during
// creation). Postgres row locks don't survive the runtime read-modify-write
// cycle, so mutation paths go through this mutex first.
func (s *SessionService) lockFor(key string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateSessionRequest starts or joins tonight's session for a group.
type CreateSessionRequest struct {
	Constraints  map[string]interface{} `json:"constraints"`
	Text         string                 `json:"text"`
	ConfirmReady *bool                  `json:"confirm_ready"`
	// Accepted for client compatibility; the round window is fixed.
	DurationSeconds int `json:"duration_seconds" validate:"omitempty,gte=15,lte=600"`
	CandidateCount  int `json:"candidate_count" validate:"omitempty,gte=2,lte=30"`
}

// VoteRequest is one swipe on one deck item.
type VoteRequest struct {
	WatchlistItemID string `json:"watchlist_item_id" validate:"required,uuid4"`
	Vote            string `json:"vote" validate:"required,oneof=yes no"`
}

// WatchPartyRequest attaches a streaming link to the session.
type WatchPartyRequest struct {
	URL string `json:"url" validate:"required,url,max=2000"`
}

// TitleOut is the candidate's title payload.
type TitleOut struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	MediaType      string  `json:"media_type"`
	ReleaseYear    *int    `json:"release_year"`
	PosterPath     *string `json:"poster_path"`
	Overview       *string `json:"overview"`
	RuntimeMinutes *int    `json:"runtime_minutes"`
}

// SessionCandidateOut is one deck entry in position order.
type SessionCandidateOut struct {
	ID              string   `json:"id"`
	WatchlistItemID string   `json:"watchlist_item_id"`
	Position        int      `json:"position"`
	AINote          *string  `json:"ai_note"`
	Title           TitleOut `json:"title"`
}

// SessionStateResponse is the full per-user session view.
type SessionStateResponse struct {
	ID                    string                `json:"id"`
	GroupID               string                `json:"group_id"`
	Status                string                `json:"status"`
	Phase                 string                `json:"phase"`
	Round                 int                   `json:"round"`
	EndsAt                time.Time             `json:"ends_at"`
	CompletedAt           *time.Time            `json:"completed_at"`
	ResultWatchlistItemID *string               `json:"result_watchlist_item_id"`
	DurationSeconds       int                   `json:"duration_seconds"`
	CandidateCount        int                   `json:"candidate_count"`
	AIUsed                bool                  `json:"ai_used"`
	AIWhy                 *string               `json:"ai_why"`
	WatchPartyURL         *string               `json:"watch_party_url"`
	WatchPartySetAt       *time.Time            `json:"watch_party_set_at"`
	UserLocked            bool                  `json:"user_locked"`
	UserSecondsLeft       int                   `json:"user_seconds_left"`
	Candidates            []SessionCandidateOut `json:"candidates"`
	MutualCandidateIDs    []string              `json:"mutual_candidate_ids"`
	Shortlist             []string              `json:"shortlist"`
	TieBreakRequired      bool                  `json:"tie_break_required"`
	TieBreakCandidateIDs  []string              `json:"tie_break_candidate_ids"`
	EndedByLeader         bool                  `json:"ended_by_leader"`
	CreatedAt             time.Time             `json:"created_at"`
}

// CreateSessionResponse adds the caller's personal preview deck, only
// meaningful while the session is still collecting.
type CreateSessionResponse struct {
	SessionStateResponse
	PersonalDeckItemIDs []string `json:"personal_deck_item_ids"`
}

// sessionStateView is the internal per-user view before serialization.
type sessionStateView struct {
	Session              *models.TonightSession
	Candidates           []models.TonightSessionCandidate
	Phase                string
	Round                int
	UserLocked           bool
	UserSecondsLeft      int
	MutualCandidateIDs   []string
	Shortlist            []string
	TieBreakRequired     bool
	TieBreakCandidateIDs []string
	EndedByLeader        bool
}

func respondServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotGroupMember), errors.Is(err, ErrNotGroupLeader):
		return c.Status(403).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrSessionNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrSessionComplete),
		errors.Is(err, ErrWrongPhase),
		errors.Is(err, ErrVoteLocked),
		errors.Is(err, ErrNotInDeck),
		errors.Is(err, ErrInvalidVote),
		errors.Is(err, ErrNoCandidates):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("session service error: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}

func currentUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

// CreateSession handles POST /groups/:group_id/sessions. One active session
// per group: a second call joins the collecting phase instead of starting a
// new session.
func (s *SessionService) CreateSession(c *fiber.Ctx) error {
	groupID := c.Params("group_id")
	if _, err := uuid.Parse(groupID); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid group id"})
	}
	userID := currentUserID(c)

	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	if req.CandidateCount <= 0 {
		req.CandidateCount = 12
	}

	mu := s.lockFor("group:" + groupID)
	mu.Lock()
	defer mu.Unlock()

	var view *sessionStateView
	var personalDeck []string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		v, preview, err := s.createTonightSession(c.Context(), tx, groupID, userID, req)
		if err != nil {
			return err
		}
		view = v
		personalDeck = preview
		return nil
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	resp := CreateSessionResponse{
		SessionStateResponse: serializeView(view),
		PersonalDeckItemIDs:  personalDeck,
	}
	return c.Status(201).JSON(resp)
}

// GetSessionState handles GET /sessions/:id. Reading an expired swiping
// session resolves it first.
func (s *SessionService) GetSessionState(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	userID := currentUserID(c)

	var statuses []string
	err := s.DB.Model(&models.TonightSession{}).
		Where("id = ?", sessionID).
		Pluck("status", &statuses).Error
	if err != nil {
		return respondServiceError(c, err)
	}
	if len(statuses) == 0 {
		return respondServiceError(c, ErrSessionNotFound)
	}

	// Complete sessions are immutable, read them without the mutex.
	if statuses[0] == "active" {
		mu := s.lockFor("session:" + sessionID)
		mu.Lock()
		defer mu.Unlock()
	}

	var view *sessionStateView
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		v, err := s.getSessionState(c.Context(), tx, sessionID, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(serializeView(view))
}

// CastVote handles POST /sessions/:id/vote. Re-voting the same item before
// lock overwrites the previous vote.
func (s *SessionService) CastVote(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	userID := currentUserID(c)

	var req VoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	mu := s.lockFor("session:" + sessionID)
	mu.Lock()
	defer mu.Unlock()

	var locked bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		locked, err = s.castVote(c.Context(), tx, sessionID, userID, req.WatchlistItemID, req.Vote)
		return err
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	if locked {
		// Lock state still commits so the next view reflects it.
		return respondServiceError(c, ErrVoteLocked)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// ShuffleAndComplete handles POST /sessions/:id/shuffle: auto-pick a winner
// from the current deck. During a tiebreak only the group leader may call it.
func (s *SessionService) ShuffleAndComplete(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	userID := currentUserID(c)

	mu := s.lockFor("session:" + sessionID)
	mu.Lock()
	defer mu.Unlock()

	var view *sessionStateView
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		v, err := s.shuffleAndComplete(c.Context(), tx, sessionID, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(serializeView(view))
}

// StartRevote handles POST /sessions/:id/revote: the leader sends a tied
// session into a second swipe round over the narrowed deck.
func (s *SessionService) StartRevote(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	userID := currentUserID(c)

	mu := s.lockFor("session:" + sessionID)
	mu.Lock()
	defer mu.Unlock()

	var view *sessionStateView
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		v, err := s.startRevote(c.Context(), tx, sessionID, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(serializeView(view))
}

// EndSession handles POST /sessions/:id/end: the leader closes the session
// without a winner.
func (s *SessionService) EndSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	userID := currentUserID(c)

	mu := s.lockFor("session:" + sessionID)
	mu.Lock()
	defer mu.Unlock()

	var view *sessionStateView
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		v, err := s.endSession(c.Context(), tx, sessionID, userID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(serializeView(view))
}

// SetWatchParty handles PATCH /sessions/:id/watch-party.
func (s *SessionService) SetWatchParty(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	userID := currentUserID(c)

	var req WatchPartyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	mu := s.lockFor("session:" + sessionID)
	mu.Lock()
	defer mu.Unlock()

	var session *models.TonightSession
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		loaded, err := s.setWatchParty(tx, sessionID, userID, req.URL)
		if err != nil {
			return err
		}
		session = loaded
		return nil
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":                 session.ID,
		"watch_party_url":    session.WatchPartyURL,
		"watch_party_set_at": session.WatchPartySetAt,
	})
}

func (s *SessionService) loadSessionWithCandidates(tx *gorm.DB, sessionID string) (*models.TonightSession, error) {
	var session models.TonightSession
	err := tx.
		Preload("Candidates", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Candidates.WatchlistItem.Title").
		First(&session, "id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *SessionService) loadActiveGroupSession(tx *gorm.DB, groupID string) (*models.TonightSession, error) {
	var session models.TonightSession
	err := tx.
		Preload("Candidates", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Candidates.WatchlistItem.Title").
		Where("group_id = ? AND status = ?", groupID, "active").
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// seededChoice deterministically picks one id for a given seed string.
func seededChoice(seedSource string, ids []string) string {
	rng := rand.New(rand.NewSource(int64(stableSeed(seedSource))))
	return ids[rng.Intn(len(ids))]
}

// createTonightSession starts a new collecting session or joins the active
// one, deals the caller's personal deck when they sent preferences, and
// finalizes to swiping once every member is dealt.
func (s *SessionService) createTonightSession(ctx context.Context, tx *gorm.DB, groupID, userID string, req CreateSessionRequest) (*sessionStateView, []string, error) {
	if err := assertUserInGroup(tx, groupID, userID); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	memberIDs, err := groupMemberIDs(tx, groupID)
	if err != nil {
		return nil, nil, err
	}

	hasPreferences := len(req.Constraints) > 0 || strings.TrimSpace(req.Text) != ""

	session, err := s.loadActiveGroupSession(tx, groupID)
	if err != nil {
		return nil, nil, err
	}

	var rt *RuntimeState
	if session == nil {
		baseline := models.ConstraintsFromPayload(req.Constraints)
		session = &models.TonightSession{
			ID:              uuid.NewString(),
			GroupID:         groupID,
			CreatedByUserID: userID,
			Constraints:     baseline.JSON(),
			// Collecting sessions hold for a day before expiry resolution.
			EndsAt:          now.Add(24 * time.Hour),
			DurationSeconds: roundTimerSeconds,
			CandidateCount:  req.CandidateCount,
			Status:          "active",
		}
		if err := tx.Create(session).Error; err != nil {
			return nil, nil, err
		}
		rt = newRuntimeState()
	} else {
		rt = ensureRuntime(session)
		if rt.Phase == "" {
			rt.Phase = "collecting"
		}
	}

	phase := rt.Phase
	if phase == "collecting" {
		if _, ok := rt.Collecting.UserJoinedAt[userID]; !ok {
			rt.Collecting.UserJoinedAt[userID] = toISO(now)
		}
	}

	if phase == "collecting" && hasPreferences {
		baseline := models.ConstraintsFromPayload(req.Constraints)
		baseline.FreeText = strings.TrimSpace(req.Text)
		deck, err := s.generateUserDeck(ctx, groupID, userID, baseline, session.CandidateCount)
		if err != nil {
			return nil, nil, err
		}

		deckIDs := make([]string, 0, len(deck.Items))
		for _, it := range deck.Items {
			deckIDs = append(deckIDs, it.ID)
		}
		rt.Collecting.UserDecks[userID] = deckIDs
		rt.Collecting.UserConstraints[userID] = deck.Constraints
		rt.Collecting.UserAI[userID] = UserAIRecord{Used: deck.AIUsed, Why: deck.AIWhy}

		session.Constraints = deck.Constraints.JSON()
		session.AIUsed = session.AIUsed || deck.AIUsed
		if deck.AIUsed && deck.AIWhy != nil {
			session.AIWhy = deck.AIWhy
		}
	}

	if phase == "collecting" {
		hasPersonalDeck := len(rt.Collecting.UserDecks[userID]) > 0
		markReady := false
		if hasPreferences {
			// Dealing implies ready unless the caller explicitly defers.
			markReady = req.ConfirmReady == nil || *req.ConfirmReady
		} else if req.ConfirmReady != nil && *req.ConfirmReady {
			markReady = true
		}
		if hasPersonalDeck && markReady {
			rt.Collecting.UserDealtAt[userID] = toISO(now)
		}
	}

	allDealt := len(memberIDs) > 0
	for _, memberID := range memberIDs {
		if _, ok := rt.Collecting.UserDealtAt[memberID]; !ok {
			allDealt = false
			break
		}
	}

	if phase == "collecting" && (allDealt || len(memberIDs) <= 1) {
		if err := s.finalizeCollectingToSwipe(ctx, tx, session, rt, memberIDs, now); err != nil {
			return nil, nil, err
		}
	}

	personalDeck := append([]string{}, rt.Collecting.UserDecks[userID]...)

	persistRuntime(session, rt)
	if err := tx.Save(session).Error; err != nil {
		return nil, nil, err
	}

	reloaded, err := s.loadSessionWithCandidates(tx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	view, err := s.buildSessionStateView(ctx, tx, reloaded, userID, now)
	if err != nil {
		return nil, nil, err
	}
	return view, personalDeck, nil
}

// finalizeCollectingToSwipe deals fallback decks to members who never sent
// preferences, merges every personal deck into the shared candidate list and
// starts round 1.
func (s *SessionService) finalizeCollectingToSwipe(ctx context.Context, tx *gorm.DB, session *models.TonightSession, rt *RuntimeState, memberIDs []string, now time.Time) error {
	collecting := rt.Collecting

	for _, memberID := range memberIDs {
		if len(collecting.UserDecks[memberID]) > 0 {
			continue
		}
		count := session.CandidateCount
		if count < 1 {
			count = 12
		}
		fallback, err := s.generateUserDeck(ctx, session.GroupID, memberID, models.SessionConstraints{}, count)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(fallback.Items))
		for _, it := range fallback.Items {
			ids = append(ids, it.ID)
		}
		collecting.UserDecks[memberID] = ids
		collecting.UserAI[memberID] = UserAIRecord{Used: fallback.AIUsed, Why: fallback.AIWhy}
		if _, ok := collecting.UserDealtAt[memberID]; !ok {
			collecting.UserDealtAt[memberID] = toISO(now)
		}
	}

	var orderedIDs []string
	moodsByItem := map[string]map[string]bool{}
	for _, memberID := range memberIDs {
		deckIDs := collecting.UserDecks[memberID]
		if len(deckIDs) == 0 {
			continue
		}
		orderedIDs = append(orderedIDs, deckIDs...)

		constraints, ok := collecting.UserConstraints[memberID]
		if !ok {
			continue
		}
		var canonicalMoods []string
		for _, mood := range constraints.Moods {
			if mapped := canonicalizeMood(mood); mapped != "" {
				canonicalMoods = append(canonicalMoods, mapped)
			}
		}
		if len(canonicalMoods) == 0 {
			continue
		}
		for _, itemID := range deckIDs {
			bucket, ok := moodsByItem[itemID]
			if !ok {
				bucket = map[string]bool{}
				moodsByItem[itemID] = bucket
			}
			for _, mood := range canonicalMoods {
				bucket[mood] = true
			}
		}
	}

	if len(orderedIDs) == 0 {
		orderedIDs = sessionBaseCandidateIDs(session)
	}
	combined := dedupeIDs(orderedIDs)

	notesByItem := map[string]string{}
	for itemID, moods := range moodsByItem {
		if len(moods) == 0 {
			continue
		}
		sortedMoods := make([]string, 0, len(moods))
		for mood := range moods {
			sortedMoods = append(sortedMoods, mood)
		}
		sort.Strings(sortedMoods)
		if len(sortedMoods) > 2 {
			sortedMoods = sortedMoods[:2]
		}
		display := make([]string, 0, len(sortedMoods))
		for _, mood := range sortedMoods {
			display = append(display, displayMoodName(mood))
		}
		notesByItem[itemID] = "Matches: " + strings.Join(display, " + ")
	}

	anyAIUsed := false
	var firstAIWhy *string
	for _, memberID := range memberIDs {
		record, ok := collecting.UserAI[memberID]
		if !ok || !record.Used {
			continue
		}
		anyAIUsed = true
		if firstAIWhy == nil && record.Why != nil && strings.TrimSpace(*record.Why) != "" {
			why := strings.TrimSpace(*record.Why)
			firstAIWhy = &why
		}
	}
	session.AIUsed = anyAIUsed
	session.AIWhy = firstAIWhy

	if err := s.replaceSessionCandidates(tx, session.ID, combined, notesByItem); err != nil {
		return err
	}

	rt.Phase = "swiping"
	rt.Round = 1
	rt.InitialCandidateIDs = combined
	rt.MutualCandidateIDs = []string{}
	rt.TieBreakRequired = false
	rt.TieBreakCandidateIDs = []string{}
	rt.EndedByLeader = false
	rt.SetupEndsAt = collecting.EndsAt
	rt.Rounds["1"] = newRoundState()
	rt.Rounds["2"] = newRoundState()
	rt.seedRoundTimers(1, memberIDs, now)

	session.EndsAt = now.Add(roundTimerSeconds * time.Second)
	session.DurationSeconds = roundTimerSeconds
	return nil
}

func (s *SessionService) replaceSessionCandidates(tx *gorm.DB, sessionID string, candidateIDs []string, notesByItem map[string]string) error {
	if err := tx.Where("session_id = ?", sessionID).Delete(&models.TonightSessionCandidate{}).Error; err != nil {
		return err
	}
	for pos, itemID := range candidateIDs {
		row := models.TonightSessionCandidate{
			ID:              uuid.NewString(),
			SessionID:       sessionID,
			WatchlistItemID: itemID,
			Position:        pos,
		}
		if note, ok := notesByItem[itemID]; ok {
			row.AINote = &note
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// upsertLegacyVote keeps the tonight_votes table in sync with the runtime
// vote maps for older readers. One row per (session, user), last vote wins.
func upsertLegacyVote(tx *gorm.DB, sessionID, userID, watchlistItemID, vote string, now time.Time) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"watchlist_item_id": watchlistItemID,
			"vote":              vote,
			"updated_at":        now,
		}),
	}).Create(&models.TonightVote{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		UserID:          userID,
		WatchlistItemID: watchlistItemID,
		Vote:            vote,
	}).Error
}

// castVote records one swipe, then checks whether the round (and session)
// can advance. A locked member returns (true, nil) so the lock still
// commits.
func (s *SessionService) castVote(ctx context.Context, tx *gorm.DB, sessionID, userID, watchlistItemID, vote string) (bool, error) {
	if vote != "yes" && vote != "no" {
		return false, ErrInvalidVote
	}

	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return false, err
	}
	if err := assertUserInGroup(tx, session.GroupID, userID); err != nil {
		return false, err
	}
	if session.Status != "active" {
		return false, ErrSessionComplete
	}

	now := time.Now().UTC()
	rt := ensureRuntime(session)
	if rt.Phase != "swiping" {
		return false, ErrWrongPhase
	}

	currentRound := rt.Round
	candidateIDs := candidateIDsForRound(session, rt, currentRound)
	inDeck := false
	for _, id := range candidateIDs {
		if id == watchlistItemID {
			inDeck = true
			break
		}
	}
	if !inDeck {
		return false, ErrNotInDeck
	}

	rt.ensureUserTimer(currentRound, userID, now)
	rt.applyUserAutoLock(currentRound, userID, candidateIDs, now)
	if rt.isUserLocked(currentRound, userID) {
		persistRuntime(session, rt)
		if err := tx.Save(session).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	votes := rt.userVotesForRound(currentRound, userID)
	votes[watchlistItemID] = vote

	if err := upsertLegacyVote(tx, sessionID, userID, watchlistItemID, vote, now); err != nil {
		return false, err
	}

	rt.applyUserAutoLock(currentRound, userID, candidateIDs, now)
	if err := s.advanceRoundsIfNeeded(ctx, tx, session, rt, now); err != nil {
		return false, err
	}
	persistRuntime(session, rt)
	return false, tx.Save(session).Error
}

// advanceRoundsIfNeeded resolves the current round once every member is
// locked: round 1 either completes with a winner or escalates to tiebreak,
// round 2 always completes.
func (s *SessionService) advanceRoundsIfNeeded(ctx context.Context, tx *gorm.DB, session *models.TonightSession, rt *RuntimeState, now time.Time) error {
	if session.Status != "active" {
		return nil
	}

	memberIDs, err := groupMemberIDs(tx, session.GroupID)
	if err != nil {
		return err
	}
	currentRound := rt.Round
	candidateIDs := candidateIDsForRound(session, rt, currentRound)
	rt.seedRoundTimers(currentRound, memberIDs, now)

	lockedCount := 0
	for _, memberID := range memberIDs {
		if rt.applyUserAutoLock(currentRound, memberID, candidateIDs, now) {
			lockedCount++
		}
	}
	if len(memberIDs) == 0 || lockedCount != len(memberIDs) {
		return nil
	}

	if currentRound == 1 {
		winner, tiedIDs, err := s.computeWinnerOrTie(ctx, tx, session, rt)
		if err != nil {
			return err
		}
		if winner != "" {
			rt.TieBreakRequired = false
			rt.TieBreakCandidateIDs = []string{}
			session.Status = "complete"
			session.CompletedAt = &now
			session.ResultWatchlistItemID = &winner
			return nil
		}
		rt.MutualCandidateIDs = rt.computeMutualIDs(memberIDs)
		rt.Phase = "tiebreak"
		rt.TieBreakRequired = true
		rt.TieBreakCandidateIDs = tiedIDs
		return nil
	}

	round2State := rt.roundState(2)
	round2IDs := candidateIDsForRound(session, rt, 2)
	if len(round2IDs) == 0 {
		round2IDs = candidateIDsForRound(session, rt, 1)
	}
	winner, err := computeRoundWinner(session.ID, 2, round2IDs, round2State.Votes)
	if err != nil {
		return err
	}
	session.Status = "complete"
	session.CompletedAt = &now
	session.ResultWatchlistItemID = &winner
	return nil
}

// computeRoundWinner resolves one round's deck from its vote maps: max yes,
// then min no, then a session-seeded pick over the sorted remainder. A deck
// nobody voted on gets a session-seeded pick over the whole deck.
func computeRoundWinner(sessionID string, round int, candidateIDs []string, roundVotes map[string]map[string]string) (string, error) {
	if len(candidateIDs) == 0 {
		return "", ErrNoCandidates
	}

	type tally struct{ yes, no int }
	stats := make(map[string]*tally, len(candidateIDs))
	for _, id := range candidateIDs {
		stats[id] = &tally{}
	}
	for _, userVotes := range roundVotes {
		for itemID, vote := range userVotes {
			t, ok := stats[itemID]
			if !ok {
				continue
			}
			switch vote {
			case "yes":
				t.yes++
			case "no":
				t.no++
			}
		}
	}

	anyVotes := false
	for _, t := range stats {
		if t.yes > 0 || t.no > 0 {
			anyVotes = true
			break
		}
	}
	if !anyVotes {
		return seededChoice(fmt.Sprintf("%s:round%d", sessionID, round), candidateIDs), nil
	}

	maxYes := 0
	for _, t := range stats {
		if t.yes > maxYes {
			maxYes = t.yes
		}
	}
	var yesTied []string
	for _, id := range candidateIDs {
		if stats[id].yes == maxYes {
			yesTied = append(yesTied, id)
		}
	}
	if len(yesTied) == 1 {
		return yesTied[0], nil
	}

	minNo := stats[yesTied[0]].no
	for _, id := range yesTied {
		if stats[id].no < minNo {
			minNo = stats[id].no
		}
	}
	var noTied []string
	for _, id := range yesTied {
		if stats[id].no == minNo {
			noTied = append(noTied, id)
		}
	}
	if len(noTied) == 1 {
		return noTied[0], nil
	}

	sort.Strings(noTied)
	return seededChoice(fmt.Sprintf("%s:round%d:tie", sessionID, round), noTied), nil
}

// computeWinnerOrTie resolves round 1: max yes, then min no, then a
// shared-mood narrowing. Returns ("", tied) when the deck stays tied; a deck
// with no votes at all ties over every candidate.
func (s *SessionService) computeWinnerOrTie(ctx context.Context, tx *gorm.DB, session *models.TonightSession, rt *RuntimeState) (string, []string, error) {
	candidateIDs := candidateIDsForRound(session, rt, 1)
	if len(candidateIDs) == 0 {
		candidateIDs = sessionBaseCandidateIDs(session)
	}
	if len(candidateIDs) == 0 {
		return "", nil, nil
	}

	type tally struct{ yes, no int }
	stats := make(map[string]*tally, len(candidateIDs))
	for _, id := range candidateIDs {
		stats[id] = &tally{}
	}
	for _, userVotes := range rt.roundState(1).Votes {
		for itemID, vote := range userVotes {
			t, ok := stats[itemID]
			if !ok {
				continue
			}
			switch vote {
			case "yes":
				t.yes++
			case "no":
				t.no++
			}
		}
	}

	anyVotes := false
	for _, t := range stats {
		if t.yes > 0 || t.no > 0 {
			anyVotes = true
			break
		}
	}
	if !anyVotes {
		sorted := append([]string{}, candidateIDs...)
		sort.Strings(sorted)
		return "", sorted, nil
	}

	maxYes := 0
	for _, t := range stats {
		if t.yes > maxYes {
			maxYes = t.yes
		}
	}
	var yesTied []string
	for _, id := range candidateIDs {
		if stats[id].yes == maxYes {
			yesTied = append(yesTied, id)
		}
	}
	if len(yesTied) == 1 {
		return yesTied[0], nil, nil
	}

	minNo := stats[yesTied[0]].no
	for _, id := range yesTied {
		if stats[id].no < minNo {
			minNo = stats[id].no
		}
	}
	var noTied []string
	for _, id := range yesTied {
		if stats[id].no == minNo {
			noTied = append(noTied, id)
		}
	}
	if len(noTied) == 1 {
		return noTied[0], nil, nil
	}

	if sharedMoods := rt.sharedRequestedMoods(); len(sharedMoods) > 0 {
		var tiedItems []models.WatchlistItem
		if err := tx.Preload("Title").Where("id IN ?", noTied).Find(&tiedItems).Error; err != nil {
			return "", nil, err
		}
		if len(tiedItems) > 0 {
			taxonomies := map[string]Taxonomy{}
			if s.TMDB != nil {
				for _, it := range tiedItems {
					taxonomies[it.ID] = s.TMDB.TitleTaxonomy(ctx, it.Title)
				}
			}
			matched := buildItemTagMatches(tiedItems, sharedMoods, taxonomies)
			if len(matched) > 0 {
				best := 0
				for _, id := range noTied {
					if n := len(matched[id]); n > best {
						best = n
					}
				}
				var filtered []string
				for _, id := range noTied {
					if len(matched[id]) == best {
						filtered = append(filtered, id)
					}
				}
				if len(filtered) == 1 {
					return filtered[0], nil, nil
				}
				if len(filtered) > 0 {
					noTied = filtered
				}
			}
		}
	}

	sort.Strings(noTied)
	return "", noTied, nil
}

// computeWinner is the expiry path: a tie collapses to a session-seeded pick
// so an abandoned session still resolves deterministically.
func (s *SessionService) computeWinner(ctx context.Context, tx *gorm.DB, session *models.TonightSession, rt *RuntimeState) (string, error) {
	winner, tiedIDs, err := s.computeWinnerOrTie(ctx, tx, session, rt)
	if err != nil {
		return "", err
	}
	if winner != "" {
		return winner, nil
	}

	candidateIDs := candidateIDsForRound(session, rt, 1)
	if len(candidateIDs) == 0 {
		candidateIDs = sessionBaseCandidateIDs(session)
	}
	if len(tiedIDs) == 0 {
		tiedIDs = candidateIDs
	}
	if len(tiedIDs) == 0 {
		return "", ErrNoCandidates
	}

	sorted := append([]string{}, tiedIDs...)
	sort.Strings(sorted)
	return seededChoice(session.ID, sorted), nil
}

// resolveIfExpired completes an active session whose window ran out.
func (s *SessionService) resolveIfExpired(ctx context.Context, tx *gorm.DB, sessionID string) (*models.TonightSession, error) {
	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != "active" {
		return session, nil
	}

	now := time.Now().UTC()
	if session.EndsAt.After(now) {
		return session, nil
	}

	rt := ensureRuntime(session)
	winner, err := s.computeWinner(ctx, tx, session, rt)
	if err != nil {
		return nil, err
	}
	session.Status = "complete"
	session.CompletedAt = &now
	session.ResultWatchlistItemID = &winner
	persistRuntime(session, rt)
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// shuffleAndComplete auto-picks a winner: from the tied deck during a
// tiebreak (leader only), otherwise from the current round's deck.
func (s *SessionService) shuffleAndComplete(ctx context.Context, tx *gorm.DB, sessionID, userID string) (*sessionStateView, error) {
	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := assertUserInGroup(tx, session.GroupID, userID); err != nil {
		return nil, err
	}
	if session.Status != "active" {
		return nil, ErrSessionComplete
	}

	now := time.Now().UTC()
	rt := ensureRuntime(session)

	var deckIDs []string
	var seedSource string
	switch rt.Phase {
	case "tiebreak":
		if err := assertGroupLeader(tx, session.GroupID, userID); err != nil {
			return nil, err
		}
		deckIDs = rt.TieBreakCandidateIDs
		if len(deckIDs) == 0 {
			deckIDs = candidateIDsForRound(session, rt, 1)
		}
		seedSource = session.ID + ":shuffle:tiebreak"
	case "swiping":
		if err := s.advanceRoundsIfNeeded(ctx, tx, session, rt, now); err != nil {
			return nil, err
		}
		deckIDs = candidateIDsForRound(session, rt, rt.Round)
		if len(deckIDs) == 0 {
			deckIDs = candidateIDsForRound(session, rt, 1)
		}
		seedSource = fmt.Sprintf("%s:shuffle:round%d", session.ID, rt.Round)
	default:
		return nil, ErrWrongPhase
	}
	if len(deckIDs) == 0 {
		return nil, ErrNoCandidates
	}

	winner := seededChoice(seedSource, deckIDs)
	session.Status = "complete"
	session.CompletedAt = &now
	session.ResultWatchlistItemID = &winner
	rt.Phase = "swiping"
	rt.TieBreakRequired = false
	rt.TieBreakCandidateIDs = []string{}
	persistRuntime(session, rt)
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}
	return s.buildSessionStateView(ctx, tx, session, userID, now)
}

// startRevote sends a tied session into round 2 over the mutually-liked
// deck, falling back to the tied deck when no item was liked by everyone.
func (s *SessionService) startRevote(ctx context.Context, tx *gorm.DB, sessionID, userID string) (*sessionStateView, error) {
	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := assertUserInGroup(tx, session.GroupID, userID); err != nil {
		return nil, err
	}
	if err := assertGroupLeader(tx, session.GroupID, userID); err != nil {
		return nil, err
	}
	if session.Status != "active" {
		return nil, ErrSessionComplete
	}

	now := time.Now().UTC()
	rt := ensureRuntime(session)
	if rt.Phase != "tiebreak" {
		return nil, ErrWrongPhase
	}

	memberIDs, err := groupMemberIDs(tx, session.GroupID)
	if err != nil {
		return nil, err
	}

	narrowed := rt.computeMutualIDs(memberIDs)
	if len(narrowed) == 0 {
		narrowed = rt.TieBreakCandidateIDs
	}
	if len(narrowed) == 0 {
		narrowed = candidateIDsForRound(session, rt, 1)
	}
	if len(narrowed) == 0 {
		return nil, ErrNoCandidates
	}

	rt.MutualCandidateIDs = narrowed
	rt.Phase = "swiping"
	rt.Round = 2
	rt.TieBreakRequired = false
	rt.TieBreakCandidateIDs = []string{}
	rt.Rounds["2"] = newRoundState()
	rt.seedRoundTimers(2, memberIDs, now)

	session.EndsAt = now.Add(roundTimerSeconds * time.Second)
	persistRuntime(session, rt)
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}
	return s.buildSessionStateView(ctx, tx, session, userID, now)
}

// endSession closes the session without picking a winner. Idempotent for an
// already complete session.
func (s *SessionService) endSession(ctx context.Context, tx *gorm.DB, sessionID, userID string) (*sessionStateView, error) {
	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := assertUserInGroup(tx, session.GroupID, userID); err != nil {
		return nil, err
	}
	if err := assertGroupLeader(tx, session.GroupID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if session.Status == "active" {
		rt := ensureRuntime(session)
		session.Status = "complete"
		session.CompletedAt = &now
		rt.Phase = "swiping"
		rt.TieBreakRequired = false
		rt.TieBreakCandidateIDs = []string{}
		rt.EndedByLeader = true
		persistRuntime(session, rt)
		if err := tx.Save(session).Error; err != nil {
			return nil, err
		}
	}
	return s.buildSessionStateView(ctx, tx, session, userID, now)
}

func (s *SessionService) setWatchParty(tx *gorm.DB, sessionID, userID, url string) (*models.TonightSession, error) {
	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := assertUserInGroup(tx, session.GroupID, userID); err != nil {
		return nil, err
	}
	if err := assertGroupLeader(tx, session.GroupID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session.WatchPartyURL = &url
	session.WatchPartySetAt = &now
	session.WatchPartySetByUserID = &userID
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// getSessionState resolves expiry first, then builds the caller's view.
func (s *SessionService) getSessionState(ctx context.Context, tx *gorm.DB, sessionID, userID string) (*sessionStateView, error) {
	session, err := s.loadSessionWithCandidates(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := assertUserInGroup(tx, session.GroupID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if session.Status == "active" {
		rt := ensureRuntime(session)
		if rt.Phase == "swiping" && !session.EndsAt.After(now) {
			if session, err = s.resolveIfExpired(ctx, tx, sessionID); err != nil {
				return nil, err
			}
		}
	}
	return s.buildSessionStateView(ctx, tx, session, userID, now)
}

// sessionCandidatesForIDs filters the persisted candidate rows down to the
// given deck, keeping position order. An empty filter keeps every row.
func sessionCandidatesForIDs(session *models.TonightSession, candidateIDs []string) []models.TonightSessionCandidate {
	ordered := make([]models.TonightSessionCandidate, len(session.Candidates))
	copy(ordered, session.Candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	if len(candidateIDs) == 0 {
		return ordered
	}
	allowed := map[string]bool{}
	for _, id := range candidateIDs {
		allowed[id] = true
	}
	out := make([]models.TonightSessionCandidate, 0, len(ordered))
	for _, row := range ordered {
		if allowed[row.WatchlistItemID] {
			out = append(out, row)
		}
	}
	return out
}

// buildSessionStateView assembles the caller's view of the session, applying
// lazy timer starts, auto-locks and round advancement as side effects.
func (s *SessionService) buildSessionStateView(ctx context.Context, tx *gorm.DB, session *models.TonightSession, userID string, now time.Time) (*sessionStateView, error) {
	rt := ensureRuntime(session)
	memberIDs, err := groupMemberIDs(tx, session.GroupID)
	if err != nil {
		return nil, err
	}

	if session.Status == "complete" {
		view := &sessionStateView{
			Session:              session,
			Candidates:           sessionCandidatesForIDs(session, candidateIDsForRound(session, rt, 1)),
			Phase:                "complete",
			Round:                1,
			UserLocked:           true,
			UserSecondsLeft:      0,
			MutualCandidateIDs:   []string{},
			Shortlist:            rt.round1Shortlist(),
			TieBreakCandidateIDs: []string{},
			EndedByLeader:        rt.EndedByLeader,
		}
		persistRuntime(session, rt)
		if err := tx.Save(session).Error; err != nil {
			return nil, err
		}
		return view, nil
	}

	if rt.Phase == "collecting" {
		if _, ok := rt.Collecting.UserJoinedAt[userID]; !ok {
			rt.Collecting.UserJoinedAt[userID] = toISO(now)
		}

		allDealt := len(memberIDs) > 0
		for _, memberID := range memberIDs {
			if _, ok := rt.Collecting.UserDealtAt[memberID]; !ok {
				allDealt = false
				break
			}
		}

		if allDealt || len(memberIDs) <= 1 {
			if err := s.finalizeCollectingToSwipe(ctx, tx, session, rt, memberIDs, now); err != nil {
				return nil, err
			}
			var rows []models.TonightSessionCandidate
			err := tx.
				Preload("WatchlistItem.Title").
				Where("session_id = ?", session.ID).
				Order("position ASC").
				Find(&rows).Error
			if err != nil {
				return nil, err
			}
			session.Candidates = rows
		} else {
			_, userDealt := rt.Collecting.UserDealtAt[userID]
			phase := "collecting"
			if userDealt {
				phase = "waiting"
			} else if _, joined := rt.Collecting.UserJoinedAt[userID]; joined {
				phase = "waiting"
			}
			view := &sessionStateView{
				Session:              session,
				Candidates:           []models.TonightSessionCandidate{},
				Phase:                phase,
				Round:                0,
				UserLocked:           userDealt,
				UserSecondsLeft:      roundTimerSeconds,
				MutualCandidateIDs:   []string{},
				Shortlist:            []string{},
				TieBreakCandidateIDs: []string{},
			}
			persistRuntime(session, rt)
			if err := tx.Save(session).Error; err != nil {
				return nil, err
			}
			return view, nil
		}
	}

	if rt.Phase == "tiebreak" {
		tieBreakIDs := rt.TieBreakCandidateIDs
		if len(tieBreakIDs) == 0 {
			tieBreakIDs = candidateIDsForRound(session, rt, 1)
		}
		view := &sessionStateView{
			Session:              session,
			Candidates:           sessionCandidatesForIDs(session, tieBreakIDs),
			Phase:                "tiebreak",
			Round:                1,
			UserLocked:           true,
			UserSecondsLeft:      0,
			MutualCandidateIDs:   rt.computeMutualIDs(memberIDs),
			Shortlist:            rt.round1Shortlist(),
			TieBreakRequired:     true,
			TieBreakCandidateIDs: tieBreakIDs,
		}
		persistRuntime(session, rt)
		if err := tx.Save(session).Error; err != nil {
			return nil, err
		}
		return view, nil
	}

	currentRound := rt.Round
	currentIDs := candidateIDsForRound(session, rt, currentRound)
	rt.seedRoundTimers(currentRound, memberIDs, now)
	rt.ensureUserTimer(currentRound, userID, now)

	userLocked := rt.applyUserAutoLock(currentRound, userID, currentIDs, now)
	userSecondsLeft := rt.secondsLeftForUser(currentRound, userID, now)

	if err := s.advanceRoundsIfNeeded(ctx, tx, session, rt, now); err != nil {
		return nil, err
	}

	if session.Status == "complete" {
		view := &sessionStateView{
			Session:              session,
			Candidates:           sessionCandidatesForIDs(session, candidateIDsForRound(session, rt, 1)),
			Phase:                "complete",
			Round:                currentRound,
			UserLocked:           true,
			UserSecondsLeft:      0,
			MutualCandidateIDs:   []string{},
			Shortlist:            rt.round1Shortlist(),
			TieBreakCandidateIDs: []string{},
			EndedByLeader:        rt.EndedByLeader,
		}
		persistRuntime(session, rt)
		if err := tx.Save(session).Error; err != nil {
			return nil, err
		}
		return view, nil
	}

	if rt.Phase == "tiebreak" {
		tieBreakIDs := rt.TieBreakCandidateIDs
		view := &sessionStateView{
			Session:              session,
			Candidates:           sessionCandidatesForIDs(session, tieBreakIDs),
			Phase:                "tiebreak",
			Round:                1,
			UserLocked:           true,
			UserSecondsLeft:      0,
			MutualCandidateIDs:   rt.computeMutualIDs(memberIDs),
			Shortlist:            rt.round1Shortlist(),
			TieBreakRequired:     true,
			TieBreakCandidateIDs: tieBreakIDs,
		}
		persistRuntime(session, rt)
		if err := tx.Save(session).Error; err != nil {
			return nil, err
		}
		return view, nil
	}

	currentIDs = candidateIDsForRound(session, rt, currentRound)
	phase := "swiping"
	if userLocked {
		phase = "waiting"
		userSecondsLeft = 0
	}
	view := &sessionStateView{
		Session:              session,
		Candidates:           sessionCandidatesForIDs(session, currentIDs),
		Phase:                phase,
		Round:                currentRound,
		UserLocked:           userLocked,
		UserSecondsLeft:      userSecondsLeft,
		MutualCandidateIDs:   rt.computeMutualIDs(memberIDs),
		Shortlist:            rt.round1Shortlist(),
		TieBreakCandidateIDs: []string{},
	}
	persistRuntime(session, rt)
	if err := tx.Save(session).Error; err != nil {
		return nil, err
	}
	return view, nil
}

func serializeView(view *sessionStateView) SessionStateResponse {
	session := view.Session
	candidates := make([]SessionCandidateOut, 0, len(view.Candidates))
	for _, row := range view.Candidates {
		title := row.WatchlistItem.Title
		candidates = append(candidates, SessionCandidateOut{
			ID:              row.ID,
			WatchlistItemID: row.WatchlistItemID,
			Position:        row.Position,
			AINote:          row.AINote,
			Title: TitleOut{
				ID:             title.ID,
				Name:           title.Name,
				MediaType:      title.MediaType,
				ReleaseYear:    title.ReleaseYear,
				PosterPath:     title.PosterPath,
				Overview:       title.Overview,
				RuntimeMinutes: title.RuntimeMinutes,
			},
		})
	}

	ensureSlice := func(ids []string) []string {
		if ids == nil {
			return []string{}
		}
		return ids
	}

	return SessionStateResponse{
		ID:                    session.ID,
		GroupID:               session.GroupID,
		Status:                session.Status,
		Phase:                 view.Phase,
		Round:                 view.Round,
		EndsAt:                session.EndsAt,
		CompletedAt:           session.CompletedAt,
		ResultWatchlistItemID: session.ResultWatchlistItemID,
		DurationSeconds:       session.DurationSeconds,
		CandidateCount:        session.CandidateCount,
		AIUsed:                session.AIUsed,
		AIWhy:                 session.AIWhy,
		WatchPartyURL:         session.WatchPartyURL,
		WatchPartySetAt:       session.WatchPartySetAt,
		UserLocked:            view.UserLocked,
		UserSecondsLeft:       view.UserSecondsLeft,
		Candidates:            candidates,
		MutualCandidateIDs:    ensureSlice(view.MutualCandidateIDs),
		Shortlist:             ensureSlice(view.Shortlist),
		TieBreakRequired:      view.TieBreakRequired,
		TieBreakCandidateIDs:  ensureSlice(view.TieBreakCandidateIDs),
		EndedByLeader:         view.EndedByLeader,
		CreatedAt:             session.CreatedAt,
	}
}
