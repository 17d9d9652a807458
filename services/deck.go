package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/noelys215/arbiter-api/models"
)

const maxDeckPoolSize = 30

// deckResult is one member's personalized candidate deck plus the effective
// constraints it was built under.
type deckResult struct {
	Items       []models.WatchlistItem
	Constraints models.SessionConstraints
	AIUsed      bool
	AIWhy       *string
}

// deckSeed derives the member's stable shuffle seed for today. The same
// group, user, date and constraints always produce the same deck order.
func deckSeed(groupID, userID string, constraints models.SessionConstraints) uint32 {
	day := time.Now().UTC().Format("2006-01-02")
	return stableSeed(fmt.Sprintf("%s:%s:%s:%s", groupID, userID, day, constraints.JSON()))
}

// parseEffectiveConstraints runs the AI parse over the member's free text
// and falls back to the normalized baseline when the assistant is
// unavailable or fails.
func (s *SessionService) parseEffectiveConstraints(ctx context.Context, baseline models.SessionConstraints) models.SessionConstraints {
	baseline.Normalize()
	text := baseline.FreeText
	if text == "" || s.AI == nil {
		return baseline
	}

	parsed, err := s.AI.ParseConstraints(ctx, baseline, text)
	if err != nil {
		log.Printf("constraint parse fell back to deterministic path: %v", err)
		fallback := baseline
		fallback.ParsedByAI = false
		fallback.AIVersion = nil
		return fallback
	}
	return parsed
}

// candidatePool loads the group's eligible watchlist rows: active status,
// not snoozed, newest first.
func (s *SessionService) candidatePool(groupID string) ([]models.WatchlistItem, error) {
	var items []models.WatchlistItem
	err := s.DB.
		Preload("Title").
		Where("group_id = ? AND status = ?", groupID, "watchlist").
		Where("snoozed_until IS NULL OR snoozed_until <= ?", time.Now().UTC()).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// applyHardFilters drops items that violate format or max-runtime. Moods and
// avoid lists never exclude items outright, they only influence ordering.
func applyHardFilters(items []models.WatchlistItem, c models.SessionConstraints) []models.WatchlistItem {
	out := make([]models.WatchlistItem, 0, len(items))
	for _, it := range items {
		if c.Format != "" && c.Format != "any" && it.Title.MediaType != c.Format {
			continue
		}
		if c.MaxRuntime != nil && it.Title.RuntimeMinutes != nil && *it.Title.RuntimeMinutes > *c.MaxRuntime {
			continue
		}
		out = append(out, it)
	}
	return out
}

func shuffleDeterministic(items []models.WatchlistItem, seed uint32) []models.WatchlistItem {
	out := make([]models.WatchlistItem, len(items))
	copy(out, items)
	rng := rand.New(rand.NewSource(int64(seed)))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// generateUserDeck builds one member's deck: parse constraints, filter the
// pool, order by mood fit (or deterministic shuffle without moods), cap the
// preliminary slate, then optionally let the assistant pick the final deck
// from the full slate.
func (s *SessionService) generateUserDeck(ctx context.Context, groupID, userID string, baseline models.SessionConstraints, candidateCount int) (*deckResult, error) {
	constraints := s.parseEffectiveConstraints(ctx, baseline)

	pool, err := s.candidatePool(groupID)
	if err != nil {
		return nil, err
	}
	pool = applyHardFilters(pool, constraints)
	if len(pool) == 0 {
		return &deckResult{Items: nil, Constraints: constraints}, nil
	}

	seed := deckSeed(groupID, userID, constraints)
	requestedMoods := deriveRequestedMoods(constraints)

	var ordered []models.WatchlistItem
	if len(requestedMoods) > 0 {
		taxonomies := map[string]Taxonomy{}
		if s.TMDB != nil {
			for _, it := range pool {
				taxonomies[it.ID] = s.TMDB.TitleTaxonomy(ctx, it.Title)
			}
		}
		matched := buildItemTagMatches(pool, requestedMoods, taxonomies)
		ordered = sortWithMoodMatches(pool, matched, seed)
	} else {
		ordered = shuffleDeterministic(pool, seed)
	}

	if len(ordered) > maxDeckPoolSize {
		ordered = ordered[:maxDeckPoolSize]
	}
	prelim := ordered
	n := candidateCount
	if n > len(prelim) {
		n = len(prelim)
	}

	result := &deckResult{
		Items:       append([]models.WatchlistItem{}, prelim[:n]...),
		Constraints: constraints,
	}

	if s.AI != nil && n > 1 {
		if s.rerankDeck(ctx, result, prelim, n, constraints) {
			result.AIUsed = true
		}
	}
	return result, nil
}

// rerankDeck asks the assistant to pick and order the final n items from the
// whole preliminary slate, so a strong fit ranked past position n can still
// surface. The answer is accepted only when enough returned ids validate
// against the slate: at least min(3, n) and a strict majority of n. Short
// answers are padded in the preliminary order so the deck size never changes.
func (s *SessionService) rerankDeck(ctx context.Context, result *deckResult, prelim []models.WatchlistItem, n int, constraints models.SessionConstraints) bool {
	byID := make(map[string]models.WatchlistItem, len(prelim))
	slate := make([]RerankCandidate, 0, len(prelim))
	for _, it := range prelim {
		byID[it.ID] = it
		slate = append(slate, RerankCandidate{
			ID:        it.ID,
			Name:      it.Title.Name,
			MediaType: it.Title.MediaType,
			Year:      it.Title.ReleaseYear,
			Overview:  deref(it.Title.Overview),
		})
	}

	reply, err := s.AI.RerankCandidates(ctx, constraints, slate)
	if err != nil {
		log.Printf("rerank fell back to deterministic order: %v", err)
		return false
	}

	seen := map[string]bool{}
	var valid []string
	for _, id := range reply.OrderedIDs {
		if _, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			valid = append(valid, id)
		}
	}

	minValid := 3
	if n < minValid {
		minValid = n
	}
	if len(valid) < minValid || len(valid) < n/2+1 {
		log.Printf("rerank rejected: %d of %d ids validated", len(valid), n)
		return false
	}

	reordered := make([]models.WatchlistItem, 0, n)
	for _, id := range valid {
		reordered = append(reordered, byID[id])
		if len(reordered) == n {
			break
		}
	}
	for _, it := range prelim {
		if len(reordered) == n {
			break
		}
		if !seen[it.ID] {
			seen[it.ID] = true
			reordered = append(reordered, it)
		}
	}

	result.Items = reordered
	if reply.Why != "" {
		why := reply.Why
		result.AIWhy = &why
	}
	return true
}
