package services

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noelys215/arbiter-api/models"
)

// Static mood taxonomy. Each mood profile maps to genre names and keyword
// strings; tagGenreIDs maps the same moods onto TMDB's numeric genre ids.
// All tables are initialized once at process start and never mutated.

type stringSet map[string]struct{}
type intSet map[int]struct{}

func newStringSet(values ...string) stringSet {
	s := make(stringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func newIntSet(values ...int) intSet {
	s := make(intSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

type tagProfile struct {
	Genres   stringSet
	Keywords stringSet
}

type runtimeTagRule struct {
	MaxMinutes int
	MediaTypes stringSet
}

var tagProfiles = map[string]tagProfile{
	"mind-bender": {
		Genres: newStringSet("science fiction", "mystery", "thriller", "fantasy"),
		Keywords: newStringSet(
			"mind-bending", "time travel", "parallel universe", "plot twist",
			"twist ending", "psychological", "surreal", "simulation", "alternate reality",
		),
	},
	"cozy": {
		Genres: newStringSet("family", "animation", "comedy", "romance"),
		Keywords: newStringSet(
			"comfort", "cozy", "feel good", "heartwarming", "slice of life",
			"friendship", "small town",
		),
	},
	"feel-good": {
		Genres: newStringSet("comedy", "family", "music", "romance"),
		Keywords: newStringSet(
			"feel good", "uplifting", "inspirational", "heartwarming",
			"friendship", "hope", "optimism",
		),
	},
	"dark comedy": {
		Genres: newStringSet("comedy", "crime", "thriller", "drama"),
		Keywords: newStringSet(
			"dark comedy", "black comedy", "satire", "absurdism", "offbeat",
			"irony", "morbid humor",
		),
	},
	"thrilling": {
		Genres: newStringSet("thriller", "action", "crime", "mystery"),
		Keywords: newStringSet(
			"suspense", "chase", "intense", "high stakes", "edge of your seat",
			"cat and mouse", "conspiracy",
		),
	},
	"slow burn": {
		Genres: newStringSet("drama", "mystery", "thriller"),
		Keywords: newStringSet(
			"slow burn", "atmospheric", "character study", "brooding", "moody",
			"simmering tension",
		),
	},
	"heartfelt": {
		Genres: newStringSet("drama", "romance", "family"),
		Keywords: newStringSet(
			"emotional", "heartfelt", "tender", "healing", "family relationship",
			"grief", "growth",
		),
	},
	"epic": {
		Genres: newStringSet("adventure", "action", "fantasy", "war", "history"),
		Keywords: newStringSet(
			"epic", "grand scale", "quest", "legend", "battle", "saga", "world building",
		),
	},
	"nostalgic": {
		Genres: newStringSet("family", "comedy", "drama"),
		Keywords: newStringSet(
			"nostalgia", "coming of age", "retro", "throwback", "childhood",
			"memory", "period piece",
		),
	},
	"romantic": {
		Genres: newStringSet("romance", "drama", "comedy"),
		Keywords: newStringSet(
			"romance", "love", "relationship", "date night", "heartbreak", "meet cute",
		),
	},
	"high energy": {
		Genres: newStringSet("action", "adventure", "music", "crime"),
		Keywords: newStringSet(
			"adrenaline", "fast paced", "high octane", "chaos", "race against time", "heist",
		),
	},
	"cerebral": {
		Genres: newStringSet("mystery", "science fiction", "drama"),
		Keywords: newStringSet(
			"cerebral", "philosophical", "intellectual", "thought provoking",
			"existential", "psychological",
		),
	},
	"scary": {
		Genres: newStringSet("horror", "thriller", "mystery"),
		Keywords: newStringSet(
			"horror", "supernatural", "haunted", "monster", "slasher", "demon", "paranormal",
		),
	},
	"documentary": {
		Genres:   newStringSet("documentary"),
		Keywords: newStringSet("documentary", "true story", "biography", "investigation"),
	},
	"animated": {
		Genres:   newStringSet("animation", "family", "fantasy", "adventure"),
		Keywords: newStringSet("animated", "anime", "cartoon", "pixar", "dreamworks"),
	},
	"under 30 min": {
		Genres: newStringSet(),
		Keywords: newStringSet(
			"under 30 min", "under 30 mins", "under 30 minutes", "short episode", "quick watch",
		),
	},
	"under 15 min": {
		Genres: newStringSet(),
		Keywords: newStringSet(
			"under 15 min", "under 15 mins", "under 15 minutes", "micro episode", "very short",
		),
	},
}

var tagGenreIDs = map[string]intSet{
	"mind-bender": newIntSet(878, 10765, 9648, 53, 14),
	"cozy":        newIntSet(10751, 16, 35, 10762, 10749),
	"feel-good":   newIntSet(35, 10751, 10402, 10749),
	"dark comedy": newIntSet(35, 80, 53, 18),
	"thrilling":   newIntSet(53, 28, 80, 9648, 10759),
	"slow burn":   newIntSet(18, 9648, 53),
	"heartfelt":   newIntSet(18, 10749, 10751),
	"epic":        newIntSet(12, 28, 14, 10759, 10768, 10752, 36),
	"nostalgic":   newIntSet(10751, 35, 18),
	"romantic":    newIntSet(10749, 18, 35),
	"high energy": newIntSet(28, 12, 10402, 80, 10759),
	"cerebral":    newIntSet(9648, 878, 18, 10765),
	"scary":       newIntSet(27, 53, 9648),
	"documentary": newIntSet(99),
	"animated":    newIntSet(16, 10762, 10751, 14, 12, 10765),
}

// Runtime-based moods match purely on episode length and media type, never
// on the taxonomy tables.
var runtimeTagRules = map[string]runtimeTagRule{
	"under 30 min": {MaxMinutes: 30, MediaTypes: newStringSet("tv")},
	"under 15 min": {MaxMinutes: 15, MediaTypes: newStringSet("tv")},
}

var tagAliases = map[string]string{
	"mind bender":         "mind-bender",
	"mind-bending":        "mind-bender",
	"mind bending":        "mind-bender",
	"cozy":                "cozy",
	"feel good":           "feel-good",
	"feel-good":           "feel-good",
	"dark comedy":         "dark comedy",
	"black comedy":        "dark comedy",
	"thrilling":           "thrilling",
	"thriller":            "thrilling",
	"slow burn":           "slow burn",
	"heartfelt":           "heartfelt",
	"epic":                "epic",
	"nostalgic":           "nostalgic",
	"romantic":            "romantic",
	"high energy":         "high energy",
	"energetic":           "high energy",
	"cerebral":            "cerebral",
	"scary":               "scary",
	"horror":              "scary",
	"documentary":         "documentary",
	"doc":                 "documentary",
	"animated":            "animated",
	"animation":           "animated",
	"under 30 min":        "under 30 min",
	"under 30 mins":       "under 30 min",
	"under 30 minutes":    "under 30 min",
	"under 15 min":        "under 15 min",
	"under 15 mins":       "under 15 min",
	"under 15 minutes":    "under 15 min",
	"quick episodes":      "under 30 min",
	"quick episode":       "under 30 min",
	"short episodes":      "under 30 min",
	"very short episodes": "under 15 min",
	"micro episodes":      "under 15 min",
}

type genreDefinition struct {
	GenreIDs intSet
	Genres   stringSet
	Aliases  stringSet
}

// Plain TMDB genres are moods too ("comedy", "horror", ...). Merged into the
// profile/alias tables at init.
var tmdbGenreDefinitions = map[string]genreDefinition{
	"action":             {newIntSet(28, 10759), newStringSet("action", "action & adventure"), newStringSet("action")},
	"adventure":          {newIntSet(12, 10759), newStringSet("adventure", "action & adventure"), newStringSet("adventure")},
	"action & adventure": {newIntSet(10759, 28, 12), newStringSet("action & adventure", "action", "adventure"), newStringSet("action & adventure", "action and adventure")},
	"animation":          {newIntSet(16), newStringSet("animation"), newStringSet("animation", "animated")},
	"comedy":             {newIntSet(35), newStringSet("comedy"), newStringSet("comedy")},
	"crime":              {newIntSet(80), newStringSet("crime"), newStringSet("crime")},
	"documentary":        {newIntSet(99), newStringSet("documentary"), newStringSet("documentary", "doc")},
	"drama":              {newIntSet(18), newStringSet("drama"), newStringSet("drama")},
	"family":             {newIntSet(10751), newStringSet("family", "kids"), newStringSet("family")},
	"fantasy":            {newIntSet(14, 10765), newStringSet("fantasy", "sci-fi & fantasy"), newStringSet("fantasy")},
	"history":            {newIntSet(36), newStringSet("history"), newStringSet("history", "historical")},
	"horror":             {newIntSet(27), newStringSet("horror"), newStringSet("horror")},
	"kids":               {newIntSet(10762), newStringSet("kids", "family"), newStringSet("kids", "children")},
	"music":              {newIntSet(10402), newStringSet("music"), newStringSet("music", "musical")},
	"mystery":            {newIntSet(9648), newStringSet("mystery"), newStringSet("mystery")},
	"news":               {newIntSet(10763), newStringSet("news"), newStringSet("news")},
	"reality":            {newIntSet(10764), newStringSet("reality"), newStringSet("reality", "reality tv")},
	"romance":            {newIntSet(10749), newStringSet("romance"), newStringSet("romance", "romantic")},
	"science fiction":    {newIntSet(878, 10765), newStringSet("science fiction", "sci-fi & fantasy"), newStringSet("science fiction", "sci-fi", "sci fi", "scifi")},
	"sci-fi & fantasy":   {newIntSet(10765, 878, 14), newStringSet("sci-fi & fantasy", "science fiction", "fantasy"), newStringSet("sci-fi & fantasy", "sci fi & fantasy", "sci-fi and fantasy")},
	"soap":               {newIntSet(10766), newStringSet("soap"), newStringSet("soap", "soap opera")},
	"talk":               {newIntSet(10767), newStringSet("talk"), newStringSet("talk", "talk show")},
	"tv movie":           {newIntSet(10770), newStringSet("tv movie"), newStringSet("tv movie", "television movie")},
	"thriller":           {newIntSet(53), newStringSet("thriller"), newStringSet("thriller")},
	"war":                {newIntSet(10752, 10768), newStringSet("war", "war & politics"), newStringSet("war")},
	"war & politics":     {newIntSet(10768, 10752), newStringSet("war & politics", "war", "history"), newStringSet("war & politics", "war and politics")},
	"western":            {newIntSet(37), newStringSet("western"), newStringSet("western")},
}

func init() {
	for canonical, def := range tmdbGenreDefinitions {
		profile, ok := tagProfiles[canonical]
		if !ok {
			profile = tagProfile{Genres: newStringSet(), Keywords: newStringSet()}
		}
		for g := range def.Genres {
			profile.Genres[g] = struct{}{}
		}
		for a := range def.Aliases {
			profile.Keywords[a] = struct{}{}
		}
		profile.Keywords[canonical] = struct{}{}
		tagProfiles[canonical] = profile

		ids, ok := tagGenreIDs[canonical]
		if !ok {
			ids = newIntSet()
			tagGenreIDs[canonical] = ids
		}
		for id := range def.GenreIDs {
			ids[id] = struct{}{}
		}

		tagAliases[canonical] = canonical
		for a := range def.Aliases {
			tagAliases[a] = canonical
		}
	}
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

func normText(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(value))), " ")
}

func tokenize(value string) stringSet {
	out := newStringSet()
	for _, w := range wordRe.FindAllString(normText(value), -1) {
		out[w] = struct{}{}
	}
	return out
}

var moodDisplayOverrides = map[string]string{
	"mind-bender":        "Mind-Bender",
	"feel-good":          "Feel-Good",
	"tv movie":           "TV Movie",
	"sci-fi & fantasy":   "Sci-Fi & Fantasy",
	"action & adventure": "Action & Adventure",
	"war & politics":     "War & Politics",
	"under 30 min":       "Under 30 Mins",
	"under 15 min":       "Under 15 Mins",
}

var moodTitleCaser = cases.Title(language.English)

func displayMoodName(value string) string {
	if display, ok := moodDisplayOverrides[value]; ok {
		return display
	}
	return moodTitleCaser.String(value)
}

// canonicalizeMood maps a user-supplied mood string onto the canonical
// taxonomy, or "" when it matches nothing.
func canonicalizeMood(value string) string {
	normalized := normText(value)
	if normalized == "" {
		return ""
	}
	if canonical, ok := tagAliases[normalized]; ok {
		return canonical
	}
	if canonical, ok := tagAliases[strings.ReplaceAll(normalized, "-", " ")]; ok {
		return canonical
	}
	return ""
}

// deriveRequestedMoods merges the constraints' mood list with alias
// substrings found in the free text into a deduplicated ordered list.
func deriveRequestedMoods(c models.SessionConstraints) []string {
	var selected []string
	seen := map[string]bool{}

	for _, mood := range c.Moods {
		canonical := canonicalizeMood(mood)
		if canonical != "" && !seen[canonical] {
			seen[canonical] = true
			selected = append(selected, canonical)
		}
	}

	freeText := normText(c.FreeText)
	if freeText != "" {
		// Scan aliases in sorted order so free-text derivation is stable.
		aliases := make([]string, 0, len(tagAliases))
		for alias := range tagAliases {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			canonical := tagAliases[alias]
			if strings.Contains(freeText, alias) && !seen[canonical] {
				seen[canonical] = true
				selected = append(selected, canonical)
			}
		}
	}

	return selected
}

// scoreTitleMoods scores one title against the requested moods and returns
// the moods that hit it. Sub-scores: +5 genre-id overlap, +3 genre-name
// overlap, +min(6, 2×keyword overlap), +min(3, free-text token overlap);
// runtime moods are +8 on the episode-length rule alone.
func scoreTitleMoods(t models.Title, tax Taxonomy, requestedMoods []string) []string {
	textTokens := tokenize(normText(t.Name) + " " + normText(deref(t.Overview)))

	var hits []string
	for _, mood := range requestedMoods {
		if rule, ok := runtimeTagRules[mood]; ok {
			if t.RuntimeMinutes == nil || *t.RuntimeMinutes <= 0 || *t.RuntimeMinutes > rule.MaxMinutes {
				continue
			}
			if len(rule.MediaTypes) > 0 {
				if _, ok := rule.MediaTypes[t.MediaType]; !ok {
					continue
				}
			}
			hits = append(hits, mood)
			continue
		}

		profile, ok := tagProfiles[mood]
		if !ok {
			continue
		}

		moodScore := 0
		if intersectsInt(tax.GenreIDs, tagGenreIDs[mood]) {
			moodScore += 5
		}
		if intersectsString(tax.Genres, profile.Genres) {
			moodScore += 3
		}
		if n := overlapString(tax.Keywords, profile.Keywords); n > 0 {
			moodScore += minInt(6, n*2)
		}
		profileTokens := newStringSet()
		for kw := range profile.Keywords {
			for tok := range tokenize(kw) {
				profileTokens[tok] = struct{}{}
			}
		}
		if n := overlapString(profileTokens, textTokens); n > 0 {
			moodScore += minInt(3, n)
		}

		if moodScore > 0 {
			hits = append(hits, mood)
		}
	}
	return hits
}

// buildItemTagMatches maps watchlist item ids onto their matched moods; only
// items with at least one hit appear. Taxonomy lookups degrade to empty sets.
func buildItemTagMatches(items []models.WatchlistItem, requestedMoods []string, taxonomies map[string]Taxonomy) map[string][]string {
	matched := map[string][]string{}
	if len(items) == 0 || len(requestedMoods) == 0 {
		return matched
	}
	for _, it := range items {
		hits := scoreTitleMoods(it.Title, taxonomies[it.ID], requestedMoods)
		if len(hits) > 0 {
			matched[it.ID] = hits
		}
	}
	return matched
}

// sortWithMoodMatches orders items by descending number of matched moods,
// dropping zero-match items when any item matched; ties break on a
// deterministic hash of (seed, item id).
func sortWithMoodMatches(items []models.WatchlistItem, matched map[string][]string, seed uint32) []models.WatchlistItem {
	if len(items) == 0 {
		return nil
	}

	score := func(it models.WatchlistItem) int { return len(matched[it.ID]) }

	anyPositive := false
	for _, it := range items {
		if score(it) > 0 {
			anyPositive = true
			break
		}
	}
	out := make([]models.WatchlistItem, 0, len(items))
	for _, it := range items {
		if !anyPositive || score(it) > 0 {
			out = append(out, it)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si > sj
		}
		return tieBreakHash(seed, out[i].ID) < tieBreakHash(seed, out[j].ID)
	})
	return out
}

func stableSeed(value string) uint32 {
	digest := sha256.Sum256([]byte(value))
	return binary.BigEndian.Uint32(digest[:4])
}

func tieBreakHash(seed uint32, itemID string) uint32 {
	return stableSeed(fmt.Sprintf("%d:%s", seed, itemID))
}

func intersectsString(a, b stringSet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for v := range a {
		if _, ok := b[v]; ok {
			return true
		}
	}
	return false
}

func intersectsInt(a, b intSet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for v := range a {
		if _, ok := b[v]; ok {
			return true
		}
	}
	return false
}

func overlapString(a, b stringSet) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for v := range a {
		if _, ok := b[v]; ok {
			n++
		}
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
