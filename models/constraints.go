package models

import (
	"encoding/json"
	"strings"
)

const maxTagLength = 60

// SessionConstraints is the canonical, fully normalized preference object a
// session deck is built from. Every instance that enters the state machine
// has gone through Normalize.
type SessionConstraints struct {
	Moods []string `json:"moods"`
	Avoid []string `json:"avoid"`

	MaxRuntime *int    `json:"max_runtime" validate:"omitempty,gte=30,lte=600"`
	Format     string  `json:"format" validate:"omitempty,oneof=movie tv any"`
	Energy     *string `json:"energy" validate:"omitempty,oneof=low med high"`

	FreeText   string  `json:"free_text"`
	ParsedByAI bool    `json:"parsed_by_ai"`
	AIVersion  *string `json:"ai_version"`
}

// Normalize enforces the canonical shape: trimmed/deduped tags, default
// format, consistent AI fields (ai_version is non-null iff parsed_by_ai).
func (c *SessionConstraints) Normalize() {
	c.Moods = normalizeTagList(c.Moods)
	c.Avoid = normalizeTagList(c.Avoid)

	if c.Format != "movie" && c.Format != "tv" {
		c.Format = "any"
	}
	if c.Energy != nil {
		e := strings.ToLower(strings.TrimSpace(*c.Energy))
		if e != "low" && e != "med" && e != "high" {
			c.Energy = nil
		} else {
			c.Energy = &e
		}
	}
	if c.MaxRuntime != nil && (*c.MaxRuntime < 30 || *c.MaxRuntime > 600) {
		c.MaxRuntime = nil
	}

	c.FreeText = strings.TrimSpace(c.FreeText)

	if !c.ParsedByAI {
		c.AIVersion = nil
	} else if c.AIVersion == nil || strings.TrimSpace(*c.AIVersion) == "" {
		// parsed_by_ai without a version is an inconsistent record
		c.ParsedByAI = false
		c.AIVersion = nil
	}
}

// ConstraintsFromPayload canonicalizes a raw request payload. Unknown keys
// are ignored, malformed values fall back to defaults.
func ConstraintsFromPayload(payload map[string]interface{}) SessionConstraints {
	var c SessionConstraints
	if len(payload) > 0 {
		if raw, err := json.Marshal(payload); err == nil {
			_ = json.Unmarshal(raw, &c)
		}
	}
	c.Normalize()
	return c
}

// ConstraintsFromJSON re-validates a stored constraints document.
func ConstraintsFromJSON(doc string) SessionConstraints {
	var c SessionConstraints
	if strings.TrimSpace(doc) != "" {
		_ = json.Unmarshal([]byte(doc), &c)
	}
	c.Normalize()
	return c
}

// JSON serializes the canonical document for storage.
func (c SessionConstraints) JSON() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func normalizeTagList(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if runes := []rune(t); len(runes) > maxTagLength {
			t = string(runes[:maxTagLength])
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, t)
	}
	return cleaned
}
