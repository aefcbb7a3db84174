// Package resolver maps free-text device references to concrete Home
// Assistant entities. Resolution is a deterministic scoring pipeline
// (area narrowing, domain narrowing, positional and device-type
// keyword scoring) rather than fuzzy matching, so the same prompt
// against the same inventory always resolves identically.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/wtthornton/HomeIQ-sub000/internal/homeassistant"
	"github.com/wtthornton/HomeIQ-sub000/internal/intent"
)

// ErrNoMatch reports that no candidate scored above zero. The
// Resolution still carries a bounded unscored sample so the caller can
// present options.
var ErrNoMatch = errors.New("no entities matched user description")

// positionalKeywords locate a device within an area ("the top light",
// "the desk lamp").
var positionalKeywords = []string{
	"top", "left", "right", "back", "front",
	"desk", "ceiling", "floor", "bottom",
}

// deviceTypeKeywords name a kind of device more specifically than its
// domain does.
var deviceTypeKeywords = []string{
	"led", "strip", "bulb", "lamp", "spot", "sconce",
}

const (
	// maxSampleSize bounds the unscored sample returned on no match.
	maxSampleSize = 5
	// tieNarrowThreshold is the scored-match count above which only
	// entities tied at the maximum score are returned.
	tieNarrowThreshold = 3
	// confidenceDivisor normalizes the mean score into [0,1].
	confidenceDivisor = 3.0
)

// Resolution is the outcome of resolving a prompt against candidates.
type Resolution struct {
	// Entities are the resolved entities, or an unscored sample when
	// Success is false.
	Entities []homeassistant.EntityInfo
	// Areas lists the area names the prompt was narrowed to.
	Areas []string
	// Confidence is the normalized mean score of the selection, in [0,1].
	Confidence float64
	// Warnings notes non-fatal resolution decisions (tie narrowing).
	Warnings []string
	// Success reports that at least one candidate scored above zero.
	Success bool
	// Err is set when Success is false.
	Err error
}

type scoredEntity struct {
	entity homeassistant.EntityInfo
	score  float64
}

// Resolve maps a prompt to the entities it most plausibly refers to.
// domainFilter, when non-empty, restricts candidates to that domain.
func Resolve(prompt string, candidates []homeassistant.EntityInfo, domainFilter string) Resolution {
	var res Resolution

	promptLower := strings.ToLower(prompt)
	words := promptWords(promptLower)

	remaining := candidates

	// Area narrowing. An area mention with nothing in that area is an
	// explicit failure, not a fall-through to the full candidate set.
	if areas := intent.Extract(prompt).Areas; len(areas) > 0 {
		area := areas[0]
		filtered := filterByArea(remaining, area)
		if len(filtered) == 0 {
			res.Err = fmt.Errorf("no entities in area %q", area)
			return res
		}
		remaining = filtered
		res.Areas = []string{area}
	}

	if domainFilter != "" {
		remaining = filterByDomain(remaining, domainFilter)
	}

	var scored []scoredEntity
	for _, e := range remaining {
		if s := scoreEntity(e, words); s > 0 {
			scored = append(scored, scoredEntity{entity: e, score: s})
		}
	}

	if len(scored) == 0 {
		res.Err = ErrNoMatch
		res.Entities = sample(remaining, maxSampleSize)
		return res
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	// Cardinality: a handful of matches is returned whole; a crowd is
	// narrowed to the entities tied at the maximum score.
	selected := scored
	if len(scored) > tieNarrowThreshold {
		maxScore := scored[0].score
		var top []scoredEntity
		for _, se := range scored {
			if se.score == maxScore {
				top = append(top, se)
			}
		}
		if len(top) < len(scored) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("narrowed %d matches to %d top-scored", len(scored), len(top)))
		}
		selected = top
	}

	var total float64
	res.Entities = make([]homeassistant.EntityInfo, len(selected))
	for i, se := range selected {
		res.Entities[i] = se.entity
		total += se.score
	}

	res.Confidence = total / float64(len(selected)) / confidenceDivisor
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	res.Success = true
	return res
}

// scoreEntity rates one candidate: +1 per positional keyword from the
// prompt found in its id/name/aliases, +1 per device-type keyword
// likewise, +0.5 when any prompt word longer than two runes appears in
// the friendly name.
func scoreEntity(e homeassistant.EntityInfo, words map[string]bool) float64 {
	text := strings.ToLower(e.EntityID + " " + e.FriendlyName)
	if len(e.Aliases) > 0 {
		text += " " + strings.ToLower(strings.Join(e.Aliases, " "))
	}

	var score float64
	for _, kw := range positionalKeywords {
		if words[kw] && strings.Contains(text, kw) {
			score++
		}
	}
	for _, kw := range deviceTypeKeywords {
		if words[kw] && strings.Contains(text, kw) {
			score++
		}
	}

	if name := strings.ToLower(e.FriendlyName); name != "" {
		for w := range words {
			if len(w) > 2 && strings.Contains(name, w) {
				score += 0.5
				break
			}
		}
	}

	return score
}

// filterByArea keeps entities whose area name or id matches the
// canonical area, compared case-insensitively with underscores read as
// spaces.
func filterByArea(entities []homeassistant.EntityInfo, area string) []homeassistant.EntityInfo {
	var out []homeassistant.EntityInfo
	for _, e := range entities {
		name := strings.ToLower(e.AreaName)
		id := strings.ReplaceAll(strings.ToLower(e.AreaID), "_", " ")
		if (name != "" && strings.Contains(name, area)) || (id != "" && strings.Contains(id, area)) {
			out = append(out, e)
		}
	}
	return out
}

func filterByDomain(entities []homeassistant.EntityInfo, domain string) []homeassistant.EntityInfo {
	var out []homeassistant.EntityInfo
	for _, e := range entities {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

// sample returns the first n entities, preserving input order.
func sample(entities []homeassistant.EntityInfo, n int) []homeassistant.EntityInfo {
	if len(entities) <= n {
		n = len(entities)
	}
	if n == 0 {
		return nil
	}
	out := make([]homeassistant.EntityInfo, n)
	copy(out, entities[:n])
	return out
}

// promptWords splits the lowercased prompt into a word set.
func promptWords(prompt string) map[string]bool {
	words := strings.FieldsFunc(prompt, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
