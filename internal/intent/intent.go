// Package intent extracts smart-home intent from free-text utterances
// and scores candidate subjects for relevance. Extraction matches the
// utterance against fixed area, domain, and service vocabularies;
// scoring decides which entities and areas the dynamic context
// fragments should be scoped to. Everything here is deterministic:
// the same utterance always yields the same intent and ordering.
package intent

import (
	"sort"
	"strings"
)

// Intent is the per-request, ephemeral view of what the utterance is
// about. Slices are in vocabulary order and never contain duplicates.
type Intent struct {
	Areas    []string
	Domains  []string
	Services []string
}

// Empty reports whether no vocabulary matched at all.
func (in Intent) Empty() bool {
	return len(in.Areas) == 0 && len(in.Domains) == 0 && len(in.Services) == 0
}

// Extract matches text against the area, domain, and service
// vocabularies and returns everything that matched.
func Extract(text string) Intent {
	t := strings.ToLower(text)
	return Intent{
		Areas:    matchVocab(t, areaVocab),
		Domains:  matchVocab(t, domainVocab),
		Services: matchVocab(t, serviceVocab),
	}
}

// Subject is a scoring candidate: typically an entity from the
// inventory, flattened to the fields relevance cares about.
type Subject struct {
	// ID is the entity id ("light.kitchen_ceiling").
	ID string
	// Name is the friendly name ("Kitchen Ceiling").
	Name string
	// Domain is the entity domain ("light").
	Domain string
	// Area is the area name ("Kitchen"), empty when unassigned.
	Area string
	// Aliases are alternative names registered for the entity.
	Aliases []string
}

// Relevance weights. Additive; the sum is capped at 1.0.
const (
	weightNameMatch   = 0.5 // id, name, or alias appears in the text
	weightWordOverlap = 0.4 // scaled by the fraction of name words present
	weightDomain      = 0.3 // a keyword for the subject's domain is present
	weightArea        = 0.3 // the subject's area name is present
)

// Score rates how relevant a subject is to the utterance, in [0,1].
func Score(subject Subject, text string) float64 {
	t := strings.ToLower(text)
	var score float64

	if subjectNameInText(subject, t) {
		score += weightNameMatch
	}

	score += nameWordOverlap(subject.Name, t) * weightWordOverlap

	if subject.Domain != "" {
		for _, kw := range keywordsFor(subject.Domain, domainVocab) {
			if containsKeyword(t, kw) {
				score += weightDomain
				break
			}
		}
	}

	if subject.Area != "" && strings.Contains(t, strings.ToLower(subject.Area)) {
		score += weightArea
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Prioritize returns the topN most relevant subjects for the
// utterance, highest score first. The sort is stable, so equal scores
// keep their input order. topN <= 0 or beyond the input length returns
// the whole scored list.
func Prioritize(subjects []Subject, text string, topN int) []Subject {
	type scored struct {
		subject Subject
		score   float64
	}

	list := make([]scored, len(subjects))
	for i, s := range subjects {
		list[i] = scored{subject: s, score: Score(s, text)}
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].score > list[j].score
	})

	if topN <= 0 || topN > len(list) {
		topN = len(list)
	}

	out := make([]Subject, topN)
	for i := 0; i < topN; i++ {
		out[i] = list[i].subject
	}
	return out
}

// subjectNameInText reports whether the subject's id (object part,
// underscores read as spaces), friendly name, or any alias occurs in
// the lowercased text.
func subjectNameInText(subject Subject, t string) bool {
	if objectID := idAsWords(subject.ID); objectID != "" && strings.Contains(t, objectID) {
		return true
	}
	if name := strings.ToLower(subject.Name); name != "" && strings.Contains(t, name) {
		return true
	}
	for _, alias := range subject.Aliases {
		if a := strings.ToLower(alias); a != "" && strings.Contains(t, a) {
			return true
		}
	}
	return false
}

// idAsWords converts "light.kitchen_ceiling" to "kitchen ceiling" so
// entity ids can match the way people actually say them.
func idAsWords(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(id, "_", " "))
}

// nameWordOverlap returns the fraction of the subject name's words
// that occur in the lowercased text.
func nameWordOverlap(name, t string) float64 {
	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if containsWord(t, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}
