package intent

import (
	"strings"
	"unicode"
)

// vocabEntry maps a canonical name to the keywords that imply it.
type vocabEntry struct {
	name     string
	keywords []string
}

// Vocabulary tables are ordered slices so extraction output is
// deterministic. Matching is case-insensitive; single-word keywords
// match on word boundaries so "unlock" does not also imply "lock".

var areaVocab = []vocabEntry{
	{"kitchen", []string{"kitchen"}},
	{"living room", []string{"living room", "livingroom", "lounge", "family room"}},
	{"bedroom", []string{"bedroom", "master bedroom", "guest room"}},
	{"bathroom", []string{"bathroom", "washroom", "restroom", "ensuite"}},
	{"office", []string{"office", "study"}},
	{"garage", []string{"garage"}},
	{"hallway", []string{"hallway", "hall", "corridor", "entryway"}},
	{"dining room", []string{"dining room", "dining"}},
	{"basement", []string{"basement", "cellar"}},
	{"attic", []string{"attic", "loft"}},
	{"garden", []string{"garden", "backyard", "back yard", "patio"}},
	{"laundry", []string{"laundry", "utility room"}},
}

var domainVocab = []vocabEntry{
	{"light", []string{"light", "lights", "lamp", "bulb", "chandelier"}},
	{"switch", []string{"switch", "outlet", "plug", "socket"}},
	{"climate", []string{"thermostat", "climate", "heating", "heater", "hvac", "air conditioning", "temperature"}},
	{"sensor", []string{"sensor", "humidity", "air quality"}},
	{"binary_sensor", []string{"motion", "door sensor", "window sensor"}},
	{"cover", []string{"blind", "blinds", "curtain", "curtains", "shade", "shades", "shutter", "garage door"}},
	{"lock", []string{"lock", "deadbolt"}},
	{"fan", []string{"fan", "ventilation"}},
	{"media_player", []string{"tv", "television", "speaker", "music", "media"}},
	{"camera", []string{"camera"}},
	{"vacuum", []string{"vacuum"}},
	{"scene", []string{"scene", "mood"}},
	{"script", []string{"routine"}},
	{"automation", []string{"automation"}},
}

var serviceVocab = []vocabEntry{
	{"turn_on", []string{"turn on", "switch on", "power on", "enable", "activate"}},
	{"turn_off", []string{"turn off", "switch off", "power off", "disable", "shut off"}},
	{"toggle", []string{"toggle", "flip"}},
	{"set_temperature", []string{"set temperature", "set the temperature", "degrees", "warmer", "cooler"}},
	{"unlock", []string{"unlock"}},
	{"lock", []string{"lock"}},
	{"open", []string{"open", "raise"}},
	{"close", []string{"close", "shut", "lower"}},
	{"dim", []string{"dim", "darker"}},
	{"brighten", []string{"brighten", "brighter"}},
}

// containsKeyword reports whether kw occurs in text. Multi-word
// keywords use plain substring matching; single words must sit on word
// boundaries. text must already be lowercased.
func containsKeyword(text, kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(text, kw)
	}
	return containsWord(text, kw)
}

// containsWord reports whether w occurs in text delimited by
// non-alphanumeric runes (or the string edges).
func containsWord(text, w string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], w)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(w)
		beforeOK := i == 0 || !isWordRune(rune(text[i-1]))
		afterOK := end == len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		start = i + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// matchVocab returns the canonical names whose keywords occur in text,
// in table order with no duplicates. text must already be lowercased.
func matchVocab(text string, vocab []vocabEntry) []string {
	var out []string
	for _, entry := range vocab {
		for _, kw := range entry.keywords {
			if containsKeyword(text, kw) {
				out = append(out, entry.name)
				break
			}
		}
	}
	return out
}

// keywordsFor returns the keyword family for a canonical name, or nil.
func keywordsFor(name string, vocab []vocabEntry) []string {
	for _, entry := range vocab {
		if entry.name == name {
			return entry.keywords
		}
	}
	return nil
}
