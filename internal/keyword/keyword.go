// Package keyword holds the static safety term lists used to cross-check AI
// urgency judgments. Matching is case-insensitive substring existence; hit
// frequency and position carry no weight. The lists are plain data so new
// terms are a one-line change.
package keyword

import "strings"

// criticalTerms indicate an immediate threat to life. Any hit forces a case
// to the top of the queue regardless of what the model concluded.
var criticalTerms = []string{
	// entrapment
	"trapped", "stuck under", "pinned", "buried", "can't move", "cannot move",
	"under rubble", "under debris",
	// bleeding and severe injury
	"bleeding", "blood loss", "hemorrhage", "crushed", "broken bone",
	"fracture", "severe injury", "severely injured", "amputat",
	// fire and smoke
	"fire", "smoke", "burning", "on fire",
	// structural collapse
	"collapse", "collapsed", "building down", "wall fell", "roof fell",
	// consciousness and breathing
	"unconscious", "not breathing", "can't breathe", "cannot breathe",
	"passed out", "no pulse", "choking",
	// explicit urgency
	"help me", "emergency", "urgent", "sos", "dying", "going to die",
	// seismic events
	"earthquake", "aftershock", "tsunami", "landslide",
}

// highTerms indicate serious distress that is not immediately lethal.
var highTerms = []string{
	// exposure
	"freezing", "hypothermia", "heat stroke", "exposed to cold", "soaking wet",
	// water and food
	"dehydrated", "no water", "out of water", "thirsty",
	"no food", "hungry", "starving",
	// psychological distress
	"panic", "panicking", "terrified", "scared", "alone",
	// shelter
	"shelter", "homeless", "nowhere to go", "stranded",
	// supplies and medication
	"medicine", "medication", "insulin", "need supplies", "first aid",
}

// HasCritical reports whether text contains any critical-list term.
func HasCritical(text string) bool { return matchAny(text, criticalTerms) }

// HasHigh reports whether text contains any high-list term.
func HasHigh(text string) bool { return matchAny(text, highTerms) }

func matchAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
