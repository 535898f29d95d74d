package explainer

import (
	"regexp"
	"strings"
)

// Intents the model may tag an explanation with.
var Intents = []string{"learn", "review", "exam_prep", "reference"}

const DefaultIntent = "learn"

var intentLine = regexp.MustCompile(`(?i)^\s*\**intent\**\s*:\s*\**\s*([a-z_ -]+?)\s*\**\s*$`)

// Parse splits the model output into intent and body. tagged is false when the
// model skipped the INTENT line or used an unknown value.
func Parse(raw string) (intent, body string, tagged bool) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	first, rest, _ := strings.Cut(raw, "\n")

	m := intentLine.FindStringSubmatch(first)
	if m == nil {
		return DefaultIntent, raw, false
	}
	body = strings.TrimSpace(rest)
	value := strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(m[1]), " ", "_"), "-", "_")
	for _, known := range Intents {
		if value == known {
			return known, body, true
		}
	}
	return DefaultIntent, body, false
}
