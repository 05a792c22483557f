package devin

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The remote agent's structured_output channel is unreliable in practice,
// but its free-text narration consistently carries the same JSON payload.
// This file recovers that payload from the transcript.

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")

	// Balanced brace-delimited substrings, supporting one level of
	// nested braces.
	braceObjectRe = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
)

// Allow-lists used to decide whether an extracted object is the payload
// for a given phase, rather than some unrelated JSON in the narration.
var (
	analysisKeys       = []string{"summary", "plan", "confidence"}
	implementationKeys = []string{"status", "branch"}
)

// ParseAnalysis recovers an analysis payload from a transcript. Returns
// nil if no acceptable object is found anywhere; it never fails.
func ParseAnalysis(messages []Message) map[string]any {
	return parsePayload(messages, analysisKeys)
}

// ParseImplementation recovers an implementation payload from a transcript.
func ParseImplementation(messages []Message) map[string]any {
	return parsePayload(messages, implementationKeys)
}

// parsePayload scans agent-authored entries from most recent to oldest and
// returns the first extracted object whose keys overlap the allow-list.
func parsePayload(messages []Message, allow []string) map[string]any {
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].FromAgent() {
			continue
		}
		if obj := extractJSON(messages[i].Message, allow); obj != nil {
			return obj
		}
	}
	return nil
}

// extractJSON pulls a JSON object out of one entry. Fenced ```json blocks
// are preferred (last block wins within an entry); if none parses, fall
// back to scanning balanced brace substrings from last to first. An object
// is accepted only if at least one allow-listed key is present.
func extractJSON(text string, allow []string) map[string]any {
	if matches := fencedJSONRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		var obj map[string]any
		if err := json.Unmarshal([]byte(matches[len(matches)-1][1]), &obj); err == nil {
			if overlaps(obj, allow) {
				return obj
			}
		}
	}

	candidates := braceObjectRe.FindAllString(text, -1)
	for i := len(candidates) - 1; i >= 0; i-- {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidates[i]), &obj); err != nil {
			continue
		}
		if overlaps(obj, allow) {
			return obj
		}
	}
	return nil
}

func overlaps(obj map[string]any, allow []string) bool {
	for _, key := range allow {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

// TextSummary returns the most recent agent entry with fenced JSON blocks
// stripped. Display fallback only; never persisted as structured state.
func TextSummary(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].FromAgent() {
			continue
		}
		cleaned := fencedJSONRe.ReplaceAllString(messages[i].Message, "")
		return strings.TrimSpace(cleaned)
	}
	return ""
}
