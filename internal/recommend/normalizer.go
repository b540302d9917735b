package recommend

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// Suggestion is one model-produced course idea. Transient; never persisted.
type Suggestion struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Filler suggestion appended when the model returns fewer items than asked.
const (
	fillerTitle  = "General Introduction to the Topic"
	fillerReason = "Foundational course to build basic understanding."
)

// NormalizeSuggestions repairs and parses a raw model reply into exactly
// want suggestions. Parse candidates in order: the whole trimmed body when it
// already looks like an array, the first balanced [...] substring, then the
// whole body regardless. Each candidate is tried as-is and then through the
// jsonrepair library to absorb trailing commas, single quotes, and similar
// model artifacts. On success the result is padded with generic filler or
// truncated so its length is exactly want, preserving original order.
func NormalizeSuggestions(raw string, want int) ([]Suggestion, error) {
	trimmed := strings.TrimSpace(raw)

	var candidates []string
	if strings.HasPrefix(trimmed, "[") {
		candidates = append(candidates, trimmed)
	}
	if embedded := extractArray(trimmed); embedded != "" && embedded != trimmed {
		candidates = append(candidates, embedded)
	}
	if !strings.HasPrefix(trimmed, "[") {
		candidates = append(candidates, trimmed)
	}

	var suggestions []Suggestion
	parsed := false
	repaired := false
	for _, candidate := range candidates {
		if s, ok := parseSuggestions(candidate); ok {
			suggestions = s
			parsed = true
			break
		}
		if fixed, err := jsonrepair.JSONRepair(candidate); err == nil {
			if s, ok := parseSuggestions(fixed); ok {
				suggestions = s
				parsed = true
				repaired = true
				break
			}
		}
	}

	if !parsed || len(suggestions) == 0 {
		log.Warn().
			Int("response_bytes", len(raw)).
			Msg("Model response could not be normalized into suggestions")
		return nil, &Error{
			Reason:      ReasonParseFailed,
			Message:     "Failed to parse the model response",
			RawResponse: raw,
		}
	}

	log.Debug().
		Int("parsed", len(suggestions)).
		Int("requested", want).
		Bool("repaired", repaired).
		Msg("Model response normalized")

	// Pad with generic filler until the requested count is reached
	for len(suggestions) < want {
		suggestions = append(suggestions, Suggestion{Title: fillerTitle, Reason: fillerReason})
	}

	// Truncate extras, preserving original order
	if len(suggestions) > want {
		suggestions = suggestions[:want]
	}

	return suggestions, nil
}

// parseSuggestions attempts a strict unmarshal into a suggestion array.
func parseSuggestions(candidate string) ([]Suggestion, bool) {
	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(candidate), &suggestions); err != nil {
		return nil, false
	}
	return suggestions, true
}

// extractArray returns the first balanced [...] substring of raw, or "" when
// none exists. Bracket counting is deliberately naive about strings; model
// output with brackets inside reasons is rare enough that the repair pass
// catches the fallout.
func extractArray(raw string) string {
	start := strings.Index(raw, "[")
	if start == -1 {
		return ""
	}

	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}

	// Unterminated array: return from start to end and let repair complete it
	return raw[start:]
}
