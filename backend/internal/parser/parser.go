// Package parser turns free-text LLM output into structured JSON data.
// Strict parsing is attempted first; a best-effort regex repair pass is the
// clearly separated fallback, kept pure (text in, data or failure out).
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "termsai/backend/pkg/errors"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// keyAnchorRe locates `"key": "` openings. The primary repair strategy
	// slices values between consecutive anchors so values may contain nested
	// quotes and commas.
	keyAnchorRe = regexp.MustCompile(`"([^"]+)"\s*:\s*"`)

	// simplePairRe is the secondary fallback: plain pairs whose values hold
	// no quotes at all
	simplePairRe = regexp.MustCompile(`"([^"]+?)"\s*:\s*"(.*?)"\s*(?:,|\})`)

	// keyScanRe counts top-level-looking keys for the repair sanity check
	keyScanRe = regexp.MustCompile(`"[^"]+"\s*:`)
)

// CleanText strips Markdown code-fence wrappers and surrounding whitespace
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// Parse extracts a JSON object from LLM output. parseContext names the
// operation for diagnostics. On strict-parse failure the repair pass collapses
// whitespace, extracts key/value pairs, re-escapes stray quotes, reassembles
// an object literal and verifies the entry count against a key scan of the
// cleaned text. Failures carry the full diagnostic payload.
func Parse(text, parseContext string) (map[string]any, error) {
	cleaned := CleanText(text)

	var result map[string]any
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return result, nil
	}

	return repair(text, cleaned, parseContext)
}

func repair(rawText, cleaned, parseContext string) (map[string]any, error) {
	cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))

	pairs := extractPairs(cleaned)
	if len(pairs) == 0 {
		pairs = extractSimplePairs(cleaned)
	}
	if len(pairs) == 0 {
		return nil, apperrors.NewParseFailed(parseContext, rawText, cleaned, nil, "",
			fmt.Errorf("no key/value pairs extracted"))
	}

	fixed := make([]string, 0, len(pairs))
	for i := range pairs {
		pairs[i][0] = strings.TrimSpace(pairs[i][0])
		pairs[i][1] = escapeBareQuotes(strings.TrimSpace(pairs[i][1]))
		fixed = append(fixed, fmt.Sprintf("%q: \"%s\"", pairs[i][0], pairs[i][1]))
	}
	reassembled := "{" + strings.Join(fixed, ", ") + "}"

	var result map[string]any
	if err := json.Unmarshal([]byte(reassembled), &result); err != nil {
		return nil, apperrors.NewParseFailed(parseContext, rawText, cleaned, pairs, reassembled, err)
	}

	expected := len(keyScanRe.FindAllString(cleaned, -1))
	if len(result) != expected {
		return nil, apperrors.NewParseFailed(parseContext, rawText, cleaned, pairs, reassembled,
			fmt.Errorf("key count mismatch: expected %d, got %d", expected, len(result)))
	}

	return result, nil
}

// extractPairs is the primary strategy: values run from one key anchor to the
// delimiter before the next anchor (or the closing brace), so nested quotes
// and commas inside values survive.
func extractPairs(cleaned string) [][2]string {
	anchors := keyAnchorRe.FindAllStringSubmatchIndex(cleaned, -1)
	pairs := make([][2]string, 0, len(anchors))

	for i, anchor := range anchors {
		key := cleaned[anchor[2]:anchor[3]]

		var segment string
		if i+1 < len(anchors) {
			segment = cleaned[anchor[1]:anchors[i+1][0]]
			segment = strings.TrimRight(segment, " ")
			segment = strings.TrimSuffix(segment, ",")
		} else {
			segment = cleaned[anchor[1]:]
			segment = strings.TrimRight(segment, " ")
			segment = strings.TrimSuffix(segment, "}")
		}
		segment = strings.TrimRight(segment, " ")
		segment, ok := strings.CutSuffix(segment, `"`)
		if !ok {
			// unterminated value, e.g. a truncated stream
			continue
		}
		pairs = append(pairs, [2]string{key, segment})
	}
	return pairs
}

// extractSimplePairs is the secondary fallback for quote-free values
func extractSimplePairs(cleaned string) [][2]string {
	matches := simplePairRe.FindAllStringSubmatch(cleaned, -1)
	pairs := make([][2]string, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, [2]string{m[1], m[2]})
	}
	return pairs
}

// escapeBareQuotes escapes double quotes that are not already escaped
func escapeBareQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' && !escaped {
			b.WriteString(`\"`)
		} else {
			b.WriteByte(ch)
		}
		escaped = ch == '\\' && !escaped
	}
	return b.String()
}

// StringMap narrows a parsed object to the flat string→string mapping the
// concept pipeline expects
func StringMap(m map[string]any, parseContext string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: value for %q is not a string: %v", parseContext, k, v)
		}
		out[k] = s
	}
	return out, nil
}
