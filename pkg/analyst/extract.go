package analyst

import (
	"encoding/json"
	"regexp"
	"strings"
)

// finalAnswerList matches a "Final Answer" marker followed by a
// bracketed list. Non-greedy so trailing prose after the list is not
// swallowed.
var finalAnswerList = regexp.MustCompile(`(?s)Final Answer[:\s]*(\[.*?\])`)

// anyList matches the first bracketed list literal anywhere in the text.
var anyList = regexp.MustCompile(`(?s)\[.*?\]`)

// Extract recovers a record list from free-text model output.
//
// Ordered fallback chain, first match wins:
//
//  1. A "Final Answer:" marker followed by a bracketed list.
//  2. The first bracketed list literal anywhere in the text.
//  3. The entire text parsed as an object with an "insights" field.
//  4. An empty list.
//
// Extract never fails: a parse error at any stage falls through to the
// next stage, and total failure yields an empty list. Callers must
// treat an empty list as a legitimate degenerate outcome, not an error.
func Extract(raw string) []any {
	if m := finalAnswerList.FindStringSubmatch(raw); m != nil {
		if records, ok := parseList(m[1]); ok {
			return records
		}
	}

	if m := anyList.FindString(raw); m != "" {
		if records, ok := parseList(m); ok {
			return records
		}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &obj); err == nil {
		if field, ok := obj["insights"]; ok {
			if list, ok := field.([]any); ok {
				return list
			}
			return []any{field}
		}
	}

	return []any{}
}

// parseList parses a JSON list literal. A scalar result is wrapped in a
// single-element list rather than rejected.
func parseList(s string) ([]any, bool) {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, false
	}
	if list, ok := parsed.([]any); ok {
		return list, true
	}
	return []any{parsed}, true
}
