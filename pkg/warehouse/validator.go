package warehouse

import (
	"fmt"
	"strings"
)

// Policy reason codes. Callers branch on these literal values, so they
// are part of the package contract.
const (
	ReasonEmpty          = "empty_query"
	ReasonMutating       = "mutating_statement"
	ReasonNotSelect      = "not_select"
	ReasonUnknownDataset = "unknown_dataset"
	ReasonJoinNoCond     = "join_without_condition"
)

// PolicyError reports why a query failed validation.
type PolicyError struct {
	// Reason is one of the Reason* codes.
	Reason string
	// Detail is a human-readable explanation suitable for feeding back
	// to the model as a tool result.
	Detail string
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("query rejected (%s): %s", e.Reason, e.Detail)
}

// mutatingKeywords are statement keywords that modify data or schema.
// The check is a safety allow-list, not a grammar: any appearance as a
// word anywhere in the query is rejected.
var mutatingKeywords = []string{
	"CREATE", "ALTER", "DROP", "DELETE", "INSERT", "UPDATE", "TRUNCATE", "MERGE",
}

// Validate checks a candidate query against the safety/shape policy
// before execution. Checks run in order and short-circuit on the first
// failure:
//
//  1. Non-empty.
//  2. No mutating statement keyword anywhere in the query.
//  3. Must begin with SELECT or WITH.
//  4. Must reference the permitted dataset namespace.
//  5. A JOIN clause must carry an explicit ON or USING condition.
//
// A nil return means the query may be executed.
func Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &PolicyError{
			Reason: ReasonEmpty,
			Detail: "query is empty",
		}
	}

	tokens := strings.Fields(strings.ToUpper(trimmed))

	for _, tok := range tokens {
		tok = strings.Trim(tok, "();,")
		for _, kw := range mutatingKeywords {
			if tok == kw {
				return &PolicyError{
					Reason: ReasonMutating,
					Detail: fmt.Sprintf("mutating keyword %s is not allowed; only read-only SELECT statements may run", kw),
				}
			}
		}
	}

	first := strings.Trim(tokens[0], "(")
	if first != "SELECT" && first != "WITH" {
		return &PolicyError{
			Reason: ReasonNotSelect,
			Detail: "query must begin with SELECT or WITH",
		}
	}

	if !strings.Contains(strings.ToLower(trimmed), Dataset) {
		return &PolicyError{
			Reason: ReasonUnknownDataset,
			Detail: fmt.Sprintf("query must reference tables under `%s`", Dataset),
		}
	}

	upper := strings.ToUpper(trimmed)
	if containsWord(upper, "JOIN") && !containsWord(upper, "ON") && !containsWord(upper, "USING") {
		return &PolicyError{
			Reason: ReasonJoinNoCond,
			Detail: "JOIN requires an explicit ON or USING condition",
		}
	}

	return nil
}

// containsWord reports whether s contains w as a whole word.
func containsWord(s, w string) bool {
	for _, tok := range strings.Fields(s) {
		if strings.Trim(tok, "();,") == w {
			return true
		}
	}
	return false
}
