// Package warehouse provides the query side of the assistant: a policy
// validator for candidate SQL, a BigQuery executor, and the dataset
// profile (schema plus context) that grounds generated queries.
//
// The executor performs exactly one network call per query and never
// retries internally. Retry policy belongs to the role-agent layer so a
// single backoff policy governs each turn instead of stacked ones
// masking real failures.
package warehouse

import (
	"context"
	"fmt"
)

// Dataset is the single permitted data source namespace.
// Queries referencing anything else are rejected by Validate.
const Dataset = "bigquery-public-data.thelook_ecommerce"

// Row is one result record: flat column name to value.
type Row map[string]any

// Store executes validated queries against the backing store.
type Store interface {
	// Query runs one query and returns its rows.
	// The call is synchronous and potentially slow; impose deadlines
	// through ctx. Errors are *ExecError values carrying the backend
	// message; they are returned, never panicked.
	Query(ctx context.Context, sql string) ([]Row, error)
}

// ExecError is a query backend failure.
type ExecError struct {
	// Message is the underlying backend message.
	Message string
	// Err is the underlying error, if any.
	Err error
	// Retryable indicates the failure is likely transient.
	Retryable bool
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("warehouse query: %s", e.Message)
	}
	return fmt.Sprintf("warehouse query: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying with backoff is worthwhile.
func (e *ExecError) Transient() bool {
	return e.Retryable
}
