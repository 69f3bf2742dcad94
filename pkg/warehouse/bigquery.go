package warehouse

import (
	"context"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// BigQuery implements Store over a BigQuery client.
type BigQuery struct {
	client  *bigquery.Client
	maxRows int
}

// BigQueryOption configures a BigQuery store.
type BigQueryOption func(*BigQuery)

// WithMaxRows caps the number of rows returned per query.
// Default: 1000.
func WithMaxRows(n int) BigQueryOption {
	return func(b *BigQuery) {
		if n > 0 {
			b.maxRows = n
		}
	}
}

// NewBigQuery creates a BigQuery-backed store.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS
// or ambient ADC); projectID is the billing project.
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, &ExecError{Message: "create client: " + err.Error(), Err: err}
	}

	b := &BigQuery{
		client:  client,
		maxRows: 1000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewBigQueryFromClient wraps an existing client, mainly for tests and
// callers that share a client with the profile loader.
func NewBigQueryFromClient(client *bigquery.Client, opts ...BigQueryOption) *BigQuery {
	b := &BigQuery{
		client:  client,
		maxRows: 1000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Query implements Store. One network call, no internal retry.
func (b *BigQuery) Query(ctx context.Context, sql string) ([]Row, error) {
	q := b.client.Query(sql)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, &ExecError{
			Message:   err.Error(),
			Err:       err,
			Retryable: isTransientMessage(err.Error()),
		}
	}

	var rows []Row
	for len(rows) < b.maxRows {
		var values map[string]bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &ExecError{
				Message:   err.Error(),
				Err:       err,
				Retryable: isTransientMessage(err.Error()),
			}
		}

		row := make(Row, len(values))
		for k, v := range values {
			row[k] = v
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Client exposes the underlying client for metadata operations such as
// profile loading.
func (b *BigQuery) Client() *bigquery.Client {
	return b.client
}

// Close releases the underlying client.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

// isTransientMessage checks if a backend message indicates a transient
// failure.
func isTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "internal error") ||
		strings.Contains(lower, "503")
}
