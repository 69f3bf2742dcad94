package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
)

// Profile is the read-only dataset description handed to agents so
// generated queries stay grounded in real tables, columns, and value
// ranges. It is loaded once per process.
type Profile struct {
	// Dataset is the fully qualified dataset namespace.
	Dataset string `json:"dataset"`
	// Tables maps table name to its column descriptions.
	Tables map[string][]Column `json:"tables"`
	// DateSpan is the coverage window of the dataset, e.g. "2019-2025".
	DateSpan string `json:"date_span"`
	// Countries enumerates the country values present in users.country.
	Countries []string `json:"countries"`
	// RowLimit is the per-query row cap agents must respect.
	RowLimit int `json:"row_limit"`
}

// Column describes one table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DefaultProfile returns the embedded dataset description. It reflects
// the public thelook_ecommerce dataset as of the coverage window and is
// the fallback when live metadata cannot be fetched.
func DefaultProfile() *Profile {
	return &Profile{
		Dataset:  Dataset,
		DateSpan: "2019-01-01 to 2025-12-31",
		RowLimit: 1000,
		Tables: map[string][]Column{
			"orders": {
				{Name: "order_id", Type: "INTEGER"},
				{Name: "user_id", Type: "INTEGER"},
				{Name: "status", Type: "STRING"},
				{Name: "gender", Type: "STRING"},
				{Name: "created_at", Type: "TIMESTAMP"},
				{Name: "returned_at", Type: "TIMESTAMP"},
				{Name: "shipped_at", Type: "TIMESTAMP"},
				{Name: "delivered_at", Type: "TIMESTAMP"},
				{Name: "num_of_item", Type: "INTEGER"},
			},
			"order_items": {
				{Name: "id", Type: "INTEGER"},
				{Name: "order_id", Type: "INTEGER"},
				{Name: "user_id", Type: "INTEGER"},
				{Name: "product_id", Type: "INTEGER"},
				{Name: "inventory_item_id", Type: "INTEGER"},
				{Name: "status", Type: "STRING"},
				{Name: "created_at", Type: "TIMESTAMP"},
				{Name: "shipped_at", Type: "TIMESTAMP"},
				{Name: "delivered_at", Type: "TIMESTAMP"},
				{Name: "returned_at", Type: "TIMESTAMP"},
				{Name: "sale_price", Type: "FLOAT"},
			},
			"products": {
				{Name: "id", Type: "INTEGER"},
				{Name: "cost", Type: "FLOAT"},
				{Name: "category", Type: "STRING"},
				{Name: "name", Type: "STRING"},
				{Name: "brand", Type: "STRING"},
				{Name: "retail_price", Type: "FLOAT"},
				{Name: "department", Type: "STRING"},
				{Name: "sku", Type: "STRING"},
				{Name: "distribution_center_id", Type: "INTEGER"},
			},
			"users": {
				{Name: "id", Type: "INTEGER"},
				{Name: "first_name", Type: "STRING"},
				{Name: "last_name", Type: "STRING"},
				{Name: "email", Type: "STRING"},
				{Name: "age", Type: "INTEGER"},
				{Name: "gender", Type: "STRING"},
				{Name: "state", Type: "STRING"},
				{Name: "city", Type: "STRING"},
				{Name: "country", Type: "STRING"},
				{Name: "latitude", Type: "FLOAT"},
				{Name: "longitude", Type: "FLOAT"},
				{Name: "traffic_source", Type: "STRING"},
				{Name: "created_at", Type: "TIMESTAMP"},
			},
		},
		Countries: []string{
			"Australia", "Austria", "Belgium", "Brasil", "China", "Colombia",
			"Deutschland", "España", "France", "Germany", "Japan", "Poland",
			"South Korea", "Spain", "United Kingdom", "United States",
		},
	}
}

// LoadProfile fetches live table metadata and the country enumeration,
// starting from the embedded defaults. Any individual fetch failure is
// logged and leaves the corresponding default in place, so a profile is
// always returned.
func LoadProfile(ctx context.Context, client *bigquery.Client, logger *slog.Logger) *Profile {
	p := DefaultProfile()
	if client == nil {
		return p
	}
	if logger == nil {
		logger = slog.Default()
	}

	parts := strings.SplitN(Dataset, ".", 2)
	project, dataset := parts[0], parts[1]

	for name := range p.Tables {
		md, err := client.DatasetInProject(project, dataset).Table(name).Metadata(ctx)
		if err != nil {
			logger.Warn("profile metadata fetch failed, keeping embedded schema",
				"table", name,
				"error", err)
			continue
		}
		cols := make([]Column, 0, len(md.Schema))
		for _, field := range md.Schema {
			cols = append(cols, Column{
				Name: field.Name,
				Type: string(field.Type),
			})
		}
		p.Tables[name] = cols
	}

	if countries, err := fetchCountries(ctx, client); err != nil {
		logger.Warn("profile country fetch failed, keeping embedded list",
			"error", err)
	} else if len(countries) > 0 {
		p.Countries = countries
	}

	return p
}

// fetchCountries queries the distinct users.country values.
func fetchCountries(ctx context.Context, client *bigquery.Client) ([]string, error) {
	store := NewBigQueryFromClient(client)
	rows, err := store.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT country FROM `%s.users` ORDER BY country ASC LIMIT 1000", Dataset))
	if err != nil {
		return nil, err
	}

	countries := make([]string, 0, len(rows))
	for _, row := range rows {
		if c, ok := row["country"].(string); ok && c != "" {
			countries = append(countries, c)
		}
	}
	sort.Strings(countries)
	return countries, nil
}

// SchemaJSON serializes the table schemas for inclusion in a prompt.
func (p *Profile) SchemaJSON() string {
	data, err := json.Marshal(p.Tables)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ContextText renders the non-schema grounding facts as prompt text.
func (p *Profile) ContextText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s. Date coverage: %s. Row limit per query: %d.\n",
		p.Dataset, p.DateSpan, p.RowLimit)
	fmt.Fprintf(&b, "Valid countries: %s.", strings.Join(p.Countries, ", "))
	return b.String()
}

// TableNames returns the table names in sorted order.
func (p *Profile) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for name := range p.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
