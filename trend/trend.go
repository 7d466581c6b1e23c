// Package trend defines the tabular result of a search-interest query.
package trend

import (
	"context"
	"sort"

	"cloud.google.com/go/civil"
)

// Record is one row of a trend table: the interest in one query for one date
// bucket.
type Record struct {
	Date civil.Date `json:"date"`
	// DateRange is the provider's label for the bucket, e.g. "Jun 3 – 9, 2018".
	DateRange string `json:"date_range,omitempty"`
	// Timestamp is the start of the bucket in seconds since the epoch.
	Timestamp int64  `json:"timestamp"`
	Query     string `json:"query"`
	// Value is the value as reported, e.g. "<1".
	Value          string `json:"value"`
	ExtractedValue int64  `json:"extracted_value"`
	Partial        bool   `json:"partial_data"`
}

// Result is the outcome of one provider call. Implementations fetch lazily
// and reuse the fetched table for the lifetime of the value.
type Result interface {
	Table(ctx context.Context) ([]Record, error)
	Metadata(ctx context.Context) (map[string]interface{}, error)
}

// PublicRecord is the published form of a Record.
type PublicRecord struct {
	Query string     `json:"query"`
	Value int64      `json:"value"`
	Date  civil.Date `json:"date"`
}

// Project keeps the query, extracted value and date of each record and sorts
// the result by date, ascending. Records sharing a date keep their order.
func Project(records []Record) []PublicRecord {
	out := make([]PublicRecord, len(records))
	for i, r := range records {
		out[i] = PublicRecord{Query: r.Query, Value: r.ExtractedValue, Date: r.Date}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
