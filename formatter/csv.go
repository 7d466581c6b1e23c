package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/trendy-data/trendy/trend"
)

var csvHeader = []string{
	"date", "date_range", "timestamp", "query", "value", "extracted_value", "partial_data",
}

// CSV stores a table as comma separated values with a header row.
type CSV struct{}

// Name returns "csv".
func (CSV) Name() string { return "csv" }

// Marshal converts records to CSV.
func (CSV) Marshal(records []trend.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			r.Date.String(),
			r.DateRange,
			strconv.FormatInt(r.Timestamp, 10),
			r.Query,
			r.Value,
			strconv.FormatInt(r.ExtractedValue, 10),
			strconv.FormatBool(r.Partial),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses CSV produced by Marshal. Columns are matched by header
// name; date and query are mandatory, the other columns may be absent.
func (CSV) Unmarshal(data []byte) ([]trend.Record, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv: missing header")
	}
	col := map[string]int{}
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, required := range []string{"date", "query"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", required)
		}
	}
	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]trend.Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		r := trend.Record{
			DateRange: get(row, "date_range"),
			Query:     get(row, "query"),
			Value:     get(row, "value"),
		}
		if r.Date, err = civil.ParseDate(get(row, "date")); err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", n+2, err)
		}
		if s := get(row, "timestamp"); s != "" {
			if r.Timestamp, err = strconv.ParseInt(s, 10, 64); err != nil {
				return nil, fmt.Errorf("csv: line %d: %w", n+2, err)
			}
		}
		if s := get(row, "extracted_value"); s != "" {
			if r.ExtractedValue, err = strconv.ParseInt(s, 10, 64); err != nil {
				return nil, fmt.Errorf("csv: line %d: %w", n+2, err)
			}
		}
		if s := get(row, "partial_data"); s != "" {
			if r.Partial, err = strconv.ParseBool(s); err != nil {
				return nil, fmt.Errorf("csv: line %d: %w", n+2, err)
			}
		}
		records = append(records, r)
	}
	return records, nil
}
