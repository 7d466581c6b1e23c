package formatter

import (
	"bytes"

	"cloud.google.com/go/civil"
	"github.com/parquet-go/parquet-go"
	"github.com/trendy-data/trendy/trend"
)

// parquetRow is the parquet schema of a trend.Record. Dates are ISO strings.
type parquetRow struct {
	Date           string `parquet:"date"`
	DateRange      string `parquet:"date_range"`
	Timestamp      int64  `parquet:"timestamp"`
	Query          string `parquet:"query"`
	Value          string `parquet:"value"`
	ExtractedValue int64  `parquet:"extracted_value"`
	Partial        bool   `parquet:"partial_data"`
}

// Parquet stores a table as a single parquet file.
type Parquet struct{}

// Name returns "parquet".
func (Parquet) Name() string { return "parquet" }

// Marshal converts records to a parquet file.
func (Parquet) Marshal(records []trend.Record) ([]byte, error) {
	rows := make([]parquetRow, len(records))
	for i, r := range records {
		rows[i] = parquetRow{
			Date:           r.Date.String(),
			DateRange:      r.DateRange,
			Timestamp:      r.Timestamp,
			Query:          r.Query,
			Value:          r.Value,
			ExtractedValue: r.ExtractedValue,
			Partial:        r.Partial,
		}
	}
	buf := &bytes.Buffer{}
	if err := parquet.Write(buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal reads every row of a parquet file.
func (Parquet) Unmarshal(data []byte) ([]trend.Record, error) {
	rows, err := parquet.Read[parquetRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	records := make([]trend.Record, len(rows))
	for i, r := range rows {
		d, err := civil.ParseDate(r.Date)
		if err != nil {
			return nil, err
		}
		records[i] = trend.Record{
			Date:           d,
			DateRange:      r.DateRange,
			Timestamp:      r.Timestamp,
			Query:          r.Query,
			Value:          r.Value,
			ExtractedValue: r.ExtractedValue,
			Partial:        r.Partial,
		}
	}
	return records, nil
}
