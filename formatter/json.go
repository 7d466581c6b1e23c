package formatter

import (
	"encoding/json"

	"github.com/trendy-data/trendy/trend"
)

// JSON stores a table as a JSON array of records.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Marshal converts records to a JSON array.
func (JSON) Marshal(records []trend.Record) ([]byte, error) {
	if records == nil {
		records = []trend.Record{}
	}
	return json.Marshal(records)
}

// Unmarshal parses a JSON array of records.
func (JSON) Unmarshal(data []byte) ([]trend.Record, error) {
	var records []trend.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
