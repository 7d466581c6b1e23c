package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/trend"
)

// SingleTrend is the search result of one keyword. The search runs on first
// use and its response is reused afterwards.
type SingleTrend struct {
	client        *Client
	params        config.SerpAPIParams
	extraMetadata map[string]interface{}

	raw  json.RawMessage
	resp *Response
}

// NewSingleTrend returns the trend of the query in params.
func NewSingleTrend(client *Client, params config.SerpAPIParams, extraMetadata map[string]interface{}) *SingleTrend {
	if extraMetadata == nil {
		extraMetadata = map[string]interface{}{}
	}
	return &SingleTrend{client: client, params: params, extraMetadata: extraMetadata}
}

func (s *SingleTrend) search(ctx context.Context) (*Response, error) {
	if s.resp != nil {
		return s.resp, nil
	}
	raw, resp, err := s.client.Search(ctx, s.params)
	if err != nil {
		return nil, err
	}
	s.raw, s.resp = raw, resp
	return s.resp, nil
}

// Raw returns the response body as received.
func (s *SingleTrend) Raw(ctx context.Context) (json.RawMessage, error) {
	if _, err := s.search(ctx); err != nil {
		return nil, err
	}
	return s.raw, nil
}

// Table flattens the timeline into one record per date bucket and query.
func (s *SingleTrend) Table(ctx context.Context) ([]trend.Record, error) {
	resp, err := s.search(ctx)
	if err != nil {
		return nil, err
	}
	return Flatten(resp)
}

// Metadata returns the search metadata, the search parameters and the extra
// metadata of the keyword.
func (s *SingleTrend) Metadata(ctx context.Context) (map[string]interface{}, error) {
	resp, err := s.search(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"search_metadata":   resp.SearchMetadata,
		"search_parameters": resp.SearchParameters,
		"extra_metadata":    s.extraMetadata,
	}, nil
}

// Flatten converts the interest_over_time section of a response into
// records. The date of a record is the UTC day of its timestamp.
func Flatten(resp *Response) ([]trend.Record, error) {
	if resp.InterestOverTime == nil {
		return nil, fmt.Errorf("%w: search id %v", ErrMissingResults, resp.SearchMetadata["id"])
	}
	var records []trend.Record
	for _, e := range resp.InterestOverTime.TimelineData {
		ts, err := strconv.ParseInt(e.Timestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", e.Timestamp, err)
		}
		date := civil.DateOf(time.Unix(ts, 0).UTC())
		for _, v := range e.Values {
			records = append(records, trend.Record{
				Date:           date,
				DateRange:      e.Date,
				Timestamp:      ts,
				Query:          v.Query,
				Value:          v.Value,
				ExtractedValue: v.ExtractedValue,
				Partial:        e.PartialData,
			})
		}
	}
	if records == nil {
		records = []trend.Record{}
	}
	return records, nil
}
