package gtrends

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/trend"
)

// SingleTrend is the interest over time of one keyword in one geography.
// The table is downloaded on first use and reused afterwards.
type SingleTrend struct {
	client *Client
	params config.TrendParams
	// now is the clock stamped on a successful download.
	now func() time.Time

	timestamp time.Time
	table     []trend.Record
}

// NewSingleTrend returns the trend of the keyword in params.
func NewSingleTrend(client *Client, params config.TrendParams) *SingleTrend {
	return &SingleTrend{
		client: client,
		params: params,
		now:    time.Now,
	}
}

// Table downloads the time series: a cookie step, the explore query, then the
// widget data.
func (s *SingleTrend) Table(ctx context.Context) ([]trend.Record, error) {
	if s.table != nil {
		return s.table, nil
	}
	log.Debug().Str("keyword", s.params.Keyword).Msg("Building payload")
	if err := s.client.Cookie(ctx); err != nil {
		return nil, err
	}
	payload, err := s.client.BuildPayload(ctx, s.params)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("keyword", s.params.Keyword).Msg("Downloading trend")
	points, err := s.client.InterestOverTime(ctx, payload)
	if err != nil {
		return nil, err
	}
	table, err := toRecords(s.params.Keyword, points)
	if err != nil {
		return nil, err
	}
	s.table = table
	s.timestamp = s.now().UTC()
	return s.table, nil
}

// Metadata describes the query. The timestamp is the time of the download,
// so the table is fetched first if needed.
func (s *SingleTrend) Metadata(ctx context.Context) (map[string]interface{}, error) {
	if _, err := s.Table(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"timestamp": s.timestamp.Format(time.RFC3339),
		"keyword":   s.params.Keyword,
		"geo":       s.params.Geo,
		"timeframe": s.params.Timeframe,
		"cat":       s.params.Cat,
	}, nil
}

func toRecords(keyword string, points []TimelinePoint) ([]trend.Record, error) {
	records := make([]trend.Record, 0, len(points))
	for _, p := range points {
		ts, err := strconv.ParseInt(p.Time, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", p.Time, err)
		}
		r := trend.Record{
			Date:      civil.DateOf(time.Unix(ts, 0).UTC()),
			DateRange: p.FormattedTime,
			Timestamp: ts,
			Query:     keyword,
			Partial:   p.IsPartial,
		}
		if len(p.Value) > 0 {
			r.ExtractedValue = p.Value[0]
			r.Value = strconv.FormatInt(p.Value[0], 10)
		}
		if len(p.FormattedValue) > 0 {
			r.Value = p.FormattedValue[0]
		}
		records = append(records, r)
	}
	return records, nil
}
