// Package serpapi downloads Google Trends time series through the SerpApi
// search API.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/config"
	"github.com/valyala/fasthttp"
)

var (
	// ErrStatus is returned when a search did not complete successfully.
	ErrStatus = errors.New("search failed")
	// ErrMissingResults is returned when the response has no
	// interest_over_time section.
	ErrMissingResults = errors.New("interest_over_time not found")
)

const (
	// DefaultBaseURL is the address of the search API.
	DefaultBaseURL = "https://serpapi.com"

	searchPath    = "/search.json"
	statusSuccess = "Success"
)

// Value is the interest in one query for one date bucket.
type Value struct {
	Query          string `json:"query"`
	Value          string `json:"value"`
	ExtractedValue int64  `json:"extracted_value"`
}

// TimelineEntry is one date bucket of the time series.
type TimelineEntry struct {
	Date        string  `json:"date"`
	Timestamp   string  `json:"timestamp"`
	Values      []Value `json:"values"`
	PartialData bool    `json:"partial_data"`
}

// InterestOverTime is the time series section of a response.
type InterestOverTime struct {
	TimelineData []TimelineEntry `json:"timeline_data"`
}

// Response is a decoded search response.
type Response struct {
	SearchMetadata   map[string]interface{} `json:"search_metadata"`
	SearchParameters map[string]interface{} `json:"search_parameters"`
	InterestOverTime *InterestOverTime      `json:"interest_over_time"`
	Error            string                 `json:"error,omitempty"`
}

// Status returns search_metadata.status.
func (r *Response) Status() string {
	s, _ := r.SearchMetadata["status"].(string)
	return s
}

// Client calls the search API.
type Client struct {
	// BaseURL is the scheme and host of the API.
	BaseURL string
	// HTTP is the underlying client. Tests replace its Dial function.
	HTTP    *fasthttp.Client
	Timeout time.Duration
}

// NewClient returns a client for the public API endpoint.
func NewClient() *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		HTTP: &fasthttp.Client{
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Timeout: 60 * time.Second,
	}
}

// Search runs one search and returns the raw response body along with its
// decoded form. A search whose status is not "Success" fails with ErrStatus.
func (c *Client) Search(ctx context.Context, params config.SerpAPIParams) (json.RawMessage, *Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + searchPath)
	args := req.URI().QueryArgs()
	for k, v := range params.Query() {
		args.Add(k, v)
	}
	args.Add("output", "json")
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	log.Debug().Str("q", params.Q).Str("geo", params.Geo).Msg("Searching")
	if err := c.HTTP.DoDeadline(req, resp, deadline); err != nil {
		return nil, nil, fmt.Errorf("search request failed: %w", err)
	}

	raw := make(json.RawMessage, len(resp.Body()))
	copy(raw, resp.Body())
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		if resp.StatusCode() != fasthttp.StatusOK {
			return nil, nil, fmt.Errorf("%w: HTTP %d", ErrStatus, resp.StatusCode())
		}
		return nil, nil, fmt.Errorf("cannot decode search response: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, nil, fmt.Errorf("%w: HTTP %d: %s", ErrStatus, resp.StatusCode(), r.Error)
	}
	if s := r.Status(); s != statusSuccess {
		return nil, nil, fmt.Errorf("%w: status %q: %s", ErrStatus, s, r.Error)
	}
	return raw, &r, nil
}
