// Package gtrends downloads interest over time from the Google Trends web
// endpoints, one keyword at a time.
package gtrends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/config"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"
)

var (
	// ErrStatus is returned when the provider answers with a non-200 status.
	ErrStatus = errors.New("unexpected response status")
	// ErrNoWidget is returned when the explore response has no time series
	// widget.
	ErrNoWidget = errors.New("time series widget not found")
)

const (
	// DefaultBaseURL is the address of the trends provider.
	DefaultBaseURL = "https://trends.google.com"

	cookiePath    = "/trends/explore/"
	explorePath   = "/trends/api/explore"
	multilinePath = "/trends/api/widgetdata/multiline"

	timeseriesWidget = "TIMESERIES"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
}

// Client is a session with the trends provider. It is not safe for
// concurrent use.
type Client struct {
	// BaseURL is the scheme and host of the provider.
	BaseURL string
	// HTTP is the underlying client. Tests replace its Dial function.
	HTTP *fasthttp.Client

	hl        string
	tz        int
	timeout   time.Duration
	userAgent string

	// method is the HTTP method of plain page requests.
	method  string
	cookies map[string]string
}

// New returns a client configured from the request parameters.
func New(params config.RequestParams) *Client {
	timeout := time.Duration(params.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 14 * time.Second
	}
	hc := &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if params.Proxy != "" {
		hc.Dial = fasthttpproxy.FasthttpHTTPDialer(params.Proxy)
	}
	return &Client{
		BaseURL:   DefaultBaseURL,
		HTTP:      hc,
		hl:        params.HL,
		tz:        params.TZ,
		timeout:   timeout,
		userAgent: userAgents[rand.Intn(len(userAgents))],
		method:    fasthttp.MethodGet,
		cookies:   map[string]string{},
	}
}

// withMethod runs fn with the page request method set to method. The
// previous method is restored when fn returns or panics.
func (c *Client) withMethod(method string, fn func() error) error {
	prev := c.method
	c.method = method
	defer func() { c.method = prev }()
	return fn()
}

// do sends one request and returns a copy of the response body.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + path)
	args := req.URI().QueryArgs()
	for k, v := range query {
		args.Add(k, v)
	}
	req.Header.SetMethod(method)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", c.hl)
	for k, v := range c.cookies {
		req.Header.SetCookie(k, v)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.HTTP.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: %s %s: %d", ErrStatus, method, path, resp.StatusCode())
	}
	resp.Header.VisitAllCookie(func(key, value []byte) {
		ck := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(ck)
		if err := ck.ParseBytes(value); err == nil {
			c.cookies[string(key)] = string(ck.Value())
		}
	})
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// Cookie fetches the session cookies from the explore page. The provider
// rejects the GET the page is normally loaded with, so the request is sent
// as a POST.
func (c *Client) Cookie(ctx context.Context) error {
	geo := c.hl
	if len(geo) > 2 {
		geo = geo[len(geo)-2:]
	}
	return c.withMethod(fasthttp.MethodPost, func() error {
		_, err := c.do(ctx, c.method, cookiePath, map[string]string{"geo": geo})
		return err
	})
}

// widget is one panel of the explore page.
type widget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request"`
}

// Payload identifies the time series of one explore query.
type Payload struct {
	Token   string
	Request json.RawMessage
}

type comparisonItem struct {
	Keyword string `json:"keyword"`
	Time    string `json:"time"`
	Geo     string `json:"geo"`
}

type exploreRequest struct {
	ComparisonItem []comparisonItem `json:"comparisonItem"`
	Category       int              `json:"category"`
	Property       string           `json:"property"`
}

// stripPrefix removes the anti-hijacking prefix the provider puts in front
// of JSON responses.
func stripPrefix(body []byte) []byte {
	if i := bytes.IndexByte(body, '{'); i >= 0 {
		return body[i:]
	}
	return body
}

// BuildPayload runs an explore query for a single keyword and returns the
// token of its time series widget.
func (c *Client) BuildPayload(ctx context.Context, p config.TrendParams) (*Payload, error) {
	req, err := json.Marshal(exploreRequest{
		ComparisonItem: []comparisonItem{{Keyword: p.Keyword, Time: p.Timeframe, Geo: p.Geo}},
		Category:       p.Cat,
	})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, c.method, explorePath, map[string]string{
		"hl":  c.hl,
		"tz":  strconv.Itoa(c.tz),
		"req": string(req),
	})
	if err != nil {
		return nil, err
	}
	var explore struct {
		Widgets []widget `json:"widgets"`
	}
	if err := json.Unmarshal(stripPrefix(body), &explore); err != nil {
		return nil, fmt.Errorf("cannot decode explore response: %w", err)
	}
	for _, w := range explore.Widgets {
		if w.ID == timeseriesWidget {
			return &Payload{Token: w.Token, Request: w.Request}, nil
		}
	}
	return nil, fmt.Errorf("%w: keyword %q", ErrNoWidget, p.Keyword)
}

// TimelinePoint is one date bucket of the multiline widget.
type TimelinePoint struct {
	Time           string   `json:"time"`
	FormattedTime  string   `json:"formattedTime"`
	Value          []int64  `json:"value"`
	FormattedValue []string `json:"formattedValue"`
	IsPartial      bool     `json:"isPartial"`
}

// InterestOverTime downloads the time series of a payload.
func (c *Client) InterestOverTime(ctx context.Context, p *Payload) ([]TimelinePoint, error) {
	body, err := c.do(ctx, c.method, multilinePath, map[string]string{
		"req":   string(p.Request),
		"token": p.Token,
		"tz":    strconv.Itoa(c.tz),
	})
	if err != nil {
		return nil, err
	}
	var data struct {
		Default struct {
			TimelineData []TimelinePoint `json:"timelineData"`
		} `json:"default"`
	}
	if err := json.Unmarshal(stripPrefix(body), &data); err != nil {
		return nil, fmt.Errorf("cannot decode multiline response: %w", err)
	}
	log.Debug().Int("points", len(data.Default.TimelineData)).Msg("Downloaded interest over time")
	return data.Default.TimelineData, nil
}
