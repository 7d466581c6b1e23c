// Package config loads keyword bundles for the trend downloaders.
//
// A bundle document has a "global" section holding defaults and a "keywords"
// list. Every keyword entry is merged over the global defaults section by
// section, and each merged section is decoded into one of the parameter
// structs below.
package config

import (
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/trendy-data/trendy/partition"
)

var (
	// ErrInvalidConfig reports a missing or invalid configuration key.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMismatch reports that the query parameters and the path parameters
	// of a keyword disagree.
	ErrMismatch = errors.New("query and path parameters do not match")
)

// Time windows accepted by the aggregation API.
var allowedDates = []interface{}{
	"now 1-H",
	"now 4-H",
	"now 1-d",
	"now 7-d",
	"today 1-m",
	"today 3-m",
	"today 12-m",
	"today 5-y",
	"all",
}

var allowedDataTypes = []interface{}{
	"TIMESERIES", "GEO_MAP", "GEO_MAP_0", "RELATED_TOPICS", "RELATED_QUERIES",
}

var digits = regexp.MustCompile(`^[0-9]+$`)

// RequestParams configures the trends-provider HTTP session.
type RequestParams struct {
	// TZ is the timezone offset in minutes.
	TZ int `mapstructure:"tz" json:"tz"`
	// HL is the interface language, e.g. "en-US".
	HL string `mapstructure:"hl" json:"hl"`
	// Timeout is the per-request timeout in seconds.
	Timeout int    `mapstructure:"timeout" json:"timeout,omitempty"`
	Proxy   string `mapstructure:"proxy" json:"proxy,omitempty"`
}

// Validate validates the request parameters.
func (p RequestParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.HL, validation.Required, validation.Length(2, 0)),
		validation.Field(&p.Timeout, validation.Min(0)),
	)
}

// TrendParams are the query parameters for the trends provider.
type TrendParams struct {
	Keyword   string `mapstructure:"keyword" json:"keyword"`
	Geo       string `mapstructure:"geo" json:"geo"`
	Timeframe string `mapstructure:"timeframe" json:"timeframe"`
	Cat       int    `mapstructure:"cat" json:"cat"`
}

// Validate validates the trend parameters.
func (p TrendParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Keyword, validation.Required),
		validation.Field(&p.Geo, validation.Required),
		validation.Field(&p.Timeframe, validation.Required),
		validation.Field(&p.Cat, validation.Min(0)),
	)
}

// PathParams locate the data of one trends-provider keyword. Fields are
// rendered in the order keyword, category, country, frequency.
type PathParams struct {
	Keyword   string `mapstructure:"keyword" json:"keyword"`
	Category  string `mapstructure:"category" json:"category"`
	Country   string `mapstructure:"country" json:"country"`
	Frequency string `mapstructure:"frequency" json:"frequency"`
}

// Validate validates the path parameters.
func (p PathParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Keyword, validation.Required),
		validation.Field(&p.Category, validation.Required),
		validation.Field(&p.Country, validation.Required),
		validation.Field(&p.Frequency, validation.Required),
	)
}

// Fields returns the partition fields in declared order. Country codes and
// frequencies are kept verbatim.
func (p PathParams) Fields() []partition.Field {
	return []partition.Field{
		{Name: "keyword", Value: p.Keyword},
		{Name: "category", Value: p.Category},
		{Name: "country", Value: p.Country, Verbatim: true},
		{Name: "frequency", Value: p.Frequency, Verbatim: true},
	}
}

// Path builds the folder of the keyword under parent.
func (p PathParams) Path(parent string) (string, error) {
	return partition.Build(parent, p.Fields()...)
}

// SerpAPIParams are the query parameters for the aggregation API.
type SerpAPIParams struct {
	APIKey   string `mapstructure:"api_key" json:"api_key"`
	Engine   string `mapstructure:"engine" json:"engine"`
	Q        string `mapstructure:"q" json:"q"`
	Geo      string `mapstructure:"geo" json:"geo,omitempty"`
	DataType string `mapstructure:"data_type" json:"data_type"`
	TZ       string `mapstructure:"tz" json:"tz,omitempty"`
	Cat      string `mapstructure:"cat" json:"cat,omitempty"`
	Date     string `mapstructure:"date" json:"date"`
}

// Validate validates the aggregation API parameters.
func (p SerpAPIParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Engine, validation.Required),
		validation.Field(&p.Q, validation.Required),
		validation.Field(&p.DataType, validation.Required, validation.In(allowedDataTypes...)),
		validation.Field(&p.TZ, validation.Match(regexp.MustCompile(`^-?[0-9]+$`))),
		validation.Field(&p.Cat, validation.Match(digits)),
		validation.Field(&p.Date, validation.Required, validation.In(allowedDates...)),
	)
}

// Query returns the request query string values, omitting empty ones.
func (p SerpAPIParams) Query() map[string]string {
	q := map[string]string{
		"api_key":   p.APIKey,
		"engine":    p.Engine,
		"q":         p.Q,
		"geo":       p.Geo,
		"data_type": p.DataType,
		"tz":        p.TZ,
		"cat":       p.Cat,
		"date":      p.Date,
	}
	for k, v := range q {
		if v == "" {
			delete(q, k)
		}
	}
	return q
}

// QueryPathParams locate the data of one aggregation API keyword. Fields are
// rendered in the order keyword, cat, geo, timeframe.
type QueryPathParams struct {
	Keyword   string `mapstructure:"keyword" json:"keyword"`
	Cat       string `mapstructure:"cat" json:"cat"`
	Geo       string `mapstructure:"geo" json:"geo"`
	Timeframe string `mapstructure:"timeframe" json:"timeframe"`
}

// Validate validates the path parameters.
func (p QueryPathParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Keyword, validation.Required),
		validation.Field(&p.Cat, validation.Required),
		validation.Field(&p.Geo, validation.Required),
		validation.Field(&p.Timeframe, validation.Required),
	)
}

// Fields returns the partition fields in declared order. Geography codes
// are kept verbatim.
func (p QueryPathParams) Fields() []partition.Field {
	return []partition.Field{
		{Name: "keyword", Value: p.Keyword},
		{Name: "cat", Value: p.Cat},
		{Name: "geo", Value: p.Geo, Verbatim: true},
		{Name: "timeframe", Value: p.Timeframe},
	}
}

// Path builds the folder of the keyword under parent.
func (p QueryPathParams) Path(parent string) (string, error) {
	return partition.Build(parent, p.Fields()...)
}

// Config is the resolved configuration of one trends-provider keyword.
type Config struct {
	Request RequestParams
	Trend   TrendParams
	Path    PathParams
}

// Validate checks every section for required fields.
func (c *Config) Validate() error {
	if err := c.Request.Validate(); err != nil {
		return fmt.Errorf("%w: request: %v", ErrInvalidConfig, err)
	}
	if err := c.Trend.Validate(); err != nil {
		return fmt.Errorf("%w: trend: %v", ErrInvalidConfig, err)
	}
	if err := c.Path.Validate(); err != nil {
		return fmt.Errorf("%w: path: %v", ErrInvalidConfig, err)
	}
	return nil
}

// CheckConsistency verifies that the keyword and geography queried match the
// ones encoded in the path. It is never run implicitly.
func (c *Config) CheckConsistency() error {
	if c.Trend.Keyword != c.Path.Keyword {
		return fmt.Errorf("%w: trend keyword %q, path keyword %q",
			ErrMismatch, c.Trend.Keyword, c.Path.Keyword)
	}
	if c.Trend.Geo != c.Path.Country {
		return fmt.Errorf("%w: trend geo %q, path country %q",
			ErrMismatch, c.Trend.Geo, c.Path.Country)
	}
	return nil
}

// SerpAPIConfig is the resolved configuration of one aggregation API keyword.
type SerpAPIConfig struct {
	SerpAPI       SerpAPIParams
	Path          QueryPathParams
	ExtraMetadata map[string]interface{}
}

// Validate checks every section for required fields.
func (c *SerpAPIConfig) Validate() error {
	if err := c.SerpAPI.Validate(); err != nil {
		return fmt.Errorf("%w: serpapi: %v", ErrInvalidConfig, err)
	}
	if err := c.Path.Validate(); err != nil {
		return fmt.Errorf("%w: path: %v", ErrInvalidConfig, err)
	}
	return nil
}

// CheckConsistency verifies that the keyword and geography queried match the
// ones encoded in the path. It is never run implicitly.
func (c *SerpAPIConfig) CheckConsistency() error {
	if c.SerpAPI.Q != c.Path.Keyword {
		return fmt.Errorf("%w: query %q, path keyword %q",
			ErrMismatch, c.SerpAPI.Q, c.Path.Keyword)
	}
	if c.SerpAPI.Geo != c.Path.Geo {
		return fmt.Errorf("%w: query geo %q, path geo %q",
			ErrMismatch, c.SerpAPI.Geo, c.Path.Geo)
	}
	return nil
}

// Topic is the display name of the keyword: the "topic" extra metadata when
// present, the path keyword otherwise.
func (c *SerpAPIConfig) Topic() string {
	if t, ok := c.ExtraMetadata["topic"].(string); ok && t != "" {
		return t
	}
	return c.Path.Keyword
}
