package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	sectionRequest  = "request"
	sectionTrend    = "trend"
	sectionPath     = "path"
	sectionSerpAPI  = "serpapi"
	sectionMetadata = "extra_metadata"
)

// document is the raw bundle file.
type document struct {
	Global   map[string]interface{}   `json:"global"`
	Keywords []map[string]interface{} `json:"keywords"`
}

// FormatFromName returns the document format implied by a file name: "yaml"
// for .yaml and .yml files, "json" otherwise.
func FormatFromName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// parse reads a bundle document. Keys are case-insensitive.
func parse(data []byte, format string) (*document, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: cannot parse %s document: %v", ErrInvalidConfig, format, err)
	}
	if !v.IsSet("global") {
		return nil, fmt.Errorf("%w: missing key: global", ErrInvalidConfig)
	}
	if !v.IsSet("keywords") {
		return nil, fmt.Errorf("%w: missing key: keywords", ErrInvalidConfig)
	}
	global, ok := toStringMap(v.Get("global"))
	if !ok {
		return nil, fmt.Errorf("%w: global must be an object", ErrInvalidConfig)
	}
	rawKeywords, ok := v.Get("keywords").([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: keywords must be a list", ErrInvalidConfig)
	}
	doc := &document{Global: global, Keywords: make([]map[string]interface{}, 0, len(rawKeywords))}
	for i, k := range rawKeywords {
		m, ok := toStringMap(k)
		if !ok {
			return nil, fmt.Errorf("%w: keywords[%d] must be an object", ErrInvalidConfig, i)
		}
		doc.Keywords = append(doc.Keywords, m)
	}
	return doc, nil
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	case nil:
		return map[string]interface{}{}, true
	default:
		return nil, false
	}
}

// section returns a named section of a raw config as a map. A missing
// section is an empty map.
func section(raw map[string]interface{}, name string) (map[string]interface{}, error) {
	m, ok := toStringMap(raw[name])
	if !ok {
		return nil, fmt.Errorf("%w: section %s must be an object", ErrInvalidConfig, name)
	}
	return m, nil
}

// merge combines one section of a keyword entry with the same section of the
// global defaults. Keys set on the keyword take precedence.
func merge(global, keyword map[string]interface{}, name string) (map[string]interface{}, error) {
	g, err := section(global, name)
	if err != nil {
		return nil, err
	}
	k, err := section(keyword, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(g)+len(k))
	for key, v := range g {
		out[key] = v
	}
	for key, v := range k {
		out[key] = v
	}
	return out, nil
}

// decode decodes a merged section into out. Values already set on out are
// kept for keys the section does not mention.
func decode(in map[string]interface{}, out interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := d.Decode(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Global holds the global section of a bundle.
type Global map[string]interface{}

// ParentFolder returns global.path.parent_folder, the root of the stored data.
func (g Global) ParentFolder() (string, error) {
	p, err := section(g, sectionPath)
	if err != nil {
		return "", err
	}
	s, ok := p["parent_folder"].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: missing key: global.path.parent_folder", ErrInvalidConfig)
	}
	return s, nil
}

// Request decodes global.request over the default request parameters.
func (g Global) Request() (RequestParams, error) {
	r := defaultRequest()
	s, err := section(g, sectionRequest)
	if err != nil {
		return r, err
	}
	if err := decode(s, &r); err != nil {
		return r, err
	}
	return r, r.Validate()
}

func defaultRequest() RequestParams {
	return RequestParams{TZ: 120, HL: "en-US", Timeout: 14}
}

// KeywordError is the configuration error of one keyword entry. The entry
// is skipped; the rest of the bundle is still usable.
type KeywordError struct {
	Index int
	Err   error
}

func (e *KeywordError) Error() string {
	return fmt.Sprintf("keywords[%d]: %v", e.Index, e.Err)
}

func (e *KeywordError) Unwrap() error {
	return e.Err
}

func joinInvalid(invalid []*KeywordError) error {
	if len(invalid) == 0 {
		return nil
	}
	msgs := make([]string, len(invalid))
	for i, e := range invalid {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Bundle is the list of resolved trends-provider configs of one file.
type Bundle struct {
	Global  Global
	Configs []*Config
	// Invalid lists the keyword entries that could not be resolved.
	Invalid []*KeywordError
}

// LoadBundle reads a trends-provider bundle. Sections request, trend and path
// of every keyword are merged over the global ones independently.
func LoadBundle(data []byte, format string) (*Bundle, error) {
	doc, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Global: doc.Global}
	for i, k := range doc.Keywords {
		c, err := resolve(doc.Global, k)
		if err != nil {
			b.Invalid = append(b.Invalid, &KeywordError{Index: i, Err: err})
			continue
		}
		b.Configs = append(b.Configs, c)
	}
	return b, nil
}

// Err returns an error describing every invalid keyword entry, or nil.
func (b *Bundle) Err() error {
	return joinInvalid(b.Invalid)
}

// Len returns the number of resolved configs.
func (b *Bundle) Len() int {
	return len(b.Configs)
}

func resolve(global, keyword map[string]interface{}) (*Config, error) {
	c := &Config{
		Request: defaultRequest(),
		Trend:   TrendParams{Timeframe: "today 5-y"},
	}
	targets := []struct {
		name string
		out  interface{}
	}{
		{sectionRequest, &c.Request},
		{sectionTrend, &c.Trend},
		{sectionPath, &c.Path},
	}
	for _, t := range targets {
		m, err := merge(global, keyword, t.name)
		if err != nil {
			return nil, err
		}
		// parent_folder lives in global.path but is not a partition field.
		delete(m, "parent_folder")
		if err := decode(m, t.out); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SerpAPIBundle is the list of resolved aggregation API configs of one file.
type SerpAPIBundle struct {
	Global  Global
	Configs []*SerpAPIConfig
	// Invalid lists the keyword entries that could not be resolved.
	Invalid []*KeywordError

	apiKey string
	doc    *document
}

// LoadSerpAPIBundle reads an aggregation API bundle. Sections serpapi, path
// and extra_metadata are merged over the global ones independently. A
// non-empty apiKey replaces any api_key found in the file.
func LoadSerpAPIBundle(data []byte, format, apiKey string) (*SerpAPIBundle, error) {
	doc, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	b := &SerpAPIBundle{Global: doc.Global, apiKey: apiKey, doc: doc}
	b.add(0, doc.Keywords)
	return b, nil
}

func (b *SerpAPIBundle) add(offset int, keywords []map[string]interface{}) {
	for i, k := range keywords {
		c, err := resolveSerpAPI(b.Global, k, b.apiKey)
		if err != nil {
			b.Invalid = append(b.Invalid, &KeywordError{Index: offset + i, Err: err})
			continue
		}
		b.Configs = append(b.Configs, c)
	}
}

// Err returns an error describing every invalid keyword entry, or nil.
func (b *SerpAPIBundle) Err() error {
	return joinInvalid(b.Invalid)
}

// Len returns the number of resolved configs.
func (b *SerpAPIBundle) Len() int {
	return len(b.Configs)
}

// Append adds raw keyword entries to the bundle.
func (b *SerpAPIBundle) Append(keywords ...map[string]interface{}) {
	offset := len(b.doc.Keywords)
	b.doc.Keywords = append(b.doc.Keywords, keywords...)
	b.add(offset, keywords)
}

// Save writes the raw bundle document as JSON.
func (b *SerpAPIBundle) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b.doc)
}

func resolveSerpAPI(global, keyword map[string]interface{}, apiKey string) (*SerpAPIConfig, error) {
	c := &SerpAPIConfig{
		SerpAPI: SerpAPIParams{
			Engine:   "google_trends",
			DataType: "TIMESERIES",
			TZ:       "120",
			Date:     "today 5-y",
		},
		ExtraMetadata: map[string]interface{}{},
	}
	m, err := merge(global, keyword, sectionSerpAPI)
	if err != nil {
		return nil, err
	}
	if err := decode(m, &c.SerpAPI); err != nil {
		return nil, err
	}
	if apiKey != "" {
		c.SerpAPI.APIKey = apiKey
	}

	// The path is derived from the query unless overridden key by key.
	c.Path = QueryPathParams{
		Keyword:   c.SerpAPI.Q,
		Cat:       c.SerpAPI.Cat,
		Geo:       c.SerpAPI.Geo,
		Timeframe: c.SerpAPI.Date,
	}
	if c.Path.Cat == "" {
		c.Path.Cat = "0"
	}
	m, err = merge(global, keyword, sectionPath)
	if err != nil {
		return nil, err
	}
	delete(m, "parent_folder")
	if err := decode(m, &c.Path); err != nil {
		return nil, err
	}

	m, err = merge(global, keyword, sectionMetadata)
	if err != nil {
		return nil, err
	}
	for k, v := range m {
		c.ExtraMetadata[k] = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Aggregation lists the aggregation API bundles to aggregate.
type Aggregation struct {
	Global Global
	// Configs are the locations of the bundle files.
	Configs []string
}

// LoadAggregation reads an aggregation config: a global section holding the
// parent folder and a keywords list of {"config": <bundle location>}.
func LoadAggregation(data []byte, format string) (*Aggregation, error) {
	doc, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	a := &Aggregation{Global: doc.Global}
	for i, k := range doc.Keywords {
		loc, ok := k["config"].(string)
		if !ok || loc == "" {
			return nil, fmt.Errorf("%w: keywords[%d]: missing key: config", ErrInvalidConfig, i)
		}
		a.Configs = append(a.Configs, loc)
	}
	if _, err := a.Global.ParentFolder(); err != nil {
		return nil, err
	}
	return a, nil
}
