package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/m-lab/go/testingx"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	testingx.Must(t, err, "cannot read testdata %s", name)
	return data
}

func TestLoadBundle(t *testing.T) {
	b, err := LoadBundle(readTestdata(t, "trends_config.json"), "json")
	testingx.Must(t, err, "cannot load bundle")

	if b.Len() != 2 || len(b.Invalid) != 0 {
		t.Fatalf("LoadBundle() got %d configs, %d invalid", b.Len(), len(b.Invalid))
	}
	parent, err := b.Global.ParentFolder()
	testingx.Must(t, err, "missing parent folder")
	if parent != "/tmp/trends" {
		t.Errorf("ParentFolder() = %q", parent)
	}

	want := []*Config{
		{
			Request: RequestParams{TZ: 120, HL: "en-US", Timeout: 14},
			Trend:   TrendParams{Keyword: "phone case", Geo: "DE", Timeframe: "today 5-y", Cat: 0},
			Path:    PathParams{Keyword: "phone case", Category: "all", Country: "DE", Frequency: "1W"},
		},
		{
			Request: RequestParams{TZ: 60, HL: "en-US", Timeout: 14},
			Trend:   TrendParams{Keyword: "curtain", Geo: "NL", Timeframe: "today 12-m", Cat: 0},
			// The trend override does not leak into the path section.
			Path: PathParams{Keyword: "default", Category: "all", Country: "NL", Frequency: "1W"},
		},
	}
	if !reflect.DeepEqual(b.Configs, want) {
		for i := range b.Configs {
			t.Errorf("config %d = %+v, want %+v", i, *b.Configs[i], *want[i])
		}
	}

	p, err := b.Configs[0].Path.Path(parent)
	testingx.Must(t, err, "cannot build path")
	if p != "/tmp/trends/keyword=phone-case/category=all/country=DE/frequency=1W" {
		t.Errorf("Path() = %q", p)
	}
}

func TestConfig_CheckConsistency(t *testing.T) {
	b, err := LoadBundle(readTestdata(t, "trends_config.json"), "json")
	testingx.Must(t, err, "cannot load bundle")

	if err := b.Configs[0].CheckConsistency(); err != nil {
		t.Errorf("CheckConsistency() = %v, want nil", err)
	}
	if err := b.Configs[1].CheckConsistency(); !errors.Is(err, ErrMismatch) {
		t.Errorf("CheckConsistency() = %v, want ErrMismatch", err)
	}
}

func TestLoadBundle_Errors(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantErr     error
		wantInvalid int
	}{
		{
			name:    "missing-global",
			doc:     `{"keywords": []}`,
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "missing-keywords",
			doc:     `{"global": {}}`,
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "not-json",
			doc:     `{"global": `,
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "keywords-not-a-list",
			doc:     `{"global": {}, "keywords": {"a": 1}}`,
			wantErr: ErrInvalidConfig,
		},
		{
			name: "one-keyword-invalid",
			doc: `{"global": {"path": {"category": "all", "frequency": "1W"}},
			       "keywords": [
			         {"trend": {"keyword": "a", "geo": "DE"}, "path": {"keyword": "a", "country": "DE"}},
			         {"trend": {"keyword": "b"}, "path": {"keyword": "b", "country": "DE"}}
			       ]}`,
			wantInvalid: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := LoadBundle([]byte(tt.doc), "json")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("LoadBundle() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(b.Invalid) != tt.wantInvalid {
				t.Errorf("LoadBundle() invalid = %d, want %d", len(b.Invalid), tt.wantInvalid)
			}
			if tt.wantInvalid > 0 {
				if !errors.Is(b.Err(), ErrInvalidConfig) {
					t.Errorf("Err() = %v, want ErrInvalidConfig", b.Err())
				}
				if b.Invalid[0].Index != 1 {
					t.Errorf("Invalid[0].Index = %d, want 1", b.Invalid[0].Index)
				}
			}
		})
	}
}

func TestLoadSerpAPIBundle(t *testing.T) {
	b, err := LoadSerpAPIBundle(readTestdata(t, "serpapi_config.json"), "json", "abc")
	testingx.Must(t, err, "cannot load bundle")
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	c := b.Configs[0]
	wantParams := SerpAPIParams{
		APIKey: "abc", Engine: "google_trends", Q: "phone case", Geo: "DE",
		DataType: "TIMESERIES", TZ: "120", Cat: "0", Date: "today 5-y",
	}
	if c.SerpAPI != wantParams {
		t.Errorf("SerpAPI = %+v, want %+v", c.SerpAPI, wantParams)
	}
	wantPath := QueryPathParams{Keyword: "phone case", Cat: "0", Geo: "DE", Timeframe: "today 5-y"}
	if c.Path != wantPath {
		t.Errorf("Path = %+v, want %+v", c.Path, wantPath)
	}
	if c.Topic() != "Phone Cases" || b.Configs[1].Topic() != "curtain" {
		t.Errorf("Topic() = %q, %q", c.Topic(), b.Configs[1].Topic())
	}
	for _, c := range b.Configs {
		if err := c.CheckConsistency(); err != nil {
			t.Errorf("CheckConsistency() = %v", err)
		}
	}
	p, err := c.Path.Path("gs://trends-raw/serpapi")
	testingx.Must(t, err, "cannot build path")
	if p != "gs://trends-raw/serpapi/keyword=phone-case/cat=0/geo=DE/timeframe=today-5-y" {
		t.Errorf("Path() = %q", p)
	}
}

func TestLoadSerpAPIBundle_YAML(t *testing.T) {
	name := "serpapi_config.yaml"
	b, err := LoadSerpAPIBundle(readTestdata(t, name), FormatFromName(name), "")
	testingx.Must(t, err, "cannot load bundle")
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
	c := b.Configs[0]
	if c.SerpAPI.TZ != "120" || c.SerpAPI.Date != "today 12-m" || c.SerpAPI.APIKey != "" {
		t.Errorf("SerpAPI = %+v", c.SerpAPI)
	}
	if c.Path.Cat != "0" {
		t.Errorf("Path.Cat = %q, want 0", c.Path.Cat)
	}
}

func TestSerpAPIConfig_PathOverride(t *testing.T) {
	doc := `{"global": {}, "keywords": [
	  {"serpapi": {"q": "phone case", "geo": "DE"}, "path": {"geo": "AT"}},
	  {"serpapi": {"q": "tea", "geo": "DE", "date": "yesterday"}}
	]}`
	b, err := LoadSerpAPIBundle([]byte(doc), "json", "")
	testingx.Must(t, err, "cannot load bundle")
	if b.Len() != 1 || len(b.Invalid) != 1 {
		t.Fatalf("got %d configs, %d invalid", b.Len(), len(b.Invalid))
	}
	if err := b.Configs[0].CheckConsistency(); !errors.Is(err, ErrMismatch) {
		t.Errorf("CheckConsistency() = %v, want ErrMismatch", err)
	}
}

func TestSerpAPIParams_Query(t *testing.T) {
	p := SerpAPIParams{APIKey: "", Engine: "google_trends", Q: "Coffee", DataType: "TIMESERIES", TZ: "120", Date: "today 5-y"}
	want := map[string]string{
		"engine": "google_trends", "q": "Coffee", "data_type": "TIMESERIES",
		"tz": "120", "date": "today 5-y",
	}
	if got := p.Query(); !reflect.DeepEqual(got, want) {
		t.Errorf("Query() = %v, want %v", got, want)
	}
}

func TestSerpAPIBundle_AppendSave(t *testing.T) {
	b, err := LoadSerpAPIBundle(readTestdata(t, "serpapi_config.json"), "json", "")
	testingx.Must(t, err, "cannot load bundle")
	b.Append(map[string]interface{}{
		"serpapi": map[string]interface{}{"q": "lamp", "geo": "FR"},
	})
	if b.Len() != 3 || b.Configs[2].SerpAPI.Q != "lamp" {
		t.Fatalf("Append() did not resolve the new keyword")
	}
	buf := &bytes.Buffer{}
	testingx.Must(t, b.Save(buf), "cannot save")
	var doc document
	testingx.Must(t, json.Unmarshal(buf.Bytes(), &doc), "cannot decode saved bundle")
	if len(doc.Keywords) != 3 {
		t.Errorf("saved %d keywords, want 3", len(doc.Keywords))
	}
	reloaded, err := LoadSerpAPIBundle(buf.Bytes(), "json", "")
	testingx.Must(t, err, "cannot reload")
	if reloaded.Len() != 3 {
		t.Errorf("reloaded Len() = %d, want 3", reloaded.Len())
	}
}

func TestLoadAggregation(t *testing.T) {
	doc := `{"global": {"path": {"parent_folder": "gs://public/trends"}},
	         "keywords": [{"config": "gs://configs/a.json"}, {"config": "b.json"}]}`
	a, err := LoadAggregation([]byte(doc), "json")
	testingx.Must(t, err, "cannot load aggregation config")
	if !reflect.DeepEqual(a.Configs, []string{"gs://configs/a.json", "b.json"}) {
		t.Errorf("Configs = %v", a.Configs)
	}

	_, err = LoadAggregation([]byte(`{"global": {}, "keywords": [{"config": "a"}]}`), "json")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadAggregation() without parent folder = %v, want ErrInvalidConfig", err)
	}
	_, err = LoadAggregation([]byte(`{"global": {"path": {"parent_folder": "x"}}, "keywords": [{}]}`), "json")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadAggregation() without config = %v, want ErrInvalidConfig", err)
	}
}

func TestGlobal_Request(t *testing.T) {
	g := Global{"request": map[string]interface{}{"tz": float64(60), "hl": "de-DE", "proxy": "http://proxy:3128"}}
	r, err := g.Request()
	testingx.Must(t, err, "cannot decode request")
	want := RequestParams{TZ: 60, HL: "de-DE", Timeout: 14, Proxy: "http://proxy:3128"}
	if r != want {
		t.Errorf("Request() = %+v, want %+v", r, want)
	}
}
