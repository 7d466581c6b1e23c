package manual

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/m-lab/go/testingx"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/output"
	"github.com/trendy-data/trendy/trend"
)

const bundleJSON = `{
  "global": {
    "serpapi": {"tz": "120", "date": "today 5-y", "cat": "0"},
    "path": {"parent_folder": "/tmp/raw"}
  },
  "keywords": [
    {"serpapi": {"q": "phone case", "geo": "DE"}},
    {"serpapi": {"q": "curtain", "geo": "DE"}}
  ]
}`

const export = "Category: All categories\n\nWeek,phone case: (Germany)\n2023-01-01,42\n2023-01-08,<1\n"

func loadBundle(t *testing.T) *config.SerpAPIBundle {
	b, err := config.LoadSerpAPIBundle([]byte(bundleJSON), "json", "abc")
	testingx.Must(t, err, "cannot load bundle")
	if b.Len() != 2 {
		t.Fatalf("bundle has %d configs: %v", b.Len(), b.Err())
	}
	return b
}

func TestCreateIntakeFolders(t *testing.T) {
	dir := t.TempDir()
	bundle := loadBundle(t)
	ctx := context.Background()
	store := output.NewLocalWriter(dir)

	testingx.Must(t, CreateIntakeFolders(ctx, store, bundle), "cannot create intake folders")
	names, err := store.List(ctx, "")
	testingx.Must(t, err, "cannot list")
	want := []string{"keyword=curtain", "keyword=phone-case"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("intake folders = %v, want %v", names, want)
	}
	b, err := os.ReadFile(filepath.Join(dir, "keyword=phone-case/cat=0/geo=DE/timeframe=today-5-y", ConfigFile))
	testingx.Must(t, err, "missing manual.json")
	if string(b) != `{"keyword":"phone case","cat":"0","geo":"DE","timeframe":"today 5-y"}` {
		t.Errorf("manual.json = %s", b)
	}

	// A second run refuses the non-empty folder.
	if err := CreateIntakeFolders(ctx, store, bundle); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("CreateIntakeFolders() error = %v, want ErrNotEmpty", err)
	}
}

func TestCreateIntakeFolders_missingFolder(t *testing.T) {
	store := output.NewLocalWriter(filepath.Join(t.TempDir(), "new"))
	err := CreateIntakeFolders(context.Background(), store, loadBundle(t))
	testingx.Must(t, err, "cannot create intake folders in a new folder")
}

func TestSingleTrend(t *testing.T) {
	dir := t.TempDir()
	bundle := loadBundle(t)
	ctx := context.Background()
	store := output.NewLocalWriter(dir)
	testingx.Must(t, CreateIntakeFolders(ctx, store, bundle), "cannot create intake folders")

	path := bundle.Configs[0].Path
	p := filepath.Join(dir, "keyword=phone-case/cat=0/geo=DE/timeframe=today-5-y", ExportFile)
	testingx.Must(t, os.WriteFile(p, []byte(export), 0644), "cannot write export")

	st := NewSingleTrend(store, path)
	got, err := st.Table(ctx)
	testingx.Must(t, err, "cannot read table")
	want := []trend.Record{
		{Date: civil.Date{Year: 2023, Month: 1, Day: 1}, Timestamp: 1672531200, Query: "phone case", Value: "42", ExtractedValue: 42},
		{Date: civil.Date{Year: 2023, Month: 1, Day: 8}, Timestamp: 1673136000, Query: "phone case", Value: "<1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Table() = %+v, want %+v", got, want)
	}

	md, err := st.Metadata(ctx)
	testingx.Must(t, err, "cannot get metadata")
	if md["path"].(map[string]interface{})["geo"] != "DE" {
		t.Errorf("Metadata() = %v", md)
	}

	// The export of the second keyword was never dropped in.
	st = NewSingleTrend(store, bundle.Configs[1].Path)
	if _, err := st.Table(ctx); !errors.Is(err, output.ErrNotFound) {
		t.Errorf("Table() error = %v, want ErrNotFound", err)
	}
}

func TestParseExport(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []trend.Record
		wantErr bool
	}{
		{
			name: "monthly-with-bom-and-crlf",
			in:   "\xef\xbb\xbfCategory: All categories\r\n\r\nMonth,coffee: (Worldwide)\r\n2020-02,7\r\n",
			want: []trend.Record{
				{Date: civil.Date{Year: 2020, Month: 2, Day: 1}, Timestamp: 1580515200, Query: "coffee", Value: "7", ExtractedValue: 7},
			},
		},
		{
			name:    "unknown-date-column",
			in:      "Category: All categories\n\nYear,coffee\n2020,7\n",
			wantErr: true,
		},
		{
			name:    "bad-value",
			in:      "Category: All categories\n\nDay,coffee\n2020-01-01,abc\n",
			wantErr: true,
		},
		{
			name:    "no-header",
			in:      "Category: All categories\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExport([]byte(tt.in), "coffee")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseExport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrBadExport) {
					t.Errorf("ParseExport() error = %v, want ErrBadExport", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseExport() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
