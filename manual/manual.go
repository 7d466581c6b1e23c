// Package manual handles trends downloaded by hand from the Google Trends
// web page: it prepares one intake folder per keyword and reads the
// multiTimeline.csv export dropped into each of them.
package manual

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/output"
	"github.com/trendy-data/trendy/partition"
	"github.com/trendy-data/trendy/trend"
)

var (
	// ErrNotEmpty is returned when the intake folder already has content.
	ErrNotEmpty = errors.New("an empty intake folder is required")
	// ErrBadExport is returned for an unreadable multiTimeline.csv.
	ErrBadExport = errors.New("malformed trends export")
)

const (
	// ConfigFile is the keyword description written to each intake folder.
	ConfigFile = "manual.json"
	// ExportFile is the name of the CSV export of the trends web page.
	ExportFile = "multiTimeline.csv"

	// Lines before the header of an export: the category and a blank line.
	preambleLines = 2
)

// CreateIntakeFolders writes manual.json into the partition folder of every
// keyword of the bundle under store. The store must be empty.
func CreateIntakeFolders(ctx context.Context, store output.Store, bundle *config.SerpAPIBundle) error {
	names, err := store.List(ctx, "")
	if err != nil && !errors.Is(err, output.ErrNotFound) {
		return err
	}
	if len(names) > 0 {
		return fmt.Errorf("%w: %s has %d entries", ErrNotEmpty, store.Root(), len(names))
	}
	for _, c := range bundle.Configs {
		dir, err := partition.Path(c.Path.Fields()...)
		if err != nil {
			return err
		}
		b, err := json.Marshal(c.Path)
		if err != nil {
			return err
		}
		if err := store.Write(ctx, partition.Join(dir, ConfigFile), b); err != nil {
			return err
		}
		log.Info().Str("path", partition.Join(store.Root(), dir)).Msg("Created intake folder")
	}
	return nil
}

// SingleTrend is the trend of one keyword read from its intake folder. The
// table is parsed on first use and reused afterwards.
type SingleTrend struct {
	store output.Store
	path  config.QueryPathParams

	table []trend.Record
}

// NewSingleTrend returns the trend stored in the intake folder of path.
func NewSingleTrend(store output.Store, path config.QueryPathParams) *SingleTrend {
	return &SingleTrend{store: store, path: path}
}

func (s *SingleTrend) dir() (string, error) {
	return partition.Path(s.path.Fields()...)
}

// Table reads manual.json and multiTimeline.csv from the intake folder.
func (s *SingleTrend) Table(ctx context.Context) ([]trend.Record, error) {
	if s.table != nil {
		return s.table, nil
	}
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	b, err := s.store.Read(ctx, partition.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	var intake config.QueryPathParams
	if err := json.Unmarshal(b, &intake); err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", ConfigFile, err)
	}
	b, err = s.store.Read(ctx, partition.Join(dir, ExportFile))
	if err != nil {
		return nil, err
	}
	table, err := ParseExport(b, intake.Keyword)
	if err != nil {
		return nil, err
	}
	s.table = table
	return s.table, nil
}

// Metadata returns the path parameters of the keyword.
func (s *SingleTrend) Metadata(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"keyword":   s.path.Keyword,
			"cat":       s.path.Cat,
			"geo":       s.path.Geo,
			"timeframe": s.path.Timeframe,
		},
	}, nil
}

// ParseExport parses a multiTimeline.csv export. After two preamble lines
// the header names the date column (Week, Day or Month) and the value
// column; "<1" values count as zero.
func ParseExport(data []byte, keyword string) ([]trend.Record, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	for i := 0; i < preambleLines; i++ {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			return nil, fmt.Errorf("%w: missing header", ErrBadExport)
		}
		data = data[nl+1:]
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 2
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrBadExport)
	}
	dateLayout, ok := map[string]string{
		"Week":  "2006-01-02",
		"Day":   "2006-01-02",
		"Month": "2006-01",
	}[rows[0][0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown date column %q", ErrBadExport, rows[0][0])
	}

	records := make([]trend.Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		t, err := time.Parse(dateLayout, row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadExport, n+preambleLines+2, err)
		}
		value := strings.TrimSpace(row[1])
		var extracted int64
		if value != "<1" {
			if extracted, err = strconv.ParseInt(value, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrBadExport, n+preambleLines+2, err)
			}
		}
		records = append(records, trend.Record{
			Date:           civil.DateOf(t),
			Timestamp:      t.Unix(),
			Query:          keyword,
			Value:          value,
			ExtractedValue: extracted,
		})
	}
	return records, nil
}
