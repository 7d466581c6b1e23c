// Package aggregate turns raw downloaded snapshots into the public JSON
// documents served to the front end.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/exporter"
	"github.com/trendy-data/trendy/formatter"
	"github.com/trendy-data/trendy/output"
	"github.com/trendy-data/trendy/partition"
	"github.com/trendy-data/trendy/trend"
)

var (
	// ErrNoSnapshot is returned when a keyword has no dated snapshot.
	ErrNoSnapshot = errors.New("no snapshot found")
	// ErrSharedRoot is returned when the public snapshots would be written
	// over the raw ones.
	ErrSharedRoot = errors.New("raw and public data share the same parent folder")
)

var (
	aggregatedRecordsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trendy_aggregated_records_total",
		Help: "Records written to the public snapshots",
	})
	aggregatedKeywordsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendy_aggregated_keywords_total",
		Help: "Keywords aggregated, by status",
	}, []string{
		"status",
	})
)

var snapshotName = regexp.MustCompile(`^snapshot_date=(\d{4}-\d{2}-\d{2})$`)

// LatestSnapshot returns the most recent date among folder names of the form
// snapshot_date=YYYY-MM-DD. Other names, including snapshot_date=latest,
// are ignored.
func LatestSnapshot(names []string) (string, error) {
	var latest civil.Date
	found := false
	for _, n := range names {
		m := snapshotName.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		d, err := civil.ParseDate(m[1])
		if err != nil {
			log.Debug().Str("name", n).Err(err).Msg("Skipping snapshot")
			continue
		}
		if !found || d.After(latest) {
			latest, found = d, true
		}
	}
	if !found {
		return "", ErrNoSnapshot
	}
	return latest.String(), nil
}

// Loader reads the latest raw snapshot of a keyword.
type Loader struct {
	store  output.Store
	format formatter.Formatter
}

// NewLoader returns a loader reading the given format from store.
func NewLoader(store output.Store, format string) (*Loader, error) {
	f, err := formatter.ByName(format)
	if err != nil {
		return nil, err
	}
	return &Loader{store: store, format: f}, nil
}

// Load returns the table of the most recent snapshot of the partition given
// by fields, along with the snapshot date.
func (l *Loader) Load(ctx context.Context, fields []partition.Field) ([]trend.Record, string, error) {
	dir, err := partition.Path(fields...)
	if err != nil {
		return nil, "", err
	}
	formatDir := partition.Join(dir, "format="+l.format.Name())
	names, err := l.store.List(ctx, formatDir)
	if err != nil {
		return nil, "", err
	}
	snapshot, err := LatestSnapshot(names)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", err, partition.Join(l.store.Root(), formatDir))
	}
	b, err := l.store.Read(ctx, exporter.DataFile(dir, l.format.Name(), snapshot))
	if err != nil {
		return nil, "", err
	}
	table, err := l.format.Unmarshal(b)
	if err != nil {
		return nil, "", err
	}
	return table, snapshot, nil
}

// Aggregator writes the public JSON snapshots of every keyword of a bundle.
type Aggregator struct {
	exporter *exporter.Exporter
}

// New returns an aggregator writing through exp.
func New(exp *exporter.Exporter) *Aggregator {
	return &Aggregator{exporter: exp}
}

// Keyword aggregates one keyword: the records of its latest raw snapshot
// are projected, sorted by date and written under the same snapshot date and
// under the latest alias.
func (a *Aggregator) Keyword(ctx context.Context, loader *Loader, fields []partition.Field) ([]trend.PublicRecord, error) {
	table, snapshot, err := loader.Load(ctx, fields)
	if err != nil {
		return nil, err
	}
	records := trend.Project(table)
	target, err := partition.Path(fields...)
	if err != nil {
		return nil, err
	}
	for _, s := range []string{snapshot, exporter.Latest} {
		if err := a.exporter.ExportJSON(ctx, target, s, records); err != nil {
			return nil, err
		}
	}
	aggregatedRecordsMetric.Add(float64(len(records)))
	return records, nil
}

// sameRoot reports whether two store roots name the same folder.
func sameRoot(a, b string) bool {
	clean := func(r string) string {
		if !strings.Contains(r, "://") {
			r = filepath.Clean(r)
		}
		return strings.TrimRight(r, "/")
	}
	return clean(a) == clean(b)
}

// Bundle aggregates every keyword of a bundle. Keyword failures are logged
// and skipped; the number of keywords aggregated is returned. The raw json
// snapshots and the public ones share their relative paths, so a loader
// reading from the aggregator's own store is refused with ErrSharedRoot.
func (a *Aggregator) Bundle(ctx context.Context, loader *Loader, bundle *config.SerpAPIBundle) (int, error) {
	if raw, public := loader.store.Root(), a.exporter.Store().Root(); sameRoot(raw, public) {
		return 0, fmt.Errorf("%w: %s", ErrSharedRoot, public)
	}
	done := 0
	for _, c := range bundle.Configs {
		if ctx.Err() != nil {
			break
		}
		records, err := a.Keyword(ctx, loader, c.Path.Fields())
		if err != nil {
			log.Error().Err(err).Str("keyword", c.SerpAPI.Q).Msg("Cannot aggregate")
			aggregatedKeywordsMetric.WithLabelValues("error").Inc()
			continue
		}
		log.Info().Str("keyword", c.SerpAPI.Q).Int("records", len(records)).Msg("Aggregated")
		aggregatedKeywordsMetric.WithLabelValues("ok").Inc()
		done++
	}
	return done, nil
}

// LoadBundles reads the aggregation API bundles listed by an aggregation
// config. Unreadable bundles are logged and skipped.
func LoadBundles(ctx context.Context, agg *config.Aggregation) []*config.SerpAPIBundle {
	var bundles []*config.SerpAPIBundle
	for _, loc := range agg.Configs {
		data, err := output.ReadFile(ctx, loc)
		if err != nil {
			log.Error().Err(err).Str("config", loc).Msg("Cannot read bundle")
			continue
		}
		b, err := config.LoadSerpAPIBundle(data, config.FormatFromName(loc), "")
		if err != nil {
			log.Error().Err(err).Str("config", loc).Msg("Cannot load bundle")
			continue
		}
		for _, e := range b.Invalid {
			log.Error().Err(e).Str("config", loc).Msg("Skipping keyword")
		}
		bundles = append(bundles, b)
	}
	return bundles
}
