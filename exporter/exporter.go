// Package exporter writes trend snapshots to a Store following the layout
//
//	<target>/format=<format>/snapshot_date=<date|latest>/data.<format>
//
// with an optional metadata.json next to every data file.
package exporter

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/formatter"
	"github.com/trendy-data/trendy/output"
	"github.com/trendy-data/trendy/partition"
	"github.com/trendy-data/trendy/trend"
)

var (
	snapshotWritesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendy_snapshot_writes_total",
		Help: "Snapshot files written, by format and status",
	}, []string{
		"format", "status",
	})
	snapshotBytesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trendy_snapshot_bytes_total",
		Help: "Bytes of snapshot data written, by format",
	}, []string{
		"format",
	})
)

// Latest is the snapshot name of the mutable alias overwritten by every
// aggregation run.
const Latest = "latest"

const metadataFile = "metadata.json"

// DefaultFormats are the formats raw downloads are stored in.
var DefaultFormats = []string{"csv", "parquet"}

// SnapshotDir returns the folder of one format and snapshot under target.
func SnapshotDir(target, format, snapshot string) string {
	return partition.Join(target, "format="+format, "snapshot_date="+snapshot)
}

// DataFile returns the location of the data file of one format and snapshot
// under target.
func DataFile(target, format, snapshot string) string {
	return partition.Join(SnapshotDir(target, format, snapshot), "data."+format)
}

// Exporter writes snapshots to a Store. Paths given to its methods are
// relative to the root of the store.
type Exporter struct {
	store output.Store
}

// New returns an Exporter writing to store.
func New(store output.Store) *Exporter {
	return &Exporter{store: store}
}

// Store returns the underlying store.
func (e *Exporter) Store() output.Store {
	return e.store
}

// Export writes table in each of formats under target. When metadata is not
// nil it is also written as metadata.json next to each data file.
//
// Formats are independent: a failure is logged and counted, and the
// remaining formats are still written. Export never fails.
func (e *Exporter) Export(ctx context.Context, target, snapshot string,
	table []trend.Record, metadata map[string]interface{}, formats ...string) {
	for _, name := range formats {
		if err := e.exportFormat(ctx, target, snapshot, table, metadata, name); err != nil {
			log.Error().Err(err).
				Str("target", partition.Join(e.store.Root(), target)).
				Str("format", name).
				Msg("Cannot save format")
			snapshotWritesMetric.WithLabelValues(name, "error").Inc()
			continue
		}
		snapshotWritesMetric.WithLabelValues(name, "ok").Inc()
	}
}

func (e *Exporter) exportFormat(ctx context.Context, target, snapshot string,
	table []trend.Record, metadata map[string]interface{}, name string) error {
	f, err := formatter.ByName(name)
	if err != nil {
		return err
	}
	content, err := f.Marshal(table)
	if err != nil {
		return err
	}
	p := DataFile(target, name, snapshot)
	log.Debug().Str("path", p).Msg("Saving data")
	if err := e.store.Write(ctx, p, content); err != nil {
		return err
	}
	snapshotBytesMetric.WithLabelValues(name).Add(float64(len(content)))
	if metadata == nil {
		return nil
	}
	b, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	return e.store.Write(ctx, partition.Join(SnapshotDir(target, name, snapshot), metadataFile), b)
}

// ExportJSON writes v as the json snapshot under target. Failures are logged
// and reported through the returned error.
func (e *Exporter) ExportJSON(ctx context.Context, target, snapshot string, v interface{}) error {
	err := e.exportJSON(ctx, target, snapshot, v)
	if err != nil {
		log.Error().Err(err).
			Str("target", partition.Join(e.store.Root(), target)).
			Str("format", "json").
			Msg("Cannot save format")
		snapshotWritesMetric.WithLabelValues("json", "error").Inc()
		return err
	}
	snapshotWritesMetric.WithLabelValues("json", "ok").Inc()
	return nil
}

func (e *Exporter) exportJSON(ctx context.Context, target, snapshot string, v interface{}) error {
	var content []byte
	var err error
	switch raw := v.(type) {
	case []byte:
		content = raw
	case json.RawMessage:
		content = raw
	default:
		content, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	p := DataFile(target, "json", snapshot)
	log.Debug().Str("path", p).Msg("Saving json")
	if err := e.store.Write(ctx, p, content); err != nil {
		return err
	}
	snapshotBytesMetric.WithLabelValues("json").Add(float64(len(content)))
	return nil
}
