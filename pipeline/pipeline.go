// Package pipeline runs batches of downloads: one keyword at a time, with a
// random courtesy delay between keywords.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/exporter"
	"github.com/trendy-data/trendy/partition"
	"github.com/trendy-data/trendy/trend"
)

var (
	errInvalidWait     = errors.New("the maximum wait must not be shorter than the minimum")
	errNegativeWait    = errors.New("wait durations must not be negative")
	errMissingSnapshot = errors.New("missing snapshot date")
)

var fetchMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trendy_fetch_total",
	Help: "Keyword downloads, by source and status",
}, []string{
	"source", "status",
})

// Wait is the range of the courtesy delay between two keywords.
type Wait struct {
	Min time.Duration
	Max time.Duration
}

// Validate checks that the range is not empty.
func (w Wait) Validate() error {
	if w.Min < 0 || w.Max < 0 {
		return errNegativeWait
	}
	if w.Max < w.Min {
		return fmt.Errorf("%w: min %s, max %s", errInvalidWait, w.Min, w.Max)
	}
	return nil
}

// Random returns a duration in [Min, Max], at second granularity.
func (w Wait) Random() time.Duration {
	lo, hi := int64(w.Min/time.Second), int64(w.Max/time.Second)
	if hi <= lo {
		return w.Min
	}
	return time.Duration(lo+rand.Int63n(hi-lo+1)) * time.Second
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Job is the download of one keyword.
type Job struct {
	// Keyword identifies the job in logs.
	Keyword string
	// Target is the partition folder of the keyword, relative to the store.
	Target string
	Result trend.Result
}

// rawResult is a result that keeps the provider response as received.
type rawResult interface {
	Raw(ctx context.Context) (json.RawMessage, error)
}

// Downloader fetches jobs and writes their snapshots.
type Downloader struct {
	Exporter *exporter.Exporter
	// Source labels the provider in metrics, e.g. "serpapi".
	Source string
	// Snapshot is the snapshot date of the run, YYYY-MM-DD.
	Snapshot string
	// Formats are the formats tables are written in.
	Formats []string
	Wait    Wait
	// Sleep implements the courtesy delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewDownloader returns a downloader writing csv and parquet snapshots.
func NewDownloader(exp *exporter.Exporter, source, snapshot string, wait Wait) (*Downloader, error) {
	if snapshot == "" {
		return nil, errMissingSnapshot
	}
	if err := wait.Validate(); err != nil {
		return nil, err
	}
	return &Downloader{
		Exporter: exp,
		Source:   source,
		Snapshot: snapshot,
		Formats:  exporter.DefaultFormats,
		Wait:     wait,
		Sleep:    Sleep,
	}, nil
}

// Download fetches one job and writes its snapshot. When the result keeps
// the raw provider response, it is saved as the json snapshot first.
func (d *Downloader) Download(ctx context.Context, job Job) error {
	if raw, ok := job.Result.(rawResult); ok {
		b, err := raw.Raw(ctx)
		if err != nil {
			return err
		}
		log.Debug().Str("keyword", job.Keyword).Msg("Saving raw json format")
		// A failed raw copy does not prevent saving the table.
		d.Exporter.ExportJSON(ctx, job.Target, d.Snapshot, b)
	}
	table, err := job.Result.Table(ctx)
	if err != nil {
		return err
	}
	metadata, err := job.Result.Metadata(ctx)
	if err != nil {
		return err
	}
	d.Exporter.Export(ctx, job.Target, d.Snapshot, table, metadata, d.Formats...)
	return nil
}

// Run downloads jobs in order. A failed job is logged and the batch goes on.
// Run returns early when ctx is canceled, with the number of jobs
// downloaded and failed so far.
func (d *Downloader) Run(ctx context.Context, jobs []Job) (done, failed int) {
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		log.Info().
			Str("keyword", job.Keyword).
			Str("target", partition.Join(d.Exporter.Store().Root(), job.Target)).
			Msg("Downloading")
		if err := d.Download(ctx, job); err != nil {
			log.Error().Err(err).Str("keyword", job.Keyword).Msg("Cannot download")
			fetchMetric.WithLabelValues(d.Source, "error").Inc()
			failed++
		} else {
			log.Info().Str("keyword", job.Keyword).Msg("Saved")
			fetchMetric.WithLabelValues(d.Source, "ok").Inc()
			done++
		}
		if i == len(jobs)-1 {
			break
		}
		wait := d.Wait.Random()
		log.Info().Dur("wait", wait).Msgf("Waiting for %d seconds", int(wait/time.Second))
		if err := d.Sleep(ctx, wait); err != nil {
			log.Warn().Err(err).Msg("Download interrupted")
			break
		}
	}
	return done, failed
}
