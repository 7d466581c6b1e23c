package aggregate

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/exporter"
	"github.com/trendy-data/trendy/output"
	"github.com/trendy-data/trendy/partition"
)

// IndexFile is the name of the keyword index written at the root of the
// public folder.
const IndexFile = "metadata.json"

// IndexEntry locates the latest public snapshot of one keyword.
type IndexEntry struct {
	// Keyword is the display name: the topic when configured, the query
	// otherwise.
	Keyword   string `json:"keyword"`
	Cat       string `json:"cat"`
	Geo       string `json:"geo"`
	Timeframe string `json:"timeframe"`
	// Path is the public URL of the data file.
	Path string `json:"path"`
	Q    string `json:"q"`
	// URI is the storage location of the data file.
	URI string `json:"uri"`
}

// Index builds the index entries of the keywords of bundles whose public
// snapshots live under parent and are served from publicBase.
func Index(bundles []*config.SerpAPIBundle, parent, publicBase string) []IndexEntry {
	tail := []string{"format=json", "snapshot_date=" + exporter.Latest, "data.json"}
	entries := []IndexEntry{}
	for _, b := range bundles {
		for _, c := range b.Configs {
			fields := c.Path.Fields()
			url, err := partition.URL(publicBase, fields, tail...)
			if err != nil {
				log.Error().Err(err).Str("keyword", c.Path.Keyword).Msg("Cannot build URL")
				continue
			}
			dir, err := partition.Path(fields...)
			if err != nil {
				log.Error().Err(err).Str("keyword", c.Path.Keyword).Msg("Cannot build path")
				continue
			}
			entries = append(entries, IndexEntry{
				Keyword:   c.Topic(),
				Cat:       c.Path.Cat,
				Geo:       c.Path.Geo,
				Timeframe: c.Path.Timeframe,
				Path:      url,
				Q:         c.Path.Keyword,
				URI:       exporter.DataFile(partition.Join(parent, dir), "json", exporter.Latest),
			})
		}
	}
	return entries
}

// WriteIndex writes the index of bundles to metadata.json at the root of
// store.
func WriteIndex(ctx context.Context, store output.Store, bundles []*config.SerpAPIBundle, publicBase string) ([]IndexEntry, error) {
	entries := Index(bundles, store.Root(), publicBase)
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", partition.Join(store.Root(), IndexFile)).Int("keywords", len(entries)).Msg("Saving metadata")
	if err := store.Write(ctx, IndexFile, b); err != nil {
		return nil, err
	}
	return entries, nil
}
