// trendy downloads keyword search interest time series and publishes them
// as partitioned snapshots.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/joho/godotenv/autoload"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const serpAPIKeyEnv = "SERPAPI_KEY"

// dateFlag adapts flagx.DateTime to the cli flag interface.
type dateFlag struct {
	flagx.DateTime
}

func (d *dateFlag) Set(s string) error {
	return d.DateTime.Set(s)
}

func (d *dateFlag) Get() any {
	return d.DateTime.Time
}

func (d *dateFlag) String() string {
	if d.DateTime.Time.IsZero() {
		return ""
	}
	return d.DateTime.Time.Format(time.DateOnly)
}

var snapshotDate = &dateFlag{}

// snapshot returns the snapshot date of the run: the --snapshot-date flag or
// today in UTC.
func snapshot() string {
	t := snapshotDate.DateTime.Time
	if t.IsZero() {
		t = time.Now()
	}
	return civil.DateOf(t.UTC()).String()
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level, err := zerolog.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return ctx, err
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return ctx, nil
}

func writeMetrics(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("metrics-file")
	if path == "" {
		return nil
	}
	log.Debug().Str("path", path).Msg("Writing metrics")
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:  "trendy",
		Usage: "Download search interest trends and publish them as partitioned snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("TRENDY_LOG_LEVEL"),
			},
			&cli.GenericFlag{
				Name:        "snapshot-date",
				Usage:       "Snapshot date of the downloads (YYYY-mm-dd)",
				DefaultText: "today (UTC)",
				Value:       snapshotDate,
				Sources:     cli.EnvVars("TRENDY_SNAPSHOT_DATE"),
			},
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "Write Prometheus metrics to this file when done",
				Sources: cli.EnvVars("TRENDY_METRICS_FILE"),
			},
		},
		Before: setupLogging,
		After:  writeMetrics,
		Commands: []*cli.Command{
			downloadTrendsCommand,
			downloadSerpAPICommand,
			createManualFoldersCommand,
			uploadManualCommand,
			validateConfigCommand,
			aggCommand,
			aggMetadataCommand,
		},
	}
	rtx.Must(cmd.Run(ctx, os.Args), "trendy failed")
}
