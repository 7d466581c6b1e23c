package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/aggregate"
	"github.com/trendy-data/trendy/config"
	"github.com/trendy-data/trendy/exporter"
	"github.com/trendy-data/trendy/gtrends"
	"github.com/trendy-data/trendy/manual"
	"github.com/trendy-data/trendy/output"
	"github.com/trendy-data/trendy/partition"
	"github.com/trendy-data/trendy/pipeline"
	"github.com/trendy-data/trendy/serpapi"
	"github.com/urfave/cli/v3"
)

var downloadTrendsCommand = &cli.Command{
	Name:      "download-trends",
	Usage:     "Download trends from the trends provider for every keyword of a config",
	ArgsUsage: "CONFIG",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "wait-min", Usage: "Minimum delay between keywords", Value: 30 * time.Second},
		&cli.DurationFlag{Name: "wait-max", Usage: "Maximum delay between keywords", Value: 120 * time.Second},
	},
	Action: downloadTrends,
}

var downloadSerpAPICommand = &cli.Command{
	Name:      "download-serpapi",
	Usage:     "Download trends from the search API for every keyword of a config",
	ArgsUsage: "CONFIG [WAIT_SECONDS_MIN=5] [WAIT_SECONDS_MAX=10]",
	Action:    downloadSerpAPI,
}

var createManualFoldersCommand = &cli.Command{
	Name:      "create-manual-folders",
	Usage:     "Create one intake folder per keyword for manually downloaded trends",
	ArgsUsage: "CONFIG FOLDER",
	Action:    createManualFolders,
}

var uploadManualCommand = &cli.Command{
	Name:      "upload-manual",
	Usage:     "Store the manually downloaded trends found in the intake folders",
	ArgsUsage: "CONFIG FOLDER",
	Action:    uploadManual,
}

var validateConfigCommand = &cli.Command{
	Name:      "validate-config",
	Usage:     "Show the first keywords of a config and check their consistency",
	ArgsUsage: "CONFIG [TOP_N=10]",
	Action:    validateConfig,
}

var aggCommand = &cli.Command{
	Name:      "agg",
	Usage:     "Aggregate the latest downloads into public JSON snapshots",
	ArgsUsage: "CONFIG",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "from-format", Usage: "Format of the raw snapshots to read", Value: "csv"},
	},
	Action: agg,
}

var aggMetadataCommand = &cli.Command{
	Name:      "agg-metadata",
	Usage:     "Write the keyword index of the public snapshots",
	ArgsUsage: "CONFIG",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "public-base-url",
			Usage:   "Public URL of the parent folder (derived from gs:// parents when empty)",
			Sources: cli.EnvVars("TRENDY_PUBLIC_BASE_URL"),
		},
	},
	Action: aggMetadata,
}

// arg returns the n-th positional argument or an error naming it.
func arg(cmd *cli.Command, n int, name string) (string, error) {
	if cmd.NArg() <= n || cmd.Args().Get(n) == "" {
		return "", cli.Exit(fmt.Sprintf("missing argument %s (usage: %s %s)", name, cmd.Name, cmd.ArgsUsage), 2)
	}
	return cmd.Args().Get(n), nil
}

// intArg returns the n-th positional argument as an integer, or def when
// absent.
func intArg(cmd *cli.Command, n int, name string, def int) (int, error) {
	if cmd.NArg() <= n {
		return def, nil
	}
	v, err := strconv.Atoi(cmd.Args().Get(n))
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("invalid %s: %v", name, err), 2)
	}
	return v, nil
}

func serpAPIKey() string {
	key := os.Getenv(serpAPIKeyEnv)
	if key == "" {
		log.Warn().Msgf("api_key is empty, please set the env var: %s", serpAPIKeyEnv)
	}
	return key
}

func logInvalid(invalid []*config.KeywordError) {
	for _, e := range invalid {
		log.Error().Err(e.Err).Int("index", e.Index).Msg("Skipping keyword")
	}
}

func loadBundle(ctx context.Context, path string) (*config.Bundle, error) {
	data, err := output.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	b, err := config.LoadBundle(data, config.FormatFromName(path))
	if err != nil {
		return nil, err
	}
	logInvalid(b.Invalid)
	return b, nil
}

func loadSerpAPIBundle(ctx context.Context, path, apiKey string) (*config.SerpAPIBundle, error) {
	data, err := output.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	b, err := config.LoadSerpAPIBundle(data, config.FormatFromName(path), apiKey)
	if err != nil {
		return nil, err
	}
	logInvalid(b.Invalid)
	return b, nil
}

func loadAggregation(ctx context.Context, path string) (*config.Aggregation, string, error) {
	data, err := output.ReadFile(ctx, path)
	if err != nil {
		return nil, "", err
	}
	a, err := config.LoadAggregation(data, config.FormatFromName(path))
	if err != nil {
		return nil, "", err
	}
	parent, err := a.Global.ParentFolder()
	return a, parent, err
}

// openParent opens the store at the parent folder of a bundle.
func openParent(ctx context.Context, g config.Global) (output.Store, error) {
	parent, err := g.ParentFolder()
	if err != nil {
		return nil, err
	}
	return output.Open(ctx, parent)
}

func runJobs(ctx context.Context, store output.Store, source string, wait pipeline.Wait, jobs []pipeline.Job) error {
	d, err := pipeline.NewDownloader(exporter.New(store), source, snapshot(), wait)
	if err != nil {
		return err
	}
	done, failed := d.Run(ctx, jobs)
	log.Info().Int("done", done).Int("failed", failed).Int("total", len(jobs)).Msg("Download finished")
	return nil
}

func downloadTrends(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	b, err := loadBundle(ctx, path)
	if err != nil {
		return err
	}
	store, err := openParent(ctx, b.Global)
	if err != nil {
		return err
	}

	// Keywords sharing request parameters share a session.
	clients := map[config.RequestParams]*gtrends.Client{}
	var jobs []pipeline.Job
	for _, c := range b.Configs {
		target, err := partition.Path(c.Path.Fields()...)
		if err != nil {
			log.Error().Err(err).Str("keyword", c.Trend.Keyword).Msg("Skipping keyword")
			continue
		}
		client, ok := clients[c.Request]
		if !ok {
			client = gtrends.New(c.Request)
			clients[c.Request] = client
		}
		jobs = append(jobs, pipeline.Job{
			Keyword: c.Trend.Keyword,
			Target:  target,
			Result:  gtrends.NewSingleTrend(client, c.Trend),
		})
	}
	wait := pipeline.Wait{Min: cmd.Duration("wait-min"), Max: cmd.Duration("wait-max")}
	return runJobs(ctx, store, "gtrends", wait, jobs)
}

func downloadSerpAPI(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	minWait, err := intArg(cmd, 1, "WAIT_SECONDS_MIN", 5)
	if err != nil {
		return err
	}
	maxWait, err := intArg(cmd, 2, "WAIT_SECONDS_MAX", 10)
	if err != nil {
		return err
	}
	b, err := loadSerpAPIBundle(ctx, path, serpAPIKey())
	if err != nil {
		return err
	}
	store, err := openParent(ctx, b.Global)
	if err != nil {
		return err
	}

	client := serpapi.NewClient()
	var jobs []pipeline.Job
	for _, c := range b.Configs {
		target, err := partition.Path(c.Path.Fields()...)
		if err != nil {
			log.Error().Err(err).Str("keyword", c.SerpAPI.Q).Msg("Skipping keyword")
			continue
		}
		jobs = append(jobs, pipeline.Job{
			Keyword: c.SerpAPI.Q,
			Target:  target,
			Result:  serpapi.NewSingleTrend(client, c.SerpAPI, c.ExtraMetadata),
		})
	}
	wait := pipeline.Wait{
		Min: time.Duration(minWait) * time.Second,
		Max: time.Duration(maxWait) * time.Second,
	}
	return runJobs(ctx, store, "serpapi", wait, jobs)
}

func createManualFolders(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	folder, err := arg(cmd, 1, "FOLDER")
	if err != nil {
		return err
	}
	b, err := loadSerpAPIBundle(ctx, path, "")
	if err != nil {
		return err
	}
	intake, err := output.Open(ctx, folder)
	if err != nil {
		return err
	}
	log.Info().Str("folder", folder).Msg("Creating intake folders")
	return manual.CreateIntakeFolders(ctx, intake, b)
}

func uploadManual(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	folder, err := arg(cmd, 1, "FOLDER")
	if err != nil {
		return err
	}
	b, err := loadSerpAPIBundle(ctx, path, "")
	if err != nil {
		return err
	}
	store, err := openParent(ctx, b.Global)
	if err != nil {
		return err
	}
	intake, err := output.Open(ctx, folder)
	if err != nil {
		return err
	}

	var jobs []pipeline.Job
	for _, c := range b.Configs {
		target, err := partition.Path(c.Path.Fields()...)
		if err != nil {
			log.Error().Err(err).Str("keyword", c.SerpAPI.Q).Msg("Skipping keyword")
			continue
		}
		jobs = append(jobs, pipeline.Job{
			Keyword: c.SerpAPI.Q,
			Target:  target,
			Result:  manual.NewSingleTrend(intake, c.Path),
		})
	}
	return runJobs(ctx, store, "manual", pipeline.Wait{}, jobs)
}

// printConfigTable writes the first n keywords of b as a table.
func printConfigTable(w io.Writer, b *config.SerpAPIBundle, n int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKEYWORD\tTOPIC\tGEO\tCAT\tDATE\tPATH")
	for i, c := range b.Configs {
		if i >= n {
			break
		}
		p, err := partition.Path(c.Path.Fields()...)
		if err != nil {
			p = err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i, c.SerpAPI.Q, c.Topic(), c.SerpAPI.Geo, c.SerpAPI.Cat, c.SerpAPI.Date, p)
	}
	return tw.Flush()
}

func validateConfig(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	topN, err := intArg(cmd, 1, "TOP_N", 10)
	if err != nil {
		return err
	}
	log.Info().Str("config", path).Msg("Validating")
	b, err := loadSerpAPIBundle(ctx, path, "")
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	if err := printConfigTable(w, b, topN); err != nil {
		return err
	}
	_, keySet := os.LookupEnv(serpAPIKeyEnv)
	fmt.Fprintf(w, "%s exists: %t\n", serpAPIKeyEnv, keySet)

	for _, c := range b.Configs {
		if err := c.CheckConsistency(); err != nil {
			log.Error().Err(err).Str("keyword", c.SerpAPI.Q).Msg("Validation failed")
		}
	}
	return nil
}

func agg(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	a, parent, err := loadAggregation(ctx, path)
	if err != nil {
		return err
	}
	public, err := output.Open(ctx, parent)
	if err != nil {
		return err
	}
	aggregator := aggregate.New(exporter.New(public))
	for _, b := range aggregate.LoadBundles(ctx, a) {
		raw, err := openParent(ctx, b.Global)
		if err != nil {
			log.Error().Err(err).Msg("Cannot open raw data")
			continue
		}
		loader, err := aggregate.NewLoader(raw, cmd.String("from-format"))
		if err != nil {
			return err
		}
		log.Info().Str("raw", raw.Root()).Int("keywords", b.Len()).Msg("Aggregating")
		n, err := aggregator.Bundle(ctx, loader, b)
		if err != nil {
			log.Error().Err(err).Str("raw", raw.Root()).Msg("Skipping bundle")
			continue
		}
		log.Info().Str("raw", raw.Root()).Int("aggregated", n).Msg("Aggregated bundle")
	}
	return nil
}

func aggMetadata(ctx context.Context, cmd *cli.Command) error {
	path, err := arg(cmd, 0, "CONFIG")
	if err != nil {
		return err
	}
	a, parent, err := loadAggregation(ctx, path)
	if err != nil {
		return err
	}
	base := cmd.String("public-base-url")
	if base == "" {
		if base, err = output.PublicURL(parent); err != nil {
			return fmt.Errorf("cannot derive the public URL, set --public-base-url: %w", err)
		}
	}
	public, err := output.Open(ctx, parent)
	if err != nil {
		return err
	}
	_, err = aggregate.WriteIndex(ctx, public, aggregate.LoadBundles(ctx, a), base)
	return err
}
