// Package main provides the CLI entry point for abcrunch, which finds the
// highest concurrency a page sustains under Apache Bench before its
// average response time degrades.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/weiihann/abcrunch/config"
	"github.com/weiihann/abcrunch/harness"
	"github.com/weiihann/abcrunch/report"
	"github.com/weiihann/abcrunch/strategy"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		logger.Error("abcrunch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "abcrunch",
		Short: "Find the best request concurrency for HTTP endpoints",
		Long: `abcrunch measures a baseline response time with Apache Bench, derives a
degradation threshold from it, then raises concurrency one level at a time
until the average response time crosses the threshold.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log every individual ab run")

	root.AddCommand(newRunCmd(logger), newDefaultsCmd())

	return root
}

type runConfig struct {
	configPath string
	abPath     string
	deadline   time.Duration
	outputJSON bool
	overrides  config.PageOptions
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		cfg     runConfig
		page    pageFlags
		nameArg string
		urlArg  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search the best concurrency for each configured page",
		Long: `Search every page listed in --config, or the single page given by --url.
Flags override the values from the config file for every page.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.overrides = page.overrides(cmd.Flags())

			if cmd.Flags().Changed("name") {
				cfg.overrides.Name = &nameArg
			}

			if cmd.Flags().Changed("url") {
				cfg.overrides.URL = &urlArg
			}

			ctx := cmd.Context()
			if cfg.deadline > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.deadline)
				defer cancel()
			}

			return runSearch(ctx, logger, cmd.OutOrStdout(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.configPath, "config", "f", "",
		"Path to a YAML file with defaults and pages")
	flags.StringVar(&cfg.abPath, "ab", "",
		"Path to the ab binary (default: ab on PATH)")
	flags.DurationVar(&cfg.deadline, "deadline", 0,
		"Abort the whole search after this long (0 = no limit)")
	flags.BoolVar(&cfg.outputJSON, "json", false,
		"Output results as JSON instead of table")
	flags.StringVar(&nameArg, "name", "",
		"Page name used in logs and reports")
	flags.StringVarP(&urlArg, "url", "u", "",
		"URL to benchmark (used when no --config is given)")
	page.register(flags)

	return cmd
}

// pageFlags binds the per-page options to command-line flags.
type pageFlags struct {
	concurrency        int
	numRequests        int
	numBaselineRuns    int
	numConcurrencyRuns int
	percentMargin      float64
	maxLatency         float64
	keepAlive          bool
	headers            []string
	timeoutSeconds     int
}

func (p *pageFlags) register(flags *pflag.FlagSet) {
	d := config.Defaults()

	flags.IntVarP(&p.concurrency, "concurrency", "c", d.Concurrency,
		"Starting concurrency for the baseline and the sweep")
	flags.IntVarP(&p.numRequests, "num-requests", "n", d.NumRequests,
		"Requests per ab run; also the concurrency ceiling")
	flags.IntVar(&p.numBaselineRuns, "num-baseline-runs", d.NumBaselineRuns,
		"ab runs used to measure the baseline")
	flags.IntVar(&p.numConcurrencyRuns, "num-concurrency-runs", d.NumConcurrencyRuns,
		"ab runs per concurrency level")
	flags.Float64Var(&p.percentMargin, "percent-margin", d.PercentMargin,
		"Allowed slowdown over the baseline as a fraction")
	flags.Float64Var(&p.maxLatency, "max-latency", d.MaxLatency,
		"Absolute ceiling on average response time in ms")
	flags.BoolVarP(&p.keepAlive, "keep-alive", "k", false,
		"Use HTTP keep-alive (ab -k)")
	flags.StringArrayVarP(&p.headers, "header", "H", nil,
		"Extra request header, repeatable (ab -H)")
	flags.IntVar(&p.timeoutSeconds, "timeout", 0,
		"Per-response timeout in seconds (ab -s, 0 = ab default)")
}

// overrides returns only the options whose flags were set explicitly.
func (p *pageFlags) overrides(flags *pflag.FlagSet) config.PageOptions {
	var out config.PageOptions

	if flags.Changed("concurrency") {
		out.Concurrency = &p.concurrency
	}
	if flags.Changed("num-requests") {
		out.NumRequests = &p.numRequests
	}
	if flags.Changed("num-baseline-runs") {
		out.NumBaselineRuns = &p.numBaselineRuns
	}
	if flags.Changed("num-concurrency-runs") {
		out.NumConcurrencyRuns = &p.numConcurrencyRuns
	}
	if flags.Changed("percent-margin") {
		out.PercentMargin = &p.percentMargin
	}
	if flags.Changed("max-latency") {
		out.MaxLatency = &p.maxLatency
	}
	if flags.Changed("keep-alive") {
		out.KeepAlive = &p.keepAlive
	}
	if flags.Changed("header") {
		out.Headers = p.headers
	}
	if flags.Changed("timeout") {
		out.TimeoutSeconds = &p.timeoutSeconds
	}

	return out
}

// resolvePages returns the default layer and the pages to search, with
// the command-line overrides applied on top of every page.
func resolvePages(cfg runConfig) (harness.Options, []config.PageOptions, error) {
	if cfg.configPath == "" {
		if cfg.overrides.URL == nil {
			return harness.Options{}, nil, fmt.Errorf(
				"either --config or --url must be specified",
			)
		}

		return config.Defaults(), []config.PageOptions{cfg.overrides}, nil
	}

	file, err := config.Load(cfg.configPath)
	if err != nil {
		return harness.Options{}, nil, fmt.Errorf("load config: %w", err)
	}

	pages := make([]config.PageOptions, 0, len(file.Pages))
	for _, p := range file.Pages {
		pages = append(pages, config.Overlay(p, cfg.overrides))
	}

	return file.Base(), pages, nil
}

func runSearch(
	ctx context.Context,
	logger *slog.Logger,
	out io.Writer,
	cfg runConfig,
) error {
	defaults, pages, err := resolvePages(cfg)
	if err != nil {
		return err
	}

	binPath, err := harness.ResolveBinary(cfg.abPath)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting search",
		slog.String("ab", binPath),
		slog.Int("pages", len(pages)),
	)

	search := strategy.NewSearch(
		defaults,
		strategy.NewSampler(harness.NewRunner(binPath, logger), logger),
		logger,
	)

	// Pages run one after another so their loads never overlap.
	outcomes := make([]strategy.Outcome, 0, len(pages))

	for _, page := range pages {
		outcome, err := search.Search(ctx, page)
		if err != nil {
			return fmt.Errorf("search %s: %w", pageLabel(defaults, page), err)
		}

		logger.InfoContext(ctx, "best concurrency found",
			slog.String("page", outcome.Options.Label()),
			slog.Int("concurrency", outcome.Best.Options.Concurrency),
			slog.Float64("avg_response_time_ms", outcome.Best.AvgResponseTime),
			slog.String("stop", string(outcome.Stop)),
		)

		outcomes = append(outcomes, *outcome)
	}

	if cfg.outputJSON {
		if err := report.GenerateJSON(out, outcomes); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(out, outcomes); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	logger.InfoContext(ctx, "search complete")

	return nil
}

func pageLabel(defaults harness.Options, page config.PageOptions) string {
	return config.Merge(defaults, page).Label()
}

func newDefaultsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the effective default options as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defaults := config.Defaults()

			if configPath != "" {
				file, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}

				defaults = file.Base()
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(defaults); err != nil {
				return fmt.Errorf("encode defaults: %w", err)
			}

			return enc.Close()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "f", "",
		"Path to a YAML file with defaults and pages")

	return cmd
}
