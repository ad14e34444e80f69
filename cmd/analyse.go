package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/pcap-analyser/internal/config"
	"firestige.xyz/pcap-analyser/internal/log"
	"firestige.xyz/pcap-analyser/internal/message"
	"firestige.xyz/pcap-analyser/internal/metrics"
	"firestige.xyz/pcap-analyser/internal/processor"
	"firestige.xyz/pcap-analyser/internal/report"
)

var analyseCmd = &cobra.Command{
	Use:     "analyse [flags] <capture>...",
	Aliases: []string{"analyze"},
	Short:   "Analyse one or more capture files",
	Long: `Analyse one or more capture files and print the engine reports followed
by a summary table.

Flags override the matching configuration keys. A capture whose container
cannot be read is reported as failed and the command exits with status 1
once every other capture has been processed.

Examples:
  pcap-analyser analyse -c pcap-analyser.yml site-a.pcap
  pcap-analyser analyse --burst --debug-csv --jobs 4 captures/*.pcap
  pcap-analyser analyse --format yaml --output result.yml site-a.pcap`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyAnalyseFlags(cmd, cfg); err != nil {
			return err
		}

		logger, err := log.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		if cfg.Output.Path != "" {
			return analyseToFile(cmd.Context(), cfg, logger, args, cfg.Output.Path)
		}
		return runAnalyse(cmd.Context(), cfg, logger, args, cmd.OutOrStdout())
	},
}

var analyseFlags struct {
	latency     bool
	time        bool
	burst       bool
	debugCSV    bool
	format      string
	output      string
	jobs        int
	metricsFile string
}

func init() {
	f := analyseCmd.Flags()
	f.BoolVar(&analyseFlags.latency, "latency", true, "run latency analysis")
	f.BoolVar(&analyseFlags.time, "time", true, "run time analysis")
	f.BoolVar(&analyseFlags.burst, "burst", false, "run burst analysis")
	f.BoolVar(&analyseFlags.debugCSV, "debug-csv", false, "write per-group CSV files next to each capture")
	f.StringVar(&analyseFlags.format, "format", "text", "output format (text/yaml)")
	f.StringVarP(&analyseFlags.output, "output", "o", "", "write the report to a file instead of stdout")
	f.IntVarP(&analyseFlags.jobs, "jobs", "j", 1, "number of captures processed concurrently")
	f.StringVar(&analyseFlags.metricsFile, "metrics-file", "", "write processing metrics in textfile collector format")
}

// applyAnalyseFlags copies the flags the user set onto cfg and validates the
// result again.
func applyAnalyseFlags(cmd *cobra.Command, cfg *config.GlobalConfig) error {
	flags := cmd.Flags()
	a := &cfg.Analysis
	if flags.Changed("latency") {
		a.Latency.Enabled = analyseFlags.latency
	}
	if flags.Changed("time") {
		a.Time.Enabled = analyseFlags.time
	}
	if flags.Changed("burst") {
		a.Burst.Enabled = analyseFlags.burst
	}
	if flags.Changed("debug-csv") {
		a.Latency.DebugCSV = analyseFlags.debugCSV
		a.Time.DebugCSV = analyseFlags.debugCSV
		a.Burst.DebugCSV = analyseFlags.debugCSV
	}
	if flags.Changed("format") {
		cfg.Output.Format = analyseFlags.format
	}
	if flags.Changed("output") {
		cfg.Output.Path = analyseFlags.output
	}
	if flags.Changed("jobs") {
		cfg.Output.Jobs = analyseFlags.jobs
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Textfile = analyseFlags.metricsFile
	}
	return cfg.ValidateAndApplyDefaults()
}

// analyseToFile runs runAnalyse with the report written to path. A failed
// close is returned when the analysis itself succeeded.
func analyseToFile(ctx context.Context, cfg *config.GlobalConfig, logger log.Logger, paths []string, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	err = runAnalyse(ctx, cfg, logger, paths, f)
	if cerr := f.Close(); cerr != nil && err == nil {
		return fmt.Errorf("failed to close output file: %w", cerr)
	}
	return err
}

// runAnalyse processes every capture, at most cfg.Output.Jobs at a time, and
// renders the results to w in argument order.
func runAnalyse(ctx context.Context, cfg *config.GlobalConfig, logger log.Logger, paths []string, w io.Writer) error {
	format, err := report.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	dispatcher, err := message.BuildDispatcher(cfg.Decoder.Dispatch, logger)
	if err != nil {
		return err
	}
	proc := processor.New(processor.OptionsFromConfig(cfg.Analysis), logger, dispatcher)

	entries := make([]report.Entry, len(paths))
	var g errgroup.Group
	g.SetLimit(cfg.Output.Jobs)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, err := proc.Process(ctx, path)
			entries[i] = report.Entry{Path: path, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := report.Write(w, format, entries); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.WithError(err).Warn("Metrics not written")
		}
	}

	failed := 0
	for _, e := range entries {
		if e.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d captures failed", failed, len(paths))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
