package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/rbigen"
	"github.com/jward/rbigen/internal/config"
	"github.com/jward/rbigen/internal/loader"
	"github.com/jward/rbigen/internal/logging"
	"github.com/jward/rbigen/internal/watch"
)

var (
	flagOutdir     string
	flagOnly       []string
	flagExclude    []string
	flagWorkers    int
	flagVerify     bool
	flagWatch      bool
	flagScriptsDir string
	flagNoHeader   bool
	flagSerial     bool
)

// errOutOfDate is returned by `dsl --verify` when files differ from disk.
var errOutOfDate = errors.New("RBI files are out-of-date")

var dslCmd = &cobra.Command{
	Use:   "dsl [CONSTANT...]",
	Short: "Generate RBI files for DSL-defined methods",
	Long: "Loads the project and writes one RBI file per class or module a compiler generates. " +
		"With constant names, only those are generated and no stale files are removed.",
	RunE: runDSL,
}

func init() {
	dslCmd.Flags().StringVar(&flagOutdir, "outdir", "", "output directory (default: sorbet/rbi/dsl)")
	dslCmd.Flags().StringSliceVar(&flagOnly, "only", nil, "run only these compilers")
	dslCmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "skip these compilers")
	dslCmd.Flags().IntVar(&flagWorkers, "workers", 0, "decoration workers (default: one per CPU)")
	dslCmd.Flags().BoolVar(&flagVerify, "verify", false, "report out-of-date files without writing, exit 1 if any")
	dslCmd.Flags().BoolVar(&flagWatch, "watch", false, "regenerate whenever Ruby sources change")
	dslCmd.Flags().StringVar(&flagScriptsDir, "scripts-dir", "", "load script compilers from disk instead of the built-in set")
	dslCmd.Flags().BoolVar(&flagNoHeader, "no-header", false, "omit the generated-file banner")
	dslCmd.Flags().BoolVar(&flagSerial, "serial", false, "decorate on a single goroutine")
	dslCmd.MarkFlagsMutuallyExclusive("verify", "watch")
}

func runDSL(cmd *cobra.Command, args []string) error {
	var opts []rbigen.Option
	if flagSerial {
		opts = append(opts, rbigen.WithParallel(false))
	}
	cfg, engine, log, err := openEngine(cmd, func(c *config.Config) {
		if flagNoHeader {
			c.Header = false
		}
	}, opts...)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagVerify {
		report, err := engine.Verify(ctx, args...)
		if err != nil {
			return explainLoadError(cfg, err)
		}
		printVerify(cfg, report)
		if report.OutOfDate() {
			errorHandled = true
			return errOutOfDate
		}
		return nil
	}

	report, err := engine.Run(ctx, args...)
	if err != nil {
		return explainLoadError(cfg, err)
	}
	printSummary(cfg, report)
	if !flagWatch {
		return nil
	}
	return watchAndRun(ctx, cfg, engine, log, args)
}

// watchAndRun regenerates after every settled burst of source changes
// until interrupted.
func watchAndRun(ctx context.Context, cfg *config.Config, engine *rbigen.Engine, log *zap.Logger, constants []string) error {
	w, err := watch.New(cfg.Root,
		watch.WithLogger(log),
		watch.WithIgnore(cfg.Abs(cfg.Outdir), filepath.Dir(cfg.Abs(cfg.DB))),
	)
	if err != nil {
		return err
	}
	pterm.Info.WithWriter(os.Stderr).Printfln("Watching %s for changes (Ctrl-C to stop)", cfg.Root)
	return w.Run(ctx, func(ctx context.Context, changed []string) error {
		log.Info("regenerating", zap.Int(logging.FieldCount, len(changed)))
		report, err := engine.Run(ctx, constants...)
		if err != nil {
			if le, ok := loader.AsLoadError(err); ok {
				le.Explain(os.Stderr, cfg.Command)
				return nil
			}
			return err
		}
		printSummary(cfg, report)
		return nil
	})
}

// explainLoadError prints the load failure explanation when err is one.
func explainLoadError(cfg *config.Config, err error) error {
	if le, ok := loader.AsLoadError(err); ok {
		le.Explain(os.Stderr, cfg.Command)
		errorHandled = true
	}
	return err
}

func printSummary(cfg *config.Config, report *rbigen.Report) {
	out := os.Stderr
	for _, spec := range report.MissingSpecs {
		pterm.Warning.WithWriter(out).Printfln("could not load gem %s", spec)
	}
	for _, rel := range report.Removed {
		pterm.Fprintln(out, pterm.Red("  removed  ")+rel)
	}
	for _, rel := range report.Written {
		pterm.Fprintln(out, pterm.Green("  wrote    ")+rel)
	}
	pterm.Success.WithWriter(out).Printfln("Generated %d files in %s (%d written, %d unchanged, %d removed) in %s",
		len(report.Files), cfg.Outdir, len(report.Written), len(report.Unchanged), len(report.Removed),
		report.Duration.Round(time.Millisecond))
}

func printVerify(cfg *config.Config, report *rbigen.Report) {
	out := os.Stderr
	if !report.OutOfDate() {
		pterm.Success.WithWriter(out).Println("Nothing to do, all RBIs are up-to-date.")
		return
	}
	var lines []string
	for _, rel := range report.Added {
		lines = append(lines, "  added    "+rel)
	}
	for _, rel := range report.Changed {
		lines = append(lines, "  changed  "+rel)
	}
	for _, rel := range report.Removed {
		lines = append(lines, "  removed  "+rel)
	}
	pterm.Error.WithWriter(out).Printfln("RBI files are out-of-date. In your development environment, please run:\n  `%s`\nOnce it is complete, be sure to commit and push any changes\n\nReason:\n%s",
		cfg.Command, strings.Join(lines, "\n"))
}
