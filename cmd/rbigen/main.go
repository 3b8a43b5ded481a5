package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jward/rbigen"
	"github.com/jward/rbigen/internal/config"
	"github.com/jward/rbigen/internal/logging"
)

var (
	flagConfig   string
	flagFormat   string
	flagLogLevel string
	flagLogJSON  bool
)

// errorHandled is set once an error has been shown so main() doesn't
// double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			if hints := errors.FlattenHints(err); hints != "" {
				fmt.Fprintf(os.Stderr, "Hint: %s\n", hints)
			}
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "rbigen",
	Short:         "Generate Sorbet RBI files for DSL-defined methods",
	Long:          "rbigen loads a Ruby project, finds classes whose methods are created by DSLs such as Virtus, and writes an RBI file declaring them for each one.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "configuration file (default: rbigen.toml found from the working directory upwards)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "write logs as JSON")

	rootCmd.AddCommand(dslCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(compilersCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}

// flagKeys maps command-line flags to configuration keys. Only flags the
// running command defines are bound.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-json":    "log.json",
	"outdir":      "outdir",
	"only":        "only",
	"exclude":     "exclude",
	"workers":     "workers",
	"scripts-dir": "scripts_dir",
}

// loadConfig resolves the configuration for cmd: defaults, the project
// file, RBIGEN_* variables, then the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "working directory")
	}
	v, file, err := config.NewViper(wd, flagConfig)
	if err != nil {
		return nil, err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, errors.Wrap(bindErr, "bind flags")
	}
	return config.FromViper(v, wd, file)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{JSON: cfg.Log.JSON, Level: cfg.Log.Level})
}

// openEngine loads the configuration and creates an engine. The caller
// closes the engine and syncs the logger.
func openEngine(cmd *cobra.Command, mutate func(*config.Config), opts ...rbigen.Option) (*config.Config, *rbigen.Engine, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := rbigen.New(cfg, append([]rbigen.Option{rbigen.WithLogger(log)}, opts...)...)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, errors.Wrap(err, "creating engine")
	}
	return cfg, engine, log, nil
}
