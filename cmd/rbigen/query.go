package main

import (
	"github.com/spf13/cobra"

	"github.com/jward/rbigen"
)

var locateCmd = &cobra.Command{
	Use:   "locate CONSTANT",
	Short: "Print where a generated constant is defined",
	Long:  "Lists the files and lines that define CONSTANT, as recorded by the latest successful run.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocate,
}

var compilersCmd = &cobra.Command{
	Use:   "compilers",
	Short: "List the registered compilers in decoration order",
	Args:  cobra.NoArgs,
	RunE:  runCompilers,
}

var flagLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent generation runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&flagLimit, "limit", 10, "maximum number of runs")
}

func runLocate(cmd *cobra.Command, args []string) error {
	_, engine, log, err := openEngine(cmd, nil)
	if err != nil {
		return outputError("locate", err)
	}
	defer log.Sync() //nolint:errcheck
	defer engine.Close()

	locs, err := engine.Query().LocationsFor(args[0])
	if err != nil {
		return outputError("locate", err)
	}
	return outputResult(CLIResult{Command: "locate", Results: locationsToCLI(locs)})
}

func locationsToCLI(locs []rbigen.Location) []CLILocation {
	out := make([]CLILocation, len(locs))
	for i, l := range locs {
		out[i] = CLILocation{File: l.Path, Line: l.Line}
	}
	return out
}

func runCompilers(cmd *cobra.Command, args []string) error {
	_, engine, log, err := openEngine(cmd, nil)
	if err != nil {
		return outputError("compilers", err)
	}
	defer log.Sync() //nolint:errcheck
	defer engine.Close()

	names := engine.Compilers()
	out := make([]CLICompiler, len(names))
	for i, n := range names {
		out[i] = CLICompiler{Name: n, Order: i + 1, OptIn: engine.OptIn(n)}
	}
	return outputResult(CLIResult{Command: "compilers", Results: out})
}

func runRuns(cmd *cobra.Command, args []string) error {
	_, engine, log, err := openEngine(cmd, nil)
	if err != nil {
		return outputError("runs", err)
	}
	defer log.Sync() //nolint:errcheck
	defer engine.Close()

	runs, err := engine.Query().Runs(flagLimit)
	if err != nil {
		return outputError("runs", err)
	}
	out := make([]CLIRun, len(runs))
	for i, r := range runs {
		out[i] = CLIRun{ID: r.ID, Command: r.Command, Status: r.Status, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt}
	}
	return outputResult(CLIResult{Command: "runs", Results: out})
}
