package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
)

var validFormats = []string{"json", "text"}

// formatLocationsText formats locations as "file:line" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		fmt.Fprintf(w, "%s:%d\n", loc.File, loc.Line)
	}
}

// formatRunsText formats runs as aligned columns.
func formatRunsText(w io.Writer, runs []CLIRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tCOMMAND")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), r.Command)
	}
	tw.Flush()
}

func formatCompilersText(w io.Writer, compilers []CLICompiler) {
	for _, c := range compilers {
		if c.OptIn {
			fmt.Fprintln(w, c.Name, "(opt-in)")
			continue
		}
		fmt.Fprintln(w, c.Name)
	}
}

// writeResult writes result to w in the selected format.
func writeResult(w io.Writer, format string, result CLIResult) error {
	if format != "text" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	switch v := result.Results.(type) {
	case []CLILocation:
		formatLocationsText(w, v)
	case []CLIRun:
		formatRunsText(w, v)
	case []CLICompiler:
		formatCompilersText(w, v)
	case nil:
	default:
		return errors.Newf("unsupported result type for text format: %T", v)
	}
	return nil
}

func outputResult(result CLIResult) error {
	return writeResult(os.Stdout, flagFormat, result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it is left for main() to print.
func outputError(command string, err error) error {
	if flagFormat == "text" {
		return err
	}
	errorHandled = true
	_ = writeResult(os.Stdout, flagFormat, CLIResult{Command: command, Error: err.Error()})
	return err
}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return errors.Newf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
