package loader

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
)

// LoadError reports a require that could not be resolved. It aborts the
// whole run: nothing is generated after a failed load.
type LoadError struct {
	Feature string
	// From and Line locate the require call.
	From string
	Line int
	// Postrequire is the manifest's postrequire file, as configured.
	Postrequire string
}

func (e *LoadError) Error() string {
	return "cannot load such file -- " + e.Feature
}

// AsLoadError extracts a *LoadError from err's chain.
func AsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// Explain writes the user-facing description of a failed load, pointing
// at the configured postrequire file. defaultCommand is the command that
// generates it.
func (e *LoadError) Explain(w io.Writer, defaultCommand string) {
	file := e.Postrequire
	if file == "" {
		file = DefaultPostrequire
	}
	emphasis := pterm.NewStyle(pterm.FgBlue, pterm.Bold)

	pterm.Fprintln(w)
	pterm.Fprintln(w, pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("LoadError: "+e.Error()))
	if e.From != "" {
		pterm.Fprintln(w, pterm.Gray(fmt.Sprintf("  required from %s:%d", e.From, e.Line)))
	}
	pterm.Fprintln(w)
	pterm.Fprintln(w, pterm.Yellow("rbigen could not load all the gems required by your application."))
	pterm.Fprint(w,
		pterm.Yellow("If you populated "),
		emphasis.Sprint(file),
		pterm.Yellow(" with "),
		emphasis.Sprint("`"+defaultCommand+"`"),
		pterm.Yellow(" you should probably review it and remove the faulty line."),
		"\n",
	)
}

// SyntaxError reports Ruby source the evaluator could not parse.
type SyntaxError struct {
	Path string
	Line int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: syntax error", e.Path, e.Line)
}
