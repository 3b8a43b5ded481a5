package main

import "time"

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLILocation is one definition site of a constant.
type CLILocation struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// CLIRun is a JSON-friendly run record.
type CLIRun struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// CLICompiler names a registered compiler.
type CLICompiler struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
	// OptIn compilers only run when --only names them.
	OptIn bool `json:"opt_in,omitempty"`
}
