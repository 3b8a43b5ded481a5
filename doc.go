// Package rbigen generates Sorbet RBI files for the methods Ruby DSLs
// define at runtime.
//
// # Pipeline
//
// A run has four steps:
//
//  1. Load: a fresh object space is created and a definition tracker is
//     installed on it before any code runs. The bundled gems listed in the
//     manifest and then the project's own Ruby files are evaluated into the
//     space. The tracker records every file and line where each class or
//     module is opened or constructed.
//
//  2. Gather: each selected compiler picks the classes and modules it can
//     describe. The Virtus compiler selects classes whose `attribute`
//     class method was defined by the Virtus model builder.
//
//  3. Decorate: every candidate gets one RBI file. Its compilers run in
//     registry order on a worker pool, each adding declarations to the
//     file's tree.
//
//  4. Write: files are formatted and written under the output directory as
//     <underscored constant path>.rbi, stale files are removed, and the run
//     with its constants, definition sites and outputs is recorded in
//     SQLite.
//
// # Usage
//
//	cfg, err := config.Load(".", "")
//	if err != nil { ... }
//	e, err := rbigen.New(cfg)
//	if err != nil { ... }
//	defer e.Close()
//
//	report, err := e.Run(ctx)
//	if le, ok := loader.AsLoadError(err); ok {
//		le.Explain(os.Stderr, cfg.Command)
//	}
//
//	files, err := e.Query().FilesFor("Shop")
//
// # Compilers
//
// Compilers are native Go (see internal/compiler/virtus) or Risor scripts
// under compilers/ in the scripts filesystem. The built-in scripts are
// embedded from the scripts package and only run when cfg.Only names them;
// cfg.ScriptsDir replaces them with a directory on disk whose scripts run
// by default. See internal/scripting for the globals a script sees.
package rbigen
