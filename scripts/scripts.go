// Package scripts embeds the built-in script compilers.
package scripts

import "embed"

// FS holds compilers/*.risor. They are opt-in compilers.
//
//go:embed compilers/*.risor
var FS embed.FS
