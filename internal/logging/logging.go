// Package logging builds the zap loggers used by rbigen.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for consistent structured logging.
const (
	FieldCompiler = "compiler"
	FieldConstant = "constant"
	FieldPath     = "path"
	FieldLine     = "line"
	FieldRunID    = "run_id"
	FieldCount    = "count"
	FieldDuration = "duration"
	FieldFeature  = "feature"
)

// Options selects the logger's encoding and level.
type Options struct {
	// JSON forces structured output. Otherwise JSON is used only when the
	// output is not a terminal.
	JSON bool
	// Level is a zap level name: debug, info, warn or error. Empty means info.
	Level string
}

// New builds a logger writing to stderr.
func New(opts Options) (*zap.Logger, error) {
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return build(opts, zapcore.Lock(os.Stderr), tty)
}

// NewWriter builds a logger writing to w, which is never treated as a
// terminal.
func NewWriter(opts Options, w io.Writer) (*zap.Logger, error) {
	return build(opts, zapcore.AddSync(w), false)
}

func build(opts Options, sink zapcore.WriteSyncer, tty bool) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	if opts.JSON || !tty {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeCaller = nil
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	return zap.New(zapcore.NewCore(enc, sink, level)), nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if strings.TrimSpace(name) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return level, errors.WithHintf(errors.Wrapf(err, "log level %q", name),
			"use one of debug, info, warn, error")
	}
	return level, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger { return zap.NewNop() }
