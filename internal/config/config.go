// Package config loads rbigen's settings. Precedence, lowest to highest:
// built-in defaults, the project's rbigen.toml, RBIGEN_* environment
// variables, then command-line flags bound by the caller.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// FileName is the project configuration file looked up from the working
// directory upwards.
const FileName = "rbigen.toml"

// Config is the resolved configuration of one invocation.
type Config struct {
	// Root is the project directory. Relative paths below resolve against it.
	Root string `mapstructure:"root" toml:"root,omitempty"`
	// Outdir receives one .rbi file per generated constant.
	Outdir string `mapstructure:"outdir" toml:"outdir"`
	// DB is the SQLite run history.
	DB string `mapstructure:"db" toml:"db"`
	// Manifest is the bundle manifest describing the project's gems.
	Manifest string `mapstructure:"manifest" toml:"manifest"`
	// Workers bounds concurrent decoration. Zero means one per CPU.
	Workers int `mapstructure:"workers" toml:"workers"`
	// Only and Exclude filter compilers by name.
	Only    []string `mapstructure:"only" toml:"only"`
	Exclude []string `mapstructure:"exclude" toml:"exclude"`
	// ExcludePaths are gitignore-style patterns of project files not to load.
	ExcludePaths []string `mapstructure:"exclude_paths" toml:"exclude_paths"`
	// ScriptsDir holds script compilers on disk, overriding the built-in set.
	ScriptsDir string `mapstructure:"scripts_dir" toml:"scripts_dir,omitempty"`
	// Header writes the generated-file banner.
	Header bool `mapstructure:"header" toml:"header"`
	// Strictness is the sigil written at the top of each file.
	Strictness string `mapstructure:"strictness" toml:"strictness"`
	// Command is the command named in headers and load error explanations.
	Command string `mapstructure:"command" toml:"command"`
	// KeepRuns is how many runs the history retains.
	KeepRuns int `mapstructure:"keep_runs" toml:"keep_runs"`

	Log LogConfig `mapstructure:"log" toml:"log"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-" toml:"-"`
}

// LogConfig configures logging.
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json"`
	Level string `mapstructure:"level" toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Outdir:       "sorbet/rbi/dsl",
		DB:           ".rbigen/runs.db",
		Manifest:     "rbigen.bundle.yml",
		Workers:      runtime.NumCPU(),
		Only:         []string{},
		Exclude:      []string{},
		ExcludePaths: []string{"sorbet/", "spec/", "test/", "bin/", "db/migrate/"},
		Header:       true,
		Strictness:   "true",
		Command:      "bin/rbigen dsl",
		KeepRuns:     10,
		Log:          LogConfig{Level: "info"},
	}
}

// SetDefaults registers the built-in values on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("root", ".")
	v.SetDefault("outdir", d.Outdir)
	v.SetDefault("db", d.DB)
	v.SetDefault("manifest", d.Manifest)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("only", d.Only)
	v.SetDefault("exclude", d.Exclude)
	v.SetDefault("exclude_paths", d.ExcludePaths)
	v.SetDefault("scripts_dir", "")
	v.SetDefault("header", d.Header)
	v.SetDefault("strictness", d.Strictness)
	v.SetDefault("command", d.Command)
	v.SetDefault("keep_runs", d.KeepRuns)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.level", d.Log.Level)
}

// NewViper builds a viper instance with defaults, the project file found
// from dir upwards (or explicitFile when set) and environment bindings.
// It returns the path of the file read, or "".
func NewViper(dir, explicitFile string) (*viper.Viper, string, error) {
	v := viper.New()
	v.SetEnvPrefix("RBIGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	file := explicitFile
	if file == "" {
		file = FindProjectConfig(dir)
	}
	if file == "" {
		return v, "", nil
	}
	v.SetConfigFile(file)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, "", errors.Wrapf(err, "read config %s", file)
	}
	return v, file, nil
}

// FindProjectConfig walks up from dir looking for rbigen.toml and returns
// its path, or "" if none is found.
func FindProjectConfig(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// FromViper decodes and validates the configuration held by v. A relative
// root resolves against the directory of file when one was read, and
// against dir otherwise.
func FromViper(v *viper.Viper, dir, file string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.File = file
	if !filepath.IsAbs(cfg.Root) {
		base := dir
		if file != "" {
			base = filepath.Dir(file)
		}
		cfg.Root = filepath.Join(base, cfg.Root)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve root")
	}
	cfg.Root = root
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewViper followed by FromViper.
func Load(dir, explicitFile string) (*Config, error) {
	v, file, err := NewViper(dir, explicitFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v, dir, file)
}

var strictnessLevels = map[string]bool{
	"ignore": true, "false": true, "true": true, "strict": true, "strong": true,
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if !strictnessLevels[c.Strictness] {
		return errors.WithHint(errors.Newf("invalid strictness %q", c.Strictness),
			"use one of ignore, false, true, strict, strong")
	}
	if c.Outdir == "" {
		return errors.New("outdir must not be empty")
	}
	if c.KeepRuns < 1 {
		return errors.Newf("keep_runs must be at least 1, got %d", c.KeepRuns)
	}
	return nil
}

// Abs resolves p against the project root.
func (c *Config) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// WriteDefault writes the built-in configuration as TOML to path. An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(errors.Newf("%s already exists", path), "pass --force to overwrite it")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create config")
	}
	defer f.Close()
	if _, err := f.WriteString("# rbigen configuration\n\n"); err != nil {
		return errors.Wrap(err, "write config")
	}
	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return nil
}
