package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "sorbet/rbi/dsl", cfg.Outdir)
	assert.Equal(t, ".rbigen/runs.db", cfg.DB)
	assert.Equal(t, "rbigen.bundle.yml", cfg.Manifest)
	assert.Equal(t, "true", cfg.Strictness)
	assert.True(t, cfg.Header)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, 10, cfg.KeepRuns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.File)
	assert.Equal(t, dir, cfg.Root)
}

func TestLoad_ProjectFileFoundUpwards(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
outdir = "rbi/generated"
workers = 2
only = ["Virtus"]
strictness = "strong"

[log]
level = "debug"
`)
	nested := filepath.Join(root, "app", "models")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := Load(nested, "")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, "rbi/generated", cfg.Outdir)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{"Virtus"}, cfg.Only)
	assert.Equal(t, "strong", cfg.Strictness)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(root, "rbi/generated"), cfg.Abs(cfg.Outdir))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "outdir = \"from/file\"\n")
	t.Setenv("RBIGEN_OUTDIR", "from/env")
	t.Setenv("RBIGEN_LOG_LEVEL", "warn")

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, "from/env", cfg.Outdir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("keep_runs = 3\n"), 0o644))

	cfg, err := Load(t.TempDir(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.KeepRuns)
	assert.Equal(t, dir, cfg.Root)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"strictness", "strictness = \"loose\"\n", `invalid strictness "loose"`},
		{"keep_runs", "keep_runs = 0\n", "keep_runs must be at least 1"},
		{"syntax", "outdir = \n", "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tt.content)
			_, err := Load(root, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_StrictnessHint(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Strictness = "typed"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "ignore, false, true, strict, strong")
}

func TestWriteDefault(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, WriteDefault(path, false))

	var got Config
	_, err := toml.DecodeFile(path, &got)
	require.NoError(t, err)
	assert.Equal(t, "sorbet/rbi/dsl", got.Outdir)
	assert.Equal(t, "true", got.Strictness)
	assert.Equal(t, []string{"sorbet/", "spec/", "test/", "bin/", "db/migrate/"}, got.ExcludePaths)

	err = WriteDefault(path, false)
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "--force")
	require.NoError(t, WriteDefault(path, true))
}

func TestAbs(t *testing.T) {
	t.Parallel()
	cfg := &Config{Root: "/srv/shop"}
	assert.Equal(t, "/srv/shop/sorbet/rbi/dsl", cfg.Abs("sorbet/rbi/dsl"))
	assert.Equal(t, "/tmp/x.db", cfg.Abs("/tmp/x.db"))
	assert.Equal(t, "", cfg.Abs(""))
}
