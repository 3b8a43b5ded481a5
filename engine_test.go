package rbigen

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/rbigen/internal/compiler"
	"github.com/jward/rbigen/internal/config"
	"github.com/jward/rbigen/internal/loader"
	"github.com/jward/rbigen/internal/rbi"
	"github.com/jward/rbigen/internal/store"
)

const virtusManifest = "gems:\n  - name: virtus\n    version: 2.0.0\n    path: vendor/virtus\n"

// tempRoot returns a temp dir with symlinks resolved, matching the
// canonical paths the tracker records.
func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = root
	cfg.Workers = 2
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func writeProject(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func shopProject(t *testing.T) (string, *config.Config) {
	t.Helper()
	root := tempRoot(t)
	writeProject(t, root, map[string]string{
		"rbigen.bundle.yml": virtusManifest,
		"app/shop.rb": `class Shop
  include Virtus.model
  attribute :id, Integer
end
`,
		"app/order.rb": `class Order
  include Virtus.model
  attribute :total, Float
  attribute :paid, Boolean
end
`,
		"app/plain.rb": "class Plain\nend\n",
	})
	return root, testConfig(t, root)
}

func outPath(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.Abs(cfg.Outdir), rel)
}

func TestNew_CreatesStoreAndRegistersCompilers(t *testing.T) {
	t.Parallel()
	root := tempRoot(t)
	e := newTestEngine(t, testConfig(t, root))

	require.NotNil(t, e.Store())
	assert.FileExists(t, filepath.Join(root, ".rbigen", "runs.db"))
	assert.Equal(t, []string{"virtus", "virtus_predicates"}, e.Compilers())
	assert.False(t, e.OptIn("virtus"))
	assert.True(t, e.OptIn("virtus_predicates"))
	assert.True(t, e.ScriptsChanged())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, tempRoot(t))
	cfg.Strictness = "loose"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestRun_WritesOneFilePerCandidate(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	e := newTestEngine(t, cfg)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"order.rbi", "shop.rbi"}, report.Files)
	assert.Equal(t, []string{"order.rbi", "shop.rbi"}, report.Written)
	assert.NoFileExists(t, outPath(cfg, "plain.rbi"))
	assert.False(t, e.ScriptsChanged())

	data, err := os.ReadFile(outPath(cfg, "order.rbi"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "def paid=(value); end")
	assert.NotContains(t, string(data), "def paid?; end")
	assert.Contains(t, string(data), "sig { params(value: T.nilable(::Float)).returns(T.nilable(::Float)) }")

	out, err := e.Query().Output("Order")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, string(data), out.Content)
	assert.Equal(t, []string{"virtus"}, out.Compilers)
	assert.Equal(t, store.ContentHash(out.Content), out.Hash)
}

func TestRun_SerialMatchesParallel(t *testing.T) {
	t.Parallel()
	_, parallelCfg := shopProject(t)
	_, serialCfg := shopProject(t)

	_, err := newTestEngine(t, parallelCfg).Run(context.Background())
	require.NoError(t, err)
	_, err = newTestEngine(t, serialCfg, WithParallel(false)).Run(context.Background())
	require.NoError(t, err)

	for _, rel := range []string{"order.rbi", "shop.rbi"} {
		a, err := os.ReadFile(outPath(parallelCfg, rel))
		require.NoError(t, err)
		b, err := os.ReadFile(outPath(serialCfg, rel))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), rel)
	}
}

func TestRun_RequestedConstantsOnly(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	writeProject(t, cfg.Root, map[string]string{"sorbet/rbi/dsl/other.rbi": "# typed: true\n"})
	e := newTestEngine(t, cfg)

	report, err := e.Run(context.Background(), "Shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.rbi"}, report.Files)
	assert.Empty(t, report.Removed)
	assert.FileExists(t, outPath(cfg, "other.rbi"))
	assert.NoFileExists(t, outPath(cfg, "order.rbi"))

	runs, err := e.Query().Runs(1)
	require.NoError(t, err)
	assert.Equal(t, "bin/rbigen dsl Shop", runs[0].Command)
}

func TestRun_RemovesStaleFiles(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	writeProject(t, cfg.Root, map[string]string{
		"sorbet/rbi/dsl/legacy/widget.rbi": "# typed: true\n",
		"sorbet/rbi/dsl/notes.txt":         "keep me",
	})
	e := newTestEngine(t, cfg)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy/widget.rbi"}, report.Removed)
	assert.NoFileExists(t, outPath(cfg, "legacy/widget.rbi"))
	assert.NoDirExists(t, outPath(cfg, "legacy"))
	assert.FileExists(t, outPath(cfg, "notes.txt"))
}

func TestVerify_ReportsDriftWithoutWriting(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	e := newTestEngine(t, cfg)
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(outPath(cfg, "shop.rbi"), []byte("# edited\n"), 0o644))
	require.NoError(t, os.Remove(outPath(cfg, "order.rbi")))
	writeProject(t, cfg.Root, map[string]string{"sorbet/rbi/dsl/gone.rbi": ""})

	report, err := e.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Verify)
	assert.True(t, report.OutOfDate())
	assert.Equal(t, []string{"order.rbi"}, report.Added)
	assert.Equal(t, []string{"shop.rbi"}, report.Changed)
	assert.Equal(t, []string{"gone.rbi"}, report.Removed)

	data, err := os.ReadFile(outPath(cfg, "shop.rbi"))
	require.NoError(t, err)
	assert.Equal(t, "# edited\n", string(data))
	assert.NoFileExists(t, outPath(cfg, "order.rbi"))
	assert.FileExists(t, outPath(cfg, "gone.rbi"))

	runs, err := e.Query().Runs(1)
	require.NoError(t, err)
	assert.Equal(t, store.RunVerified, runs[0].Status)
}

func TestVerify_LeavesRunHistoryUntouched(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	cfg.KeepRuns = 2
	e := newTestEngine(t, cfg)
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	written, err := os.ReadFile(outPath(cfg, "shop.rbi"))
	require.NoError(t, err)

	writeProject(t, cfg.Root, map[string]string{"app/shop.rb": `class Shop
  include Virtus.model
  attribute :id, Integer
  attribute :name, String
end
`})
	for range 2 {
		report, err := e.Verify(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"shop.rbi"}, report.Changed)
	}

	latest, err := e.Query().LatestRun()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, store.RunOK, latest.Status)

	out, err := e.Query().Output("Shop")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, string(written), out.Content)
	assert.NotContains(t, out.Content, "def name; end")

	files, err := e.Query().FilesFor("Shop")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(cfg.Root, "app", "shop.rb")}, files)
}

func TestRun_FactoryBuiltModel(t *testing.T) {
	t.Parallel()
	root := tempRoot(t)
	writeProject(t, root, map[string]string{
		"rbigen.bundle.yml": virtusManifest,
		"lib/model_factory.rb": `module ModelFactory
  def self.build
    Class.new do
      include Virtus.model
      attribute :id, Integer
    end
  end
end
`,
		"app/widget.rb": "require_relative '../lib/model_factory'\n\nWidget = ModelFactory.build\n",
	})
	cfg := testConfig(t, root)
	e := newTestEngine(t, cfg)

	report, err := e.Run(context.Background(), "Widget")
	require.NoError(t, err)
	assert.Equal(t, []string{"widget.rbi"}, report.Files)
	data, err := os.ReadFile(outPath(cfg, "widget.rbi"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "class Widget\n")
	assert.Contains(t, string(data), "def id; end")

	locs, err := e.Query().LocationsFor("Widget")
	require.NoError(t, err)
	assert.Equal(t, []Location{{Path: filepath.Join(root, "lib", "model_factory.rb"), Line: 3}}, locs)
}

func TestRun_LoadErrorAbortsWithoutOutput(t *testing.T) {
	t.Parallel()
	root, cfg := shopProject(t)
	writeProject(t, root, map[string]string{"app/boot.rb": "require 'missing_gem'\n"})
	e := newTestEngine(t, cfg)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	le, ok := loader.AsLoadError(err)
	require.True(t, ok, "expected a LoadError, got %v", err)
	assert.Equal(t, "missing_gem", le.Feature)
	assert.NoDirExists(t, cfg.Abs(cfg.Outdir))

	runs, err := e.Query().Runs(1)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, runs[0].Status)

	_, err = e.Query().Constants()
	assert.True(t, errors.Is(err, ErrNoRun))
}

func TestRun_RequestedConstantErrors(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	e := newTestEngine(t, cfg)

	_, err := e.Run(context.Background(), "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cannot find constant "Nope"`)

	_, err = e.Run(context.Background(), "Plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no DSL compiler generates "Plain"`)
	assert.NoDirExists(t, cfg.Abs(cfg.Outdir))
}

func TestRun_CompilerFilter(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	cfg.Only = []string{"virtus"}
	e := newTestEngine(t, cfg)

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(outPath(cfg, "order.rbi"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "paid?")

	cfg.Only = []string{"virtus", "virtus_predicates"}
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	data, err = os.ReadFile(outPath(cfg, "order.rbi"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sig { returns(T.nilable(T::Boolean)) }\n  def paid?; end")
	out, err := e.Query().Output("Order")
	require.NoError(t, err)
	assert.Equal(t, []string{"virtus", "virtus_predicates"}, out.Compilers)

	cfg.Only = []string{"activerecord"}
	_, err = e.Run(context.Background())
	assert.True(t, errors.Is(err, compiler.ErrUnknownCompiler))
}

func TestRun_NoHeaderAndStrictness(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	cfg.Header = false
	cfg.Strictness = "strong"
	e := newTestEngine(t, cfg)

	_, err := e.Run(context.Background(), "Shop")
	require.NoError(t, err)
	data, err := os.ReadFile(outPath(cfg, "shop.rbi"))
	require.NoError(t, err)
	expected := `# typed: strong

class Shop
  sig { returns(T.nilable(::Integer)) }
  def id; end

  sig { params(value: T.nilable(::Integer)).returns(T.nilable(::Integer)) }
  def id=(value); end
end
`
	assert.Equal(t, expected, string(data))
}

func TestRun_ScriptsDirOverridesEmbedded(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	writeProject(t, cfg.Root, map[string]string{
		"rbigen/compilers/identity.risor": `
if mode == "gather" {
  candidate("Shop")
} else {
  create_method("to_param", "::String")
}
`,
	})
	cfg.ScriptsDir = "rbigen"
	e := newTestEngine(t, cfg)
	assert.Equal(t, []string{"virtus", "identity"}, e.Compilers())

	_, err := e.Run(context.Background(), "Shop")
	require.NoError(t, err)
	data, err := os.ReadFile(outPath(cfg, "shop.rbi"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "def id; end")
	assert.Contains(t, string(data), "def to_param; end")
}

func TestRun_ScriptsFSOption(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	fsys := fstest.MapFS{
		"compilers/tag.risor": &fstest.MapFile{Data: []byte(`
if mode == "gather" {
  candidate("Plain")
} else {
  create_method("tag", type_for("string"))
}
`)},
	}
	e := newTestEngine(t, cfg, WithScriptsFS(fsys))
	assert.Equal(t, []string{"virtus", "tag"}, e.Compilers())

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"order.rbi", "plain.rbi", "shop.rbi"}, report.Files)
	data, err := os.ReadFile(outPath(cfg, "plain.rbi"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sig { returns(T.nilable(::String)) }\n  def tag; end")
}

func TestRun_WithFormatter(t *testing.T) {
	t.Parallel()
	root := tempRoot(t)
	writeProject(t, root, map[string]string{
		"rbigen.bundle.yml": virtusManifest,
		"app/shop.rb": `class Shop
  include Virtus.model
  attribute :zeta, Integer
  attribute :alpha, Integer
end
`,
	})
	cfg := testConfig(t, root)

	_, err := newTestEngine(t, cfg, WithFormatter(&rbi.Formatter{})).Run(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(outPath(cfg, "shop.rbi"))
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(data), "def zeta;"), strings.Index(string(data), "def alpha;"))

	_, err = newTestEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)
	data, err = os.ReadFile(outPath(cfg, "shop.rbi"))
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(data), "def alpha;"), strings.Index(string(data), "def zeta;"))
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	_, cfg := shopProject(t)
	e := newTestEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFileName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		constant string
		want     string
	}{
		{"Shop", "shop.rbi"},
		{"ShopItem", "shop_item.rbi"},
		{"Admin::Account", "admin/account.rbi"},
		{"::Admin::HTMLPage", "admin/html_page.rbi"},
		{"ShopV2", "shop_v2.rbi"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.constant), tt.constant)
	}
}
