package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func rels(t *testing.T, root string, paths []string) []string {
	t.Helper()
	out := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

func TestRubyFiles_WalkFallback(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/models/shop.rb":     "",
		"app/models/order.rb":    "",
		"lib/tasks/seed.rake":    "",
		"vendor/bundle/gem.rb":   "",
		".hidden/secret.rb":      "",
		"generated/out.rb":       "",
		"node_modules/x/y.rb":    "",
		"README.md":              "",
		".gitignore":             "generated/\n",
		"sorbet/rbi/dsl/shop.rb": "",
	})

	paths, err := RubyFiles(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"app/models/order.rb",
		"app/models/shop.rb",
		"sorbet/rbi/dsl/shop.rb",
	}, rels(t, root, paths))
}

func TestRubyFiles_ExcludePatterns(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app/shop.rb":            "",
		"spec/shop_spec.rb":      "",
		"sorbet/rbi/dsl/shop.rb": "",
		"app/shop_test.rb":       "",
	})

	paths, err := RubyFiles(root, []string{"spec/", "sorbet/", "*_test.rb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/shop.rb"}, rels(t, root, paths))
}

func TestRubyFiles_AbsoluteSorted(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"b.rb": "", "a.rb": ""})

	paths, err := RubyFiles(root, nil)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.True(t, filepath.IsAbs(paths[0]))
	assert.Equal(t, "a.rb", filepath.Base(paths[0]))
}
