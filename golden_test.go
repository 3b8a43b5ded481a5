package rbigen

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden test format. Paths in locations are relative to the project.
type goldenFile struct {
	Files        []string         `json:"files"`
	Locations    []goldenLocation `json:"locations,omitempty"`
	MissingSpecs []string         `json:"missing_specs,omitempty"`
}

type goldenLocation struct {
	Constant string `json:"constant"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// TestGolden runs every testdata/{case}/ project: src/ is copied to a temp
// dir and generated, then the output directory must match expected/ file
// for file.
func TestGolden(t *testing.T) {
	cases, err := os.ReadDir("testdata")
	if err != nil {
		t.Skip("no testdata directory found")
	}

	for _, c := range cases {
		if !c.IsDir() {
			continue
		}
		dir := filepath.Join("testdata", c.Name())
		goldenPath := filepath.Join(dir, "golden.json")
		if _, err := os.Stat(goldenPath); err != nil {
			continue
		}
		t.Run(c.Name(), func(t *testing.T) {
			runGoldenTest(t, dir, goldenPath)
		})
	}
}

func runGoldenTest(t *testing.T, dir, goldenPath string) {
	t.Helper()

	goldenData, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	var golden goldenFile
	require.NoError(t, json.Unmarshal(goldenData, &golden))

	root := tempRoot(t)
	copyTree(t, filepath.Join(dir, "src"), root)

	e := newTestEngine(t, testConfig(t, root))
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, golden.Files, report.Files)
	assert.Equal(t, golden.MissingSpecs, report.MissingSpecs)

	t.Run("outputs", func(t *testing.T) {
		expectedDir := filepath.Join(dir, "expected")
		outdir := filepath.Join(root, "sorbet", "rbi", "dsl")
		assert.Equal(t, relFiles(t, expectedDir), relFiles(t, outdir))
		for _, rel := range relFiles(t, expectedDir) {
			want, err := os.ReadFile(filepath.Join(expectedDir, rel))
			require.NoError(t, err)
			got, err := os.ReadFile(filepath.Join(outdir, rel))
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got), rel)
		}
	})

	t.Run("locations", func(t *testing.T) {
		want := make(map[string][]Location)
		var order []string
		for _, l := range golden.Locations {
			if _, ok := want[l.Constant]; !ok {
				order = append(order, l.Constant)
			}
			want[l.Constant] = append(want[l.Constant], Location{Path: filepath.Join(root, l.File), Line: l.Line})
		}
		for _, name := range order {
			got, err := e.Query().LocationsFor(name)
			require.NoError(t, err)
			assert.Equal(t, want[name], got, name)
		}
	})

	t.Run("rerun is unchanged", func(t *testing.T) {
		again, err := e.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, again.Written)
		assert.Equal(t, golden.Files, again.Unchanged)

		verify, err := e.Verify(context.Background())
		require.NoError(t, err)
		assert.False(t, verify.OutOfDate())
	})
}

// relFiles lists the regular files under dir, slash-separated and sorted.
func relFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return out
}

func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
}
