package tracker

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/rbigen/internal/objspace"
)

// writeFile creates a file under dir and returns its canonical path.
func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("# ruby\n"), 0o644))
	return canonical(p)
}

func newInstalled(t *testing.T) (*Tracker, *objspace.Space) {
	t.Helper()
	space := objspace.New()
	tr := New()
	tr.Install(space)
	t.Cleanup(tr.Close)
	return tr, space
}

func TestOpened_RealFileRecordsEventLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	shop := writeFile(t, dir, "shop.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Shop", nil, nil)
	space.FireOpen(objspace.OpenEvent{Module: c, Path: shop, Line: 3})
	space.FireOpen(objspace.OpenEvent{Module: c, Path: shop, Line: 3})
	space.FireOpen(objspace.OpenEvent{Module: c, Path: shop, Line: 12})

	assert.Equal(t, []Location{{Path: shop, Line: 3}, {Path: shop, Line: 12}}, tr.LocationsFor(c.Handle()))
	assert.Equal(t, []string{shop}, tr.FilesFor(c.Handle()))
}

func TestOpened_ReopenedAcrossFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.rb")
	b := writeFile(t, dir, "b.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Shop", nil, nil)
	space.FireOpen(objspace.OpenEvent{Module: c, Path: b, Line: 1})
	space.FireOpen(objspace.OpenEvent{Module: c, Path: a, Line: 5})

	assert.Equal(t, []string{a, b}, tr.FilesFor(c.Handle()))
	assert.Len(t, tr.LocationsFor(c.Handle()), 2)
}

func TestOpened_SynthesizedBodyUsesFirstRealFrameAtLineZero(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	caller := writeFile(t, dir, "lib/builder.rb")
	outer := writeFile(t, dir, "app.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Generated", nil, nil)
	stack := []objspace.Frame{
		{Path: "(eval)", Line: 1},
		{Path: "<internal:kernel>", Line: 90},
		{Path: caller, Line: 14},
		{Path: outer, Line: 2},
	}
	space.FireOpen(objspace.OpenEvent{Module: c, Path: "(eval)", Line: 1, Stack: stack})

	assert.Equal(t, []Location{{Path: caller, Line: 0}}, tr.LocationsFor(c.Handle()))
}

func TestOpened_SynthesizedOnePerDistinctCaller(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := writeFile(t, dir, "first.rb")
	second := writeFile(t, dir, "second.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Generated", nil, nil)
	for _, caller := range []string{first, second, first} {
		space.FireOpen(objspace.OpenEvent{
			Module: c,
			Path:   "(eval)",
			Line:   7,
			Stack:  []objspace.Frame{{Path: "(eval)", Line: 7}, {Path: caller, Line: 3}},
		})
	}

	assert.Equal(t, []Location{{Path: first, Line: 0}, {Path: second, Line: 0}}, tr.LocationsFor(c.Handle()))
}

func TestOpened_NoRealFrameDropsEvent(t *testing.T) {
	t.Parallel()
	tr, space := newInstalled(t)
	c := space.NewClass("Ghost", nil, nil)
	space.FireOpen(objspace.OpenEvent{
		Module: c,
		Path:   "(eval)",
		Stack:  []objspace.Frame{{Path: "(eval)"}, {Path: "/does/not/exist.rb", Line: 4}},
	})

	assert.Empty(t, tr.LocationsFor(c.Handle()))
	assert.Empty(t, tr.FilesFor(c.Handle()))
	assert.Equal(t, 0, tr.Len())
}

func TestOpened_IgnoresSingletonClasses(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	shop := writeFile(t, dir, "shop.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Shop", nil, nil)
	sc := space.SingletonClass(c)
	space.FireOpen(objspace.OpenEvent{Module: sc, Path: shop, Line: 4})

	assert.Empty(t, tr.LocationsFor(sc.Handle()))
	assert.Empty(t, tr.LocationsFor(c.Handle()))
}

func TestConstruction_SameFileKeepsLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	models := writeFile(t, dir, "models.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("", nil, nil)
	space.FireConstruct(objspace.ConstructEvent{
		Result: c,
		Method: "new",
		Path:   models,
		Line:   9,
		Stack:  []objspace.Frame{{Path: models, Line: 9}},
	})

	assert.Equal(t, []Location{{Path: models, Line: 9}}, tr.LocationsFor(c.Handle()))
}

func TestConstruction_DifferentFileUsesLineZero(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	factory := writeFile(t, dir, "factory.rb")
	user := writeFile(t, dir, "user.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("", nil, nil)
	space.FireConstruct(objspace.ConstructEvent{
		Result: c,
		Method: "new",
		Path:   factory,
		Line:   22,
		Stack:  []objspace.Frame{{Path: "(eval)", Line: 1}, {Path: user, Line: 4}},
	})

	assert.Equal(t, []Location{{Path: user, Line: 0}}, tr.LocationsFor(c.Handle()))
}

func TestConstruction_SymlinkedEventPathMatchesCanonicalFrame(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := writeFile(t, dir, "real/models.rb")
	link := filepath.Join(dir, "linked.rb")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tr, space := newInstalled(t)
	c := space.NewClass("", nil, nil)
	space.FireConstruct(objspace.ConstructEvent{
		Result: c,
		Path:   link,
		Line:   5,
		Stack:  []objspace.Frame{{Path: target, Line: 5}},
	})

	assert.Equal(t, []Location{{Path: target, Line: 5}}, tr.LocationsFor(c.Handle()))
}

func TestConstruction_NoRealFrameDrops(t *testing.T) {
	t.Parallel()
	tr, space := newInstalled(t)
	c := space.NewClass("", nil, nil)
	space.FireConstruct(objspace.ConstructEvent{Result: c, Path: "(eval)", Line: 1})
	space.FireConstruct(objspace.ConstructEvent{Result: nil, Path: "(eval)", Line: 1})
	assert.Equal(t, 0, tr.Len())
}

func TestSameNameDifferentNamespaces_TrackedIndependently(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeFile(t, dir, "a/shop.rb")
	b := writeFile(t, dir, "b/shop.rb")

	tr, space := newInstalled(t)
	ashop := space.NewClass("Shop", space.NewModule("A", nil), nil)
	bshop := space.NewClass("Shop", space.NewModule("B", nil), nil)
	space.FireOpen(objspace.OpenEvent{Module: ashop, Path: a, Line: 2})
	space.FireOpen(objspace.OpenEvent{Module: bshop, Path: b, Line: 2})

	assert.Equal(t, []string{a}, tr.FilesFor(ashop.Handle()))
	assert.Equal(t, []string{b}, tr.FilesFor(bshop.Handle()))
}

func TestUntracked_EmptyNotNil(t *testing.T) {
	t.Parallel()
	tr := New()
	assert.NotNil(t, tr.LocationsFor(42))
	assert.Empty(t, tr.LocationsFor(42))
	assert.Empty(t, tr.FilesFor(42))
}

func TestFilesFor_SubsetOfLocationPaths(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.rb")
	b := writeFile(t, dir, "b.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("C", nil, nil)
	for i, p := range []string{a, b, a, b, a} {
		space.FireOpen(objspace.OpenEvent{Module: c, Path: p, Line: i + 1})
	}

	paths := map[string]bool{}
	for _, loc := range tr.LocationsFor(c.Handle()) {
		paths[loc.Path] = true
	}
	files := tr.FilesFor(c.Handle())
	assert.Len(t, files, len(paths))
	for _, f := range files {
		assert.True(t, paths[f])
	}
}

func TestClose_StopsObserving(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	shop := writeFile(t, dir, "shop.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Shop", nil, nil)
	space.FireOpen(objspace.OpenEvent{Module: c, Path: shop, Line: 1})
	tr.Close()
	space.FireOpen(objspace.OpenEvent{Module: c, Path: shop, Line: 2})

	assert.Equal(t, []Location{{Path: shop, Line: 1}}, tr.LocationsFor(c.Handle()))
}

func TestEntries_OrderedByHandle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	shop := writeFile(t, dir, "shop.rb")

	tr, space := newInstalled(t)
	first := space.NewClass("First", nil, nil)
	second := space.NewClass("Second", nil, nil)
	space.FireOpen(objspace.OpenEvent{Module: second, Path: shop, Line: 5})
	space.FireOpen(objspace.OpenEvent{Module: first, Path: shop, Line: 1})

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, first.Handle(), entries[0].Handle)
	assert.Equal(t, second.Handle(), entries[1].Handle)
}

func TestConcurrentWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	shop := writeFile(t, dir, "shop.rb")

	tr, space := newInstalled(t)
	c := space.NewClass("Shop", nil, nil)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			tr.OnDefinitionOpened(c, shop, line, nil)
		}(i)
	}
	wg.Wait()

	assert.Len(t, tr.LocationsFor(c.Handle()), 50)
}
