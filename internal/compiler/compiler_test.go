package compiler

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/rbigen/internal/objspace"
	"github.com/jward/rbigen/internal/rbi"
)

type stubCompiler struct {
	name  string
	picks []*objspace.Module
}

func (s *stubCompiler) Name() string                         { return s.name }
func (s *stubCompiler) GatherCandidates() []*objspace.Module { return s.picks }
func (s *stubCompiler) Decorate(*rbi.Tree, *objspace.Module) error {
	return nil
}

func stubFactory(name string) Factory {
	return func(Env) Compiler { return &stubCompiler{name: name} }
}

func TestRegistry_RegisterAndNames(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("virtus", stubFactory("virtus")))
	require.NoError(t, r.Register("active_model", stubFactory("active_model")))
	assert.Error(t, r.Register("virtus", stubFactory("virtus")))

	assert.Equal(t, []string{"virtus", "active_model"}, r.Names())

	_, err := r.New(Env{}, Filter{Only: []string{"rails"}})
	require.ErrorIs(t, err, ErrUnknownCompiler)
	assert.Contains(t, errors.FlattenHints(err), "available compilers: [active_model virtus]")
}

func TestRegistry_OptInNeedsOnly(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("virtus", stubFactory("virtus")))
	require.NoError(t, r.RegisterOptIn("predicates", stubFactory("predicates")))
	assert.Error(t, r.RegisterOptIn("virtus", stubFactory("virtus")))
	assert.True(t, r.OptIn("predicates"))
	assert.False(t, r.OptIn("virtus"))
	assert.Equal(t, []string{"virtus", "predicates"}, r.Names())

	names := func(f Filter) []string {
		cs, err := r.New(Env{}, f)
		require.NoError(t, err)
		var out []string
		for _, c := range cs {
			out = append(out, c.Name())
		}
		return out
	}
	assert.Equal(t, []string{"virtus"}, names(Filter{}))
	assert.Equal(t, []string{"virtus"}, names(Filter{Exclude: []string{"predicates"}}))
	assert.Equal(t, []string{"predicates"}, names(Filter{Only: []string{"predicates"}}))
	assert.Equal(t, []string{"virtus", "predicates"}, names(Filter{Only: []string{"virtus", "predicates"}}))
}

func TestRegistry_NewFilters(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(n, stubFactory(n)))
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"a", "b", "c"}},
		{"only", Filter{Only: []string{"c", "a"}}, []string{"a", "c"}},
		{"exclude", Filter{Exclude: []string{"b"}}, []string{"a", "c"}},
		{"only and exclude", Filter{Only: []string{"a", "b"}, Exclude: []string{"a"}}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.New(Env{Space: objspace.New()}, tt.filter)
			require.NoError(t, err)
			names := make([]string, len(got))
			for i, c := range got {
				names[i] = c.Name()
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRegistry_NewUnknownName(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("a", stubFactory("a")))

	_, err := r.New(Env{}, Filter{Only: []string{"nope"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCompiler))
	assert.Contains(t, errors.FlattenHints(err), "available compilers")
}

func TestCreatePath_UsesLiveKinds(t *testing.T) {
	t.Parallel()
	space := objspace.New()
	admin := space.NewModule("Admin", nil)
	shop := space.NewClass("Shop", admin, nil)

	root := rbi.NewTree()
	scope, err := CreatePath(root, shop)
	require.NoError(t, err)
	assert.Equal(t, rbi.ScopeClass, scope.Kind)
	assert.Equal(t, "Shop", scope.Name)

	outer, ok := root.Scope("Admin")
	require.True(t, ok)
	assert.Equal(t, rbi.ScopeModule, outer.Kind)

	again, err := CreatePath(root, shop)
	require.NoError(t, err)
	assert.Same(t, scope, again)
}

func TestCreatePath_Anonymous(t *testing.T) {
	t.Parallel()
	space := objspace.New()
	_, err := CreatePath(rbi.NewTree(), space.NewClass("", nil, nil))
	assert.True(t, errors.Is(err, ErrAnonymous))
}

func TestCreateMethod_SkipsInvalidNames(t *testing.T) {
	t.Parallel()
	scope := rbi.NewTree().CreateScope(rbi.ScopeClass, "Shop")

	for _, name := range []string{"name", "name=", "valid?", "save!", "[]", "<=>", "_private"} {
		assert.NotNil(t, CreateMethod(scope, name, nil, ""), name)
	}
	for _, name := range []string{"", "1abc", "foo bar", "foo-bar", "a=b"} {
		assert.Nil(t, CreateMethod(scope, name, nil, ""), name)
	}
}

func TestAllClassesAndModules(t *testing.T) {
	t.Parallel()
	space := objspace.New()
	space.NewClass("Zebra", nil, nil)
	space.NewModule("Helpers", nil)
	space.NewClass("", nil, nil)
	space.NewClass("Apple", nil, nil)

	classes := Names(AllClasses(space))
	assert.Equal(t, []string{"Apple", "BasicObject", "Class", "Module", "Object", "Zebra"}, classes)
	assert.Contains(t, Names(AllModules(space)), "Helpers")
	assert.NotContains(t, classes, "Helpers")
}

func TestGather_GroupsByModuleAndFiltersNames(t *testing.T) {
	t.Parallel()
	space := objspace.New()
	shop := space.NewClass("Shop", nil, nil)
	cart := space.NewClass("Cart", nil, nil)

	first := &stubCompiler{name: "first", picks: []*objspace.Module{shop, cart}}
	second := &stubCompiler{name: "second", picks: []*objspace.Module{shop}}

	got := Gather([]Compiler{first, second})
	require.Len(t, got, 2)
	assert.Same(t, cart, got[0].Module)
	assert.Same(t, shop, got[1].Module)
	assert.Equal(t, []Compiler{first, second}, got[1].Compilers)

	only := Gather([]Compiler{first, second}, "Cart")
	require.Len(t, only, 1)
	assert.Same(t, cart, only[0].Module)
}
