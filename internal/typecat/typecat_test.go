package typecat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    Kind
		name    string
		nilable bool
		render  string
	}{
		{KindObject, Untyped, false, "T.untyped"},
		{KindInteger, "::Integer", true, "T.nilable(::Integer)"},
		{KindString, "::String", true, "T.nilable(::String)"},
		{KindFloat, "::Float", true, "T.nilable(::Float)"},
		{KindTime, "::Time", true, "T.nilable(::Time)"},
		{KindBoolean, "T::Boolean", true, "T.nilable(T::Boolean)"},
		{KindUnknown, Untyped, false, "T.untyped"},
		{Kind("decimal"), Untyped, false, "T.untyped"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			got := TypeFor(tt.kind)
			assert.Equal(t, tt.name, got.Name)
			assert.Equal(t, tt.nilable, got.Nilable)
			assert.Equal(t, tt.render, got.String())
			assert.Equal(t, !tt.nilable, got.IsUntyped())
		})
	}
}

func TestTypeFor_Stable(t *testing.T) {
	t.Parallel()
	for _, k := range []Kind{KindObject, KindInteger, KindString, KindFloat, KindTime, KindBoolean, KindUnknown} {
		assert.Equal(t, TypeFor(k), TypeFor(k))
	}
}

func TestAsNilable(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "T.nilable(::String)", AsNilable("::String"))
	assert.Equal(t, "T.nilable(::String)", AsNilable("T.nilable(::String)"))
	assert.Equal(t, "T.untyped", AsNilable("T.untyped"))
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Kind
	}{
		{"Axiom::Types::Integer", KindInteger},
		{"Axiom::Types::Object", KindObject},
		{"Integer", KindInteger},
		{"::String", KindString},
		{"Boolean", KindBoolean},
		{"Time", KindTime},
		{"", KindObject},
		{"BigDecimal", KindUnknown},
		{"Array", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.in), "KindOf(%q)", tt.in)
	}
}

func TestAxiomName_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, k := range []Kind{KindObject, KindInteger, KindString, KindFloat, KindTime, KindBoolean} {
		assert.Equal(t, k, KindOf(AxiomName(k)))
	}
	assert.Empty(t, AxiomName(KindUnknown))
}
