package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		address string
		want    Path
	}{
		{"empty", "", nil},
		{"single", "calc", Path{"calc"}},
		{"nested", "calc/advanced", Path{"calc", "advanced"}},
		{"duplicates preserved", "a/a/b", Path{"a", "a", "b"}},
		{"empty segments preserved", "a//b", Path{"a", "", "b"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Derive(tc.address))
		})
	}
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		group Path
		scope Path
		want  bool
	}{
		{"both empty", nil, nil, true},
		{"empty scope sees everything", Path{"calc"}, nil, true},
		{"empty group visible to everyone", nil, Path{"calc"}, true},
		{"exact match", Path{"calc"}, Path{"calc"}, true},
		{"scope is prefix of group", Path{"calc", "advanced"}, Path{"calc"}, true},
		{"scope deeper than group", Path{"calc"}, Path{"calc", "sub"}, false},
		{"disjoint", Path{"calc"}, Path{"other"}, false},
		{"mismatch at depth", Path{"calc", "advanced"}, Path{"calc", "basic"}, false},
		{"duplicate segments", Path{"a", "a", "b"}, Path{"a", "a"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Allowed(tc.group, tc.scope, true))
		})
	}
}

func TestAllowedReflexive(t *testing.T) {
	t.Parallel()

	paths := []Path{nil, {"a"}, {"a", "b"}, {"a", "b", "c"}, {"x", "x"}}
	for _, p := range paths {
		assert.True(t, Allowed(p, p, true), "Allowed(%v, %v) must be reflexive", p, p)
	}
}

func TestAllowedEnforcementDisabled(t *testing.T) {
	t.Parallel()

	// Disabled enforcement allows regardless of inputs, even combinations
	// that would otherwise deny.
	assert.True(t, Allowed(Path{"calc"}, Path{"other"}, false))
	assert.True(t, Allowed(Path{"calc"}, Path{"calc", "sub"}, false))
}

func TestGroupOfAndLeaf(t *testing.T) {
	t.Parallel()

	require.Nil(t, GroupOf("add"))
	assert.Equal(t, "add", Leaf("add"))

	assert.Equal(t, Path{"calc"}, GroupOf("calc/add"))
	assert.Equal(t, "add", Leaf("calc/add"))

	assert.Equal(t, Path{"calc", "advanced"}, GroupOf("calc/advanced/pow"))
	assert.Equal(t, "pow", Leaf("calc/advanced/pow"))
}

func TestFlattenName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "add", FlattenName("add"))
	assert.Equal(t, "calc_add", FlattenName("calc/add"))
	assert.Equal(t, "a_b_c", FlattenName("a/b/c"))
}
