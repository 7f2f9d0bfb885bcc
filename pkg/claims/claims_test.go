package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	bag := map[string]interface{}{
		"sub":   "user-1",
		"email": "john@example.com",
		"realm_access": map[string]interface{}{
			"roles": []interface{}{"admin", "analyst", "", nil},
		},
		"profile": map[string]interface{}{
			"nested": map[string]interface{}{
				"display": "John Doe",
			},
		},
		"count":    float64(42),
		"verified": true,
		"disabled": false,
		"empty":    "",
	}

	tests := []struct {
		name   string
		path   string
		want   []string
		isList bool
		ok     bool
	}{
		{
			name: "top level scalar",
			path: "sub",
			want: []string{"user-1"},
			ok:   true,
		},
		{
			name: "nested scalar",
			path: "profile.nested.display",
			want: []string{"John Doe"},
			ok:   true,
		},
		{
			name:   "array with falsy elements dropped",
			path:   "realm_access.roles",
			want:   []string{"admin", "analyst"},
			isList: true,
			ok:     true,
		},
		{
			name: "number coerced to string",
			path: "count",
			want: []string{"42"},
			ok:   true,
		},
		{
			name: "bool coerced to string",
			path: "verified",
			want: []string{"true"},
			ok:   true,
		},
		{
			name: "false leaf is absent",
			path: "disabled",
			ok:   false,
		},
		{
			name: "empty string leaf is absent",
			path: "empty",
			ok:   false,
		},
		{
			name: "missing key",
			path: "missing",
			ok:   false,
		},
		{
			name: "missing nested key",
			path: "profile.missing.deeper",
			ok:   false,
		},
		{
			name: "traversal through scalar is absent",
			path: "sub.deeper",
			ok:   false,
		},
		{
			name: "traversal through array is absent",
			path: "realm_access.roles.0",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(bag, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.Strings())
				assert.Equal(t, tt.isList, got.IsList)
			}
		})
	}
}

func TestResolveNeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Resolve(nil, "a.b.c")
		Resolve(map[string]interface{}{}, "")
		Resolve(map[string]interface{}{"a": nil}, "a.b")
		Resolve(map[string]interface{}{"a": []interface{}{nil}}, "a.b.c")
	})
}

func TestResolveMatchRegex(t *testing.T) {
	bag := map[string]interface{}{
		"groups": []interface{}{"idm-admin", "idm-user", "ops", "idm-audit"},
		"org":    "acme",
	}

	t.Run("array filter preserves order", func(t *testing.T) {
		value, ok := ResolveMatch(bag, "groups", "^idm-", true)
		require.True(t, ok)
		assert.Equal(t, []string{"idm-admin", "idm-user", "idm-audit"}, value.Strings())
	})

	t.Run("array filtered to empty stays a present list", func(t *testing.T) {
		value, ok := ResolveMatch(bag, "groups", "^nomatch-", true)
		require.True(t, ok)
		assert.True(t, value.IsList)
		assert.Empty(t, value.Strings())
	})

	t.Run("matching scalar kept", func(t *testing.T) {
		value, ok := ResolveMatch(bag, "org", "^ac", true)
		require.True(t, ok)
		first, _ := value.First()
		assert.Equal(t, "acme", first)
	})

	t.Run("non-matching scalar is absent", func(t *testing.T) {
		_, ok := ResolveMatch(bag, "org", "^zz", true)
		assert.False(t, ok)
	})

	t.Run("invalid pattern matches nothing", func(t *testing.T) {
		_, ok := ResolveMatch(bag, "org", "(", true)
		assert.False(t, ok)
	})
}

func TestResolveMatchExact(t *testing.T) {
	bag := map[string]interface{}{
		"groups": []interface{}{"admin", "admin-2", "user"},
		"org":    "acme",
	}

	t.Run("exact match on array", func(t *testing.T) {
		value, ok := ResolveMatch(bag, "groups", "admin", false)
		require.True(t, ok)
		assert.Equal(t, []string{"admin"}, value.Strings())
	})

	t.Run("exact match on scalar", func(t *testing.T) {
		_, ok := ResolveMatch(bag, "org", "acme", false)
		assert.True(t, ok)
		_, ok = ResolveMatch(bag, "org", "acm", false)
		assert.False(t, ok)
	})

	t.Run("empty match value means no filtering", func(t *testing.T) {
		value, ok := ResolveMatch(bag, "groups", "", false)
		require.True(t, ok)
		assert.Len(t, value.Strings(), 3)
	})
}
