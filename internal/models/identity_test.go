package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	id := NewIdentity("corp", "alice")

	assert.Equal(t, "corp", id.Source)
	assert.Equal(t, "alice", id.UniquenessKey)
	assert.Equal(t, "alice", id.Attributes[UniquenessAttribute])
	assert.True(t, id.IsActive)
	assert.False(t, id.CreatedAt.IsZero())
}

func TestIdentityApply(t *testing.T) {
	id := NewIdentity("corp", "alice")

	err := id.Apply(map[string]any{
		"username":   "alice",
		"name":       "Alice Liddell",
		"email":      "alice@example.com",
		"is_active":  false,
		"attributes": map[string]any{"department": "R&D"},
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "Alice Liddell", id.Name)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.False(t, id.IsActive)
	assert.Equal(t, "R&D", id.Attributes["department"])
	assert.Equal(t, "alice", id.Attributes[UniquenessAttribute])
}

func TestIdentityApplyErrors(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
		field string
	}{
		{"unknown property", map[string]any{"shoe_size": "42"}, "shoe_size"},
		{"username not string", map[string]any{"username": []any{"a", "b"}}, "username"},
		{"empty username", map[string]any{"username": ""}, "username"},
		{"is_active not bool", map[string]any{"is_active": "yes"}, "is_active"},
		{"attributes not mapping", map[string]any{"attributes": "x"}, "attributes"},
		{"email not string", map[string]any{"email": 3}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewIdentity("corp", "k").Apply(tt.props)
			var fieldErr *FieldError
			require.True(t, errors.As(err, &fieldErr))
			assert.Equal(t, tt.field, fieldErr.Field)
		})
	}
}

func TestMergeInto(t *testing.T) {
	dst := map[string]any{
		"a":      1,
		"nested": map[string]any{"x": 1, "y": 2},
	}

	MergeInto(dst, map[string]any{
		"b":      2,
		"nested": map[string]any{"y": 3, "z": 4},
	})

	assert.Equal(t, 1, dst["a"])
	assert.Equal(t, 2, dst["b"])
	assert.Equal(t, map[string]any{"x": 1, "y": 3, "z": 4}, dst["nested"])
}

func TestMergeIntoCopiesNewMaps(t *testing.T) {
	src := map[string]any{"nested": map[string]any{"x": 1}}
	dst := map[string]any{}

	MergeInto(dst, src)
	dst["nested"].(map[string]any)["x"] = 2

	assert.Equal(t, 1, src["nested"].(map[string]any)["x"])
}

func TestIdentityProperties(t *testing.T) {
	identity := NewIdentity("ldap", "alice")
	require.NoError(t, identity.Apply(map[string]any{"username": "alice", "name": "Alice"}))

	props := identity.Properties()

	assert.Equal(t, "alice", props[PropertyUsername])
	assert.Equal(t, "Alice", props[PropertyName])
	assert.Equal(t, true, props[PropertyIsActive])
	assert.Equal(t, map[string]any{UniquenessAttribute: "alice"}, props[PropertyAttributes])

	// the returned attributes are a copy
	props[PropertyAttributes].(map[string]any)["x"] = 1
	assert.NotContains(t, identity.Attributes, "x")
}
