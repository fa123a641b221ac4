package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMockCache_GetSetDelete exercises the basic cache contract the writer
// relies on: misses are not errors, sets record their TTL, deletes remove.
func TestMockCache_GetSetDelete(t *testing.T) {
	c := NewMockCache()

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("a", []byte("1"), time.Hour))

	value, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), value)

	ttl, ok := c.TTL("a")
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)

	require.NoError(t, c.Delete("a"))
	_, ok, err = c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"set a", "delete a"}, c.Ops)
}

// TestMockCache_GetMulti verifies that absent keys are simply missing from
// the result map.
func TestMockCache_GetMulti(t *testing.T) {
	c := NewMockCache()
	require.NoError(t, c.Set("a", []byte("1"), time.Minute))
	require.NoError(t, c.Set("b", []byte("2"), time.Minute))

	result, err := c.GetMulti([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, []byte("1"), result["a"])
	assert.Equal(t, []byte("2"), result["b"])
	assert.NotContains(t, result, "c")
}
