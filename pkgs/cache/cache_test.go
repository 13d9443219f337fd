package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_AddGet(t *testing.T) {
	c := NewCache(2)
	c.Add("a", 1)
	require.Equal(t, 1, c.Get("a"))
	require.Nil(t, c.Get("missing"))
}

func TestCache_ExpiringEntryRemovedEarly(t *testing.T) {
	c := NewCache(10)
	c.rmExpired = true
	c.Add("a", 1, time.Now().Add(-time.Second))
	c.Add("b", 2)
	require.Nil(t, c.Get("a"))
	require.Equal(t, 2, c.Get("b"))
}

func TestCache_HasLen(t *testing.T) {
	c := NewCache(10)
	c.Add("a", 1)
	require.True(t, c.Has("a"))
	require.Equal(t, 1, c.Len())
	c.Remove("a")
	require.False(t, c.Has("a"))
}
