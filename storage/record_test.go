package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeKey(t *testing.T) {
	require.Equal(t, "prefixA:prefixB;age", string(MakeKey([]byte("age"), []byte("prefixA"), []byte("prefixB"))))
	require.Equal(t, "prefixA:prefixB", string(MakeKey(nil, []byte("prefixA"), []byte("prefixB"))))
	require.Equal(t, "age", string(MakeKey([]byte("age"), nil)))
	require.Equal(t, "", string(MakeKey(nil, nil)))
}

func TestRecord_GetKey(t *testing.T) {
	r := NewRecord([]byte("age"), []byte("20"), []byte("prefix"))
	require.Equal(t, []byte("prefix;age"), r.GetKey())
}

func TestRecord_IsEmpty(t *testing.T) {
	require.True(t, NewRecord(nil, nil).IsEmpty())
	require.False(t, NewRecord([]byte("a"), nil).IsEmpty())
}

func TestNewFromKeyValue(t *testing.T) {
	o := NewFromKeyValue([]byte("age"), []byte("20"))
	require.Empty(t, o.Prefix)
	require.Equal(t, []byte("age"), o.Key)
	require.Equal(t, []byte("20"), o.Value)

	o = NewFromKeyValue([]byte("prefixA;age"), []byte("20"))
	require.Equal(t, []byte("prefixA"), o.Prefix)
	require.Equal(t, []byte("age"), o.Key)
	require.Equal(t, []byte("prefixA;age"), o.GetKey())
}
