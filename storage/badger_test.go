package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *Badger {
	b := NewBadger()
	require.NoError(t, b.Init(""))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadger_PutGet(t *testing.T) {
	b := newTestBadger(t)
	require.NoError(t, b.Put(NewRecord([]byte("k1"), []byte("v1"), []byte("objects"))))

	rec, err := b.Get(MakeKey([]byte("k1"), []byte("objects")))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), rec.Value)
}

func TestBadger_GetMissing(t *testing.T) {
	b := newTestBadger(t)
	_, err := b.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestBadger_Del(t *testing.T) {
	b := newTestBadger(t)
	key := MakeKey([]byte("k1"), []byte("objects"))
	require.NoError(t, b.Put(NewRecord([]byte("k1"), []byte("v1"), []byte("objects"))))
	require.NoError(t, b.Del(key))
	_, err := b.Get(key)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestBadger_IteratePrefix(t *testing.T) {
	b := newTestBadger(t)
	require.NoError(t, b.Put(NewRecord([]byte("a"), []byte("1"), []byte("p"))))
	require.NoError(t, b.Put(NewRecord([]byte("b"), []byte("2"), []byte("p"))))
	require.NoError(t, b.Put(NewRecord([]byte("c"), []byte("3"), []byte("other"))))

	var got []string
	b.Iterate(MakePrefix([]byte("p")), true, func(rec *Record) bool {
		got = append(got, string(rec.Value))
		return false
	})
	require.ElementsMatch(t, []string{"1", "2"}, got)
}
