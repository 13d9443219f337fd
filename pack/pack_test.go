package pack

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/storage"
)

func newTestStore(t *testing.T) *objectstore.Store {
	db := storage.NewBadger()
	require.NoError(t, db.Init(""))
	t.Cleanup(func() { _ = db.Close() })
	return objectstore.New(db, nil, 0, nil)
}

func TestCheckCommitExists(t *testing.T) {
	store := newTestStore(t)
	require.False(t, CheckCommitExists(store, "deadbeef"))

	require.NoError(t, store.PutObjects([]*objectstore.Object{
		{ID: "deadbeef", Kind: objectstore.KindCommit, Payload: []byte("commit body")},
	}))
	require.True(t, CheckCommitExists(store, "deadbeef"))
}

func TestObjectStorer_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	id := "0123456789abcdef0123456789abcdef01234567"
	require.NoError(t, store.PutObjects([]*objectstore.Object{
		{ID: id, Kind: objectstore.KindBlob, Payload: []byte("hello")},
	}))

	st := newObjectStorer(store)
	h := plumbing.NewHash(id)
	require.NoError(t, st.HasEncodedObject(h))

	size, err := st.EncodedObjectSize(h)
	require.NoError(t, err)
	require.Equal(t, int64(5), size)
}
